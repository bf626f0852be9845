// Package telemetry wires OpenTelemetry tracing and metrics for the server.
//
// Instruments are always created from the global providers, which are no-op
// until Init installs exporting providers. Configuration of the exporters
// comes from the standard OTEL_* environment variables.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/tasklane/mcp-server-go/sessions"
)

const scopeName = "github.com/tasklane/mcp-server-go"

// Instruments holds all OTEL instruments used by the engine and the session
// manager.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	// Requests
	Requests        metric.Int64Counter
	RequestErrors   metric.Int64Counter
	RequestDuration metric.Float64Histogram

	// Sessions
	SessionsCreated  metric.Int64Counter
	SessionsClosed   metric.Int64Counter
	SessionsRejected metric.Int64Counter
	ActiveSessions   metric.Int64UpDownCounter
}

// Init installs OTLP/HTTP trace and metric providers as the globals and
// returns a shutdown function that flushes them.
func Init(ctx context.Context, serviceName, serviceVersion string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	shutdown := func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}
	return shutdown, nil
}

// New creates instruments from the global tracer and meter providers.
func New() (*Instruments, error) {
	return newInstruments(otel.Tracer(scopeName), otel.Meter(scopeName))
}

// Noop returns instruments that record nothing.
func Noop() *Instruments {
	inst, err := newInstruments(tracenoop.NewTracerProvider().Tracer(scopeName), metricnoop.NewMeterProvider().Meter(scopeName))
	if err != nil {
		// The noop meter never fails to create instruments.
		panic(err)
	}
	return inst
}

func newInstruments(tracer trace.Tracer, meter metric.Meter) (*Instruments, error) {
	inst := &Instruments{Tracer: tracer, Meter: meter}

	var err error
	if inst.Requests, err = meter.Int64Counter("mcp.requests",
		metric.WithDescription("JSON-RPC requests handled"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if inst.RequestErrors, err = meter.Int64Counter("mcp.request.errors",
		metric.WithDescription("JSON-RPC requests answered with an error"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if inst.RequestDuration, err = meter.Float64Histogram("mcp.request.duration",
		metric.WithDescription("JSON-RPC request handling latency"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if inst.SessionsCreated, err = meter.Int64Counter("mcp.sessions.created",
		metric.WithDescription("Sessions created"),
		metric.WithUnit("{session}"),
	); err != nil {
		return nil, err
	}
	if inst.SessionsClosed, err = meter.Int64Counter("mcp.sessions.closed",
		metric.WithDescription("Sessions closed"),
		metric.WithUnit("{session}"),
	); err != nil {
		return nil, err
	}
	if inst.SessionsRejected, err = meter.Int64Counter("mcp.sessions.rejected",
		metric.WithDescription("Session creations refused at the capacity ceiling"),
		metric.WithUnit("{session}"),
	); err != nil {
		return nil, err
	}
	if inst.ActiveSessions, err = meter.Int64UpDownCounter("mcp.sessions.active",
		metric.WithDescription("Live sessions"),
		metric.WithUnit("{session}"),
	); err != nil {
		return nil, err
	}

	return inst, nil
}

// SessionSink adapts the instruments to sessions.MetricsSink.
func (i *Instruments) SessionSink() sessions.MetricsSink {
	return sessionSink{inst: i}
}

type sessionSink struct {
	inst *Instruments
}

func (s sessionSink) IncCounter(name string, tags map[string]string) {
	ctx := context.Background()
	opt := metric.WithAttributes(attrs(tags)...)
	switch name {
	case sessions.MetricSessionsCreated:
		s.inst.SessionsCreated.Add(ctx, 1, opt)
	case sessions.MetricSessionsClosed:
		s.inst.SessionsClosed.Add(ctx, 1, opt)
	case sessions.MetricSessionsRejected:
		s.inst.SessionsRejected.Add(ctx, 1, opt)
	}
}

func (s sessionSink) AddGauge(name string, delta int64, tags map[string]string) {
	if name == sessions.MetricSessionsActive {
		s.inst.ActiveSessions.Add(context.Background(), delta, metric.WithAttributes(attrs(tags)...))
	}
}

func attrs(tags map[string]string) []attribute.KeyValue {
	if len(tags) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(tags))
	for k, v := range tags {
		out = append(out, attribute.String(k, v))
	}
	return out
}
