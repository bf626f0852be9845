package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/tasklane/mcp-server-go/sessions"
)

func TestSessionSinkRecordsActiveSessions(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	inst, err := newInstruments(tracenoop.NewTracerProvider().Tracer(scopeName), mp.Meter(scopeName))
	require.NoError(t, err)

	sink := inst.SessionSink()
	sink.IncCounter(sessions.MetricSessionsCreated, nil)
	sink.IncCounter(sessions.MetricSessionsCreated, nil)
	sink.AddGauge(sessions.MetricSessionsActive, 2, nil)
	sink.AddGauge(sessions.MetricSessionsActive, -1, map[string]string{"reason": "closed"})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[m.Name] += dp.Value
				}
			}
		}
	}
	require.EqualValues(t, 2, totals["mcp.sessions.created"])
	require.EqualValues(t, 1, totals["mcp.sessions.active"])
}

func TestNoop(t *testing.T) {
	inst := Noop()
	require.NotNil(t, inst.Tracer)
	require.NotNil(t, inst.Requests)
	inst.Requests.Add(context.Background(), 1)
}
