// Package projects exposes the project board of the surrounding application
// to agents: projects can be read as resources, changed through tools and
// turned into planning prompts. Records persist through any storage.Storage
// backend.
package projects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tasklane/mcp-server-go/mcp"
	"github.com/tasklane/mcp-server-go/mcpservice"
	"github.com/tasklane/mcp-server-go/sessions"
	"github.com/tasklane/mcp-server-go/storage"
)

const (
	uriScheme = "project://"
	// IndexURI lists every project.
	IndexURI = uriScheme + "index"

	jsonMimeType = "application/json"
)

// ProjectURI returns the resource URI of a project.
func ProjectURI(id string) string { return uriScheme + id }

// Provider serves projects as resources and owns the project tools and
// prompts. Register the Provider itself as a resource provider, Tools() as
// a tool provider and Prompts() as a prompt provider.
type Provider struct {
	store *Store
	log   *slog.Logger
	newID func() string
	now   func() time.Time

	tools    *mcpservice.ToolsContainer
	prompts  *mcpservice.StaticPrompts
	notifier mcpservice.ChangeNotifier
}

var (
	_ mcpservice.ResourceProvider = (*Provider)(nil)
	_ mcpservice.ChangeSubscriber = (*Provider)(nil)
)

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.log = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// New builds a Provider over backend.
func New(backend storage.Storage, opts ...Option) *Provider {
	p := &Provider{
		store: NewStore(backend),
		log:   slog.Default(),
		newID: uuid.NewString,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.tools = mcpservice.NewToolsContainer(p.toolDefs()...)
	p.prompts = mcpservice.NewStaticPrompts(p.promptDefs()...)
	return p
}

// Store exposes the underlying project store.
func (p *Provider) Store() *Store { return p.store }

// Tools returns the tool provider for project mutations.
func (p *Provider) Tools() mcpservice.ToolProvider { return p.tools }

// Prompts returns the prompt provider for project planning prompts.
func (p *Provider) Prompts() mcpservice.PromptProvider { return p.prompts }

// Subscriber implements mcpservice.ChangeSubscriber. It fires whenever a
// project is created, updated or deleted.
func (p *Provider) Subscriber() <-chan struct{} { return p.notifier.Subscriber() }

// Close releases subscribers.
func (p *Provider) Close() { p.notifier.Close() }

// ListResources implements mcpservice.ResourceProvider.
func (p *Provider) ListResources(ctx context.Context, _ sessions.Session) ([]mcp.Resource, error) {
	all, err := p.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]mcp.Resource, 0, len(all)+1)
	out = append(out, mcp.Resource{
		URI:         IndexURI,
		Name:        "Project index",
		Description: "Every project with its status",
		MimeType:    jsonMimeType,
	})
	for _, pr := range all {
		out = append(out, mcp.Resource{
			URI:         ProjectURI(pr.ID),
			Name:        pr.Name,
			Description: fmt.Sprintf("Project %q (%s)", pr.Name, pr.Status),
			MimeType:    jsonMimeType,
		})
	}
	return out, nil
}

type indexEntry struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status Status `json:"status"`
	URI    string `json:"uri"`
}

// ReadResource implements mcpservice.ResourceProvider.
func (p *Provider) ReadResource(ctx context.Context, _ sessions.Session, uri string) (*mcp.ReadResourceResult, error) {
	id, ok := strings.CutPrefix(uri, uriScheme)
	if !ok || id == "" {
		return nil, mcpservice.NotFound("resource", uri)
	}

	var doc any
	if id == "index" {
		all, err := p.store.List(ctx)
		if err != nil {
			return nil, err
		}
		entries := make([]indexEntry, 0, len(all))
		for _, pr := range all {
			entries = append(entries, indexEntry{ID: pr.ID, Name: pr.Name, Status: pr.Status, URI: ProjectURI(pr.ID)})
		}
		doc = entries
	} else {
		pr, err := p.store.Get(ctx, id)
		if errors.Is(err, ErrProjectNotFound) {
			return nil, mcpservice.NotFound("resource", uri)
		}
		if err != nil {
			return nil, err
		}
		doc = pr
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", uri, err)
	}
	return &mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{{URI: uri, MimeType: jsonMimeType, Text: string(b)}},
	}, nil
}

func (p *Provider) changed(ctx context.Context, event string, pr *Project) {
	p.log.InfoContext(ctx, event, slog.String("project_id", pr.ID), slog.String("status", string(pr.Status)))
	_ = p.notifier.Notify(ctx)
}
