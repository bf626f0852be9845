package mcpservice

import (
	"context"
	"slices"
	"sync"

	"github.com/tasklane/mcp-server-go/mcp"
	"github.com/tasklane/mcp-server-go/sessions"
)

// StaticResource pairs a resource descriptor with the contents returned when
// it is read.
type StaticResource struct {
	Resource mcp.Resource
	Contents []mcp.ResourceContents
}

// TextResource is a convenience constructor for a single text resource.
func TextResource(uri, name, mimeType, text string) StaticResource {
	return StaticResource{
		Resource: mcp.Resource{URI: uri, Name: name, MimeType: mimeType},
		Contents: []mcp.ResourceContents{{URI: uri, MimeType: mimeType, Text: text}},
	}
}

// StaticResources owns a mutable, threadsafe set of resources and their
// contents. Listing preserves insertion order.
type StaticResources struct {
	mu        sync.RWMutex
	resources []mcp.Resource
	contents  map[string][]mcp.ResourceContents

	notifier ChangeNotifier
}

var _ ResourceProvider = (*StaticResources)(nil)

// NewStaticResources constructs a container holding items. Later items with
// a duplicate URI replace earlier ones.
func NewStaticResources(items ...StaticResource) *StaticResources {
	sr := &StaticResources{}
	sr.Replace(context.Background(), items...)
	return sr
}

// Replace atomically replaces the whole set.
func (sr *StaticResources) Replace(ctx context.Context, items ...StaticResource) {
	sr.mu.Lock()
	sr.resources = make([]mcp.Resource, 0, len(items))
	sr.contents = make(map[string][]mcp.ResourceContents, len(items))
	for _, it := range items {
		uri := it.Resource.URI
		if _, dup := sr.contents[uri]; dup {
			sr.resources = slices.DeleteFunc(sr.resources, func(r mcp.Resource) bool { return r.URI == uri })
		}
		sr.resources = append(sr.resources, it.Resource)
		sr.contents[uri] = slices.Clone(it.Contents)
	}
	sr.mu.Unlock()

	_ = sr.notifier.Notify(ctx)
}

// Add inserts a resource unless its URI already exists. Returns true if added.
func (sr *StaticResources) Add(ctx context.Context, item StaticResource) bool {
	sr.mu.Lock()
	if _, exists := sr.contents[item.Resource.URI]; exists {
		sr.mu.Unlock()
		return false
	}
	sr.resources = append(sr.resources, item.Resource)
	sr.contents[item.Resource.URI] = slices.Clone(item.Contents)
	sr.mu.Unlock()

	_ = sr.notifier.Notify(ctx)
	return true
}

// Remove deletes a resource by URI. Returns true if removed.
func (sr *StaticResources) Remove(ctx context.Context, uri string) bool {
	sr.mu.Lock()
	if _, exists := sr.contents[uri]; !exists {
		sr.mu.Unlock()
		return false
	}
	delete(sr.contents, uri)
	sr.resources = slices.DeleteFunc(sr.resources, func(r mcp.Resource) bool { return r.URI == uri })
	sr.mu.Unlock()

	_ = sr.notifier.Notify(ctx)
	return true
}

// Subscriber implements ChangeSubscriber.
func (sr *StaticResources) Subscriber() <-chan struct{} {
	return sr.notifier.Subscriber()
}

// ListResources implements ResourceProvider.
func (sr *StaticResources) ListResources(ctx context.Context, _ sessions.Session) ([]mcp.Resource, error) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return slices.Clone(sr.resources), nil
}

// ReadResource implements ResourceProvider.
func (sr *StaticResources) ReadResource(ctx context.Context, _ sessions.Session, uri string) (*mcp.ReadResourceResult, error) {
	sr.mu.RLock()
	contents, ok := sr.contents[uri]
	sr.mu.RUnlock()
	if !ok {
		return nil, NotFound("resource", uri)
	}
	out := slices.Clone(contents)
	if out == nil {
		out = []mcp.ResourceContents{}
	}
	return &mcp.ReadResourceResult{Contents: out}, nil
}
