package mcpservice

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"text/template"

	"github.com/tasklane/mcp-server-go/mcp"
	"github.com/tasklane/mcp-server-go/sessions"
)

// PromptRenderer produces the messages of a prompt from its arguments.
type PromptRenderer func(ctx context.Context, session sessions.Session, args map[string]string) ([]mcp.PromptMessage, error)

// StaticPrompt pairs a prompt descriptor with its renderer.
type StaticPrompt struct {
	Descriptor mcp.Prompt
	Render     PromptRenderer
}

// PromptTemplate is one message of a templated prompt. Text is parsed with
// text/template; arguments are available as {{.name}}.
type PromptTemplate struct {
	Role mcp.Role
	Text string
}

// PromptDataLoader supplies extra template data for a prompt after its
// declared arguments were validated. Keys it returns shadow argument names.
type PromptDataLoader func(ctx context.Context, session sessions.Session, args map[string]string) (map[string]any, error)

// NewPrompt builds a StaticPrompt whose messages are rendered from
// templates. It panics if a template does not parse, like template.Must.
func NewPrompt(name, description string, args []mcp.PromptArgument, messages ...PromptTemplate) StaticPrompt {
	return NewDataPrompt(name, description, args, nil, messages...)
}

// NewDataPrompt is NewPrompt with a loader that adds data looked up at
// render time, e.g. a record named by one of the arguments.
func NewDataPrompt(name, description string, args []mcp.PromptArgument, load PromptDataLoader, messages ...PromptTemplate) StaticPrompt {
	parsed := make([]*template.Template, len(messages))
	for i, m := range messages {
		parsed[i] = template.Must(template.New(fmt.Sprintf("%s#%d", name, i)).Option("missingkey=zero").Parse(m.Text))
	}

	render := func(ctx context.Context, session sessions.Session, in map[string]string) ([]mcp.PromptMessage, error) {
		data := make(map[string]any, len(args))
		for _, a := range args {
			v, ok := in[a.Name]
			if a.Required && (!ok || strings.TrimSpace(v) == "") {
				return nil, InvalidParams("missing required argument %q", a.Name)
			}
			data[a.Name] = v
		}
		if load != nil {
			extra, err := load(ctx, session, in)
			if err != nil {
				return nil, err
			}
			maps.Copy(data, extra)
		}

		out := make([]mcp.PromptMessage, 0, len(parsed))
		for i, tmpl := range parsed {
			var sb strings.Builder
			if err := tmpl.Execute(&sb, data); err != nil {
				return nil, fmt.Errorf("render prompt %q: %w", name, err)
			}
			role := messages[i].Role
			if role == "" {
				role = mcp.RoleUser
			}
			out = append(out, mcp.PromptMessage{
				Role:    role,
				Content: mcp.ContentBlock{Type: mcp.ContentTypeText, Text: sb.String()},
			})
		}
		return out, nil
	}

	return StaticPrompt{
		Descriptor: mcp.Prompt{Name: name, Description: description, Arguments: slices.Clone(args)},
		Render:     render,
	}
}

// StaticPrompts owns a mutable, threadsafe set of prompts and serves them
// as a PromptProvider.
type StaticPrompts struct {
	mu      sync.RWMutex
	prompts []StaticPrompt

	notifier ChangeNotifier
}

var _ PromptProvider = (*StaticPrompts)(nil)

// NewStaticPrompts constructs a container with the given prompts.
func NewStaticPrompts(defs ...StaticPrompt) *StaticPrompts {
	sp := &StaticPrompts{}
	sp.Replace(context.Background(), defs...)
	return sp
}

// Replace atomically replaces the prompt set. On duplicate names the last
// definition wins.
func (sp *StaticPrompts) Replace(ctx context.Context, defs ...StaticPrompt) {
	sp.mu.Lock()
	sp.prompts = make([]StaticPrompt, 0, len(defs))
	for _, d := range defs {
		sp.prompts = slices.DeleteFunc(sp.prompts, func(p StaticPrompt) bool { return p.Descriptor.Name == d.Descriptor.Name })
		sp.prompts = append(sp.prompts, d)
	}
	sp.mu.Unlock()

	_ = sp.notifier.Notify(ctx)
}

// Add registers a prompt if the name is unused. Returns true if added.
func (sp *StaticPrompts) Add(ctx context.Context, def StaticPrompt) bool {
	sp.mu.Lock()
	if slices.ContainsFunc(sp.prompts, func(p StaticPrompt) bool { return p.Descriptor.Name == def.Descriptor.Name }) {
		sp.mu.Unlock()
		return false
	}
	sp.prompts = append(sp.prompts, def)
	sp.mu.Unlock()

	_ = sp.notifier.Notify(ctx)
	return true
}

// Remove deletes a prompt by name. Returns true if removed.
func (sp *StaticPrompts) Remove(ctx context.Context, name string) bool {
	sp.mu.Lock()
	before := len(sp.prompts)
	sp.prompts = slices.DeleteFunc(sp.prompts, func(p StaticPrompt) bool { return p.Descriptor.Name == name })
	removed := len(sp.prompts) != before
	sp.mu.Unlock()

	if removed {
		_ = sp.notifier.Notify(ctx)
	}
	return removed
}

// Subscriber implements ChangeSubscriber.
func (sp *StaticPrompts) Subscriber() <-chan struct{} {
	return sp.notifier.Subscriber()
}

// ListPrompts implements PromptProvider.
func (sp *StaticPrompts) ListPrompts(ctx context.Context, _ sessions.Session) ([]mcp.Prompt, error) {
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	out := make([]mcp.Prompt, len(sp.prompts))
	for i, p := range sp.prompts {
		out[i] = p.Descriptor
	}
	return out, nil
}

// GetPrompt implements PromptProvider.
func (sp *StaticPrompts) GetPrompt(ctx context.Context, session sessions.Session, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	sp.mu.RLock()
	i := slices.IndexFunc(sp.prompts, func(p StaticPrompt) bool { return p.Descriptor.Name == name })
	var def StaticPrompt
	if i >= 0 {
		def = sp.prompts[i]
	}
	sp.mu.RUnlock()
	if i < 0 {
		return nil, NotFound("prompt", name)
	}
	if def.Render == nil {
		return nil, fmt.Errorf("prompt %q has no renderer", name)
	}

	msgs, err := def.Render(ctx, session, args)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []mcp.PromptMessage{}
	}
	return &mcp.GetPromptResult{Description: def.Descriptor.Description, Messages: msgs}, nil
}
