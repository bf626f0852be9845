package projects

import (
	"context"
	"errors"

	"github.com/tasklane/mcp-server-go/mcp"
	"github.com/tasklane/mcp-server-go/mcpservice"
	"github.com/tasklane/mcp-server-go/sessions"
)

// Prompt names.
const (
	PromptProjectSummary = "project_summary"
	PromptPlanNextSteps  = "plan_next_steps"
)

const defaultHorizon = "the next week"

func (p *Provider) promptDefs() []mcpservice.StaticPrompt {
	projectArg := mcp.PromptArgument{Name: "project_id", Description: "ID of the project", Required: true}

	return []mcpservice.StaticPrompt{
		mcpservice.NewDataPrompt(PromptProjectSummary,
			"Summarize the current state of a project",
			[]mcp.PromptArgument{projectArg},
			p.loadProject,
			mcpservice.PromptTemplate{Text: `Summarize the project "{{.project.Name}}" for a status update.

Status: {{.project.Status}}
Created: {{.project.CreatedAt.Format "2006-01-02"}}
Last updated: {{.project.UpdatedAt.Format "2006-01-02"}}
{{if .project.Description}}Description: {{.project.Description}}
{{end}}
Keep it to a short paragraph and call out anything that looks stalled.`},
		),
		mcpservice.NewDataPrompt(PromptPlanNextSteps,
			"Propose the next concrete steps for a project",
			[]mcp.PromptArgument{projectArg, {Name: "horizon", Description: "Planning horizon, e.g. \"two weeks\""}},
			p.loadProject,
			mcpservice.PromptTemplate{Text: `You are helping plan work on the project "{{.project.Name}}" (currently {{.project.Status}}).
{{if .project.Description}}
About the project: {{.project.Description}}
{{end}}
List the next concrete steps for {{if .horizon}}{{.horizon}}{{else}}` + defaultHorizon + `{{end}}, most important first.`},
			mcpservice.PromptTemplate{Role: mcp.RoleAssistant, Text: `Here is a plan for "{{.project.Name}}":`},
		),
	}
}

func (p *Provider) loadProject(ctx context.Context, _ sessions.Session, args map[string]string) (map[string]any, error) {
	pr, err := p.store.Get(ctx, args["project_id"])
	if errors.Is(err, ErrProjectNotFound) {
		return nil, mcpservice.InvalidParams("unknown project %q", args["project_id"])
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"project": pr}, nil
}
