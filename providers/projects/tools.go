package projects

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tasklane/mcp-server-go/mcpservice"
	"github.com/tasklane/mcp-server-go/sessions"
)

// Tool names.
const (
	ToolCreateProject       = "create_project"
	ToolUpdateProjectStatus = "update_project_status"
	ToolDeleteProject       = "delete_project"
)

type createProjectArgs struct {
	Name        string `json:"name" jsonschema:"required" jsonschema_description:"Short human readable project name"`
	Description string `json:"description,omitempty" jsonschema_description:"What the project is about"`
}

type updateStatusArgs struct {
	ID     string `json:"id" jsonschema:"required" jsonschema_description:"Project ID"`
	Status Status `json:"status" jsonschema:"required,enum=planned,enum=active,enum=done,enum=archived" jsonschema_description:"New lifecycle status"`
}

type deleteProjectArgs struct {
	ID string `json:"id" jsonschema:"required" jsonschema_description:"Project ID"`
}

func (p *Provider) toolDefs() []mcpservice.StaticTool {
	return []mcpservice.StaticTool{
		mcpservice.NewToolWithOutput(ToolCreateProject, p.createProject,
			mcpservice.WithToolDescription("Create a new project in the planned state"),
			mcpservice.WithToolReturns("the created project"),
		),
		mcpservice.NewToolWithOutput(ToolUpdateProjectStatus, p.updateStatus,
			mcpservice.WithToolDescription("Move a project to another lifecycle status"),
			mcpservice.WithToolReturns("the updated project"),
		),
		mcpservice.NewTool(ToolDeleteProject, p.deleteProject,
			mcpservice.WithToolDescription("Delete a project permanently"),
		),
	}
}

func (p *Provider) createProject(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriterTyped[Project], r *mcpservice.ToolRequest[createProjectArgs]) error {
	args := r.Args()
	name := strings.TrimSpace(args.Name)
	if name == "" {
		w.SetError(true)
		return w.AppendText("name must not be empty")
	}

	now := p.now().UTC()
	pr := &Project{
		ID:          p.newID(),
		Name:        name,
		Description: strings.TrimSpace(args.Description),
		Status:      StatusPlanned,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.store.Put(ctx, pr); err != nil {
		return err
	}
	p.changed(ctx, "projects.create.ok", pr)

	w.SetStructured(*pr)
	return w.AppendText(fmt.Sprintf("Created project %q with id %s (%s)", pr.Name, pr.ID, ProjectURI(pr.ID)))
}

func (p *Provider) updateStatus(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriterTyped[Project], r *mcpservice.ToolRequest[updateStatusArgs]) error {
	args := r.Args()
	if !args.Status.Valid() {
		return mcpservice.InvalidParams("unknown status %q", args.Status)
	}

	pr, err := p.store.Get(ctx, args.ID)
	if errors.Is(err, ErrProjectNotFound) {
		w.SetError(true)
		return w.AppendText(fmt.Sprintf("no project with id %q", args.ID))
	}
	if err != nil {
		return err
	}

	prev := pr.Status
	pr.Status = args.Status
	pr.UpdatedAt = p.now().UTC()
	if err := p.store.Put(ctx, pr); err != nil {
		return err
	}
	p.changed(ctx, "projects.update_status.ok", pr)

	w.SetStructured(*pr)
	return w.AppendText(fmt.Sprintf("Project %q moved from %s to %s", pr.Name, prev, pr.Status))
}

func (p *Provider) deleteProject(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[deleteProjectArgs]) error {
	id := r.Args().ID
	pr, err := p.store.Get(ctx, id)
	if errors.Is(err, ErrProjectNotFound) {
		w.SetError(true)
		return w.AppendText(fmt.Sprintf("no project with id %q", id))
	}
	if err != nil {
		return err
	}
	if err := p.store.Delete(ctx, id); err != nil {
		return err
	}
	p.changed(ctx, "projects.delete.ok", pr)
	return w.AppendText(fmt.Sprintf("Deleted project %q", pr.Name))
}
