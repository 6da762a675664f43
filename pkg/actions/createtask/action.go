// Package createtask provides the automation that opens a task for the workflow's project.
package createtask

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/stepflow/pkg/interpolate"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/google/uuid"
)

// DefaultPriority is used when the step config sets none.
const DefaultPriority = "medium"

type Action struct {
	Title       string
	Description string
	Assignee    string
	Priority    string
	DueDate     string

	tasks protocol.TaskSink
}

func NewAction(config map[string]any, tasks protocol.TaskSink) *Action {
	title, _ := config["title"].(string)
	description, _ := config["description"].(string)
	assignee, _ := config["assignee"].(string)
	dueDate, _ := config["dueDate"].(string)

	priority, _ := config["priority"].(string)
	if priority == "" {
		priority = DefaultPriority
	}

	return &Action{
		Title:       title,
		Description: description,
		Assignee:    assignee,
		Priority:    priority,
		DueDate:     dueDate,
		tasks:       tasks,
	}
}

func (a *Action) Execute(ctx context.Context, instance *models.WorkflowInstance, logger *slog.Logger) error {
	task := &models.Task{
		ID:          uuid.NewString(),
		Title:       interpolate.Render(a.Title, instance.Context),
		Description: interpolate.Render(a.Description, instance.Context),
		Assignee:    a.Assignee,
		Priority:    a.Priority,
		DueDate:     a.DueDate,
		TenantID:    instance.TenantID,
	}

	if projectID, ok := instance.ContextValue("projectId"); ok && projectID != nil {
		task.ProjectID = interpolate.Stringify(projectID)
	}

	if err := a.tasks.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("create task %q: %w", task.Title, err)
	}

	logger.Info("Task created", "action", "create_task", "task_id", task.ID, "project_id", task.ProjectID)

	return nil
}
