package createtask

import (
	"context"

	"github.com/dukex/stepflow/pkg/protocol"
)

type ActionFactory struct {
	tasks protocol.TaskSink
}

func NewActionFactory(tasks protocol.TaskSink) *ActionFactory {
	return &ActionFactory{tasks: tasks}
}

func (f *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(config, f.tasks), nil
}

func (*ActionFactory) ID() string {
	return "create_task"
}

func (*ActionFactory) Name() string {
	return "Create task"
}

func (*ActionFactory) Description() string {
	return "Creates a pending task in the project referenced by the instance context."
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"format":      "template",
				"description": "Task title. {{key}} tokens are replaced with instance context values.",
			},
			"description": map[string]any{
				"type":        "string",
				"format":      "template",
				"description": "Task description. {{key}} tokens are replaced with instance context values.",
			},
			"assignee": map[string]any{
				"type": "string",
			},
			"priority": map[string]any{
				"type":    "string",
				"default": DefaultPriority,
				"enum":    []string{"low", "medium", "high", "urgent"},
			},
			"dueDate": map[string]any{
				"type":        "string",
				"description": "Due date passed through to the task as is.",
			},
		},
		"required": []string{"title", "description"},
	}
}
