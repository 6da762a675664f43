package sendemail

import (
	"context"

	"github.com/dukex/stepflow/pkg/protocol"
)

type ActionFactory struct {
	sender protocol.EmailSender
}

func NewActionFactory(sender protocol.EmailSender) *ActionFactory {
	return &ActionFactory{sender: sender}
}

func (f *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(config, f.sender), nil
}

func (*ActionFactory) ID() string {
	return "send_email"
}

func (*ActionFactory) Name() string {
	return "Send email"
}

func (*ActionFactory) Description() string {
	return "Sends an email whose subject and body are rendered from the instance context."
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"recipient": map[string]any{
				"type":        "string",
				"description": "Email address of the recipient.",
			},
			"subject": map[string]any{
				"type":        "string",
				"format":      "template",
				"description": "Subject line. {{key}} tokens are replaced with instance context values.",
				"examples":    []string{"Project {{projectName}} approved"},
			},
			"body": map[string]any{
				"type":        "string",
				"format":      "template",
				"description": "Message body. {{key}} tokens are replaced with instance context values.",
			},
		},
		"required": []string{"subject", "body"},
	}
}
