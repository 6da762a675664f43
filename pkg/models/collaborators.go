package models

// Notification is handed to the notification sink by notification steps.
type Notification struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Recipient string         `json:"recipient"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	TenantID  string         `json:"tenantId"`
}

// Task is created by the create_task automation.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ProjectID   string `json:"projectId,omitempty"`
	Assignee    string `json:"assignee,omitempty"`
	Priority    string `json:"priority"`
	DueDate     string `json:"dueDate,omitempty"`
	TenantID    string `json:"tenantId"`
}

// Email is sent by the send_email automation.
type Email struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	TenantID string `json:"tenantId"`
}
