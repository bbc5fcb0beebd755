// Package event defines the lifecycle events published to the message queue
// and broadcast to connected clients.
package event

import "time"

// Type identifies the kind of lifecycle event.
type Type string

const (
	TypeWorkflowCreated   Type = "workflow.created"
	TypeWorkflowCompleted Type = "workflow.completed"
	TypeWorkflowFailed    Type = "workflow.failed"
	TypePostPublished     Type = "post.published"
	TypePostFailed        Type = "post.failed"
	TypeRuleExecuted      Type = "rule.executed"
	TypeRuleDisabled      Type = "rule.disabled"
)

// Subject returns the message-queue subject for this event type.
func (t Type) Subject() string {
	switch t {
	case TypeWorkflowCreated, TypeWorkflowCompleted, TypeWorkflowFailed:
		return "workflows." + string(t)
	case TypePostPublished, TypePostFailed:
		return "posts." + string(t)
	default:
		return "rules." + string(t)
	}
}

// Event is the envelope serialized onto the queue and the websocket hub.
type Event struct {
	Type       Type           `json:"type"`
	UserID     string         `json:"user_id"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	PostID     string         `json:"post_id,omitempty"`
	RuleID     string         `json:"rule_id,omitempty"`
	Platform   string         `json:"platform,omitempty"`
	Error      string         `json:"error,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
