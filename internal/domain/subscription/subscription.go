// Package subscription defines the AgentSubscription read model. Lifecycle is
// owned by the billing subsystem; this service only reads entitlements.
package subscription

import "time"

// Status represents the billing state of an agent subscription.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// AgentSubscription entitles one user to one agent capability.
type AgentSubscription struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	AgentID    string    `json:"agent_id"`
	Status     Status    `json:"status"`
	ExpiresAt  time.Time `json:"expires_at"`
	UsageCount int       `json:"usage_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Entitles returns true if the subscription grants access at the given time.
func (s *AgentSubscription) Entitles(now time.Time) bool {
	if s.Status != StatusActive {
		return false
	}
	return s.ExpiresAt.IsZero() || s.ExpiresAt.After(now)
}
