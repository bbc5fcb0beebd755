// Package post defines the ScheduledPost domain entity and its status machine.
package post

import "time"

// Status represents the lifecycle state of a scheduled post.
// Transitions: scheduled → publishing → {published | failed},
// or scheduled → cancelled via the API.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusPublishing Status = "publishing"
	StatusPublished  Status = "published"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal returns true if the post is in a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPublished, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ScheduledPost is a persisted unit of publishing work. Created by the API
// layer or the rule scheduler; claimed and advanced only by the post scheduler.
type ScheduledPost struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	ContentID      string     `json:"content_id"`
	RuleID         string     `json:"rule_id,omitempty"`
	Platform       string     `json:"platform"`
	AccountID      string     `json:"account_id"`
	Content        string     `json:"content"`
	TestMode       bool       `json:"test_mode"`
	ScheduledTime  time.Time  `json:"scheduled_time"`
	Status         Status     `json:"status"`
	PlatformPostID string     `json:"platform_post_id,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	PublishedAt    *time.Time `json:"published_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// CreateRequest holds the fields for scheduling a new post.
type CreateRequest struct {
	UserID        string    `json:"user_id"`
	ContentID     string    `json:"content_id"`
	RuleID        string    `json:"rule_id,omitempty"`
	Platform      string    `json:"platform"`
	AccountID     string    `json:"account_id"`
	Content       string    `json:"content"`
	TestMode      bool      `json:"test_mode"`
	ScheduledTime time.Time `json:"scheduled_time"`
}
