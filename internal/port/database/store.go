// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/account"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/post"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/rule"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/subscription"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/workflow"
)

// Store is the port interface for database operations.
type Store interface {
	// Subscriptions (read-only; lifecycle owned by billing)
	ListActiveSubscriptions(ctx context.Context, userID string) ([]subscription.AgentSubscription, error)

	// Workflows (audit records; execution state lives with the engine)
	CreateWorkflow(ctx context.Context, w *workflow.Workflow) error
	UpdateWorkflowStatus(ctx context.Context, id string, status workflow.Status) error
	UpdateTask(ctx context.Context, t *workflow.Task) error
	GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error)

	// Scheduled posts
	CreatePost(ctx context.Context, req post.CreateRequest) (*post.ScheduledPost, error)
	GetPost(ctx context.Context, id string) (*post.ScheduledPost, error)
	ListPostsByUser(ctx context.Context, userID string) ([]post.ScheduledPost, error)
	ListDuePosts(ctx context.Context, now time.Time) ([]post.ScheduledPost, error)
	// ClaimPost transitions scheduled → publishing atomically. Returns
	// domain.ErrClaimLost if another worker already claimed the post.
	ClaimPost(ctx context.Context, id string) error
	MarkPostPublished(ctx context.Context, id, platformPostID string, at time.Time) error
	MarkPostFailed(ctx context.Context, id, lastError string) error
	CancelPost(ctx context.Context, id string) error
	CountPostsByRuleSince(ctx context.Context, ruleID string, since time.Time) (int, error)
	IncrementContentPostCount(ctx context.Context, contentID string) error

	// Auto-posting rules
	CreateRule(ctx context.Context, req rule.CreateRequest) (*rule.AutoPostingRule, error)
	GetRule(ctx context.Context, id string) (*rule.AutoPostingRule, error)
	ListRulesByUser(ctx context.Context, userID string) ([]rule.AutoPostingRule, error)
	ListDueRules(ctx context.Context, now time.Time) ([]rule.AutoPostingRule, error)
	// ClaimRule advances next_execution_at from oldNext to newNext atomically.
	// Returns domain.ErrClaimLost if another worker advanced it first.
	ClaimRule(ctx context.Context, id string, oldNext, newNext time.Time) error
	RecordRuleExecution(ctx context.Context, id string, success bool, errMsg string) error
	SetRuleActive(ctx context.Context, id string, active bool, reason string) error

	// Platform accounts
	GetAccount(ctx context.Context, userID, platform string) (*account.PlatformAccount, error)
}
