package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/msingatullin/ccontentcloud-sub000/internal/adapter/otel"
	"github.com/msingatullin/ccontentcloud-sub000/internal/config"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/event"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/post"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/rule"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/workflow"
	"github.com/msingatullin/ccontentcloud-sub000/internal/port/broadcast"
	"github.com/msingatullin/ccontentcloud-sub000/internal/port/database"
	"github.com/msingatullin/ccontentcloud-sub000/internal/port/messagequeue"
)

// RuleScheduler is the polling worker for auto-posting rules. A due rule is
// claimed by advancing next_execution_at before any work happens, so a slow or
// failing execution can never double-fire the same slot, including when
// multiple scheduler processes poll concurrently.
type RuleScheduler struct {
	store         database.Store
	orchestrators *OrchestratorRegistry
	queue         messagequeue.Queue
	hub           broadcast.Broadcaster
	metrics       *otel.Metrics
	cfg           *config.Scheduler

	stop     chan struct{}
	stopOnce sync.Once
	now      func() time.Time // for testing
}

// NewRuleScheduler creates the auto-posting rule polling worker.
func NewRuleScheduler(
	store database.Store,
	orchestrators *OrchestratorRegistry,
	queue messagequeue.Queue,
	hub broadcast.Broadcaster,
	metrics *otel.Metrics,
	cfg *config.Scheduler,
) *RuleScheduler {
	return &RuleScheduler{
		store:         store,
		orchestrators: orchestrators,
		queue:         queue,
		hub:           hub,
		metrics:       metrics,
		cfg:           cfg,
		stop:          make(chan struct{}),
		now:           time.Now,
	}
}

// Start launches the polling loop. Failed iterations are logged and retried
// on the next timer tick.
func (s *RuleScheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.cfg.RuleInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Tick(ctx)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	slog.Info("rule scheduler started", "interval", s.cfg.RuleInterval.String())
}

// Stop stops the polling loop.
func (s *RuleScheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

// Tick processes every due rule once. Exported for tests.
func (s *RuleScheduler) Tick(ctx context.Context) {
	due, err := s.store.ListDueRules(ctx, s.now().UTC())
	if err != nil {
		slog.Error("list due rules", "error", err)
		return
	}

	for i := range due {
		s.processRule(ctx, &due[i])
	}
}

// processRule claims the rule by advancing its next execution time, enforces
// posting limits, runs the content workflow and schedules the resulting posts.
func (s *RuleScheduler) processRule(ctx context.Context, r *rule.AutoPostingRule) {
	now := s.now().UTC()

	next, err := r.NextExecution(now)
	if err != nil {
		// Malformed schedule: deactivate instead of retrying forever.
		reason := fmt.Sprintf("schedule compute failed: %v", err)
		if errors.Is(err, rule.ErrNoFutureDates) {
			reason = "custom schedule exhausted"
		}
		s.deactivate(ctx, r, reason)
		return
	}

	if err := s.store.ClaimRule(ctx, r.ID, r.NextExecutionAt, next); err != nil {
		if errors.Is(err, domain.ErrClaimLost) {
			slog.Debug("rule already claimed", "rule_id", r.ID)
			return
		}
		slog.Error("claim rule", "rule_id", r.ID, "error", err)
		return
	}

	if skip, reason := s.overLimit(ctx, r, now); skip {
		slog.Info("rule slot skipped", "rule_id", r.ID, "reason", reason)
		return
	}

	if s.metrics != nil {
		s.metrics.RuleExecutions.Add(ctx, 1)
	}

	if err := s.execute(ctx, r, now); err != nil {
		s.recordFailure(ctx, r, err)
		return
	}

	if err := s.store.RecordRuleExecution(ctx, r.ID, true, ""); err != nil {
		slog.Error("record rule execution", "rule_id", r.ID, "error", err)
	}
	s.publishEvent(ctx, event.Event{
		Type:      event.TypeRuleExecuted,
		UserID:    r.UserID,
		RuleID:    r.ID,
		CreatedAt: s.now().UTC(),
	})
	slog.Info("rule executed", "rule_id", r.ID, "next_execution_at", next)
}

// execute runs the creation-only workflow and schedules one post per platform.
func (s *RuleScheduler) execute(ctx context.Context, r *rule.AutoPostingRule, now time.Time) error {
	orch, err := s.orchestrators.GetOrCreate(ctx, r.UserID)
	if err != nil {
		return fmt.Errorf("get orchestrator: %w", err)
	}

	contentTypes := r.ContentConfig.ContentTypes
	if len(contentTypes) == 0 {
		contentTypes = []string{"post"}
	}

	wf, err := orch.CreateContentWorkflow(ctx, &CreateWorkflowRequest{
		Brief:        r.ContentConfig.Brief,
		Platforms:    r.Platforms,
		ContentTypes: contentTypes,
		UserID:       r.UserID,
		TestMode:     r.ContentConfig.TestMode,
		DeferPublish: true,
	})
	if err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}

	report, err := orch.ExecuteWorkflow(ctx, wf)
	if err != nil {
		return fmt.Errorf("execute workflow: %w", err)
	}
	if report.Status == workflow.StatusFailed && report.CompletedTasks == 0 {
		return fmt.Errorf("workflow %s failed: %d/%d tasks failed", wf.ID, report.FailedTasks, report.TotalTasks)
	}

	scheduledTime := now
	if r.ContentConfig.PostDelay > 0 {
		scheduledTime = now.Add(r.ContentConfig.PostDelay)
	}

	var scheduled int
	for _, platform := range r.Platforms {
		content, ok := contentForPlatform(wf, platform)
		if !ok {
			slog.Warn("no content produced for platform", "rule_id", r.ID, "platform", platform)
			continue
		}
		if _, err := s.store.CreatePost(ctx, post.CreateRequest{
			UserID:        r.UserID,
			ContentID:     wf.ID,
			RuleID:        r.ID,
			Platform:      platform,
			Content:       content,
			TestMode:      r.ContentConfig.TestMode,
			ScheduledTime: scheduledTime,
		}); err != nil {
			slog.Error("schedule post from rule", "rule_id", r.ID, "platform", platform, "error", err)
			continue
		}
		scheduled++
	}
	if scheduled == 0 {
		return fmt.Errorf("workflow %s produced no publishable content", wf.ID)
	}
	return nil
}

// overLimit checks the rolling per-day and per-week post counters. An exceeded
// limit skips the slot without marking the rule failed.
func (s *RuleScheduler) overLimit(ctx context.Context, r *rule.AutoPostingRule, now time.Time) (bool, string) {
	if r.MaxPostsPerDay > 0 {
		n, err := s.store.CountPostsByRuleSince(ctx, r.ID, now.Add(-24*time.Hour))
		if err != nil {
			slog.Error("count rule posts (day)", "rule_id", r.ID, "error", err)
		} else if n+len(r.Platforms) > r.MaxPostsPerDay {
			return true, fmt.Sprintf("max_posts_per_day %d reached", r.MaxPostsPerDay)
		}
	}
	if r.MaxPostsPerWeek > 0 {
		n, err := s.store.CountPostsByRuleSince(ctx, r.ID, now.Add(-7*24*time.Hour))
		if err != nil {
			slog.Error("count rule posts (week)", "rule_id", r.ID, "error", err)
		} else if n+len(r.Platforms) > r.MaxPostsPerWeek {
			return true, fmt.Sprintf("max_posts_per_week %d reached", r.MaxPostsPerWeek)
		}
	}
	return false, ""
}

// recordFailure increments the failure counters and trips the rule breaker
// after the configured number of consecutive failures.
func (s *RuleScheduler) recordFailure(ctx context.Context, r *rule.AutoPostingRule, cause error) {
	if err := s.store.RecordRuleExecution(ctx, r.ID, false, cause.Error()); err != nil {
		slog.Error("record rule failure", "rule_id", r.ID, "error", err)
	}
	slog.Warn("rule execution failed", "rule_id", r.ID, "error", cause)

	if r.ConsecutiveFailures+1 >= s.cfg.RuleFailureThreshold {
		s.deactivate(ctx, r, fmt.Sprintf("%d consecutive failures", r.ConsecutiveFailures+1))
	}
}

func (s *RuleScheduler) deactivate(ctx context.Context, r *rule.AutoPostingRule, reason string) {
	if err := s.store.SetRuleActive(ctx, r.ID, false, reason); err != nil {
		slog.Error("deactivate rule", "rule_id", r.ID, "error", err)
		return
	}
	s.publishEvent(ctx, event.Event{
		Type:      event.TypeRuleDisabled,
		UserID:    r.UserID,
		RuleID:    r.ID,
		Error:     reason,
		CreatedAt: s.now().UTC(),
	})
	slog.Warn("rule deactivated", "rule_id", r.ID, "reason", reason)
}

func (s *RuleScheduler) publishEvent(ctx context.Context, ev event.Event) {
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, string(ev.Type), ev)
	}
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.queue.Publish(ctx, ev.Type.Subject(), data); err != nil {
		slog.Error("publish event", "type", ev.Type, "error", err)
	}
}

// contentForPlatform pulls the generated content for one platform out of the
// finished workflow's create-task results.
func contentForPlatform(wf *workflow.Workflow, platform string) (string, bool) {
	for i := range wf.Tasks {
		t := &wf.Tasks[i]
		if t.Status != workflow.TaskStatusSucceeded || t.Result == nil {
			continue
		}
		if p, _ := t.Context[workflow.CtxPlatform].(string); p != platform {
			continue
		}
		if c, ok := t.Result[workflow.CtxContent].(string); ok && c != "" {
			return c, true
		}
	}
	return "", false
}
