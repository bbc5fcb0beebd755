package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/msingatullin/ccontentcloud-sub000/internal/adapter/otel"
	"github.com/msingatullin/ccontentcloud-sub000/internal/config"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/event"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/workflow"
	"github.com/msingatullin/ccontentcloud-sub000/internal/port/agent"
	"github.com/msingatullin/ccontentcloud-sub000/internal/port/broadcast"
	"github.com/msingatullin/ccontentcloud-sub000/internal/port/database"
	"github.com/msingatullin/ccontentcloud-sub000/internal/port/messagequeue"
)

// HandlerResolver returns the handler for a capability at the moment a task
// becomes runnable. Resolution is deferred so a registry refresh mid-workflow
// is observed by tasks that have not started yet.
type HandlerResolver func(capability string) (agent.Handler, error)

// CreateWorkflowRequest holds the fields of one content request.
type CreateWorkflowRequest struct {
	BriefID      string   `json:"brief_id"`
	Brief        string   `json:"brief"`
	Platforms    []string `json:"platforms"`
	ContentTypes []string `json:"content_types"`
	UserID       string   `json:"user_id"`
	AccountID    string   `json:"account_id,omitempty"`
	TestMode     bool     `json:"test_mode"`
	// DeferPublish omits the publish tasks; the caller schedules posts for
	// the created content instead (rule scheduler path).
	DeferPublish bool `json:"defer_publish,omitempty"`
}

// Validate checks the request for required fields.
func (r *CreateWorkflowRequest) Validate() error {
	if r.UserID == "" {
		return errors.New("user_id is required")
	}
	if len(r.Platforms) == 0 {
		return errors.New("at least one platform is required")
	}
	if len(r.ContentTypes) == 0 {
		return errors.New("at least one content type is required")
	}
	return nil
}

// WorkflowEngine builds and executes content workflows: a create task per
// (platform, content type) pair and a dependent publish task per platform,
// driven to completion with dependency gating and context propagation.
type WorkflowEngine struct {
	store   database.Store
	queue   messagequeue.Queue
	hub     broadcast.Broadcaster
	metrics *otel.Metrics
	cfg     *config.Orchestrator
	resolve HandlerResolver

	mu        sync.Mutex
	workflows map[string]*workflow.Workflow
	cancels   map[string]context.CancelFunc
}

// NewWorkflowEngine creates an engine bound to one handler resolver (one
// orchestrator's registry view). queue, hub and metrics may be nil.
func NewWorkflowEngine(
	store database.Store,
	queue messagequeue.Queue,
	hub broadcast.Broadcaster,
	metrics *otel.Metrics,
	cfg *config.Orchestrator,
	resolve HandlerResolver,
) *WorkflowEngine {
	return &WorkflowEngine{
		store:     store,
		queue:     queue,
		hub:       hub,
		metrics:   metrics,
		cfg:       cfg,
		resolve:   resolve,
		workflows: make(map[string]*workflow.Workflow),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// CreateContentWorkflow builds the task graph for one content request and
// persists it. test_mode is copied into every task context; it only changes
// the publisher's side effects, never the scheduling.
func (e *WorkflowEngine) CreateContentWorkflow(ctx context.Context, req *CreateWorkflowRequest) (*workflow.Workflow, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate workflow request: %w", err)
	}

	now := time.Now().UTC()
	wf := &workflow.Workflow{
		ID:      uuid.NewString(),
		BriefID: req.BriefID,
		UserID:  req.UserID,
		Status:  workflow.StatusRunning,
		Context: map[string]any{
			workflow.CtxUserID:    req.UserID,
			workflow.CtxBrief:     req.Brief,
			workflow.CtxPlatforms: req.Platforms,
			workflow.CtxTestMode:  req.TestMode,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, platform := range req.Platforms {
		var createIDs []string
		for _, contentType := range req.ContentTypes {
			t := workflow.Task{
				ID:         uuid.NewString(),
				WorkflowID: wf.ID,
				Name:       fmt.Sprintf("create-%s-%s", platform, contentType),
				Capability: capabilityFor(contentType),
				Priority:   1,
				Status:     workflow.TaskStatusPending,
				Context: map[string]any{
					workflow.CtxUserID:      req.UserID,
					workflow.CtxBrief:       req.Brief,
					workflow.CtxPlatform:    platform,
					workflow.CtxContentType: contentType,
					workflow.CtxTestMode:    req.TestMode,
				},
				CreatedAt: now,
				UpdatedAt: now,
			}
			wf.Tasks = append(wf.Tasks, t)
			createIDs = append(createIDs, t.ID)
		}

		if req.DeferPublish {
			continue
		}

		pub := workflow.Task{
			ID:         uuid.NewString(),
			WorkflowID: wf.ID,
			Name:       "publish-" + platform,
			Capability: workflow.CapabilityPublisher,
			Priority:   2,
			DependsOn:  createIDs,
			Status:     workflow.TaskStatusPending,
			Context: map[string]any{
				workflow.CtxUserID:    req.UserID,
				workflow.CtxPlatform:  platform,
				workflow.CtxAccountID: req.AccountID,
				workflow.CtxTestMode:  req.TestMode,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		wf.Tasks = append(wf.Tasks, pub)
	}

	if err := e.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("store workflow: %w", err)
	}

	e.mu.Lock()
	e.workflows[wf.ID] = wf
	e.mu.Unlock()

	e.publishEvent(ctx, event.Event{
		Type:       event.TypeWorkflowCreated,
		UserID:     wf.UserID,
		WorkflowID: wf.ID,
		CreatedAt:  now,
	})

	slog.Info("workflow created", "workflow_id", wf.ID, "user_id", wf.UserID, "tasks", len(wf.Tasks))
	return wf, nil
}

// ExecuteWorkflow drives every task to a terminal state. Ready tasks run in
// parallel up to MaxParallel; a task never starts before all its dependencies
// succeeded, and dependents of a failed task are skipped. Independent branches
// run to completion even when another branch fails.
func (e *WorkflowEngine) ExecuteWorkflow(ctx context.Context, wf *workflow.Workflow) (workflow.StatusReport, error) {
	start := time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancels[wf.ID] = cancel
	e.mu.Unlock()
	defer func() {
		cancel()
		e.mu.Lock()
		delete(e.cancels, wf.ID)
		// Terminal workflows are served from the store; keeping them in
		// memory would grow without bound on long-lived orchestrators.
		delete(e.workflows, wf.ID)
		e.mu.Unlock()
	}()

	for {
		for _, id := range workflow.MarkBlockedSkipped(wf.Tasks) {
			e.persistTask(ctx, workflow.FindTask(wf.Tasks, id))
		}

		if workflow.AllTerminal(wf.Tasks) {
			break
		}

		// Cancelled mid-flight: remaining non-terminal tasks are skipped.
		if runCtx.Err() != nil {
			e.skipPending(ctx, wf)
			break
		}

		ready := workflow.ReadyTasks(wf.Tasks)
		if len(ready) == 0 {
			return workflow.StatusReport{}, fmt.Errorf("workflow %s: no runnable tasks but not all terminal", wf.ID)
		}

		g, gctx := errgroup.WithContext(runCtx)
		g.SetLimit(e.maxParallel())
		for _, id := range ready {
			t := workflow.FindTask(wf.Tasks, id)
			g.Go(func() error {
				e.runTask(gctx, wf, t)
				return nil // task failures stay local; unrelated branches continue
			})
		}
		_ = g.Wait()

		// Propagate each succeeded task's output fields into its dependents'
		// contexts before the next round computes readiness.
		for _, id := range ready {
			t := workflow.FindTask(wf.Tasks, id)
			if t.Status != workflow.TaskStatusSucceeded || t.Result == nil {
				continue
			}
			for _, dep := range workflow.Dependents(wf.Tasks, t.ID) {
				for k, v := range t.Result {
					dep.Context[k] = v
				}
			}
		}
	}

	// A cancelled workflow still records its terminal state.
	ctx = context.WithoutCancel(ctx)

	wf.Status = workflow.StatusCompleted
	if workflow.AnyFailed(wf.Tasks) || runCtx.Err() != nil {
		wf.Status = workflow.StatusFailed
	}
	wf.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateWorkflowStatus(ctx, wf.ID, wf.Status); err != nil {
		slog.Error("update workflow status", "workflow_id", wf.ID, "error", err)
	}

	report := wf.Report()
	e.recordWorkflowMetrics(ctx, wf, time.Since(start))

	evType := event.TypeWorkflowCompleted
	if wf.Status == workflow.StatusFailed {
		evType = event.TypeWorkflowFailed
	}
	e.publishEvent(ctx, event.Event{
		Type:       evType,
		UserID:     wf.UserID,
		WorkflowID: wf.ID,
		Detail: map[string]any{
			"completed_tasks": report.CompletedTasks,
			"failed_tasks":    report.FailedTasks,
			"total_tasks":     report.TotalTasks,
		},
		CreatedAt: time.Now().UTC(),
	})

	slog.Info("workflow finished",
		"workflow_id", wf.ID,
		"status", wf.Status,
		"completed", report.CompletedTasks,
		"failed", report.FailedTasks,
	)
	return report, nil
}

// Status returns the progress report for a workflow: live state while it is
// created or executing, the persisted record once it is terminal.
func (e *WorkflowEngine) Status(ctx context.Context, workflowID string) (workflow.StatusReport, error) {
	e.mu.Lock()
	wf, ok := e.workflows[workflowID]
	e.mu.Unlock()
	if ok {
		return wf.Report(), nil
	}

	stored, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return workflow.StatusReport{}, fmt.Errorf("workflow status %s: %w", workflowID, err)
	}
	return stored.Report(), nil
}

// Cancel stops a running workflow: in-flight tasks are interrupted, remaining
// pending tasks become skipped and the workflow ends failed.
func (e *WorkflowEngine) Cancel(ctx context.Context, workflowID string) error {
	e.mu.Lock()
	wf, ok := e.workflows[workflowID]
	cancel := e.cancels[workflowID]
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("cancel workflow %s: %w", workflowID, domain.ErrNotFound)
	}
	if cancel != nil {
		cancel()
		return nil
	}

	// Not executing: terminalize directly.
	e.skipPending(ctx, wf)
	wf.Status = workflow.StatusFailed
	if err := e.store.UpdateWorkflowStatus(ctx, workflowID, workflow.StatusFailed); err != nil {
		return fmt.Errorf("cancel workflow %s: %w", workflowID, err)
	}
	e.mu.Lock()
	delete(e.workflows, workflowID)
	e.mu.Unlock()
	return nil
}

// runTask resolves the capability handler, applies the per-task timeout and
// records the outcome. Failures are recovered into the task, never raised.
// The registry is consulted before the task transitions to running: a task
// whose capability cannot be resolved fails without ever being marked running.
func (e *WorkflowEngine) runTask(ctx context.Context, wf *workflow.Workflow, t *workflow.Task) {
	h, err := e.resolve(t.Capability)
	if err != nil {
		e.failTask(ctx, wf, t, err)
		return
	}

	t.Status = workflow.TaskStatusRunning
	t.UpdatedAt = time.Now().UTC()
	e.persistTask(ctx, t)

	taskCtx, cancel := context.WithTimeout(ctx, e.taskTimeout())
	defer cancel()

	result, err := h.Execute(taskCtx, t)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			// Workflow cancellation, not a task fault.
			t.Status = workflow.TaskStatusSkipped
			t.UpdatedAt = time.Now().UTC()
			e.persistTask(ctx, t)
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %s after %s", domain.ErrTaskTimeout, t.Name, e.taskTimeout())
		}
		e.failTask(ctx, wf, t, err)
		return
	}

	t.Result = result
	t.Status = workflow.TaskStatusSucceeded
	t.UpdatedAt = time.Now().UTC()
	e.persistTask(ctx, t)
	slog.Debug("task succeeded", "workflow_id", wf.ID, "task", t.Name)
}

func (e *WorkflowEngine) failTask(ctx context.Context, wf *workflow.Workflow, t *workflow.Task, err error) {
	t.Status = workflow.TaskStatusFailed
	t.Error = err.Error()
	t.UpdatedAt = time.Now().UTC()
	e.persistTask(ctx, t)
	if e.metrics != nil {
		e.metrics.TasksFailed.Add(ctx, 1)
	}
	slog.Warn("task failed", "workflow_id", wf.ID, "task", t.Name, "error", err)
}

func (e *WorkflowEngine) skipPending(ctx context.Context, wf *workflow.Workflow) {
	for i := range wf.Tasks {
		t := &wf.Tasks[i]
		if t.Status == workflow.TaskStatusPending || t.Status == workflow.TaskStatusRunning {
			t.Status = workflow.TaskStatusSkipped
			t.UpdatedAt = time.Now().UTC()
			e.persistTask(ctx, t)
		}
	}
}

func (e *WorkflowEngine) persistTask(ctx context.Context, t *workflow.Task) {
	if t == nil {
		return
	}
	// Task state must be persisted even when the workflow context was cancelled.
	ctx = context.WithoutCancel(ctx)
	if err := e.store.UpdateTask(ctx, t); err != nil {
		slog.Error("persist task", "task_id", t.ID, "error", err)
	}
}

func (e *WorkflowEngine) recordWorkflowMetrics(ctx context.Context, wf *workflow.Workflow, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.WorkflowsExecuted.Add(ctx, 1)
	if wf.Status == workflow.StatusFailed {
		e.metrics.WorkflowsFailed.Add(ctx, 1)
	}
	e.metrics.WorkflowDuration.Record(ctx, elapsed.Seconds())
}

func (e *WorkflowEngine) publishEvent(ctx context.Context, ev event.Event) {
	if e.hub != nil {
		e.hub.BroadcastEvent(ctx, string(ev.Type), ev)
	}
	if e.queue == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := e.queue.Publish(ctx, ev.Type.Subject(), data); err != nil {
		slog.Error("publish event", "type", ev.Type, "error", err)
	}
}

func (e *WorkflowEngine) maxParallel() int {
	if e.cfg != nil && e.cfg.MaxParallel > 0 {
		return e.cfg.MaxParallel
	}
	return 4
}

func (e *WorkflowEngine) taskTimeout() time.Duration {
	if e.cfg != nil && e.cfg.TaskTimeout > 0 {
		return e.cfg.TaskTimeout
	}
	return 2 * time.Minute
}

// capabilityFor maps a content type to the agent capability that produces it.
func capabilityFor(contentType string) string {
	if contentType == "image" {
		return workflow.CapabilityImageGenerator
	}
	return workflow.CapabilityContentCreator
}
