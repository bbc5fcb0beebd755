package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/msingatullin/ccontentcloud-sub000/internal/adapter/otel"
	"github.com/msingatullin/ccontentcloud-sub000/internal/config"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/subscription"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/workflow"
	"github.com/msingatullin/ccontentcloud-sub000/internal/port/agent"
	"github.com/msingatullin/ccontentcloud-sub000/internal/port/broadcast"
	"github.com/msingatullin/ccontentcloud-sub000/internal/port/cache"
	"github.com/msingatullin/ccontentcloud-sub000/internal/port/database"
	"github.com/msingatullin/ccontentcloud-sub000/internal/port/messagequeue"
)

// Orchestrator is the per-user bundle of an agent registry snapshot and a
// workflow engine. At most one live Orchestrator exists per user ID.
type Orchestrator struct {
	UserID    string
	CreatedAt time.Time

	mu         sync.Mutex
	registry   *AgentRegistry
	lastUsedAt time.Time

	inFlight atomic.Int64
	engine   *WorkflowEngine
}

// Registry returns the current registry snapshot.
func (o *Orchestrator) Registry() *AgentRegistry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.registry
}

// LastUsedAt returns the time of the most recent request against this orchestrator.
func (o *Orchestrator) LastUsedAt() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastUsedAt
}

// InFlight returns the number of workflows currently executing.
func (o *Orchestrator) InFlight() int64 {
	return o.inFlight.Load()
}

func (o *Orchestrator) touch(now time.Time) {
	o.mu.Lock()
	o.lastUsedAt = now
	o.mu.Unlock()
}

func (o *Orchestrator) swapRegistry(r *AgentRegistry) {
	o.mu.Lock()
	o.registry = r
	o.mu.Unlock()
}

// CreateContentWorkflow builds a workflow through this orchestrator's engine.
func (o *Orchestrator) CreateContentWorkflow(ctx context.Context, req *CreateWorkflowRequest) (*workflow.Workflow, error) {
	o.touch(time.Now().UTC())
	return o.engine.CreateContentWorkflow(ctx, req)
}

// ExecuteWorkflow runs a workflow while holding an in-flight reference so the
// idle sweep cannot evict this orchestrator underneath it.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, wf *workflow.Workflow) (workflow.StatusReport, error) {
	o.inFlight.Add(1)
	defer o.inFlight.Add(-1)
	o.touch(time.Now().UTC())
	return o.engine.ExecuteWorkflow(ctx, wf)
}

// WorkflowStatus reports a workflow's progress.
func (o *Orchestrator) WorkflowStatus(ctx context.Context, workflowID string) (workflow.StatusReport, error) {
	return o.engine.Status(ctx, workflowID)
}

// CancelWorkflow cancels a running workflow.
func (o *Orchestrator) CancelWorkflow(ctx context.Context, workflowID string) error {
	return o.engine.Cancel(ctx, workflowID)
}

// OrchestratorRegistry owns the per-user orchestrators: lazy creation under a
// lock, idle eviction by a periodic sweep, and registry refresh on
// subscription changes. It is constructed once at process start and injected
// wherever orchestrators are needed.
type OrchestratorRegistry struct {
	store       database.Store
	subsCache   cache.Cache
	queue       messagequeue.Queue
	hub         broadcast.Broadcaster
	metrics     *otel.Metrics
	cfg         *config.Orchestrator
	cacheTTL    time.Duration
	agentConfig map[string]string

	mu            sync.Mutex
	orchestrators map[string]*Orchestrator

	stopSweep chan struct{}
	sweepOnce sync.Once
	now       func() time.Time // for testing
}

// NewOrchestratorRegistry creates the registry. subsCache, queue, hub and
// metrics may be nil; agentConfig is handed to capability factories.
func NewOrchestratorRegistry(
	store database.Store,
	subsCache cache.Cache,
	queue messagequeue.Queue,
	hub broadcast.Broadcaster,
	metrics *otel.Metrics,
	cfg *config.Orchestrator,
	cacheTTL time.Duration,
	agentConfig map[string]string,
) *OrchestratorRegistry {
	return &OrchestratorRegistry{
		store:         store,
		subsCache:     subsCache,
		queue:         queue,
		hub:           hub,
		metrics:       metrics,
		cfg:           cfg,
		cacheTTL:      cacheTTL,
		agentConfig:   agentConfig,
		orchestrators: make(map[string]*Orchestrator),
		stopSweep:     make(chan struct{}),
		now:           time.Now,
	}
}

// GetOrCreate returns the cached orchestrator for the user, constructing one
// if absent. Construction happens under the registry lock so concurrent first
// requests for the same user build exactly one orchestrator.
func (r *OrchestratorRegistry) GetOrCreate(ctx context.Context, userID string) (*Orchestrator, error) {
	if userID == "" {
		return nil, fmt.Errorf("get orchestrator: user_id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if o, ok := r.orchestrators[userID]; ok {
		o.touch(r.now().UTC())
		return o, nil
	}

	reg, err := r.buildAgentRegistry(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("build agent registry for %s: %w", userID, err)
	}

	now := r.now().UTC()
	o := &Orchestrator{
		UserID:     userID,
		CreatedAt:  now,
		registry:   reg,
		lastUsedAt: now,
	}
	// The engine resolves handlers through the orchestrator so a registry
	// refresh is picked up by tasks that have not started yet.
	o.engine = NewWorkflowEngine(r.store, r.queue, r.hub, r.metrics, r.cfg, func(capability string) (agent.Handler, error) {
		return o.Registry().Resolve(capability)
	})

	r.orchestrators[userID] = o
	slog.Info("orchestrator created", "user_id", userID, "capabilities", reg.Capabilities())
	return o, nil
}

// RefreshAgents rebuilds the agent registry for an existing orchestrator after
// a subscription change. The new snapshot is swapped in whole; in-flight
// workflows keep the snapshot they already resolved from.
func (r *OrchestratorRegistry) RefreshAgents(ctx context.Context, userID string) error {
	r.mu.Lock()
	o, ok := r.orchestrators[userID]
	r.mu.Unlock()
	if !ok {
		return nil // nothing cached, next GetOrCreate builds fresh
	}

	if r.subsCache != nil {
		_ = r.subsCache.Delete(ctx, subsCacheKey(userID))
	}

	reg, err := r.buildAgentRegistry(ctx, userID)
	if err != nil {
		return fmt.Errorf("refresh agents for %s: %w", userID, err)
	}
	o.swapRegistry(reg)
	slog.Info("agent registry refreshed", "user_id", userID, "capabilities", reg.Capabilities())
	return nil
}

// Sweep evicts every orchestrator that has been idle longer than idleTimeout
// and has no in-flight workflows. An orchestrator with in-flight work is never
// evicted, regardless of idle time.
func (r *OrchestratorRegistry) Sweep(idleTimeout time.Duration) int {
	now := r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for userID, o := range r.orchestrators {
		if o.InFlight() > 0 {
			continue
		}
		if now.Sub(o.LastUsedAt()) <= idleTimeout {
			continue
		}
		delete(r.orchestrators, userID)
		evicted++
		slog.Info("orchestrator evicted", "user_id", userID, "idle", now.Sub(o.LastUsedAt()).String())
	}
	return evicted
}

// StartSweep launches the periodic idle sweep.
func (r *OrchestratorRegistry) StartSweep(ctx context.Context) {
	interval := r.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.Sweep(r.cfg.IdleTimeout)
			case <-r.stopSweep:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	slog.Info("orchestrator idle sweep started", "interval", interval.String())
}

// StopSweep stops the periodic sweep.
func (r *OrchestratorRegistry) StopSweep() {
	r.sweepOnce.Do(func() {
		close(r.stopSweep)
	})
}

// Size returns the number of cached orchestrators.
func (r *OrchestratorRegistry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orchestrators)
}

// buildAgentRegistry loads the user's active subscriptions and instantiates
// the entitled capability factories. When subscription data is unavailable or
// empty, the behavior depends on AllowAllAgents: a logged register-everything
// fallback for development, or a hard error otherwise.
func (r *OrchestratorRegistry) buildAgentRegistry(ctx context.Context, userID string) (*AgentRegistry, error) {
	subs, err := r.loadSubscriptions(ctx, userID)
	if err != nil || len(subs) == 0 {
		if !r.cfg.AllowAllAgents {
			if err != nil {
				return nil, fmt.Errorf("load subscriptions: %w", err)
			}
			return nil, fmt.Errorf("user %s has no active agent subscriptions", userID)
		}
		slog.Warn("registering all agents: subscription data unavailable (allow_all_agents enabled)",
			"user_id", userID, "error", err)
		return r.registerAll()
	}

	reg := NewAgentRegistry()
	now := r.now().UTC()
	for i := range subs {
		s := &subs[i]
		if !s.Entitles(now) {
			continue
		}
		h, err := agent.New(s.AgentID, r.agentConfig)
		if err != nil {
			slog.Warn("skipping unknown subscribed agent", "user_id", userID, "agent_id", s.AgentID)
			continue
		}
		if err := reg.Register(s.AgentID, h); err != nil {
			slog.Warn("duplicate subscription entry", "user_id", userID, "agent_id", s.AgentID)
		}
	}
	// Publishing is not a billed capability; every orchestrator can publish.
	if _, err := reg.Resolve(workflow.CapabilityPublisher); err != nil {
		if h, err := agent.New(workflow.CapabilityPublisher, r.agentConfig); err == nil {
			_ = reg.Register(workflow.CapabilityPublisher, h)
		}
	}
	return reg, nil
}

func (r *OrchestratorRegistry) registerAll() (*AgentRegistry, error) {
	reg := NewAgentRegistry()
	for _, id := range agent.Available() {
		h, err := agent.New(id, r.agentConfig)
		if err != nil {
			return nil, fmt.Errorf("construct agent %q: %w", id, err)
		}
		if err := reg.Register(id, h); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// loadSubscriptions reads active subscriptions through the short-TTL cache so
// bursts of orchestrator builds do not hammer the store.
func (r *OrchestratorRegistry) loadSubscriptions(ctx context.Context, userID string) ([]subscription.AgentSubscription, error) {
	key := subsCacheKey(userID)

	if r.subsCache != nil {
		if data, ok, err := r.subsCache.Get(ctx, key); err == nil && ok {
			var subs []subscription.AgentSubscription
			if err := json.Unmarshal(data, &subs); err == nil {
				return subs, nil
			}
		}
	}

	subs, err := r.store.ListActiveSubscriptions(ctx, userID)
	if err != nil {
		return nil, err
	}

	if r.subsCache != nil {
		if data, err := json.Marshal(subs); err == nil {
			_ = r.subsCache.Set(ctx, key, data, r.cacheTTL)
		}
	}
	return subs, nil
}

func subsCacheKey(userID string) string {
	return "subs:" + userID
}
