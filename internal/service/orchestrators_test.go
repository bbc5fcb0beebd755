package service

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/msingatullin/ccontentcloud-sub000/internal/config"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/subscription"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/workflow"
)

func newTestOrchestrators(store *testStore, cfg *config.Orchestrator) *OrchestratorRegistry {
	return NewOrchestratorRegistry(store, nil, nil, nil, nil, cfg, 30*time.Second, nil)
}

func activeSub(userID, agentID string) subscription.AgentSubscription {
	return subscription.AgentSubscription{
		ID:      "sub-" + agentID,
		UserID:  userID,
		AgentID: agentID,
		Status:  subscription.StatusActive,
	}
}

func TestGetOrCreateCachesPerUser(t *testing.T) {
	store := newTestStore()
	store.subs["u1"] = []subscription.AgentSubscription{activeSub("u1", workflow.CapabilityContentCreator)}

	reg := newTestOrchestrators(store, testOrchestratorConfig())

	o1, err := reg.GetOrCreate(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	o2, err := reg.GetOrCreate(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetOrCreate second: %v", err)
	}
	if o1 != o2 {
		t.Error("second GetOrCreate returned a different orchestrator")
	}
	if reg.Size() != 1 {
		t.Errorf("Size = %d, want 1", reg.Size())
	}

	want := []string{workflow.CapabilityContentCreator, workflow.CapabilityPublisher}
	if got := o1.Registry().Capabilities(); !reflect.DeepEqual(got, want) {
		t.Errorf("capabilities = %v, want %v", got, want)
	}
}

func TestGetOrCreateConcurrent(t *testing.T) {
	store := newTestStore()
	store.subs["u1"] = []subscription.AgentSubscription{activeSub("u1", workflow.CapabilityContentCreator)}

	reg := newTestOrchestrators(store, testOrchestratorConfig())

	const n = 16
	var (
		wg   sync.WaitGroup
		got  [n]*Orchestrator
		errs [n]error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			got[i], errs[i] = reg.GetOrCreate(context.Background(), "u1")
		}()
	}
	close(start)
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("GetOrCreate #%d: %v", i, errs[i])
		}
		if got[i] != got[0] {
			t.Fatalf("GetOrCreate #%d returned a different orchestrator", i)
		}
	}
	if reg.Size() != 1 {
		t.Errorf("Size = %d, want 1", reg.Size())
	}

	store.mu.Lock()
	calls := store.subsCalls
	store.mu.Unlock()
	if calls != 1 {
		t.Errorf("subscription reads = %d, want 1 (single construction)", calls)
	}
}

func TestGetOrCreateRequiresUserID(t *testing.T) {
	reg := newTestOrchestrators(newTestStore(), testOrchestratorConfig())
	if _, err := reg.GetOrCreate(context.Background(), ""); err == nil {
		t.Error("expected error for empty user ID")
	}
}

func TestGetOrCreateSkipsExpiredSubscriptions(t *testing.T) {
	expired := activeSub("u1", workflow.CapabilityImageGenerator)
	expired.ExpiresAt = time.Now().UTC().Add(-time.Hour)

	store := newTestStore()
	store.subs["u1"] = []subscription.AgentSubscription{
		activeSub("u1", workflow.CapabilityContentCreator),
		expired,
	}

	reg := newTestOrchestrators(store, testOrchestratorConfig())
	o, err := reg.GetOrCreate(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	caps := o.Registry().Capabilities()
	for _, c := range caps {
		if c == workflow.CapabilityImageGenerator {
			t.Errorf("expired subscription still entitled: %v", caps)
		}
	}
}

func TestGetOrCreateWithoutSubscriptions(t *testing.T) {
	store := newTestStore()

	strict := testOrchestratorConfig()
	reg := newTestOrchestrators(store, strict)
	if _, err := reg.GetOrCreate(context.Background(), "u1"); err == nil {
		t.Error("expected error when user has no subscriptions")
	}

	permissive := testOrchestratorConfig()
	permissive.AllowAllAgents = true
	reg = newTestOrchestrators(store, permissive)
	o, err := reg.GetOrCreate(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetOrCreate with allow_all_agents: %v", err)
	}

	want := []string{
		workflow.CapabilityContentCreator,
		workflow.CapabilityImageGenerator,
		workflow.CapabilityPublisher,
	}
	if got := o.Registry().Capabilities(); !reflect.DeepEqual(got, want) {
		t.Errorf("capabilities = %v, want %v", got, want)
	}
}

func TestRefreshAgentsSwapsSnapshot(t *testing.T) {
	store := newTestStore()
	store.subs["u1"] = []subscription.AgentSubscription{activeSub("u1", workflow.CapabilityContentCreator)}

	reg := newTestOrchestrators(store, testOrchestratorConfig())
	o, err := reg.GetOrCreate(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	before := o.Registry()

	store.mu.Lock()
	store.subs["u1"] = []subscription.AgentSubscription{activeSub("u1", workflow.CapabilityImageGenerator)}
	store.mu.Unlock()

	if err := reg.RefreshAgents(context.Background(), "u1"); err != nil {
		t.Fatalf("RefreshAgents: %v", err)
	}

	after := o.Registry()
	if before == after {
		t.Error("registry snapshot was not swapped")
	}
	want := []string{workflow.CapabilityImageGenerator, workflow.CapabilityPublisher}
	if got := after.Capabilities(); !reflect.DeepEqual(got, want) {
		t.Errorf("capabilities after refresh = %v, want %v", got, want)
	}

	// Refreshing a user with no cached orchestrator is a no-op.
	if err := reg.RefreshAgents(context.Background(), "unknown"); err != nil {
		t.Errorf("RefreshAgents for uncached user: %v", err)
	}
}

func TestSweepEvictsIdleOrchestrators(t *testing.T) {
	store := newTestStore()
	store.subs["u1"] = []subscription.AgentSubscription{activeSub("u1", workflow.CapabilityContentCreator)}

	reg := newTestOrchestrators(store, testOrchestratorConfig())
	base := time.Now().UTC()
	reg.now = func() time.Time { return base }

	if _, err := reg.GetOrCreate(context.Background(), "u1"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	// Still fresh: nothing to evict.
	if n := reg.Sweep(time.Hour); n != 0 {
		t.Errorf("Sweep evicted %d fresh orchestrators", n)
	}

	base = base.Add(2 * time.Hour)
	if n := reg.Sweep(time.Hour); n != 1 {
		t.Errorf("Sweep evicted %d, want 1", n)
	}
	if reg.Size() != 0 {
		t.Errorf("Size = %d after sweep, want 0", reg.Size())
	}
}

func TestSweepKeepsInFlightOrchestrators(t *testing.T) {
	store := newTestStore()
	store.subs["u1"] = []subscription.AgentSubscription{activeSub("u1", workflow.CapabilityContentCreator)}

	reg := newTestOrchestrators(store, testOrchestratorConfig())
	base := time.Now().UTC()
	reg.now = func() time.Time { return base }

	o, err := reg.GetOrCreate(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	o.inFlight.Add(1)
	defer o.inFlight.Add(-1)

	base = base.Add(2 * time.Hour)
	if n := reg.Sweep(time.Hour); n != 0 {
		t.Errorf("Sweep evicted %d orchestrators with in-flight work", n)
	}
	if reg.Size() != 1 {
		t.Errorf("Size = %d, want 1", reg.Size())
	}
}

func TestSubscriptionCacheAvoidsStoreReads(t *testing.T) {
	store := newTestStore()
	store.subs["u1"] = []subscription.AgentSubscription{activeSub("u1", workflow.CapabilityContentCreator)}

	cache := newTestCache()
	reg := NewOrchestratorRegistry(store, cache, nil, nil, nil, testOrchestratorConfig(), 30*time.Second, nil)
	base := time.Now().UTC()
	reg.now = func() time.Time { return base }

	if _, err := reg.GetOrCreate(context.Background(), "u1"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	// Evict, then rebuild: the second build must be served from the cache.
	base = base.Add(2 * time.Hour)
	reg.Sweep(time.Hour)
	if _, err := reg.GetOrCreate(context.Background(), "u1"); err != nil {
		t.Fatalf("GetOrCreate after evict: %v", err)
	}

	store.mu.Lock()
	calls := store.subsCalls
	store.mu.Unlock()
	if calls != 1 {
		t.Errorf("store reads = %d, want 1 (second build cached)", calls)
	}
}

func TestOrchestratorRunsWorkflowEndToEnd(t *testing.T) {
	store := newTestStore()
	store.subs["u1"] = []subscription.AgentSubscription{activeSub("u1", workflow.CapabilityContentCreator)}

	reg := newTestOrchestrators(store, testOrchestratorConfig())
	o, err := reg.GetOrCreate(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	wf, err := o.CreateContentWorkflow(context.Background(), &CreateWorkflowRequest{
		Brief:        "b",
		Platforms:    []string{"mock"},
		ContentTypes: []string{"post"},
		UserID:       "u1",
	})
	if err != nil {
		t.Fatalf("CreateContentWorkflow: %v", err)
	}

	report, err := o.ExecuteWorkflow(context.Background(), wf)
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if report.Status != workflow.StatusCompleted {
		t.Fatalf("status = %q, want completed", report.Status)
	}

	status, err := o.WorkflowStatus(context.Background(), wf.ID)
	if err != nil {
		t.Fatalf("WorkflowStatus: %v", err)
	}
	if status.CompletedTasks != 2 {
		t.Errorf("completed = %d, want 2", status.CompletedTasks)
	}
}
