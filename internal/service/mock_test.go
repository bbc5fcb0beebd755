package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/msingatullin/ccontentcloud-sub000/internal/config"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/account"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/post"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/rule"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/subscription"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/workflow"
	"github.com/msingatullin/ccontentcloud-sub000/internal/port/agent"
	"github.com/msingatullin/ccontentcloud-sub000/internal/port/messagequeue"
	"github.com/msingatullin/ccontentcloud-sub000/internal/port/publisher"
)

// testStore is an in-memory database.Store shared by the service tests.
type testStore struct {
	mu sync.Mutex

	subs      map[string][]subscription.AgentSubscription
	subsErr   error
	subsCalls int

	workflows  map[string]*workflow.Workflow
	wfStatus   map[string]workflow.Status
	taskStatus map[string]workflow.TaskStatus
	taskHist   map[string][]workflow.TaskStatus

	posts      map[string]*post.ScheduledPost
	postSeq    int
	postCounts map[string]int

	rules    map[string]*rule.AutoPostingRule
	accounts map[string]*account.PlatformAccount

	claimPostErr error
	claimRuleErr error
}

func newTestStore() *testStore {
	return &testStore{
		subs:       make(map[string][]subscription.AgentSubscription),
		workflows:  make(map[string]*workflow.Workflow),
		wfStatus:   make(map[string]workflow.Status),
		taskStatus: make(map[string]workflow.TaskStatus),
		taskHist:   make(map[string][]workflow.TaskStatus),
		posts:      make(map[string]*post.ScheduledPost),
		postCounts: make(map[string]int),
		rules:      make(map[string]*rule.AutoPostingRule),
		accounts:   make(map[string]*account.PlatformAccount),
	}
}

func (s *testStore) ListActiveSubscriptions(_ context.Context, userID string) ([]subscription.AgentSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subsCalls++
	if s.subsErr != nil {
		return nil, s.subsErr
	}
	return s.subs[userID], nil
}

func (s *testStore) CreateWorkflow(_ context.Context, w *workflow.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[w.ID] = w
	s.wfStatus[w.ID] = w.Status
	return nil
}

func (s *testStore) UpdateWorkflowStatus(_ context.Context, id string, status workflow.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wfStatus[id] = status
	return nil
}

func (s *testStore) UpdateTask(_ context.Context, t *workflow.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskStatus[t.ID] = t.Status
	s.taskHist[t.ID] = append(s.taskHist[t.ID], t.Status)
	return nil
}

// taskStatuses returns every status persisted for a task, in order.
func (s *testStore) taskStatuses(id string) []workflow.TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]workflow.TaskStatus(nil), s.taskHist[id]...)
}

func (s *testStore) GetWorkflow(_ context.Context, id string) (*workflow.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return wf, nil
}

func (s *testStore) CreatePost(_ context.Context, req post.CreateRequest) (*post.ScheduledPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.postSeq++
	p := &post.ScheduledPost{
		ID:            fmt.Sprintf("post-%d", s.postSeq),
		UserID:        req.UserID,
		ContentID:     req.ContentID,
		RuleID:        req.RuleID,
		Platform:      req.Platform,
		AccountID:     req.AccountID,
		Content:       req.Content,
		TestMode:      req.TestMode,
		ScheduledTime: req.ScheduledTime,
		Status:        post.StatusScheduled,
		CreatedAt:     time.Now().UTC(),
	}
	s.posts[p.ID] = p
	cp := *p
	return &cp, nil
}

func (s *testStore) GetPost(_ context.Context, id string) (*post.ScheduledPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *testStore) ListPostsByUser(_ context.Context, userID string) ([]post.ScheduledPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []post.ScheduledPost
	for _, p := range s.posts {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *testStore) ListDuePosts(_ context.Context, now time.Time) ([]post.ScheduledPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []post.ScheduledPost
	for _, p := range s.posts {
		if p.Status == post.StatusScheduled && !p.ScheduledTime.After(now) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *testStore) ClaimPost(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimPostErr != nil {
		return s.claimPostErr
	}
	p, ok := s.posts[id]
	if !ok || p.Status != post.StatusScheduled {
		return domain.ErrClaimLost
	}
	p.Status = post.StatusPublishing
	return nil
}

func (s *testStore) MarkPostPublished(_ context.Context, id, platformPostID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = post.StatusPublished
	p.PlatformPostID = platformPostID
	p.PublishedAt = &at
	return nil
}

func (s *testStore) MarkPostFailed(_ context.Context, id, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = post.StatusFailed
	p.LastError = lastError
	return nil
}

func (s *testStore) CancelPost(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != post.StatusScheduled {
		return domain.ErrConflict
	}
	p.Status = post.StatusCancelled
	return nil
}

func (s *testStore) CountPostsByRuleSince(_ context.Context, ruleID string, _ time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.posts {
		if p.RuleID == ruleID && p.Status != post.StatusCancelled {
			n++
		}
	}
	return n, nil
}

func (s *testStore) IncrementContentPostCount(_ context.Context, contentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.postCounts[contentID]++
	return nil
}

func (s *testStore) CreateRule(_ context.Context, req rule.CreateRequest) (*rule.AutoPostingRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &rule.AutoPostingRule{
		ID:              fmt.Sprintf("rule-%d", len(s.rules)+1),
		UserID:          req.UserID,
		ScheduleType:    req.ScheduleType,
		ScheduleConfig:  req.ScheduleConfig,
		ContentConfig:   req.ContentConfig,
		Platforms:       req.Platforms,
		IsActive:        true,
		MaxPostsPerDay:  req.MaxPostsPerDay,
		MaxPostsPerWeek: req.MaxPostsPerWeek,
		CreatedAt:       time.Now().UTC(),
	}
	if next, err := r.NextExecution(time.Now().UTC()); err == nil {
		r.NextExecutionAt = next
	}
	s.rules[r.ID] = r
	cp := *r
	return &cp, nil
}

func (s *testStore) GetRule(_ context.Context, id string) (*rule.AutoPostingRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *testStore) ListRulesByUser(_ context.Context, userID string) ([]rule.AutoPostingRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []rule.AutoPostingRule
	for _, r := range s.rules {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *testStore) ListDueRules(_ context.Context, now time.Time) ([]rule.AutoPostingRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []rule.AutoPostingRule
	for _, r := range s.rules {
		if r.IsActive && !r.NextExecutionAt.After(now) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *testStore) ClaimRule(_ context.Context, id string, oldNext, newNext time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimRuleErr != nil {
		return s.claimRuleErr
	}
	r, ok := s.rules[id]
	if !ok || !r.IsActive || !r.NextExecutionAt.Equal(oldNext) {
		return domain.ErrClaimLost
	}
	r.NextExecutionAt = newNext
	return nil
}

func (s *testStore) RecordRuleExecution(_ context.Context, id string, success bool, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.TotalExecutions++
	if success {
		r.SuccessfulRuns++
		r.ConsecutiveFailures = 0
		r.LastError = ""
	} else {
		r.FailedRuns++
		r.ConsecutiveFailures++
		r.LastError = errMsg
	}
	return nil
}

func (s *testStore) SetRuleActive(_ context.Context, id string, active bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.IsActive = active
	if !active {
		r.LastError = reason
	}
	return nil
}

func (s *testStore) GetAccount(_ context.Context, userID, platform string) (*account.PlatformAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID+"/"+platform]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// testQueue records published subjects.
type testQueue struct {
	mu       sync.Mutex
	subjects []string
}

func (q *testQueue) Publish(_ context.Context, subject string, _ []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subjects = append(q.subjects, subject)
	return nil
}

func (q *testQueue) Subscribe(_ context.Context, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *testQueue) Drain() error { return nil }
func (q *testQueue) Close() error { return nil }

func (q *testQueue) published() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.subjects...)
}

// testHub records broadcast event types.
type testHub struct {
	mu     sync.Mutex
	events []string
}

func (h *testHub) BroadcastEvent(_ context.Context, eventType string, _ any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, eventType)
}

func (h *testHub) seen(eventType string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.events {
		if e == eventType {
			return true
		}
	}
	return false
}

// testCache is an in-memory port/cache.Cache.
type testCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newTestCache() *testCache {
	return &testCache{data: make(map[string][]byte)}
}

func (c *testCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *testCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *testCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// Agent capability factories for this test binary. Each dispatches to a
// swappable function so individual tests can override behavior.
var testAgents = struct {
	mu sync.Mutex
	fn map[string]agent.HandlerFunc
}{fn: make(map[string]agent.HandlerFunc)}

func setAgentHandler(t *testing.T, capability string, fn agent.HandlerFunc) {
	t.Helper()
	testAgents.mu.Lock()
	prev := testAgents.fn[capability]
	testAgents.fn[capability] = fn
	testAgents.mu.Unlock()
	t.Cleanup(func() {
		testAgents.mu.Lock()
		testAgents.fn[capability] = prev
		testAgents.mu.Unlock()
	})
}

func dispatchAgent(capability string) agent.HandlerFunc {
	return func(ctx context.Context, task *workflow.Task) (workflow.Result, error) {
		testAgents.mu.Lock()
		fn := testAgents.fn[capability]
		testAgents.mu.Unlock()
		if fn != nil {
			return fn(ctx, task)
		}
		platform, _ := task.Context[workflow.CtxPlatform].(string)
		if capability == workflow.CapabilityPublisher {
			return workflow.Result{"platform_post_id": "test-1", workflow.CtxPlatform: platform}, nil
		}
		return workflow.Result{workflow.CtxContent: "draft for " + platform, workflow.CtxPlatform: platform}, nil
	}
}

// publisherFunc adapts a function to publisher.Publisher.
type publisherFunc func(ctx context.Context, req publisher.Request) (*publisher.Result, error)

func (f publisherFunc) Publish(ctx context.Context, req publisher.Request) (*publisher.Result, error) {
	return f(ctx, req)
}

// mockPub is the swappable behavior behind the "mock" platform publisher.
var mockPub = struct {
	mu    sync.Mutex
	fn    func(ctx context.Context, req publisher.Request) (*publisher.Result, error)
	calls int
}{}

func setMockPublisher(t *testing.T, fn func(ctx context.Context, req publisher.Request) (*publisher.Result, error)) {
	t.Helper()
	mockPub.mu.Lock()
	mockPub.fn = fn
	mockPub.calls = 0
	mockPub.mu.Unlock()
	t.Cleanup(func() {
		mockPub.mu.Lock()
		mockPub.fn = nil
		mockPub.calls = 0
		mockPub.mu.Unlock()
	})
}

func mockPublishCalls() int {
	mockPub.mu.Lock()
	defer mockPub.mu.Unlock()
	return mockPub.calls
}

func init() {
	for _, id := range []string{
		workflow.CapabilityContentCreator,
		workflow.CapabilityImageGenerator,
		workflow.CapabilityPublisher,
	} {
		agent.Register(id, func(_ map[string]string) (agent.Handler, error) {
			return dispatchAgent(id), nil
		})
	}

	publisher.Register("mock", func(_ map[string]string) (publisher.Publisher, error) {
		return publisherFunc(func(ctx context.Context, req publisher.Request) (*publisher.Result, error) {
			mockPub.mu.Lock()
			mockPub.calls++
			fn := mockPub.fn
			mockPub.mu.Unlock()
			if fn != nil {
				return fn(ctx, req)
			}
			return &publisher.Result{Success: true, PlatformPostID: "mock-1"}, nil
		}), nil
	})
}

func testOrchestratorConfig() *config.Orchestrator {
	return &config.Orchestrator{
		IdleTimeout:   time.Hour,
		SweepInterval: time.Hour,
		MaxParallel:   4,
		TaskTimeout:   5 * time.Second,
	}
}

func testSchedulerConfig() *config.Scheduler {
	return &config.Scheduler{
		PostInterval:         time.Minute,
		RuleInterval:         time.Minute,
		PublishRetries:       3,
		PublishBackoff:       time.Millisecond,
		RuleFailureThreshold: 5,
	}
}
