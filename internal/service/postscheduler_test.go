package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/msingatullin/ccontentcloud-sub000/internal/config"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/account"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/post"
	"github.com/msingatullin/ccontentcloud-sub000/internal/port/publisher"
	"github.com/msingatullin/ccontentcloud-sub000/internal/resilience"
)

type postSchedulerFixture struct {
	store *testStore
	queue *testQueue
	hub   *testHub
	sched *PostScheduler

	sleepMu sync.Mutex
	sleeps  []time.Duration
}

func newPostSchedulerFixture(t *testing.T, cfg *config.Scheduler, breaker *resilience.Breaker, tokenKey []byte) *postSchedulerFixture {
	t.Helper()
	f := &postSchedulerFixture{
		store: newTestStore(),
		queue: &testQueue{},
		hub:   &testHub{},
	}
	if cfg == nil {
		cfg = testSchedulerConfig()
	}
	if breaker == nil {
		breaker = resilience.NewBreaker(10, time.Minute)
	}
	f.sched = NewPostScheduler(f.store, f.queue, f.hub, nil, breaker, cfg, map[string]string{}, tokenKey)
	f.sched.sleep = func(_ context.Context, d time.Duration) error {
		f.sleepMu.Lock()
		f.sleeps = append(f.sleeps, d)
		f.sleepMu.Unlock()
		return nil
	}
	return f
}

func (f *postSchedulerFixture) seedPost(id string) *post.ScheduledPost {
	p := &post.ScheduledPost{
		ID:            id,
		UserID:        "u1",
		ContentID:     "c1",
		Platform:      "mock",
		Content:       "hello world",
		ScheduledTime: time.Now().UTC().Add(-time.Minute),
		Status:        post.StatusScheduled,
	}
	f.store.mu.Lock()
	f.store.posts[id] = p
	f.store.mu.Unlock()
	return p
}

func (f *postSchedulerFixture) postStatus(id string) post.Status {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return f.store.posts[id].Status
}

func TestPostSchedulerPublishesDuePost(t *testing.T) {
	f := newPostSchedulerFixture(t, nil, nil, nil)
	f.seedPost("p1")
	setMockPublisher(t, nil) // default: success

	f.sched.Tick(context.Background())

	f.store.mu.Lock()
	p := f.store.posts["p1"]
	counts := f.store.postCounts["c1"]
	f.store.mu.Unlock()

	if p.Status != post.StatusPublished {
		t.Fatalf("status = %q, want published", p.Status)
	}
	if p.PlatformPostID != "mock-1" {
		t.Errorf("platform post ID = %q", p.PlatformPostID)
	}
	if p.PublishedAt == nil {
		t.Error("published_at not set")
	}
	if counts != 1 {
		t.Errorf("content post count = %d, want 1", counts)
	}
	if !f.hub.seen("post.published") {
		t.Error("post.published event not broadcast")
	}
	found := false
	for _, s := range f.queue.published() {
		if s == "posts.post.published" {
			found = true
		}
	}
	if !found {
		t.Errorf("queue subjects = %v, missing posts.post.published", f.queue.published())
	}
}

func TestPostSchedulerSkipsLostClaim(t *testing.T) {
	f := newPostSchedulerFixture(t, nil, nil, nil)
	f.seedPost("p1")
	f.store.claimPostErr = domain.ErrClaimLost
	setMockPublisher(t, nil)

	f.sched.Tick(context.Background())

	if got := f.postStatus("p1"); got != post.StatusScheduled {
		t.Errorf("status = %q, claim loser must not touch the post", got)
	}
	if n := mockPublishCalls(); n != 0 {
		t.Errorf("publish called %d times after lost claim", n)
	}
}

func TestPostSchedulerIgnoresFuturePosts(t *testing.T) {
	f := newPostSchedulerFixture(t, nil, nil, nil)
	p := f.seedPost("p1")
	f.store.mu.Lock()
	p.ScheduledTime = time.Now().UTC().Add(time.Hour)
	f.store.mu.Unlock()
	setMockPublisher(t, nil)

	f.sched.Tick(context.Background())

	if got := f.postStatus("p1"); got != post.StatusScheduled {
		t.Errorf("status = %q, future post must stay scheduled", got)
	}
}

func TestPostSchedulerRetriesWithBackoff(t *testing.T) {
	cfg := testSchedulerConfig()
	cfg.PublishBackoff = 10 * time.Millisecond

	f := newPostSchedulerFixture(t, cfg, nil, nil)
	f.seedPost("p1")

	var calls int
	setMockPublisher(t, func(_ context.Context, _ publisher.Request) (*publisher.Result, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("transient network error")
		}
		return &publisher.Result{Success: true, PlatformPostID: "retry-ok"}, nil
	})

	f.sched.Tick(context.Background())

	if got := f.postStatus("p1"); got != post.StatusPublished {
		t.Fatalf("status = %q, want published after retries", got)
	}
	if calls != 3 {
		t.Errorf("publish attempts = %d, want 3", calls)
	}

	f.sleepMu.Lock()
	defer f.sleepMu.Unlock()
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	if len(f.sleeps) != len(want) || f.sleeps[0] != want[0] || f.sleeps[1] != want[1] {
		t.Errorf("backoff sleeps = %v, want %v", f.sleeps, want)
	}
}

func TestPostSchedulerFailsAfterRetryBudget(t *testing.T) {
	f := newPostSchedulerFixture(t, nil, nil, nil)
	f.seedPost("p1")
	setMockPublisher(t, func(_ context.Context, _ publisher.Request) (*publisher.Result, error) {
		return nil, errors.New("platform down")
	})

	f.sched.Tick(context.Background())

	f.store.mu.Lock()
	p := f.store.posts["p1"]
	f.store.mu.Unlock()

	if p.Status != post.StatusFailed {
		t.Fatalf("status = %q, want failed", p.Status)
	}
	if !strings.Contains(p.LastError, "after 3 attempts") {
		t.Errorf("last error = %q", p.LastError)
	}
	if !f.hub.seen("post.failed") {
		t.Error("post.failed event not broadcast")
	}
}

func TestPostSchedulerStopsRetryingWhenBreakerOpens(t *testing.T) {
	breaker := resilience.NewBreaker(1, time.Minute)
	f := newPostSchedulerFixture(t, nil, breaker, nil)
	f.seedPost("p1")
	setMockPublisher(t, func(_ context.Context, _ publisher.Request) (*publisher.Result, error) {
		return nil, errors.New("platform down")
	})

	f.sched.Tick(context.Background())

	if got := f.postStatus("p1"); got != post.StatusFailed {
		t.Fatalf("status = %q, want failed", got)
	}
	// First attempt fails and trips the breaker; the second is rejected
	// without reaching the publisher.
	if n := mockPublishCalls(); n != 1 {
		t.Errorf("publish attempts = %d, want 1", n)
	}
}

func TestPostSchedulerRejectedResultFailsPost(t *testing.T) {
	f := newPostSchedulerFixture(t, nil, nil, nil)
	f.seedPost("p1")
	setMockPublisher(t, func(_ context.Context, _ publisher.Request) (*publisher.Result, error) {
		return &publisher.Result{Success: false, Error: "content policy violation"}, nil
	})

	f.sched.Tick(context.Background())

	f.store.mu.Lock()
	p := f.store.posts["p1"]
	f.store.mu.Unlock()

	if p.Status != post.StatusFailed {
		t.Fatalf("status = %q, want failed", p.Status)
	}
	if !strings.Contains(p.LastError, "content policy violation") {
		t.Errorf("last error = %q", p.LastError)
	}
}

func TestPostSchedulerUnknownPlatformFailsPost(t *testing.T) {
	f := newPostSchedulerFixture(t, nil, nil, nil)
	p := f.seedPost("p1")
	f.store.mu.Lock()
	p.Platform = "myspace"
	f.store.mu.Unlock()

	f.sched.Tick(context.Background())

	if got := f.postStatus("p1"); got != post.StatusFailed {
		t.Errorf("status = %q, want failed for unknown platform", got)
	}
}

func TestPostSchedulerUsesDecryptedAccountToken(t *testing.T) {
	key := account.DeriveKey("test-secret")
	encrypted, err := account.Encrypt([]byte("user-token-42"), key)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	f := newPostSchedulerFixture(t, nil, nil, key)
	p := f.seedPost("p1")
	f.store.mu.Lock()
	p.AccountID = "acct-1"
	f.store.accounts["u1/mock"] = &account.PlatformAccount{
		ID:          "acct-1",
		UserID:      "u1",
		Platform:    "mock",
		AccessToken: encrypted,
		IsActive:    true,
	}
	f.store.mu.Unlock()

	var gotToken string
	setMockPublisher(t, func(_ context.Context, req publisher.Request) (*publisher.Result, error) {
		gotToken = req.AccessToken
		return &publisher.Result{Success: true, PlatformPostID: "x"}, nil
	})

	f.sched.Tick(context.Background())

	if gotToken != "user-token-42" {
		t.Errorf("publisher saw token %q, want decrypted account token", gotToken)
	}
}
