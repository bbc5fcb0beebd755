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
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/account"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/event"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/post"
	"github.com/msingatullin/ccontentcloud-sub000/internal/port/broadcast"
	"github.com/msingatullin/ccontentcloud-sub000/internal/port/database"
	"github.com/msingatullin/ccontentcloud-sub000/internal/port/messagequeue"
	"github.com/msingatullin/ccontentcloud-sub000/internal/port/publisher"
	"github.com/msingatullin/ccontentcloud-sub000/internal/resilience"
)

// PostScheduler is the polling worker for scheduled posts. Every tick it
// finds due posts, claims each one atomically, and publishes it. Claiming
// makes the loop safe when multiple scheduler processes poll the same store:
// only the claimant proceeds.
type PostScheduler struct {
	store     database.Store
	queue     messagequeue.Queue
	hub       broadcast.Broadcaster
	metrics   *otel.Metrics
	breaker   *resilience.Breaker
	cfg       *config.Scheduler
	pubConfig map[string]string
	tokenKey  []byte

	stop     chan struct{}
	stopOnce sync.Once
	now      func() time.Time // for testing
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewPostScheduler creates the scheduled-post polling worker. queue, hub and
// metrics may be nil; pubConfig is handed to publisher factories.
func NewPostScheduler(
	store database.Store,
	queue messagequeue.Queue,
	hub broadcast.Broadcaster,
	metrics *otel.Metrics,
	breaker *resilience.Breaker,
	cfg *config.Scheduler,
	pubConfig map[string]string,
	tokenKey []byte,
) *PostScheduler {
	return &PostScheduler{
		store:     store,
		queue:     queue,
		hub:       hub,
		metrics:   metrics,
		breaker:   breaker,
		cfg:       cfg,
		pubConfig: pubConfig,
		tokenKey:  tokenKey,
		stop:      make(chan struct{}),
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Start launches the polling loop. A failed tick is logged and retried on the
// next timer fire; the loop never terminates on a single failure.
func (s *PostScheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.cfg.PostInterval)
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
	slog.Info("post scheduler started", "interval", s.cfg.PostInterval.String())
}

// Stop stops the polling loop.
func (s *PostScheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

// Tick processes every due post once. Exported for tests and for the final
// drain on shutdown.
func (s *PostScheduler) Tick(ctx context.Context) {
	due, err := s.store.ListDuePosts(ctx, s.now().UTC())
	if err != nil {
		slog.Error("list due posts", "error", err)
		return
	}

	for i := range due {
		s.processPost(ctx, &due[i])
	}
}

// processPost claims the post before any I/O, then publishes it through the
// breaker with bounded backoff. The claim loser skips silently.
func (s *PostScheduler) processPost(ctx context.Context, p *post.ScheduledPost) {
	if err := s.store.ClaimPost(ctx, p.ID); err != nil {
		if errors.Is(err, domain.ErrClaimLost) {
			slog.Debug("post already claimed", "post_id", p.ID)
			return
		}
		slog.Error("claim post", "post_id", p.ID, "error", err)
		return
	}

	result, err := s.publishWithRetry(ctx, p)
	if err != nil {
		s.markFailed(ctx, p, err)
		return
	}
	if !result.Success {
		s.markFailed(ctx, p, fmt.Errorf("publish rejected: %s", result.Error))
		return
	}

	now := s.now().UTC()
	if err := s.store.MarkPostPublished(ctx, p.ID, result.PlatformPostID, now); err != nil {
		slog.Error("mark post published", "post_id", p.ID, "error", err)
		return
	}
	if p.ContentID != "" {
		if err := s.store.IncrementContentPostCount(ctx, p.ContentID); err != nil {
			slog.Warn("increment content post count", "content_id", p.ContentID, "error", err)
		}
	}
	if s.metrics != nil {
		s.metrics.PostsPublished.Add(ctx, 1)
	}
	s.publishEvent(ctx, event.Event{
		Type:      event.TypePostPublished,
		UserID:    p.UserID,
		PostID:    p.ID,
		RuleID:    p.RuleID,
		Platform:  p.Platform,
		CreatedAt: now,
	})
	slog.Info("post published", "post_id", p.ID, "platform", p.Platform, "test_mode", p.TestMode)
}

// publishWithRetry invokes the platform publisher with bounded exponential
// backoff. The circuit breaker spans all attempts to one platform.
func (s *PostScheduler) publishWithRetry(ctx context.Context, p *post.ScheduledPost) (*publisher.Result, error) {
	pub, err := publisher.New(p.Platform, s.pubConfig)
	if err != nil {
		return nil, fmt.Errorf("resolve publisher: %w", err)
	}

	req := publisher.Request{
		Platform:  p.Platform,
		Content:   p.Content,
		AccountID: p.AccountID,
		UserID:    p.UserID,
		TestMode:  p.TestMode,
	}
	if token, err := s.accountToken(ctx, p); err != nil {
		slog.Warn("account token unavailable", "post_id", p.ID, "error", err)
	} else {
		req.AccessToken = token
	}

	attempts := s.cfg.PublishRetries
	if attempts < 1 {
		attempts = 1
	}
	backoff := s.cfg.PublishBackoff

	var result *publisher.Result
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = s.breaker.Execute(func() error {
			r, err := pub.Publish(ctx, req)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
		if lastErr == nil {
			return result, nil
		}
		if errors.Is(lastErr, resilience.ErrCircuitOpen) || attempt == attempts {
			break
		}
		if err := s.sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("publish %s after %d attempts: %w", p.Platform, attempts, lastErr)
}

// accountToken fetches and decrypts the platform account token, when the post
// references an account and a key is configured.
func (s *PostScheduler) accountToken(ctx context.Context, p *post.ScheduledPost) (string, error) {
	if p.AccountID == "" || len(s.tokenKey) == 0 {
		return "", nil
	}
	acct, err := s.store.GetAccount(ctx, p.UserID, p.Platform)
	if err != nil {
		return "", err
	}
	if !acct.IsActive || len(acct.AccessToken) == 0 {
		return "", nil
	}
	token, err := account.Decrypt(acct.AccessToken, s.tokenKey)
	if err != nil {
		return "", fmt.Errorf("decrypt token: %w", err)
	}
	return string(token), nil
}

func (s *PostScheduler) markFailed(ctx context.Context, p *post.ScheduledPost, cause error) {
	if err := s.store.MarkPostFailed(ctx, p.ID, cause.Error()); err != nil {
		slog.Error("mark post failed", "post_id", p.ID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.PostsFailed.Add(ctx, 1)
	}
	s.publishEvent(ctx, event.Event{
		Type:      event.TypePostFailed,
		UserID:    p.UserID,
		PostID:    p.ID,
		RuleID:    p.RuleID,
		Platform:  p.Platform,
		Error:     cause.Error(),
		CreatedAt: s.now().UTC(),
	})
	slog.Warn("post failed", "post_id", p.ID, "platform", p.Platform, "error", cause)
}

func (s *PostScheduler) publishEvent(ctx context.Context, ev event.Event) {
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

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
