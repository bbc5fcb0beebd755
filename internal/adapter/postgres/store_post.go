package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/msingatullin/ccontentcloud-sub000/internal/domain"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/post"
)

const postColumns = `id, user_id, COALESCE(content_id::text, ''), COALESCE(rule_id::text, ''), platform,
	COALESCE(account_id::text, ''), content, test_mode, scheduled_time, status,
	platform_post_id, last_error, published_at, created_at, updated_at`

func (s *Store) CreatePost(ctx context.Context, req post.CreateRequest) (*post.ScheduledPost, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO scheduled_posts (user_id, content_id, rule_id, platform, account_id, content, test_mode, scheduled_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+postColumns,
		req.UserID, nullIfEmpty(req.ContentID), nullIfEmpty(req.RuleID), req.Platform,
		nullIfEmpty(req.AccountID), req.Content, req.TestMode, req.ScheduledTime)

	p, err := scanPost(row)
	if err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	return &p, nil
}

func (s *Store) GetPost(ctx context.Context, id string) (*post.ScheduledPost, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+postColumns+` FROM scheduled_posts WHERE id = $1`, id)

	p, err := scanPost(row)
	if err != nil {
		return nil, notFoundWrap(err, "get post %s", id)
	}
	return &p, nil
}

func (s *Store) ListPostsByUser(ctx context.Context, userID string) ([]post.ScheduledPost, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+postColumns+` FROM scheduled_posts WHERE user_id = $1 ORDER BY scheduled_time DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list posts by user: %w", err)
	}
	defer rows.Close()

	var posts []post.ScheduledPost
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (s *Store) ListDuePosts(ctx context.Context, now time.Time) ([]post.ScheduledPost, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+postColumns+` FROM scheduled_posts
		 WHERE status = 'scheduled' AND scheduled_time <= $1
		 ORDER BY scheduled_time ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("list due posts: %w", err)
	}
	defer rows.Close()

	var posts []post.ScheduledPost
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// ClaimPost transitions scheduled → publishing. The status predicate makes the
// update a compare-and-swap: zero affected rows means another worker won.
func (s *Store) ClaimPost(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scheduled_posts SET status = 'publishing', updated_at = now()
		 WHERE id = $1 AND status = 'scheduled'`, id)
	if err != nil {
		return fmt.Errorf("claim post %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("claim post %s: %w", id, domain.ErrClaimLost)
	}
	return nil
}

func (s *Store) MarkPostPublished(ctx context.Context, id, platformPostID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scheduled_posts SET status = 'published', platform_post_id = $2, published_at = $3, last_error = '', updated_at = now()
		 WHERE id = $1 AND status = 'publishing'`, id, platformPostID, at)
	return execExpectOne(tag, err, "mark post published %s", id)
}

func (s *Store) MarkPostFailed(ctx context.Context, id, lastError string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scheduled_posts SET status = 'failed', last_error = $2, updated_at = now()
		 WHERE id = $1 AND status = 'publishing'`, id, lastError)
	return execExpectOne(tag, err, "mark post failed %s", id)
}

// CancelPost cancels a post that has not been claimed yet. A post already
// picked up by the scheduler cannot be cancelled.
func (s *Store) CancelPost(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scheduled_posts SET status = 'cancelled', updated_at = now()
		 WHERE id = $1 AND status = 'scheduled'`, id)
	if err != nil {
		return fmt.Errorf("cancel post %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cancel post %s: %w", id, domain.ErrConflict)
	}
	return nil
}

func (s *Store) CountPostsByRuleSince(ctx context.Context, ruleID string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM scheduled_posts
		 WHERE rule_id = $1 AND created_at >= $2 AND status != 'cancelled'`, ruleID, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count posts by rule %s: %w", ruleID, err)
	}
	return n, nil
}

func (s *Store) IncrementContentPostCount(ctx context.Context, contentID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO content_post_counts (content_id, post_count) VALUES ($1, 1)
		 ON CONFLICT (content_id) DO UPDATE SET post_count = content_post_counts.post_count + 1, updated_at = now()`,
		contentID)
	if err != nil {
		return fmt.Errorf("increment content post count %s: %w", contentID, err)
	}
	return nil
}

func scanPost(row scannable) (post.ScheduledPost, error) {
	var p post.ScheduledPost
	err := row.Scan(&p.ID, &p.UserID, &p.ContentID, &p.RuleID, &p.Platform, &p.AccountID,
		&p.Content, &p.TestMode, &p.ScheduledTime, &p.Status,
		&p.PlatformPostID, &p.LastError, &p.PublishedAt, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}
