package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/msingatullin/ccontentcloud-sub000/internal/domain"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/rule"
)

const ruleColumns = `id, user_id, schedule_type, schedule_config, content_config, platforms, is_active,
	next_execution_at, max_posts_per_day, max_posts_per_week,
	total_executions, successful_executions, failed_executions, consecutive_failures,
	last_error, created_at, updated_at`

func (s *Store) CreateRule(ctx context.Context, req rule.CreateRequest) (*rule.AutoPostingRule, error) {
	scheduleJSON, err := json.Marshal(req.ScheduleConfig)
	if err != nil {
		return nil, fmt.Errorf("marshal schedule_config: %w", err)
	}
	contentJSON, err := json.Marshal(req.ContentConfig)
	if err != nil {
		return nil, fmt.Errorf("marshal content_config: %w", err)
	}

	// Seed next_execution_at from the schedule so the rule is immediately
	// pollable without a warm-up execution.
	seed := rule.AutoPostingRule{ScheduleType: req.ScheduleType, ScheduleConfig: req.ScheduleConfig}
	next, err := seed.NextExecution(time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("compute first execution: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO auto_posting_rules (user_id, schedule_type, schedule_config, content_config, platforms, next_execution_at, max_posts_per_day, max_posts_per_week)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+ruleColumns,
		req.UserID, string(req.ScheduleType), scheduleJSON, contentJSON, pgTextArray(req.Platforms),
		next, req.MaxPostsPerDay, req.MaxPostsPerWeek)

	r, err := scanRule(row)
	if err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}
	return &r, nil
}

func (s *Store) GetRule(ctx context.Context, id string) (*rule.AutoPostingRule, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM auto_posting_rules WHERE id = $1`, id)

	r, err := scanRule(row)
	if err != nil {
		return nil, notFoundWrap(err, "get rule %s", id)
	}
	return &r, nil
}

func (s *Store) ListRulesByUser(ctx context.Context, userID string) ([]rule.AutoPostingRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ruleColumns+` FROM auto_posting_rules WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list rules by user: %w", err)
	}
	defer rows.Close()

	var rules []rule.AutoPostingRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *Store) ListDueRules(ctx context.Context, now time.Time) ([]rule.AutoPostingRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ruleColumns+` FROM auto_posting_rules
		 WHERE is_active AND next_execution_at <= $1
		 ORDER BY next_execution_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("list due rules: %w", err)
	}
	defer rows.Close()

	var rules []rule.AutoPostingRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// ClaimRule advances next_execution_at from oldNext to newNext. The predicate
// on the old value makes the update a compare-and-swap: zero affected rows
// means another worker advanced the rule first.
func (s *Store) ClaimRule(ctx context.Context, id string, oldNext, newNext time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE auto_posting_rules SET next_execution_at = $3, updated_at = now()
		 WHERE id = $1 AND is_active AND next_execution_at = $2`, id, oldNext, newNext)
	if err != nil {
		return fmt.Errorf("claim rule %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("claim rule %s: %w", id, domain.ErrClaimLost)
	}
	return nil
}

func (s *Store) RecordRuleExecution(ctx context.Context, id string, success bool, errMsg string) error {
	var tagSQL string
	if success {
		tagSQL = `UPDATE auto_posting_rules SET
			total_executions = total_executions + 1,
			successful_executions = successful_executions + 1,
			consecutive_failures = 0,
			last_error = '',
			updated_at = now()
		 WHERE id = $1`
	} else {
		tagSQL = `UPDATE auto_posting_rules SET
			total_executions = total_executions + 1,
			failed_executions = failed_executions + 1,
			consecutive_failures = consecutive_failures + 1,
			last_error = $2,
			updated_at = now()
		 WHERE id = $1`
	}

	args := []any{id}
	if !success {
		args = append(args, errMsg)
	}
	tag, err := s.pool.Exec(ctx, tagSQL, args...)
	return execExpectOne(tag, err, "record rule execution %s", id)
}

func (s *Store) SetRuleActive(ctx context.Context, id string, active bool, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE auto_posting_rules SET is_active = $2, last_error = $3, updated_at = now() WHERE id = $1`,
		id, active, reason)
	return execExpectOne(tag, err, "set rule active %s", id)
}

func scanRule(row scannable) (rule.AutoPostingRule, error) {
	var r rule.AutoPostingRule
	var scheduleJSON, contentJSON []byte
	err := row.Scan(&r.ID, &r.UserID, &r.ScheduleType, &scheduleJSON, &contentJSON, &r.Platforms, &r.IsActive,
		&r.NextExecutionAt, &r.MaxPostsPerDay, &r.MaxPostsPerWeek,
		&r.TotalExecutions, &r.SuccessfulRuns, &r.FailedRuns, &r.ConsecutiveFailures,
		&r.LastError, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return r, fmt.Errorf("scan rule: %w", err)
	}
	if scheduleJSON != nil {
		if err := json.Unmarshal(scheduleJSON, &r.ScheduleConfig); err != nil {
			return r, fmt.Errorf("unmarshal schedule_config: %w", err)
		}
	}
	if contentJSON != nil {
		if err := json.Unmarshal(contentJSON, &r.ContentConfig); err != nil {
			return r, fmt.Errorf("unmarshal content_config: %w", err)
		}
	}
	return r, nil
}
