package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/subscription"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/workflow"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Subscriptions ---

func (s *Store) ListActiveSubscriptions(ctx context.Context, userID string) ([]subscription.AgentSubscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, agent_id, status, COALESCE(expires_at, 'epoch'::timestamptz), usage_count, created_at
		 FROM agent_subscriptions
		 WHERE user_id = $1 AND status = 'active' AND (expires_at IS NULL OR expires_at > now())
		 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []subscription.AgentSubscription
	for rows.Next() {
		var sub subscription.AgentSubscription
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.AgentID, &sub.Status, &sub.ExpiresAt, &sub.UsageCount, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// --- Workflows ---

// CreateWorkflow persists the workflow row and all task rows in one
// transaction. IDs are assigned by the engine before the call.
func (s *Store) CreateWorkflow(ctx context.Context, w *workflow.Workflow) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	wfCtx, err := json.Marshal(w.Context)
	if err != nil {
		return fmt.Errorf("marshal workflow context: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO workflows (id, brief_id, user_id, context, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		w.ID, nullIfEmpty(w.BriefID), w.UserID, wfCtx, string(w.Status), w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}

	for i := range w.Tasks {
		t := &w.Tasks[i]
		taskCtx, err := json.Marshal(t.Context)
		if err != nil {
			return fmt.Errorf("marshal task context: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO workflow_tasks (id, workflow_id, name, capability, priority, context, depends_on, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			t.ID, t.WorkflowID, t.Name, t.Capability, t.Priority, taskCtx, pgTextArray(t.DependsOn), string(t.Status), t.CreatedAt, t.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert task %d: %w", i, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) UpdateWorkflowStatus(ctx context.Context, id string, status workflow.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE workflows SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	return execExpectOne(tag, err, "update workflow status %s", id)
}

func (s *Store) UpdateTask(ctx context.Context, t *workflow.Task) error {
	var resultJSON []byte
	if t.Result != nil {
		var err error
		resultJSON, err = json.Marshal(t.Result)
		if err != nil {
			return fmt.Errorf("marshal task result: %w", err)
		}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE workflow_tasks SET status = $2, result = $3, error = $4, updated_at = now() WHERE id = $1`,
		t.ID, string(t.Status), resultJSON, t.Error)
	return execExpectOne(tag, err, "update task %s", t.ID)
}

func (s *Store) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	var w workflow.Workflow
	var wfCtx []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, COALESCE(brief_id::text, ''), user_id, context, status, created_at, updated_at
		 FROM workflows WHERE id = $1`, id,
	).Scan(&w.ID, &w.BriefID, &w.UserID, &wfCtx, &w.Status, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get workflow %s", id)
	}
	if wfCtx != nil {
		if err := json.Unmarshal(wfCtx, &w.Context); err != nil {
			return nil, fmt.Errorf("unmarshal workflow context: %w", err)
		}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, workflow_id, name, capability, priority, context, depends_on, status, result, error, created_at, updated_at
		 FROM workflow_tasks WHERE workflow_id = $1 ORDER BY created_at ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("list workflow tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		w.Tasks = append(w.Tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &w, nil
}

func scanTask(row scannable) (workflow.Task, error) {
	var t workflow.Task
	var taskCtx, resultJSON []byte
	err := row.Scan(&t.ID, &t.WorkflowID, &t.Name, &t.Capability, &t.Priority, &taskCtx, &t.DependsOn,
		&t.Status, &resultJSON, &t.Error, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, fmt.Errorf("scan task: %w", err)
	}
	if taskCtx != nil {
		if err := json.Unmarshal(taskCtx, &t.Context); err != nil {
			return t, fmt.Errorf("unmarshal task context: %w", err)
		}
	}
	if resultJSON != nil {
		if err := json.Unmarshal(resultJSON, &t.Result); err != nil {
			return t, fmt.Errorf("unmarshal task result: %w", err)
		}
	}
	return t, nil
}
