// Package workflow defines the Workflow and Task domain entities: one content
// request's task graph and its execution state.
package workflow

import "time"

// Status represents the lifecycle state of a workflow.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// TaskStatus represents the lifecycle state of an individual task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusSkipped   TaskStatus = "skipped"
)

// IsTerminal returns true if the task is in a final state.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusSkipped:
		return true
	}
	return false
}

// Result holds the named output fields a capability handler produced.
type Result map[string]any

// Task is one unit of work within a workflow, bound to one capability.
type Task struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Name       string         `json:"name"`
	Capability string         `json:"capability"`
	Priority   int            `json:"priority"`
	Context    map[string]any `json:"context"`
	DependsOn  []string       `json:"depends_on,omitempty"`
	Status     TaskStatus     `json:"status"`
	Result     Result         `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Workflow represents one content request: a task graph plus shared request
// context. Each Workflow instance is exclusively owned by the execution call
// that created it.
type Workflow struct {
	ID        string         `json:"id"`
	BriefID   string         `json:"brief_id"`
	UserID    string         `json:"user_id"`
	Tasks     []Task         `json:"tasks"`
	Context   map[string]any `json:"context"`
	Status    Status         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// StatusReport is the caller-facing view of a workflow's progress.
type StatusReport struct {
	WorkflowID     string            `json:"workflow_id"`
	Status         Status            `json:"status"`
	CompletedTasks int               `json:"completed_tasks"`
	FailedTasks    int               `json:"failed_tasks"`
	TotalTasks     int               `json:"total_tasks"`
	Results        map[string]Result `json:"results"`
}

// Report summarizes the workflow's current state for status polling.
func (w *Workflow) Report() StatusReport {
	r := StatusReport{
		WorkflowID: w.ID,
		Status:     w.Status,
		TotalTasks: len(w.Tasks),
		Results:    make(map[string]Result, len(w.Tasks)),
	}
	for i := range w.Tasks {
		t := &w.Tasks[i]
		switch t.Status {
		case TaskStatusSucceeded:
			r.CompletedTasks++
		case TaskStatusFailed:
			r.FailedTasks++
		}
		if t.Result != nil {
			r.Results[t.ID] = t.Result
		}
	}
	return r
}
