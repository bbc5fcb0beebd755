// Package agent defines the capability handler port: the contract every agent
// must satisfy so the workflow engine can execute tasks and propagate results
// uniformly.
package agent

import (
	"context"

	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/workflow"
)

// Handler executes tasks of one capability. Implementations must be safe for
// concurrent use: one registry snapshot is read by many executing tasks.
type Handler interface {
	// Execute runs the task and returns its named output fields. The engine
	// copies those fields into the context of every dependent task.
	Execute(ctx context.Context, task *workflow.Task) (workflow.Result, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, task *workflow.Task) (workflow.Result, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, task *workflow.Task) (workflow.Result, error) {
	return f(ctx, task)
}
