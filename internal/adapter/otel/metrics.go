package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "contentcloud"

// Metrics holds all content cloud metric instruments.
type Metrics struct {
	WorkflowsExecuted metric.Int64Counter
	WorkflowsFailed   metric.Int64Counter
	TasksFailed       metric.Int64Counter
	PostsPublished    metric.Int64Counter
	PostsFailed       metric.Int64Counter
	RuleExecutions    metric.Int64Counter
	WorkflowDuration  metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.WorkflowsExecuted, err = meter.Int64Counter("contentcloud.workflows.executed",
		metric.WithDescription("Number of workflows executed"))
	if err != nil {
		return nil, err
	}

	m.WorkflowsFailed, err = meter.Int64Counter("contentcloud.workflows.failed",
		metric.WithDescription("Number of workflows that finished failed"))
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("contentcloud.tasks.failed",
		metric.WithDescription("Number of tasks that failed"))
	if err != nil {
		return nil, err
	}

	m.PostsPublished, err = meter.Int64Counter("contentcloud.posts.published",
		metric.WithDescription("Number of scheduled posts published"))
	if err != nil {
		return nil, err
	}

	m.PostsFailed, err = meter.Int64Counter("contentcloud.posts.failed",
		metric.WithDescription("Number of scheduled posts that failed"))
	if err != nil {
		return nil, err
	}

	m.RuleExecutions, err = meter.Int64Counter("contentcloud.rules.executions",
		metric.WithDescription("Number of auto-posting rule executions"))
	if err != nil {
		return nil, err
	}

	m.WorkflowDuration, err = meter.Float64Histogram("contentcloud.workflow.duration_seconds",
		metric.WithDescription("Workflow execution duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
