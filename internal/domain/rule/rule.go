// Package rule defines the AutoPostingRule domain entity and its recurrence
// schedule computation.
package rule

import "time"

// ScheduleType selects how next_execution_at is computed.
type ScheduleType string

const (
	ScheduleDaily  ScheduleType = "daily"
	ScheduleWeekly ScheduleType = "weekly"
	ScheduleCustom ScheduleType = "custom"
	ScheduleCron   ScheduleType = "cron"
)

// ScheduleConfig holds the per-type recurrence parameters. Only the fields
// relevant to the rule's ScheduleType are consulted.
type ScheduleConfig struct {
	// daily: times of day ("HH:MM") on the listed weekdays (0=Sunday).
	Times      []string `json:"times,omitempty" yaml:"times,omitempty"`
	DaysOfWeek []int    `json:"days_of_week,omitempty" yaml:"days_of_week,omitempty"`

	// weekly: one weekday at one time of day.
	DayOfWeek int    `json:"day_of_week,omitempty" yaml:"day_of_week,omitempty"`
	Time      string `json:"time,omitempty" yaml:"time,omitempty"`

	// custom: explicit timestamps; the rule deactivates when exhausted.
	Dates []time.Time `json:"dates,omitempty" yaml:"dates,omitempty"`

	// cron: standard 5-field expression.
	CronExpression string `json:"cron_expression,omitempty" yaml:"cron_expression,omitempty"`
}

// ContentConfig describes what the rule creates on each execution.
type ContentConfig struct {
	Brief        string         `json:"brief"`
	ContentTypes []string       `json:"content_types"`
	Params       map[string]any `json:"params,omitempty"`
	PostDelay    time.Duration  `json:"post_delay,omitempty"` // 0 = post immediately
	TestMode     bool           `json:"test_mode,omitempty"`
}

// AutoPostingRule is a persisted recurring content-creation rule. Claimed and
// advanced only by the rule scheduler; NextExecutionAt is recomputed on every
// execution attempt so a rule never fires twice for the same slot.
type AutoPostingRule struct {
	ID                  string         `json:"id"`
	UserID              string         `json:"user_id"`
	ScheduleType        ScheduleType   `json:"schedule_type"`
	ScheduleConfig      ScheduleConfig `json:"schedule_config"`
	ContentConfig       ContentConfig  `json:"content_config"`
	Platforms           []string       `json:"platforms"`
	IsActive            bool           `json:"is_active"`
	NextExecutionAt     time.Time      `json:"next_execution_at"`
	MaxPostsPerDay      int            `json:"max_posts_per_day,omitempty"`
	MaxPostsPerWeek     int            `json:"max_posts_per_week,omitempty"`
	TotalExecutions     int            `json:"total_executions"`
	SuccessfulRuns      int            `json:"successful_executions"`
	FailedRuns          int            `json:"failed_executions"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	LastError           string         `json:"last_error,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// CreateRequest holds the fields for creating a new auto-posting rule.
type CreateRequest struct {
	UserID          string         `json:"user_id"`
	ScheduleType    ScheduleType   `json:"schedule_type"`
	ScheduleConfig  ScheduleConfig `json:"schedule_config"`
	ContentConfig   ContentConfig  `json:"content_config"`
	Platforms       []string       `json:"platforms"`
	MaxPostsPerDay  int            `json:"max_posts_per_day,omitempty"`
	MaxPostsPerWeek int            `json:"max_posts_per_week,omitempty"`
}
