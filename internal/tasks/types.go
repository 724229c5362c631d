// Package tasks implements the Scheduler: a tick loop that runs
// commands through the Core Orchestrator on a cron or interval cadence.
package tasks

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser supports both standard (5-field) and extended (6-field
// with seconds) cron expressions, plus the predefined descriptors
// (@hourly, @daily, ...).
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// TaskType distinguishes a one-shot task from a recurring one.
type TaskType string

const (
	TaskOnce      TaskType = "once"
	TaskRecurring TaskType = "recurring"
)

// TaskStatus tracks a task's lifecycle.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Task is a scheduled invocation of the orchestrator.
type Task struct {
	// ID is the unique identifier for the task.
	ID string `json:"id"`

	// Name is a human-readable label.
	Name string `json:"name"`

	// Command is the request text handed to the orchestrator when the
	// task runs.
	Command string `json:"command"`

	// Type is "once" or "recurring".
	Type TaskType `json:"type"`

	// CronExpression schedules a recurring task. Either this or
	// IntervalMinutes must be set for TaskRecurring.
	CronExpression string `json:"cron_expression,omitempty"`

	// IntervalMinutes schedules a recurring task at a fixed cadence,
	// as an alternative to CronExpression.
	IntervalMinutes int `json:"interval_minutes,omitempty"`

	// NextRunAt is when the task next becomes due.
	NextRunAt time.Time `json:"next_run_at"`

	// LastRunAt is when the task last ran, if ever.
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	// Status is the task's current lifecycle state.
	Status TaskStatus `json:"status"`

	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the task was last modified.
	UpdatedAt time.Time `json:"updated_at"`

	// Metadata holds arbitrary task metadata.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Due reports whether the task is pending and its NextRunAt has
// arrived, relative to now.
func (t *Task) Due(now time.Time) bool {
	return t.Status == TaskStatusPending && !t.NextRunAt.After(now)
}

// computeNextRun resolves a recurring task's next run time after the
// given instant, from its CronExpression or, failing that, its
// IntervalMinutes. Returns an error if neither is usable — callers
// treat that as a reason to mark the task failed rather than retry.
func computeNextRun(t *Task, after time.Time) (time.Time, error) {
	expr := strings.TrimSpace(t.CronExpression)
	if expr != "" {
		sched, err := cronParser.Parse(expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron expression %q: %w", expr, err)
		}
		return sched.Next(after), nil
	}
	if t.IntervalMinutes > 0 {
		return after.Add(time.Duration(t.IntervalMinutes) * time.Minute), nil
	}
	return time.Time{}, fmt.Errorf("task %q has no cron expression or interval", t.ID)
}
