// MIT License
//
// Copyright (c) 2025 Mike Lane
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package scheduler

import (
	"time"

	"github.com/robfig/cron"

	"github.com/mikelane/nightshift/internal/fault"
)

// OperationType identifies what a task does when it runs.
type OperationType string

const (
	OpActivate   OperationType = "activate"
	OpDeactivate OperationType = "deactivate"
	OpCommand    OperationType = "command"
)

// Status is a task's lifecycle state. Pending tasks with a due nextRunAt
// are picked up by the polling loop; running is set only by the worker
// that holds the task's run lock.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func validStatus(s Status) bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func validOperation(op OperationType) bool {
	switch op {
	case OpActivate, OpDeactivate, OpCommand:
		return true
	}
	return false
}

// Task is a unit of recurring or one-shot work. An empty CronExpression
// makes the task one-shot: it runs once at NextRunAt and ends in a
// terminal state.
type Task struct {
	ID             string        `json:"id"`
	Title          string        `json:"title"`
	OperationType  OperationType `json:"operationType"`
	Namespace      string        `json:"namespace"`
	CostCenter     string        `json:"costCenter"`
	Command        string        `json:"command,omitempty"`
	CronExpression string        `json:"cronExpression,omitempty"`
	Status         Status        `json:"status"`
	NextRunAt      time.Time     `json:"nextRunAt"`
	LastRunAt      time.Time     `json:"lastRunAt,omitempty"`
	RunCount       int           `json:"runCount"`
	SuccessCount   int           `json:"successCount"`
	ErrorCount     int           `json:"errorCount"`
	CreatedBy      string        `json:"createdBy"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// Recurring reports whether the task reschedules itself after a run.
func (t *Task) Recurring() bool { return t.CronExpression != "" }

// Validate checks the fields a caller must supply. It does not check
// authorization; the scheduler does that on Add.
func (t *Task) Validate() error {
	if t.Title == "" {
		return fault.New(fault.CodeValidation, "task title is required")
	}
	if !validOperation(t.OperationType) {
		return fault.New(fault.CodeValidation, "unknown operation type %q", t.OperationType)
	}
	if t.Namespace == "" {
		return fault.New(fault.CodeValidation, "task namespace is required")
	}
	if t.CostCenter == "" {
		return fault.New(fault.CodeValidation, "task cost center is required")
	}
	if t.OperationType == OpCommand && t.Command == "" {
		return fault.New(fault.CodeValidation, "command tasks need a command")
	}
	if t.CronExpression != "" {
		if _, err := cron.ParseStandard(t.CronExpression); err != nil {
			return fault.Wrap(fault.CodeValidation, err, "invalid cron expression %q", t.CronExpression)
		}
	}
	return nil
}

// validateLoaded is the stricter check applied to snapshot records.
func (t *Task) validateLoaded() error {
	if t.ID == "" {
		return fault.New(fault.CodeValidation, "task has no id")
	}
	if !validStatus(t.Status) {
		return fault.New(fault.CodeValidation, "task %s has invalid status %q", t.ID, t.Status)
	}
	return t.Validate()
}

// nextAfter advances a cron schedule from the task's original scheduled
// time until it lands after now. Recomputing from the scheduled time
// rather than the completion time keeps the cadence from drifting when a
// run starts late.
func nextAfter(expr string, scheduled, now time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fault.Wrap(fault.CodeValidation, err, "invalid cron expression %q", expr)
	}
	next := sched.Next(scheduled)
	for !next.After(now) {
		next = sched.Next(next)
	}
	return next, nil
}

// HistoryRecord summarizes one finished run.
type HistoryRecord struct {
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Attempts  int           `json:"attempts"`
	Output    string        `json:"output,omitempty"`
	ErrorCode fault.Code    `json:"errorCode,omitempty"`
	ErrorMsg  string        `json:"errorMessage,omitempty"`
}

// Stats is the per-task execution summary exposed through the API.
type Stats struct {
	Task    Task            `json:"task"`
	Running bool            `json:"running"`
	History []HistoryRecord `json:"history"`
}
