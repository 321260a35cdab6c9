// Package taskqueue runs long jobs per category: FIFO order, at most one running
// task per category, cooperative cancellation and status introspection.
package taskqueue

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Sentinel errors.
var (
	ErrTaskNotFound    = errors.New("taskqueue: task not found")
	ErrTaskFinished    = errors.New("taskqueue: task already finished")
	ErrNoRunningTask   = errors.New("taskqueue: no running task")
	ErrSchedulerClosed = errors.New("taskqueue: scheduler closed")
	ErrMissingCategory = errors.New("taskqueue: category id is required")
	ErrMissingTaskType = errors.New("taskqueue: task type is required")
)

// Task is a snapshot of one unit of work. Values returned by the Scheduler are
// copies; mutating them has no effect.
type Task struct {
	ID          string
	CategoryID  string
	Type        string
	Payload     any
	Status      Status
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Result      string
	Error       string

	// CancelRequested is set once Cancel was called on the running task.
	CancelRequested bool
}

// EventKind names a lifecycle transition.
type EventKind string

const (
	EventQueued    EventKind = "queued"
	EventStarted   EventKind = "started"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventCancelled EventKind = "cancelled"
)

// Event is delivered to Config.OnEvent in the order transitions happened.
type Event struct {
	Kind EventKind
	Task Task
	// Position is the 1-based place in the queue for EventQueued, 0 when the
	// task started immediately.
	Position int
}

// Report summarizes a category's queue.
type Report struct {
	CategoryID string
	Queued     int
	Running    int
	Completed  int
	Failed     int
	Cancelled  int
	// RunningTask is nil when nothing is running.
	RunningTask *Task
}
