package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler executes one task. It must return promptly once ctx is cancelled;
// returning ctx.Err() marks the task cancelled, any other error marks it failed.
type Handler func(ctx context.Context, task Task) (string, error)

// Config configures a Scheduler.
type Config struct {
	// Handler runs every task. Required.
	Handler Handler

	// OnEvent receives lifecycle transitions on a single goroutine, in order.
	OnEvent func(Event)

	// Logger for queue activity.
	Logger *slog.Logger

	// NewID and Now are overridable for tests.
	NewID func() string
	Now   func() time.Time
}

type categoryQueue struct {
	queued  []*Task
	running *Task
	cancel  context.CancelFunc
}

// Scheduler owns every category's queue.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	categories map[string]*categoryQueue
	tasks      map[string]*Task
	closed     bool
	jobs       sync.WaitGroup

	// Events are appended under mu and delivered by dispatch so callbacks
	// observe transitions in the order they happened.
	pending []Event
	wake    chan struct{}
	done    chan struct{}
}

// New creates a scheduler and starts its event dispatcher.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Handler == nil {
		return nil, errors.New("taskqueue: handler is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.NewString()[:8] }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Scheduler{
		cfg:        cfg,
		logger:     cfg.Logger.With("component", "taskqueue"),
		categories: make(map[string]*categoryQueue),
		tasks:      make(map[string]*Task),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	go s.dispatch()
	return s, nil
}

// Enqueue appends a task to the category's FIFO. If nothing is running for the
// category it starts immediately and the returned position is 0; otherwise the
// position is the 1-based place among queued tasks.
func (s *Scheduler) Enqueue(categoryID, taskType string, payload any) (Task, int, error) {
	if categoryID == "" {
		return Task{}, 0, ErrMissingCategory
	}
	if taskType == "" {
		return Task{}, 0, ErrMissingTaskType
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Task{}, 0, ErrSchedulerClosed
	}

	t := &Task{
		ID:         s.cfg.NewID(),
		CategoryID: categoryID,
		Type:       taskType,
		Payload:    payload,
		Status:     StatusQueued,
		CreatedAt:  s.cfg.Now(),
	}
	s.tasks[t.ID] = t

	cq := s.queueLocked(categoryID)
	cq.queued = append(cq.queued, t)
	position := len(cq.queued)
	if cq.running == nil {
		position = 0
	}
	s.emitLocked(Event{Kind: EventQueued, Task: *t, Position: position})

	s.logger.Debug("task queued",
		"task_id", t.ID,
		"category_id", categoryID,
		"type", taskType,
		"position", position,
	)

	s.promoteLocked(categoryID)
	return *s.tasks[t.ID], position, nil
}

// Cancel cancels a task. A queued task is removed and marked cancelled at once.
// A running task only receives a cancellation signal; its handler decides the
// final status. An empty categoryID matches any category.
func (s *Scheduler) Cancel(taskID, categoryID string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok || (categoryID != "" && t.CategoryID != categoryID) {
		return Task{}, ErrTaskNotFound
	}

	switch t.Status {
	case StatusQueued:
		cq := s.queueLocked(t.CategoryID)
		cq.queued = removeTask(cq.queued, t.ID)
		s.finishLocked(t, StatusCancelled, "", "")
		return *t, nil
	case StatusRunning:
		s.signalLocked(t)
		return *t, nil
	default:
		return *t, ErrTaskFinished
	}
}

// CancelRunning signals the running task of a category.
func (s *Scheduler) CancelRunning(categoryID string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cq, ok := s.categories[categoryID]
	if !ok || cq.running == nil {
		return Task{}, ErrNoRunningTask
	}
	s.signalLocked(cq.running)
	return *cq.running, nil
}

// Clear cancels every queued task of the category and leaves the running
// task alone. It returns the number of tasks cancelled.
func (s *Scheduler) Clear(categoryID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cq, ok := s.categories[categoryID]
	if !ok {
		return 0
	}
	queued := cq.queued
	cq.queued = nil
	for _, t := range queued {
		s.finishLocked(t, StatusCancelled, "", "")
	}
	return len(queued)
}

// Status returns per-state counts and the running task for a category.
func (s *Scheduler) Status(categoryID string) Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := Report{CategoryID: categoryID}
	for _, t := range s.tasks {
		if t.CategoryID != categoryID {
			continue
		}
		switch t.Status {
		case StatusQueued:
			r.Queued++
		case StatusRunning:
			r.Running++
		case StatusCompleted:
			r.Completed++
		case StatusFailed:
			r.Failed++
		case StatusCancelled:
			r.Cancelled++
		}
	}
	if cq, ok := s.categories[categoryID]; ok && cq.running != nil {
		running := *cq.running
		r.RunningTask = &running
	}
	return r
}

// Get returns a snapshot of a task.
func (s *Scheduler) Get(taskID string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Pending returns the queued tasks of a category in run order.
func (s *Scheduler) Pending(categoryID string) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	cq, ok := s.categories[categoryID]
	if !ok {
		return nil
	}
	out := make([]Task, len(cq.queued))
	for i, t := range cq.queued {
		out[i] = *t
	}
	return out
}

// Prune forgets terminal tasks that finished before now minus retention.
func (s *Scheduler) Prune(retention time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.cfg.Now().Add(-retention)
	n := 0
	for id, t := range s.tasks {
		if t.Status.Terminal() && t.CompletedAt.Before(cutoff) {
			delete(s.tasks, id)
			n++
		}
	}
	return n
}

// Close stops accepting tasks, signals every running task and waits for the
// handlers to return or ctx to expire. Queued tasks are cancelled.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, cq := range s.categories {
		queued := cq.queued
		cq.queued = nil
		for _, t := range queued {
			s.finishLocked(t, StatusCancelled, "", "")
		}
		if cq.running != nil {
			s.signalLocked(cq.running)
		}
	}
	s.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(finished)
	}()

	var err error
	select {
	case <-finished:
	case <-ctx.Done():
		err = ctx.Err()
	}
	close(s.done)
	return err
}

func (s *Scheduler) queueLocked(categoryID string) *categoryQueue {
	cq, ok := s.categories[categoryID]
	if !ok {
		cq = &categoryQueue{}
		s.categories[categoryID] = cq
	}
	return cq
}

func (s *Scheduler) signalLocked(t *Task) {
	t.CancelRequested = true
	if cq, ok := s.categories[t.CategoryID]; ok && cq.running == t && cq.cancel != nil {
		cq.cancel()
	}
	s.logger.Debug("task cancel requested", "task_id", t.ID, "category_id", t.CategoryID)
}

// promoteLocked starts the head of the category queue if nothing is running.
func (s *Scheduler) promoteLocked(categoryID string) {
	cq := s.queueLocked(categoryID)
	if cq.running != nil || len(cq.queued) == 0 || s.closed {
		return
	}

	t := cq.queued[0]
	cq.queued = cq.queued[1:]
	t.Status = StatusRunning
	t.StartedAt = s.cfg.Now()

	ctx, cancel := context.WithCancel(context.Background())
	cq.running = t
	cq.cancel = cancel
	s.emitLocked(Event{Kind: EventStarted, Task: *t})

	snapshot := *t
	s.jobs.Add(1)
	go s.run(ctx, cancel, t, snapshot)
}

func (s *Scheduler) run(ctx context.Context, cancel context.CancelFunc, t *Task, snapshot Task) {
	defer s.jobs.Done()
	defer cancel()

	result, err := s.invoke(ctx, snapshot)

	s.mu.Lock()
	defer s.mu.Unlock()

	cq := s.queueLocked(t.CategoryID)
	cq.running = nil
	cq.cancel = nil

	switch {
	case err == nil:
		s.finishLocked(t, StatusCompleted, result, "")
	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		s.finishLocked(t, StatusCancelled, result, err.Error())
	default:
		s.finishLocked(t, StatusFailed, result, err.Error())
	}

	s.promoteLocked(t.CategoryID)
}

func (s *Scheduler) invoke(ctx context.Context, t Task) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("taskqueue: handler panic: %v", r)
		}
	}()
	return s.cfg.Handler(ctx, t)
}

func (s *Scheduler) finishLocked(t *Task, status Status, result, errMsg string) {
	t.Status = status
	t.Result = result
	t.Error = errMsg
	t.CompletedAt = s.cfg.Now()

	kind := EventCompleted
	switch status {
	case StatusFailed:
		kind = EventFailed
	case StatusCancelled:
		kind = EventCancelled
	}
	s.emitLocked(Event{Kind: kind, Task: *t})

	s.logger.Debug("task finished",
		"task_id", t.ID,
		"category_id", t.CategoryID,
		"status", status,
	)
}

func (s *Scheduler) emitLocked(ev Event) {
	if s.cfg.OnEvent == nil {
		return
	}
	s.pending = append(s.pending, ev)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dispatch() {
	for {
		select {
		case <-s.wake:
		case <-s.done:
			s.drain()
			return
		}
		s.drain()
	}
}

func (s *Scheduler) drain() {
	for {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			s.cfg.OnEvent(ev)
		}
	}
}

func removeTask(tasks []*Task, id string) []*Task {
	out := tasks[:0]
	for _, t := range tasks {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}
