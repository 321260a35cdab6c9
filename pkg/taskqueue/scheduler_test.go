package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gate lets a test release running tasks one at a time.
type gate struct {
	mu      sync.Mutex
	release map[string]chan error
	started chan string
	order   []string
	maxLive int
	live    int
}

func newGate() *gate {
	return &gate{
		release: make(map[string]chan error),
		started: make(chan string, 64),
	}
}

func (g *gate) ch(id string) chan error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.release[id]
	if !ok {
		c = make(chan error, 1)
		g.release[id] = c
	}
	return c
}

func (g *gate) handler(ctx context.Context, t Task) (string, error) {
	g.mu.Lock()
	g.live++
	if g.live > g.maxLive {
		g.maxLive = g.live
	}
	g.order = append(g.order, t.ID)
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.live--
		g.mu.Unlock()
	}()

	g.started <- t.ID
	select {
	case err := <-g.ch(t.ID):
		return "done " + t.ID, err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *gate) waitStarted(t *testing.T, want string) {
	t.Helper()
	select {
	case id := <-g.started:
		require.Equal(t, want, id)
	case <-time.After(2 * time.Second):
		t.Fatalf("task %s never started", want)
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) on(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) kinds(taskID string) []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventKind
	for _, ev := range r.events {
		if ev.Task.ID == taskID {
			out = append(out, ev.Kind)
		}
	}
	return out
}

func newTestScheduler(t *testing.T, g *gate, rec *recorder) *Scheduler {
	t.Helper()
	n := 0
	var idMu sync.Mutex
	cfg := Config{
		Handler: g.handler,
		NewID: func() string {
			idMu.Lock()
			defer idMu.Unlock()
			n++
			return fmt.Sprintf("t%d", n)
		},
	}
	if rec != nil {
		cfg.OnEvent = rec.on
	}
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

func waitStatus(t *testing.T, s *Scheduler, id string, want Status) Task {
	t.Helper()
	var task Task
	require.Eventually(t, func() bool {
		var ok bool
		task, ok = s.Get(id)
		return ok && task.Status == want
	}, 2*time.Second, 5*time.Millisecond, "task %s never reached %s", id, want)
	return task
}

func TestEnqueueStartsImmediately(t *testing.T) {
	g := newGate()
	s := newTestScheduler(t, g, nil)

	task, pos, err := s.Enqueue("X", "coding_execute", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, pos)
	assert.Equal(t, StatusRunning, task.Status)
	g.waitStarted(t, task.ID)

	g.ch(task.ID) <- nil
	done := waitStatus(t, s, task.ID, StatusCompleted)
	assert.Equal(t, "done "+task.ID, done.Result)
	assert.False(t, done.StartedAt.IsZero())
	assert.False(t, done.CompletedAt.IsZero())
}

func TestFIFOAndExclusivity(t *testing.T) {
	g := newGate()
	s := newTestScheduler(t, g, nil)

	var ids []string
	for i := 0; i < 4; i++ {
		task, pos, err := s.Enqueue("X", "job", i)
		require.NoError(t, err)
		assert.Equal(t, i, pos)
		ids = append(ids, task.ID)
	}

	for _, id := range ids {
		g.waitStarted(t, id)
		report := s.Status("X")
		require.NotNil(t, report.RunningTask)
		assert.Equal(t, id, report.RunningTask.ID)
		assert.Equal(t, 1, report.Running)
		g.ch(id) <- nil
		waitStatus(t, s, id, StatusCompleted)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.Equal(t, ids, g.order)
	assert.Equal(t, 1, g.maxLive)
}

func TestCategoriesRunIndependently(t *testing.T) {
	g := newGate()
	s := newTestScheduler(t, g, nil)

	a, _, _ := s.Enqueue("A", "job", nil)
	g.waitStarted(t, a.ID)
	b, pos, _ := s.Enqueue("B", "job", nil)
	assert.Equal(t, 0, pos)
	g.waitStarted(t, b.ID)

	g.ch(a.ID) <- nil
	g.ch(b.ID) <- nil
	waitStatus(t, s, a.ID, StatusCompleted)
	waitStatus(t, s, b.ID, StatusCompleted)
}

func TestCancelQueuedDoesNotPromote(t *testing.T) {
	g := newGate()
	rec := &recorder{}
	s := newTestScheduler(t, g, rec)

	t1, _, _ := s.Enqueue("X", "job", nil)
	g.waitStarted(t, t1.ID)
	t2, pos, _ := s.Enqueue("X", "job", nil)
	assert.Equal(t, 1, pos)

	cancelled, err := s.Cancel(t2.ID, "X")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	running, _ := s.Get(t1.ID)
	assert.Equal(t, StatusRunning, running.Status)
	assert.Empty(t, s.Pending("X"))

	report := s.Status("X")
	assert.Equal(t, 1, report.Running)
	assert.Equal(t, 1, report.Cancelled)
	assert.Equal(t, 0, report.Queued)

	// A cancelled task never transitions again.
	_, err = s.Cancel(t2.ID, "X")
	assert.ErrorIs(t, err, ErrTaskFinished)

	g.ch(t1.ID) <- nil
	waitStatus(t, s, t1.ID, StatusCompleted)
	after, _ := s.Get(t2.ID)
	assert.Equal(t, StatusCancelled, after.Status)

	require.Eventually(t, func() bool {
		return len(rec.kinds(t2.ID)) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []EventKind{EventQueued, EventCancelled}, rec.kinds(t2.ID))
}

func TestCancelRunningIsCooperative(t *testing.T) {
	g := newGate()
	s := newTestScheduler(t, g, nil)

	t1, _, _ := s.Enqueue("X", "job", nil)
	g.waitStarted(t, t1.ID)
	t2, _, _ := s.Enqueue("X", "job", nil)

	signalled, err := s.Cancel(t1.ID, "X")
	require.NoError(t, err)
	assert.True(t, signalled.CancelRequested)

	waitStatus(t, s, t1.ID, StatusCancelled)
	// Promotion follows any terminal transition.
	g.waitStarted(t, t2.ID)
	waitStatus(t, s, t2.ID, StatusRunning)
	g.ch(t2.ID) <- nil
	waitStatus(t, s, t2.ID, StatusCompleted)
}

func TestCancelRunningIgnoredByHandlerCompletes(t *testing.T) {
	release := make(chan struct{})
	s, err := New(Config{
		Handler: func(ctx context.Context, task Task) (string, error) {
			<-release
			return "finished anyway", nil
		},
	})
	require.NoError(t, err)
	defer s.Close(context.Background())

	task, _, _ := s.Enqueue("X", "job", nil)
	_, err = s.CancelRunning("X")
	require.NoError(t, err)
	close(release)

	done := waitStatus(t, s, task.ID, StatusCompleted)
	assert.True(t, done.CancelRequested)
}

func TestHandlerFailureAndPanic(t *testing.T) {
	s, err := New(Config{
		Handler: func(ctx context.Context, task Task) (string, error) {
			if task.Payload == "panic" {
				panic("kaboom")
			}
			return "", errors.New("provider down")
		},
	})
	require.NoError(t, err)
	defer s.Close(context.Background())

	t1, _, _ := s.Enqueue("X", "job", "fail")
	t2, _, _ := s.Enqueue("X", "job", "panic")

	failed := waitStatus(t, s, t1.ID, StatusFailed)
	assert.Equal(t, "provider down", failed.Error)
	panicked := waitStatus(t, s, t2.ID, StatusFailed)
	assert.Contains(t, panicked.Error, "kaboom")
}

func TestClearLeavesRunningTask(t *testing.T) {
	g := newGate()
	s := newTestScheduler(t, g, nil)

	t1, _, _ := s.Enqueue("X", "job", nil)
	g.waitStarted(t, t1.ID)
	s.Enqueue("X", "job", nil)
	s.Enqueue("X", "job", nil)

	assert.Equal(t, 2, s.Clear("X"))
	assert.Equal(t, 0, s.Clear("unknown"))

	report := s.Status("X")
	assert.Equal(t, 2, report.Cancelled)
	assert.Equal(t, 1, report.Running)
	assert.Equal(t, t1.ID, report.RunningTask.ID)

	g.ch(t1.ID) <- nil
	waitStatus(t, s, t1.ID, StatusCompleted)
	assert.Nil(t, s.Status("X").RunningTask)
}

func TestCancelErrors(t *testing.T) {
	g := newGate()
	s := newTestScheduler(t, g, nil)

	_, err := s.Cancel("nope", "")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	t1, _, _ := s.Enqueue("X", "job", nil)
	g.waitStarted(t, t1.ID)
	_, err = s.Cancel(t1.ID, "Y")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	_, err = s.CancelRunning("Y")
	assert.ErrorIs(t, err, ErrNoRunningTask)

	_, _, err = s.Enqueue("", "job", nil)
	assert.ErrorIs(t, err, ErrMissingCategory)
	_, _, err = s.Enqueue("X", "", nil)
	assert.ErrorIs(t, err, ErrMissingTaskType)

	g.ch(t1.ID) <- nil
}

func TestEventOrder(t *testing.T) {
	g := newGate()
	rec := &recorder{}
	s := newTestScheduler(t, g, rec)

	t1, _, _ := s.Enqueue("X", "job", nil)
	g.waitStarted(t, t1.ID)
	g.ch(t1.ID) <- errors.New("nope")
	waitStatus(t, s, t1.ID, StatusFailed)

	require.Eventually(t, func() bool { return len(rec.kinds(t1.ID)) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []EventKind{EventQueued, EventStarted, EventFailed}, rec.kinds(t1.ID))
}

func TestPrune(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	s, err := New(Config{
		Handler: func(ctx context.Context, task Task) (string, error) { return "", nil },
		Now:     clock,
	})
	require.NoError(t, err)
	defer s.Close(context.Background())

	task, _, _ := s.Enqueue("X", "job", nil)
	waitStatus(t, s, task.ID, StatusCompleted)

	assert.Equal(t, 0, s.Prune(time.Hour))

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()

	assert.Equal(t, 1, s.Prune(time.Hour))
	_, ok := s.Get(task.ID)
	assert.False(t, ok)
}

func TestClosedSchedulerRejects(t *testing.T) {
	s, err := New(Config{Handler: func(ctx context.Context, task Task) (string, error) { return "", nil }})
	require.NoError(t, err)
	require.NoError(t, s.Close(context.Background()))

	_, _, err = s.Enqueue("X", "job", nil)
	assert.ErrorIs(t, err, ErrSchedulerClosed)
}

func TestNewRequiresHandler(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
