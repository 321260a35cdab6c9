package provider

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// PlanStatus is the lifecycle state of a coding plan.
type PlanStatus string

const (
	PlanPlanning        PlanStatus = "planning"
	PlanPendingApproval PlanStatus = "pending_approval"
	PlanRunning         PlanStatus = "running"
	PlanCompleted       PlanStatus = "completed"
	PlanFailed          PlanStatus = "failed"
	PlanDenied          PlanStatus = "denied"
)

// Plan is a coding task proposed by the coding provider.
type Plan struct {
	ID         string
	CategoryID string
	Prompt     string
	Dir        string
	Text       string
	Status     PlanStatus
	Result     string
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PlanBook tracks plans by id. Plans awaiting approval never expire; they
// stay until confirmed or denied.
type PlanBook struct {
	mu    sync.Mutex
	plans map[string]*Plan
	now   func() time.Time
}

// NewPlanBook creates an empty book.
func NewPlanBook() *PlanBook {
	return &PlanBook{plans: make(map[string]*Plan), now: time.Now}
}

// Get returns a copy of plan id.
func (b *PlanBook) Get(id string) (Plan, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.plans[id]
	if !ok {
		return Plan{}, false
	}
	return *p, true
}

// Pending returns the plans of categoryID awaiting approval, oldest first.
func (b *PlanBook) Pending(categoryID string) []Plan {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Plan
	for _, p := range b.plans {
		if p.CategoryID == categoryID && p.Status == PlanPendingApproval {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (b *PlanBook) put(p *Plan) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	p.CreatedAt, p.UpdatedAt = now, now
	b.plans[p.ID] = p
}

// transition moves plan id from one of from to status and applies fn.
func (b *PlanBook) transition(id string, status PlanStatus, fn func(*Plan), from ...PlanStatus) (Plan, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.plans[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	allowed := len(from) == 0
	for _, s := range from {
		if p.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return *p, fmt.Errorf("%w (status: %s)", ErrPlanNotPending, p.Status)
	}
	p.Status = status
	p.UpdatedAt = b.now()
	if fn != nil {
		fn(p)
	}
	return *p, nil
}

// Confirm accepts a pending plan and marks it running.
func (b *PlanBook) Confirm(id string) (Plan, error) {
	return b.transition(id, PlanRunning, nil, PlanPendingApproval)
}

// Deny rejects a pending plan.
func (b *PlanBook) Deny(id string) (Plan, error) {
	return b.transition(id, PlanDenied, nil, PlanPendingApproval)
}

func (b *PlanBook) proposed(id, text string) (Plan, error) {
	return b.transition(id, PlanPendingApproval, func(p *Plan) { p.Text = text }, PlanPlanning)
}

func (b *PlanBook) finish(id, result string, err error) (Plan, error) {
	if err != nil {
		return b.transition(id, PlanFailed, func(p *Plan) { p.Error = err.Error() })
	}
	return b.transition(id, PlanCompleted, func(p *Plan) { p.Result = result })
}

// Forget removes every plan of categoryID.
func (b *PlanBook) Forget(categoryID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, p := range b.plans {
		if p.CategoryID == categoryID {
			delete(b.plans, id)
		}
	}
}
