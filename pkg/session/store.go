package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-murmur/pkg/protocol"
)

var (
	// ErrCategoryNotFound is returned for unknown category ids.
	ErrCategoryNotFound = errors.New("session: category not found")

	// ErrMessageNotFound is returned for unknown message ids.
	ErrMessageNotFound = errors.New("session: message not found")

	// ErrEmptyName is returned when creating or renaming with a blank name.
	ErrEmptyName = errors.New("session: empty category name")
)

const persistTimeout = 10 * time.Second

// Persister saves categories remotely. Implementations may be slow; the
// store calls them from background goroutines and only logs failures.
type Persister interface {
	List(ctx context.Context) ([]Category, error)
	CreateCategory(ctx context.Context, c Category) error
	UpdateCategory(ctx context.Context, c Category) error
	DeleteCategory(ctx context.Context, id string) error
	SaveMessage(ctx context.Context, categoryID string, m Message) error
	DeleteMessage(ctx context.Context, categoryID, messageID string) error
}

// Store owns every category. Mutations update memory first and then persist
// in the background.
type Store struct {
	persist Persister
	logger  *slog.Logger

	mu         sync.RWMutex
	categories map[string]*Category
	selected   string

	// Persistence runs on one worker so writes reach the server in the
	// order they were made locally.
	jobsMu  sync.Mutex
	jobs    chan persistJob
	closed  bool
	pending sync.WaitGroup
}

type persistJob struct {
	op string
	fn func(ctx context.Context) error
}

// NewStore creates an empty store. persist may be nil for a memory-only store.
func NewStore(persist Persister, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		persist:    persist,
		logger:     logger.With("component", "session"),
		categories: make(map[string]*Category),
		jobs:       make(chan persistJob, 256),
	}
	if persist != nil {
		go s.persistLoop()
	}
	return s
}

// Load replaces the in-memory categories with the persisted ones.
func (s *Store) Load(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	cats, err := s.persist.List(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories = make(map[string]*Category, len(cats))
	for i := range cats {
		c := cats[i]
		if c.ActiveProvider == "" {
			c.ActiveProvider = protocol.ProviderConversational
		}
		c.Status = StatusIdle
		s.categories[c.ID] = &c
	}
	if _, ok := s.categories[s.selected]; !ok {
		s.selected = ""
	}
	return nil
}

// Create adds a category at the end of the order.
func (s *Store) Create(name string) (Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Category{}, ErrEmptyName
	}

	s.mu.Lock()
	c := &Category{
		ID:             uuid.NewString(),
		Name:           name,
		Order:          s.nextOrderLocked(),
		ActiveProvider: protocol.ProviderConversational,
		Status:         StatusIdle,
	}
	s.categories[c.ID] = c
	out := c.clone()
	s.mu.Unlock()

	s.background("create category", func(ctx context.Context) error {
		return s.persist.CreateCategory(ctx, out)
	})
	return out, nil
}

func (s *Store) nextOrderLocked() int {
	next := 0
	for _, c := range s.categories {
		if c.Order >= next {
			next = c.Order + 1
		}
	}
	return next
}

// Delete removes a category. Deleting the selected category clears the selection.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	if _, ok := s.categories[id]; !ok {
		s.mu.Unlock()
		return ErrCategoryNotFound
	}
	delete(s.categories, id)
	if s.selected == id {
		s.selected = ""
	}
	s.mu.Unlock()

	s.background("delete category", func(ctx context.Context) error {
		return s.persist.DeleteCategory(ctx, id)
	})
	return nil
}

// Update applies fn to the category under the store lock and persists the
// category metadata. fn must not call back into the store.
func (s *Store) Update(id string, fn func(*Category)) error {
	s.mu.Lock()
	c, ok := s.categories[id]
	if !ok {
		s.mu.Unlock()
		return ErrCategoryNotFound
	}
	before := metadata(c)
	fn(c)
	changed := metadata(c) != before
	out := c.clone()
	s.mu.Unlock()

	if changed {
		s.background("update category", func(ctx context.Context) error {
			return s.persist.UpdateCategory(ctx, out)
		})
	}
	return nil
}

type meta struct {
	name, dir, projectCtx string
	provider              protocol.Provider
	order                 int
}

// metadata is the persisted subset of a category; status and playback
// fields are client-local.
func metadata(c *Category) meta {
	return meta{c.Name, c.DirectoryPath, c.ProjectContext, c.ActiveProvider, c.Order}
}

// AddMessage appends m (assigning an id and timestamp when missing).
// Pending messages stay local until finalized with UpdateMessage.
func (s *Store) AddMessage(categoryID string, m Message) (Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	s.mu.Lock()
	c, ok := s.categories[categoryID]
	if !ok {
		s.mu.Unlock()
		return Message{}, ErrCategoryNotFound
	}
	c.Messages = append(c.Messages, m)
	s.mu.Unlock()

	if !m.Pending {
		s.background("save message", func(ctx context.Context) error {
			return s.persist.SaveMessage(ctx, categoryID, m)
		})
	}
	return m, nil
}

// UpdateMessage applies fn to one message. A message that is not pending
// after fn is persisted.
func (s *Store) UpdateMessage(categoryID, messageID string, fn func(*Message)) (Message, error) {
	s.mu.Lock()
	c, ok := s.categories[categoryID]
	if !ok {
		s.mu.Unlock()
		return Message{}, ErrCategoryNotFound
	}
	m, ok := c.FindMessage(messageID)
	if !ok {
		s.mu.Unlock()
		return Message{}, ErrMessageNotFound
	}
	fn(m)
	out := *m
	s.mu.Unlock()

	if !out.Pending {
		s.background("save message", func(ctx context.Context) error {
			return s.persist.SaveMessage(ctx, categoryID, out)
		})
	}
	return out, nil
}

// RemoveMessage deletes one message.
func (s *Store) RemoveMessage(categoryID, messageID string) error {
	s.mu.Lock()
	c, ok := s.categories[categoryID]
	if !ok {
		s.mu.Unlock()
		return ErrCategoryNotFound
	}
	idx := -1
	for i := range c.Messages {
		if c.Messages[i].ID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ErrMessageNotFound
	}
	wasPending := c.Messages[idx].Pending
	c.Messages = append(c.Messages[:idx], c.Messages[idx+1:]...)
	s.mu.Unlock()

	if !wasPending {
		s.background("delete message", func(ctx context.Context) error {
			return s.persist.DeleteMessage(ctx, categoryID, messageID)
		})
	}
	return nil
}

// ClearMessages wipes a category's history.
func (s *Store) ClearMessages(categoryID string) error {
	s.mu.Lock()
	c, ok := s.categories[categoryID]
	if !ok {
		s.mu.Unlock()
		return ErrCategoryNotFound
	}
	removed := c.Messages
	c.Messages = nil
	s.mu.Unlock()

	for _, m := range removed {
		if m.Pending {
			continue
		}
		id := m.ID
		s.background("delete message", func(ctx context.Context) error {
			return s.persist.DeleteMessage(ctx, categoryID, id)
		})
	}
	return nil
}

// Select makes id the foreground category. An empty id selects nothing
// (global mode).
func (s *Store) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" {
		if _, ok := s.categories[id]; !ok {
			return ErrCategoryNotFound
		}
	}
	s.selected = id
	return nil
}

// SelectedID returns the foreground category id, or "" in global mode.
func (s *Store) SelectedID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Selected returns a copy of the foreground category.
func (s *Store) Selected() (Category, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[s.selected]
	if !ok {
		return Category{}, false
	}
	return c.clone(), true
}

// Get returns a copy of one category.
func (s *Store) Get(id string) (Category, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[id]
	if !ok {
		return Category{}, false
	}
	return c.clone(), true
}

// Snapshot returns copies of every category in display order.
func (s *Store) Snapshot() []Category {
	s.mu.RLock()
	out := make([]Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c.clone())
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// FindByName returns the first category, in display order, whose name
// contains query or is contained in it, ignoring case.
func (s *Store) FindByName(query string) (Category, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return Category{}, false
	}
	for _, c := range s.Snapshot() {
		name := strings.ToLower(c.Name)
		if strings.Contains(name, q) || strings.Contains(q, name) {
			return c, true
		}
	}
	return Category{}, false
}

func (s *Store) background(op string, fn func(ctx context.Context) error) {
	if s.persist == nil {
		return
	}
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if s.closed {
		return
	}
	s.pending.Add(1)
	select {
	case s.jobs <- persistJob{op: op, fn: fn}:
	default:
		s.pending.Done()
		s.logger.Warn("persist queue full, dropping write", "op", op)
	}
}

func (s *Store) persistLoop() {
	for job := range s.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := job.fn(ctx); err != nil {
			s.logger.Warn("persist failed", "op", job.op, "error", err)
		}
		cancel()
		s.pending.Done()
	}
}

// Wait blocks until queued persistence has finished.
func (s *Store) Wait() {
	s.pending.Wait()
}

// Close drains queued writes and stops the persistence worker.
func (s *Store) Close() {
	s.jobsMu.Lock()
	if s.closed {
		s.jobsMu.Unlock()
		return
	}
	s.closed = true
	s.jobsMu.Unlock()

	s.pending.Wait()
	close(s.jobs)
}
