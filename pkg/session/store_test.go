package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-murmur/pkg/protocol"
)

// recorder is an in-memory Persister that logs each call.
type recorder struct {
	mu    sync.Mutex
	calls []string
	cats  []Category
}

func (r *recorder) log(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) List(ctx context.Context) ([]Category, error) { return r.cats, nil }
func (r *recorder) CreateCategory(ctx context.Context, c Category) error {
	r.log("create:" + c.Name)
	return nil
}
func (r *recorder) UpdateCategory(ctx context.Context, c Category) error {
	r.log("update:" + c.Name)
	return nil
}
func (r *recorder) DeleteCategory(ctx context.Context, id string) error {
	r.log("delete")
	return nil
}
func (r *recorder) SaveMessage(ctx context.Context, categoryID string, m Message) error {
	r.log("message:" + m.Text)
	return nil
}
func (r *recorder) DeleteMessage(ctx context.Context, categoryID, messageID string) error {
	r.log("delete-message")
	return nil
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestCreateSelectAndSnapshotOrder(t *testing.T) {
	s := NewStore(nil, nil)
	work, err := s.Create("Work Stuff")
	require.NoError(t, err)
	home, err := s.Create("Home")
	require.NoError(t, err)

	_, err = s.Create("  ")
	assert.ErrorIs(t, err, ErrEmptyName)

	assert.Equal(t, protocol.ProviderConversational, work.ActiveProvider)
	assert.Equal(t, StatusIdle, work.Status)

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, work.ID, snap[0].ID)
	assert.Equal(t, home.ID, snap[1].ID)

	_, ok := s.Selected()
	assert.False(t, ok)
	require.NoError(t, s.Select(home.ID))
	assert.Equal(t, home.ID, s.SelectedID())
	assert.ErrorIs(t, s.Select("nope"), ErrCategoryNotFound)

	require.NoError(t, s.Delete(home.ID))
	assert.Equal(t, "", s.SelectedID())
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore(nil, nil)
	c, _ := s.Create("Work")
	_, err := s.AddMessage(c.ID, Message{Role: RoleUser, Text: "hi"})
	require.NoError(t, err)

	snap := s.Snapshot()
	snap[0].Messages[0].Text = "changed"
	got, _ := s.Get(c.ID)
	assert.Equal(t, "hi", got.Messages[0].Text)
}

func TestFindByName(t *testing.T) {
	s := NewStore(nil, nil)
	_, _ = s.Create("Work Stuff")
	_, _ = s.Create("Workshop")
	_, _ = s.Create("Groceries")

	tests := []struct {
		query string
		want  string
		found bool
	}{
		{"work", "Work Stuff", true},
		{"WORKSHOP", "Workshop", true},
		{"switch to groceries please", "Groceries", true},
		{"stuff", "Work Stuff", true},
		{"garden", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			c, ok := s.FindByName(tt.query)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, c.Name)
		})
	}
}

func TestHistoryWindow(t *testing.T) {
	s := NewStore(nil, nil)
	c, _ := s.Create("Work")
	for _, text := range []string{"a", "b", "c", "d"} {
		_, _ = s.AddMessage(c.ID, Message{Role: RoleUser, Text: text})
	}
	_, _ = s.AddMessage(c.ID, Message{Role: RoleUser, Text: "pending", Pending: true})

	got, _ := s.Get(c.ID)
	turns := got.History(3)
	require.Len(t, turns, 3)
	assert.Equal(t, "b", turns[0].Text)
	assert.Equal(t, "d", turns[2].Text)

	pending, ok := got.PendingUser()
	require.True(t, ok)
	assert.Equal(t, "pending", pending.Text)
}

func TestPersistenceIsOrderedAndSkipsPending(t *testing.T) {
	rec := &recorder{}
	s := NewStore(rec, nil)
	defer s.Close()

	c, _ := s.Create("Work")
	msg, _ := s.AddMessage(c.ID, Message{Role: RoleUser, Pending: true})
	require.NoError(t, s.Update(c.ID, func(c *Category) { c.Status = StatusProcessing }))
	require.NoError(t, s.Update(c.ID, func(c *Category) { c.Name = "Work Stuff" }))
	_, err := s.UpdateMessage(c.ID, msg.ID, func(m *Message) {
		m.Text = "hello"
		m.Pending = false
	})
	require.NoError(t, err)
	require.NoError(t, s.Delete(c.ID))

	s.Wait()
	// Status changes are local; the pending placeholder is not persisted.
	assert.Equal(t, []string{"create:Work", "update:Work Stuff", "message:hello", "delete"}, rec.Calls())
}

func TestRemovePendingMessageStaysLocal(t *testing.T) {
	rec := &recorder{}
	s := NewStore(rec, nil)
	defer s.Close()

	c, _ := s.Create("Work")
	m, _ := s.AddMessage(c.ID, Message{Role: RoleUser, Pending: true})
	require.NoError(t, s.RemoveMessage(c.ID, m.ID))
	assert.ErrorIs(t, s.RemoveMessage(c.ID, m.ID), ErrMessageNotFound)

	s.Wait()
	assert.Equal(t, []string{"create:Work"}, rec.Calls())
}

func TestLoad(t *testing.T) {
	rec := &recorder{cats: []Category{{ID: "c1", Name: "Loaded"}}}
	s := NewStore(rec, nil)
	defer s.Close()

	require.NoError(t, s.Load(context.Background()))
	c, ok := s.Get("c1")
	require.True(t, ok)
	assert.Equal(t, protocol.ProviderConversational, c.ActiveProvider)
	assert.Equal(t, StatusIdle, c.Status)
}

func TestRESTPersister(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Method+" "+r.URL.Path)
		mu.Unlock()
		if r.Method == http.MethodGet {
			_ = json.NewEncoder(w).Encode([]Category{{ID: "c1", Name: "Remote"}})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ctx := context.Background()
	rest := NewREST(srv.URL+"/", nil)

	cats, err := rest.List(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, "Remote", cats[0].Name)

	require.NoError(t, rest.CreateCategory(ctx, Category{ID: "c2", Name: "New"}))
	require.NoError(t, rest.UpdateCategory(ctx, Category{ID: "c2", Name: "Renamed"}))
	require.NoError(t, rest.SaveMessage(ctx, "c2", Message{ID: "m1", Text: "hi"}))
	require.NoError(t, rest.DeleteMessage(ctx, "c2", "m1"))
	require.NoError(t, rest.DeleteCategory(ctx, "c2"))

	assert.Equal(t, []string{
		"GET /api/categories",
		"POST /api/categories",
		"PATCH /api/categories/c2",
		"POST /api/categories/c2/messages",
		"DELETE /api/categories/c2/messages/m1",
		"DELETE /api/categories/c2",
	}, seen)
}
