package provider

import (
	"context"
	"sync"

	"github.com/teslashibe/go-murmur/pkg/protocol"
)

// Mock implements Provider and Seeder for testing.
type Mock struct {
	// ProviderName is returned by Name. Defaults to conversational.
	ProviderName protocol.Provider

	// RespondFunc is called when Respond is invoked.
	RespondFunc func(ctx context.Context, req *Request) (string, error)

	// HealthFunc is called when Health is invoked.
	HealthFunc func(ctx context.Context) error

	mu       sync.Mutex
	requests []Request
	seeded   map[string][]protocol.Turn
}

// NewMock creates a mock that echoes the request text.
func NewMock(name protocol.Provider) *Mock {
	return &Mock{
		ProviderName: name,
		RespondFunc: func(ctx context.Context, req *Request) (string, error) {
			return "echo: " + req.Text, nil
		},
	}
}

// Name returns ProviderName.
func (m *Mock) Name() protocol.Provider {
	if m.ProviderName == "" {
		return protocol.ProviderConversational
	}
	return m.ProviderName
}

// Respond calls RespondFunc and records the request.
func (m *Mock) Respond(ctx context.Context, req *Request) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, *req)
	m.mu.Unlock()
	if m.RespondFunc != nil {
		return m.RespondFunc(ctx, req)
	}
	return "", Wrap(m.Name(), "respond", ErrProviderUnavailable)
}

// Health calls HealthFunc.
func (m *Mock) Health(ctx context.Context) error {
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Seed records history for categoryID.
func (m *Mock) Seed(categoryID string, history []protocol.Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seeded == nil {
		m.seeded = make(map[string][]protocol.Turn)
	}
	m.seeded[categoryID] = append([]protocol.Turn(nil), history...)
}

// Reset forgets seeded history for categoryID.
func (m *Mock) Reset(categoryID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seeded, categoryID)
}

// Requests returns the recorded requests.
func (m *Mock) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Seeded returns the history last seeded for categoryID.
func (m *Mock) Seeded(categoryID string) ([]protocol.Turn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.seeded[categoryID]
	return h, ok
}
