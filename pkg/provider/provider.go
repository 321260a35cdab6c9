// Package provider implements the AI backends a category can be routed to.
//
// Three backends exist:
//
//   - conversational: Gemini through google.golang.org/genai. Stateless, the
//     category history travels with every request.
//   - local: any OpenAI-compatible chat endpoint. Keeps a per-category
//     session and can read and write files inside the category directory.
//   - coding: the claude CLI. Chats, proposes plans that wait for approval,
//     and executes approved plans.
//
// Example usage:
//
//	gemini, _ := provider.NewGemini(ctx,
//	    provider.WithAPIKey(os.Getenv("GEMINI_API_KEY")),
//	)
//	reg := provider.NewRegistry(gemini)
//	text, _ := reg.Respond(ctx, &provider.Request{
//	    Provider: protocol.ProviderConversational,
//	    Text:     "What's a good name for a cat?",
//	})
package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/teslashibe/go-murmur/pkg/protocol"
)

// SystemPrompt keeps answers short and free of formatting because every reply
// is spoken aloud.
const SystemPrompt = `You are a voice assistant engaged in natural spoken conversation. Your responses will be converted to speech, so:

- Keep responses concise (1-3 sentences) unless asked to elaborate
- Use natural, conversational language as if speaking aloud
- Avoid markdown, bullet points, or formatting that doesn't translate to speech
- Don't use asterisks, brackets, or special characters
- When asked to expand or explain more, provide fuller responses
- Be warm and personable while remaining helpful and accurate`

// Request is one question for a provider, scoped to a category.
type Request struct {
	Provider       protocol.Provider
	Mode           protocol.RequestMode
	CategoryID     string
	Text           string
	History        []protocol.Turn
	DirectoryPath  string
	ProjectContext string
}

// RequestFrom converts a provider_request payload.
func RequestFrom(categoryID string, data *protocol.ProviderRequestData) *Request {
	return &Request{
		Provider:       data.Provider,
		Mode:           data.Mode,
		CategoryID:     categoryID,
		Text:           data.Text,
		History:        data.History,
		DirectoryPath:  data.DirectoryPath,
		ProjectContext: data.ProjectContext,
	}
}

// Provider answers requests for one backend.
type Provider interface {
	// Name returns the backend this provider serves.
	Name() protocol.Provider

	// Respond answers req with text to be spoken.
	Respond(ctx context.Context, req *Request) (string, error)

	// Health checks that the backend is reachable.
	Health(ctx context.Context) error
}

// Seeder is implemented by providers that keep a server-side session per
// category. Seed replaces the session with history handed over on a switch.
type Seeder interface {
	Seed(categoryID string, history []protocol.Turn)
	Reset(categoryID string)
}

// Registry maps provider names to implementations.
type Registry struct {
	mu        sync.RWMutex
	providers map[protocol.Provider]Provider
}

// NewRegistry creates a registry holding ps.
func NewRegistry(ps ...Provider) *Registry {
	r := &Registry{providers: make(map[protocol.Provider]Provider)}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

// Register adds or replaces p.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider named name.
func (r *Registry) Get(name protocol.Provider) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, Wrap(name, "lookup", ErrProviderUnavailable)
	}
	return p, nil
}

// Respond routes req to its provider.
func (r *Registry) Respond(ctx context.Context, req *Request) (string, error) {
	p, err := r.Get(req.Provider)
	if err != nil {
		return "", err
	}
	return p.Respond(ctx, req)
}

// Seed hands history to the named provider if it keeps sessions.
// Stateless providers ignore it.
func (r *Registry) Seed(name protocol.Provider, categoryID string, history []protocol.Turn) error {
	p, err := r.Get(name)
	if err != nil {
		return err
	}
	if s, ok := p.(Seeder); ok {
		s.Seed(categoryID, history)
	}
	return nil
}

// Forget drops every session kept for categoryID.
func (r *Registry) Forget(categoryID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if s, ok := p.(Seeder); ok {
			s.Reset(categoryID)
		}
	}
}

// Health checks every registered provider. The map holds nil for healthy ones.
func (r *Registry) Health(ctx context.Context) map[protocol.Provider]error {
	r.mu.RLock()
	ps := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		ps = append(ps, p)
	}
	r.mu.RUnlock()

	out := make(map[protocol.Provider]error, len(ps))
	for _, p := range ps {
		out[p.Name()] = p.Health(ctx)
	}
	return out
}

// withContext prefixes text with the project summary of the category
// directory so the backend knows what it is looking at.
func withContext(req *Request) string {
	if req.ProjectContext == "" {
		return req.Text
	}
	return fmt.Sprintf("Project context:\n%s\n\n%s", req.ProjectContext, req.Text)
}
