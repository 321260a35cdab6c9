package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/teslashibe/go-murmur/pkg/protocol"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// Gemini is the conversational provider. It keeps no state of its own: the
// category history passed with each request becomes the conversation.
type Gemini struct {
	config *Config
	client *genai.Client
	logger *slog.Logger
}

// NewGemini creates the conversational provider.
func NewGemini(ctx context.Context, opts ...Option) (*Gemini, error) {
	cfg := DefaultConfig()
	cfg.Model = DefaultGeminiModel
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, Wrap(protocol.ProviderConversational, "init", ErrNoAPIKey)
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, Wrap(protocol.ProviderConversational, "init", err)
	}

	return &Gemini{
		config: cfg,
		client: client,
		logger: cfg.Logger.With("component", "provider.gemini"),
	}, nil
}

// Name returns protocol.ProviderConversational.
func (g *Gemini) Name() protocol.Provider { return protocol.ProviderConversational }

// Respond answers req.Text with req.History as prior turns.
func (g *Gemini) Respond(ctx context.Context, req *Request) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", Wrap(g.Name(), "respond", ErrEmptyText)
	}
	if g.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}

	contents := g.contents(req)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(g.config.Temperature),
	}
	if g.config.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(g.config.MaxTokens)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.config.Model, contents, cfg)
	if err != nil {
		return "", Wrap(g.Name(), "respond", fromGenai(err))
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", Wrap(g.Name(), "respond", errors.New("empty response"))
	}

	g.logger.Debug("reply generated",
		"category", req.CategoryID,
		"history", len(req.History),
		"chars", len(text))
	return text, nil
}

// contents maps history onto Gemini roles. The most recent turns are kept
// when the history exceeds the configured limit.
func (g *Gemini) contents(req *Request) []*genai.Content {
	history := req.History
	if limit := g.config.HistoryLimit; limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	contents := make([]*genai.Content, 0, len(history)+1)
	for _, t := range history {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		var role genai.Role = genai.RoleUser
		if t.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Text, role))
	}
	return append(contents, genai.NewContentFromText(withContext(req), genai.RoleUser))
}

// Health fetches the configured model's metadata.
func (g *Gemini) Health(ctx context.Context) error {
	if _, err := g.client.Models.Get(ctx, g.config.Model, nil); err != nil {
		return Wrap(g.Name(), "health", fromGenai(err))
	}
	return nil
}

func fromGenai(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Status
		}
		return &APIError{StatusCode: apiErr.Code, Message: msg}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
