package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/teslashibe/go-murmur/pkg/protocol"
)

// Local talks to an OpenAI-compatible server running on the LAN or the
// same machine. Unlike Gemini it keeps one session per category, so a
// provider_context handover survives across requests.
type Local struct {
	config *Config
	client *openai.Client
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string][]openai.ChatCompletionMessage
}

var thinkTags = regexp.MustCompile(`(?s)<think>.*?</think>`)

// NewLocal creates the local provider. The API key is optional.
func NewLocal(opts ...Option) (*Local, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = "http://localhost:8080/v1"
	cfg.Apply(opts...)

	if cfg.Model == "" {
		return nil, Wrap(protocol.ProviderLocal, "init", errors.New("model required"))
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &Local{
		config:   cfg,
		client:   openai.NewClientWithConfig(clientCfg),
		logger:   cfg.Logger.With("component", "provider.local"),
		sessions: make(map[string][]openai.ChatCompletionMessage),
	}, nil
}

// Name returns protocol.ProviderLocal.
func (l *Local) Name() protocol.Provider { return protocol.ProviderLocal }

// Respond continues the category session with req.Text. A category without
// a session starts from req.History.
func (l *Local) Respond(ctx context.Context, req *Request) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", Wrap(l.Name(), "respond", ErrEmptyText)
	}
	if l.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.config.Timeout)
		defer cancel()
	}

	var toolbox *Toolbox
	if req.DirectoryPath != "" {
		tb, err := NewToolbox(req.DirectoryPath)
		if err != nil {
			l.logger.Warn("file tools disabled", "dir", req.DirectoryPath, "error", err)
		} else {
			toolbox = tb
		}
	}

	system := SystemPrompt
	if toolbox != nil {
		system += "\n\nYou are working in the project directory " + toolbox.Root() +
			". Use the file tools to read, list or change files when the user asks about the project."
	}

	history := l.history(req)
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	messages = append(messages, history...)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: withContext(req)})

	text, err := l.complete(ctx, messages, toolbox)
	if err != nil {
		return "", Wrap(l.Name(), "respond", err)
	}

	l.remember(req.CategoryID,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Text},
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text})
	return text, nil
}

// complete runs chat completions until the model answers without tool calls.
func (l *Local) complete(ctx context.Context, messages []openai.ChatCompletionMessage, toolbox *Toolbox) (string, error) {
	var tools []openai.Tool
	if toolbox != nil {
		tools = toolbox.Definitions()
	}

	for round := 0; round <= l.config.MaxToolRounds; round++ {
		resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       l.config.Model,
			Messages:    messages,
			Tools:       tools,
			Temperature: l.config.Temperature,
			MaxTokens:   l.config.MaxTokens,
		})
		if err != nil {
			return "", l.mapError(err)
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("no choices in response")
		}

		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 || toolbox == nil {
			text := strings.TrimSpace(thinkTags.ReplaceAllString(msg.Content, ""))
			if text == "" {
				return "", errors.New("empty response")
			}
			return text, nil
		}

		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			out := toolbox.Call(call.Function.Name, call.Function.Arguments)
			l.logger.Debug("tool call",
				"tool", call.Function.Name,
				"round", round,
				"result_chars", len(out))
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    out,
				ToolCallID: call.ID,
				Name:       call.Function.Name,
			})
		}
	}
	return "", fmt.Errorf("gave up after %d tool rounds", l.config.MaxToolRounds)
}

func (l *Local) mapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: cannot connect to local LLM at %s. Is it running?",
			ErrProviderUnavailable, l.config.BaseURL)
	}
	return fromOpenAI(err)
}

// history returns a copy of the session for req.CategoryID, creating it
// from req.History when none exists yet.
func (l *Local) history(req *Request) []openai.ChatCompletionMessage {
	l.mu.Lock()
	defer l.mu.Unlock()

	sess, ok := l.sessions[req.CategoryID]
	if !ok {
		sess = l.trim(fromTurns(req.History))
		l.sessions[req.CategoryID] = sess
	}
	return append([]openai.ChatCompletionMessage(nil), sess...)
}

func (l *Local) remember(categoryID string, msgs ...openai.ChatCompletionMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions[categoryID] = l.trim(append(l.sessions[categoryID], msgs...))
}

func (l *Local) trim(msgs []openai.ChatCompletionMessage) []openai.ChatCompletionMessage {
	if limit := l.config.HistoryLimit; limit > 0 && len(msgs) > limit {
		return append([]openai.ChatCompletionMessage(nil), msgs[len(msgs)-limit:]...)
	}
	return msgs
}

// Seed replaces the category session with history.
func (l *Local) Seed(categoryID string, history []protocol.Turn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions[categoryID] = l.trim(fromTurns(history))
	l.logger.Debug("session seeded", "category", categoryID, "turns", len(l.sessions[categoryID]))
}

// Reset drops the category session.
func (l *Local) Reset(categoryID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, categoryID)
}

// SessionLen returns the number of turns kept for categoryID.
func (l *Local) SessionLen(categoryID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions[categoryID])
}

// Health lists the server's models.
func (l *Local) Health(ctx context.Context) error {
	if _, err := l.client.ListModels(ctx); err != nil {
		return Wrap(l.Name(), "health", l.mapError(err))
	}
	return nil
}

func fromTurns(turns []protocol.Turn) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		role := openai.ChatMessageRoleUser
		if t.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}
	return out
}
