// Package intent classifies free text into app actions (create a category,
// link or find a directory...) with a small model behind an OpenAI-compatible
// endpoint. Anything that is not clearly an action is a question.
package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/teslashibe/go-murmur/pkg/protocol"
)

// DefaultModel is the classifier model used when none is configured.
const DefaultModel = "qwen3-coder-256k"

// historyTurns is how much recent conversation is quoted as context.
const historyTurns = 5

const systemPrompt = `You are an intent classifier for a voice-controlled coding assistant app. Your job is to determine if the user wants to perform an app action or ask a question.

The app manages "categories" (like containers/workspaces) that can be linked to filesystem directories for coding projects.

## Available Action Types for Classification
- create_category: Create a new category/container (triggers: "create", "make", "new category/container")
- link_directory: Connect a directory to the current category (triggers: "link", "connect", "hook up", "associate")
- navigate_category: Switch to/open a category (triggers: "go to", "switch to", "open" + category name)
- find_directory: Look up a directory path (triggers: "find", "where is", "locate" + directory name)
- list_directories: List directories in a location (triggers: "list", "show", "what directories/folders")
- question: Regular question or conversation (default if not an app action)

IMPORTANT: Only classify as an action if the user clearly intends to perform an app operation. General coding questions, requests for explanations, or conversational messages should be "question".

Respond with ONLY valid JSON, no other text:
{
  "action_type": "create_category|link_directory|navigate_category|find_directory|list_directories|question",
  "category_name": "extracted category name or null",
  "directory_hint": "partial directory name to search for or null",
  "parent_hint": "parent directory hint (e.g., 'dev' from 'under dev') or null",
  "navigate_after": true if should navigate to the category after creating,
  "confidence": 0.0-1.0 how confident you are this is correct
}`

var (
	thinkTags  = regexp.MustCompile(`(?s)<think>.*?</think>\s*`)
	jsonObject = regexp.MustCompile(`(?s)\{[^{}]*\}`)
)

// Config configures a Classifier.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Classifier turns free text into an ActionClassificationData.
type Classifier struct {
	cfg    Config
	client *openai.Client
	logger *slog.Logger
}

// New creates a classifier.
func New(cfg Config) (*Classifier, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("intent: base URL required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	return &Classifier{
		cfg:    cfg,
		client: openai.NewClientWithConfig(oc),
		logger: cfg.Logger.With("component", "intent"),
	}, nil
}

// Fallback is the classification used whenever the model cannot be asked
// or its answer cannot be parsed.
func Fallback(text string) protocol.ActionClassificationData {
	return protocol.ActionClassificationData{Text: text, ActionType: protocol.ActionQuestion}
}

// Classify asks the model what text means. The returned classification is
// always usable: on failure it is Fallback(text) and err says why.
func (c *Classifier) Classify(ctx context.Context, text string, history []protocol.Turn) (protocol.ActionClassificationData, error) {
	if strings.TrimSpace(text) == "" {
		return Fallback(text), nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: 0.1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(text, history)},
		},
	})
	if err != nil {
		c.logger.Warn("classifier call failed", "error", err)
		return Fallback(text), fmt.Errorf("intent: classify: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Fallback(text), errors.New("intent: classify: no choices in response")
	}

	out, err := Parse(text, resp.Choices[0].Message.Content)
	if err != nil {
		c.logger.Warn("unparseable classification", "error", err, "raw", resp.Choices[0].Message.Content)
		return out, err
	}
	c.logger.Debug("classified", "action", out.ActionType, "confidence", out.Confidence)
	return out, nil
}

func userPrompt(text string, history []protocol.Turn) string {
	if len(history) == 0 {
		return fmt.Sprintf("Classify this user request: %q", text)
	}
	if len(history) > historyTurns {
		history = history[len(history)-historyTurns:]
	}
	lines := make([]string, len(history))
	for i, t := range history {
		lines[i] = t.Role + ": " + t.Text
	}
	return fmt.Sprintf("Recent conversation context:\n%s\n\n---\n\nClassify this user request: %q",
		strings.Join(lines, "\n"), text)
}

type rawClassification struct {
	ActionType    string   `json:"action_type"`
	CategoryName  *string  `json:"category_name"`
	DirectoryHint *string  `json:"directory_hint"`
	ParentHint    *string  `json:"parent_hint"`
	NavigateAfter bool     `json:"navigate_after"`
	Confidence    *float64 `json:"confidence"`
}

// Parse extracts the classification from a model answer. Reasoning in
// <think> tags and prose around the JSON object are ignored. Unknown action
// types become questions.
func Parse(text, content string) (protocol.ActionClassificationData, error) {
	content = strings.TrimSpace(thinkTags.ReplaceAllString(content, ""))
	if m := jsonObject.FindString(content); m != "" {
		content = m
	}

	var raw rawClassification
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return Fallback(text), fmt.Errorf("intent: parse: %w", err)
	}

	out := protocol.ActionClassificationData{
		Text:          text,
		ActionType:    protocol.ActionQuestion,
		CategoryName:  clean(raw.CategoryName),
		DirectoryHint: clean(raw.DirectoryHint),
		ParentHint:    clean(raw.ParentHint),
		NavigateAfter: raw.NavigateAfter,
		Confidence:    0.5,
	}
	switch raw.ActionType {
	case protocol.ActionCreateCategory, protocol.ActionLinkDirectory, protocol.ActionNavigateCategory,
		protocol.ActionFindDirectory, protocol.ActionListDirectories, protocol.ActionQuestion:
		out.ActionType = raw.ActionType
	}
	if raw.Confidence != nil {
		out.Confidence = min(max(*raw.Confidence, 0), 1)
	}
	return out, nil
}

func clean(s *string) string {
	if s == nil {
		return ""
	}
	v := strings.TrimSpace(*s)
	if strings.EqualFold(v, "null") || strings.EqualFold(v, "none") {
		return ""
	}
	return v
}
