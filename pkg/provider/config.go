package provider

import (
	"log/slog"
	"net/http"
	"time"
)

// Config holds provider configuration.
type Config struct {
	// Connection
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client

	Model       string
	Temperature float32
	MaxTokens   int

	// Timeout bounds one Respond call. Zero means no limit beyond ctx.
	Timeout time.Duration

	// HistoryLimit caps the turns kept per category session.
	HistoryLimit int

	// MaxToolRounds bounds the tool-call loop of the local provider.
	MaxToolRounds int

	Logger *slog.Logger
}

// Option is a functional option for configuring providers.
type Option func(*Config)

// WithBaseURL sets the API base URL.
// Examples: "https://generativelanguage.googleapis.com", "http://localhost:8080/v1"
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) { c.HTTPClient = hc }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) Option {
	return func(c *Config) { c.Temperature = t }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) Option {
	return func(c *Config) { c.MaxTokens = n }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithHistoryLimit sets how many turns a category session keeps.
func WithHistoryLimit(n int) Option {
	return func(c *Config) { c.HistoryLimit = n }
}

// WithMaxToolRounds bounds consecutive tool-call rounds.
func WithMaxToolRounds(n int) Option {
	return func(c *Config) { c.MaxToolRounds = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns defaults shared by the HTTP backends.
func DefaultConfig() *Config {
	return &Config{
		Temperature:   0.7,
		Timeout:       120 * time.Second,
		HistoryLimit:  40,
		MaxToolRounds: 5,
		Logger:        slog.Default(),
	}
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
