package playback

import (
	"log/slog"
	"time"
)

// Config configures a Pipeline.
type Config struct {
	// Streaming requests length-prefixed chunks instead of one blob.
	Streaming bool

	// ThinkingCue plays a soft periodic tone while a reply is pending.
	ThinkingCue bool

	// CueInterval is the gap between thinking tones.
	CueInterval time.Duration

	Logger *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Config)

// DefaultConfig returns streaming playback with the thinking cue on.
func DefaultConfig() Config {
	return Config{
		Streaming:   true,
		ThinkingCue: true,
		CueInterval: 1500 * time.Millisecond,
	}
}

// WithStreaming selects the streaming or blob path.
func WithStreaming(on bool) Option {
	return func(c *Config) { c.Streaming = on }
}

// WithThinkingCue enables or disables the thinking tone.
func WithThinkingCue(on bool) Option {
	return func(c *Config) { c.ThinkingCue = on }
}

// WithCueInterval sets the gap between thinking tones.
func WithCueInterval(d time.Duration) Option {
	return func(c *Config) { c.CueInterval = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}
