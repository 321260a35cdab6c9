package audioio

import (
	"fmt"
	"log/slog"
	"runtime"
)

// NewSource creates an audio source for cfg.Backend. An empty exec command
// falls back to the platform default recorder.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Backend == BackendExec && cfg.Command == "" {
		cfg.Command, _ = DefaultCommands()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger.Info("creating audio source",
		"backend", cfg.Backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"buffer_ms", cfg.BufferDuration.Milliseconds(),
	)

	switch cfg.Backend {
	case BackendMock:
		return NewMockSource(cfg, logger), nil
	case BackendExec:
		return NewExecSource(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
}

// NewSink creates an audio sink for cfg.Backend. An empty exec command
// falls back to the platform default player.
func NewSink(cfg Config, logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Backend == BackendExec && cfg.Command == "" {
		_, cfg.Command = DefaultCommands()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger.Info("creating audio sink",
		"backend", cfg.Backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
	)

	switch cfg.Backend {
	case BackendMock:
		return NewMockSink(cfg, logger), nil
	case BackendExec:
		return NewExecSink(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
}

// DefaultCommands returns the recorder and player command templates for the
// current platform: ALSA utilities on Linux, SoX elsewhere.
func DefaultCommands() (record, play string) {
	if runtime.GOOS == "linux" {
		return "arecord -q -f S16_LE -c {channels} -t raw -r {rate}",
			"aplay -q -f S16_LE -c {channels} -t raw -r {rate}"
	}
	return "rec -q -t raw -b 16 -e signed-integer -c {channels} -r {rate} -",
		"play -q -t raw -b 16 -e signed-integer -c {channels} -r {rate} -"
}
