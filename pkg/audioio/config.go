package audioio

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Backend identifies the audio I/O implementation.
type Backend string

const (
	// BackendExec pipes raw PCM through external commands (arecord/aplay, sox, ...).
	BackendExec Backend = "exec"

	// BackendMock generates or records audio in memory.
	BackendMock Backend = "mock"
)

// Config holds audio configuration for sources and sinks.
type Config struct {
	// Backend selects the audio implementation.
	Backend Backend

	// SampleRate is the sample rate in Hz. Speech capture runs at 16000.
	SampleRate int

	// Channels is the number of audio channels (1 = mono).
	Channels int

	// BufferDuration is the duration of each audio chunk.
	BufferDuration time.Duration

	// Command is the capture or playback command line. The placeholders
	// {rate} and {channels} are replaced before the command is split on spaces.
	// The process must read or write raw signed 16-bit little-endian PCM.
	Command string
}

// DefaultConfig returns the capture configuration used for speech.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendExec,
		SampleRate:     16000,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
	}
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendExec:
		if strings.TrimSpace(c.Command) == "" {
			return fmt.Errorf("exec backend requires a command")
		}
	case BackendMock:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", c.SampleRate)
	}
	if c.Channels <= 0 || c.Channels > 2 {
		return fmt.Errorf("invalid channels: %d (must be 1 or 2)", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("invalid buffer duration: %v", c.BufferDuration)
	}
	return nil
}

// BufferSize returns the number of samples per channel in each chunk.
func (c Config) BufferSize() int {
	return int(c.BufferDuration.Seconds() * float64(c.SampleRate))
}

// BufferBytes returns the number of bytes per chunk (PCM16).
func (c Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2
}

// CommandArgs expands the placeholders in Command and splits it into argv.
func (c Config) CommandArgs() ([]string, error) {
	line := strings.NewReplacer(
		"{rate}", strconv.Itoa(c.SampleRate),
		"{channels}", strconv.Itoa(c.Channels),
	).Replace(c.Command)
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil, fmt.Errorf("empty audio command")
	}
	return args, nil
}
