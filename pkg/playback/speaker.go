package playback

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

// Speaker says text without the synthesis service. It is the fallback when
// fetching or decoding fails, and the voice for short local prompts.
type Speaker interface {
	Say(ctx context.Context, text string) error
}

// ExecSpeaker runs a local text-to-speech command with the text as its
// last argument.
type ExecSpeaker struct {
	args []string
}

// NewExecSpeaker creates a speaker for command. An empty command picks
// "say" on macOS and "espeak" elsewhere.
func NewExecSpeaker(command string) *ExecSpeaker {
	if strings.TrimSpace(command) == "" {
		command = DefaultSpeakerCommand()
	}
	return &ExecSpeaker{args: strings.Fields(command)}
}

// DefaultSpeakerCommand returns the platform's stock speech command.
func DefaultSpeakerCommand() string {
	if runtime.GOOS == "darwin" {
		return "say"
	}
	return "espeak"
}

// Say implements Speaker. It blocks until speech finishes or ctx is done.
func (s *ExecSpeaker) Say(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	args := append(append([]string(nil), s.args[1:]...), text)
	return exec.CommandContext(ctx, s.args[0], args...).Run()
}

// MockSpeaker records what it was asked to say.
type MockSpeaker struct {
	mu   sync.Mutex
	said []string
	Err  error
}

// ErrSpeakerFailed is a convenience error for tests.
var ErrSpeakerFailed = errors.New("playback: speaker failed")

// Say implements Speaker.
func (m *MockSpeaker) Say(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.said = append(m.said, text)
	return m.Err
}

// Said returns everything spoken so far.
func (m *MockSpeaker) Said() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.said...)
}
