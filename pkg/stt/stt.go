// Package stt transcribes uploaded WAV utterances with the Whisper API.
package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/teslashibe/go-murmur/pkg/protocol"
)

// Sentinel errors.
var (
	ErrNoAPIKey = errors.New("stt: API key required")
	ErrNoAudio  = errors.New("stt: no audio")
)

// Transcriber turns one WAV utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Config configures the Whisper transcriber.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Language   string
	HTTPClient *http.Client

	// MinDuration is the shortest audio worth sending; shorter clips
	// transcribe to "" without an API call.
	MinDuration time.Duration

	Logger *slog.Logger
}

// Whisper implements Transcriber with the OpenAI transcription endpoint.
type Whisper struct {
	cfg    Config
	client *openai.Client
	logger *slog.Logger
}

// NewWhisper creates a Whisper transcriber.
func NewWhisper(cfg Config) (*Whisper, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = 100 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	return &Whisper{
		cfg:    cfg,
		client: openai.NewClientWithConfig(oc),
		logger: cfg.Logger.With("component", "stt.whisper"),
	}, nil
}

// Transcribe validates wav and sends it to Whisper.
func (w *Whisper) Transcribe(ctx context.Context, wav []byte) (string, error) {
	pcm, err := protocol.DecodeWAV(wav)
	if err != nil {
		return "", fmt.Errorf("stt: %w", err)
	}
	if len(pcm.Samples) == 0 {
		return "", ErrNoAudio
	}
	if d := pcm.Duration(); d < w.cfg.MinDuration {
		w.logger.Debug("clip too short, skipping", "duration", d)
		return "", nil
	}

	start := time.Now()
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.cfg.Model,
		FilePath: "utterance.wav",
		Reader:   bytes.NewReader(wav),
		Language: w.cfg.Language,
	})
	if err != nil {
		return "", fmt.Errorf("stt: transcribe: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	w.logger.Debug("transcribed",
		"audio", pcm.Duration().Round(time.Millisecond),
		"took", time.Since(start).Round(time.Millisecond),
		"chars", len(text))
	return text, nil
}

// Mock implements Transcriber for testing.
type Mock struct {
	// TranscribeFunc is called when Transcribe is invoked.
	TranscribeFunc func(ctx context.Context, wav []byte) (string, error)

	mu    sync.Mutex
	calls int
}

// Transcribe calls TranscribeFunc.
func (m *Mock) Transcribe(ctx context.Context, wav []byte) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, wav)
	}
	return "", nil
}

// Calls returns how many times Transcribe was called.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
