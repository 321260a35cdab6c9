package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const providerOpenAI = "openai"

// OpenAI model options
const (
	ModelTTS1   = string(openai.TTSModel1)   // Standard quality, faster
	ModelTTS1HD = string(openai.TTSModel1HD) // Higher quality, slower
)

// OpenAI implements Provider with the OpenAI speech endpoint.
// Audio is requested as raw PCM, which OpenAI returns as 24kHz mono PCM16.
type OpenAI struct {
	config *Config
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAI creates a new OpenAI TTS provider.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.ModelID = ModelTTS1
	cfg.VoiceID = string(openai.VoiceNova)
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &OpenAI{
		config: cfg,
		client: openai.NewClientWithConfig(clientCfg),
		logger: cfg.Logger.With("component", "tts.openai"),
	}, nil
}

// Synthesize converts text to 24kHz PCM16.
func (o *OpenAI) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	start := time.Now()

	req := openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.config.ModelID),
		Input:          text,
		Voice:          openai.SpeechVoice(o.config.VoiceID),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	}

	var audio []byte
	err := retry(ctx, o.config, o.logger, func() error {
		resp, err := o.client.CreateSpeech(ctx, req)
		if err != nil {
			return toAPIError(providerOpenAI, err)
		}
		defer resp.Close()
		audio, err = io.ReadAll(resp)
		if err != nil {
			return WrapError(providerOpenAI, fmt.Errorf("read response: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	latency := time.Since(start).Milliseconds()
	o.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency,
		"voice", o.config.VoiceID,
	)

	return &AudioResult{
		Audio:     audio,
		Format:    PCMFormat(EncodingPCM24),
		CharCount: len(text),
		LatencyMs: latency,
	}, nil
}

// Health lists models to check the key.
func (o *OpenAI) Health(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		return toAPIError(providerOpenAI, err)
	}
	return nil
}

// Name returns "openai".
func (o *OpenAI) Name() string { return providerOpenAI }

// Close releases resources.
func (o *OpenAI) Close() error { return nil }

// VoiceID returns the configured voice.
func (o *OpenAI) VoiceID() string {
	return o.config.VoiceID
}

// toAPIError converts go-openai errors into *APIError so callers can branch
// on status codes the same way for every provider.
func toAPIError(provider string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if s, ok := apiErr.Code.(string); ok {
			code = s
		}
		return &APIError{
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Code:       code,
			Provider:   provider,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := string(reqErr.Body)
		if msg == "" && reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &APIError{
			StatusCode: reqErr.HTTPStatusCode,
			Message:    msg,
			Provider:   provider,
		}
	}
	return WrapError(provider, err)
}

// retry runs fn until it succeeds, returns a non-retryable error, or the
// attempts configured in cfg are used up. Delays grow linearly.
func retry(ctx context.Context, cfg *Config, logger *slog.Logger, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.RetryDelay * time.Duration(attempt)):
			}
		}

		lastErr = fn()
		if lastErr == nil || !IsRetryable(lastErr) {
			return lastErr
		}
		logger.Warn("retrying request", "attempt", attempt+1, "error", lastErr)
	}
	return lastErr
}

// Verify OpenAI implements Provider at compile time.
var _ Provider = (*OpenAI)(nil)
