package tts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Chain implements Provider by trying multiple providers in order.
// The first successful provider wins; if all fail, it returns a *ChainError.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

// NewChain creates a provider chain. Nil providers are skipped so callers can
// pass optional fallbacks directly; at least one must remain.
func NewChain(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	var ps []Provider
	for _, p := range providers {
		if p != nil {
			ps = append(ps, p)
		}
	}
	if len(ps) == 0 {
		return nil, ErrProviderUnavailable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		providers: ps,
		logger:    logger.With("component", "tts.chain"),
	}, nil
}

// Synthesize tries each provider until one succeeds.
func (c *Chain) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	chainErr := &ChainError{}

	for i, p := range c.providers {
		result, err := p.Synthesize(ctx, text)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback provider succeeded", "provider", p.Name(), "chars", len(text))
			}
			return result, nil
		}

		chainErr.add(p.Name(), err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("provider failed, trying next", "provider", p.Name(), "error", err)
	}

	return nil, chainErr
}

// Health succeeds when at least one provider is healthy.
func (c *Chain) Health(ctx context.Context) error {
	chainErr := &ChainError{}
	for _, p := range c.providers {
		err := p.Health(ctx)
		if err == nil {
			return nil
		}
		chainErr.add(p.Name(), err)
	}
	return chainErr
}

// Name lists the chained providers, e.g. "openai>elevenlabs".
func (c *Chain) Name() string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return strings.Join(names, ">")
}

// Close closes all providers.
func (c *Chain) Close() error {
	var lastErr error
	for _, p := range c.providers {
		if err := p.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Providers returns the list of providers in the chain.
func (c *Chain) Providers() []Provider {
	return c.providers
}

// ChainError aggregates errors from all providers in a chain.
type ChainError struct {
	Providers []string
	Errors    []error
}

func (e *ChainError) add(provider string, err error) {
	e.Providers = append(e.Providers, provider)
	e.Errors = append(e.Errors, err)
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "tts chain: no errors recorded"
	case 1:
		return fmt.Sprintf("tts chain: %v", e.Errors[0])
	default:
		return fmt.Sprintf("tts chain: all %d providers failed, last error: %v", len(e.Errors), e.Errors[len(e.Errors)-1])
	}
}

// Unwrap exposes every provider error to errors.Is and errors.As.
func (e *ChainError) Unwrap() []error {
	return e.Errors
}

// Verify Chain implements Provider at compile time.
var _ Provider = (*Chain)(nil)
