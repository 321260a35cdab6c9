package tts

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/teslashibe/go-murmur/pkg/audioio"
	"github.com/teslashibe/go-murmur/pkg/protocol"
)

// Observer is notified after every provider call.
type Observer func(provider string, elapsed time.Duration, err error)

// Synthesizer renders reply text as WAV, either as one blob or as a frame
// stream with one WAV per sentence group.
type Synthesizer struct {
	provider Provider
	logger   *slog.Logger
	observe  Observer
}

// NewSynthesizer wraps provider. observe may be nil.
func NewSynthesizer(provider Provider, logger *slog.Logger, observe Observer) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		provider: provider,
		logger:   logger.With("component", "tts.synth"),
		observe:  observe,
	}
}

func (s *Synthesizer) synthesize(ctx context.Context, text string) (*AudioResult, error) {
	start := time.Now()
	res, err := s.provider.Synthesize(ctx, text)
	if s.observe != nil {
		s.observe(s.provider.Name(), time.Since(start), err)
	}
	return res, err
}

// Blob synthesizes every sentence group and returns a single WAV.
func (s *Synthesizer) Blob(ctx context.Context, text string) ([]byte, error) {
	groups := SplitSentences(text)
	if len(groups) == 0 {
		return nil, ErrEmptyText
	}

	var pcm []byte
	var format AudioFormat
	for i, g := range groups {
		res, err := s.synthesize(ctx, g)
		if err != nil {
			return nil, fmt.Errorf("sentence %d: %w", i+1, err)
		}
		if i == 0 {
			format = res.Format
		} else if res.Format.SampleRate != format.SampleRate || res.Format.Channels != format.Channels {
			return nil, ErrFormatMismatch
		}
		pcm = append(pcm, res.Audio...)
	}

	s.logger.Debug("synthesized blob", "groups", len(groups), "bytes", len(pcm))
	return protocol.EncodeWAV(audioio.BytesToSamples(pcm), format.SampleRate, format.Channels), nil
}

// Stream synthesizes the first sentence group immediately, so provider
// failures surface before any response is written, and returns a
// FrameStream that renders the remaining groups while writing.
func (s *Synthesizer) Stream(ctx context.Context, text string) (*FrameStream, error) {
	groups := SplitSentences(text)
	if len(groups) == 0 {
		return nil, ErrEmptyText
	}
	first, err := s.synthesize(ctx, groups[0])
	if err != nil {
		return nil, err
	}
	return &FrameStream{synth: s, ctx: ctx, first: first, rest: groups[1:]}, nil
}

// FrameStream writes uint32-length-prefixed WAV frames, one per sentence group.
type FrameStream struct {
	synth *Synthesizer
	ctx   context.Context
	first *AudioResult
	rest  []string
}

// Groups returns the number of frames the stream will write.
func (f *FrameStream) Groups() int {
	return 1 + len(f.rest)
}

// WriteTo writes every frame to w, calling Flush after each one when w
// supports it. A synthesis failure after the first frame ends the stream
// early; the frames already written stay valid.
func (f *FrameStream) WriteTo(w io.Writer) (int64, error) {
	var written int64
	emit := func(res *AudioResult) error {
		wav := protocol.EncodeWAV(audioio.BytesToSamples(res.Audio), res.Format.SampleRate, res.Format.Channels)
		if err := protocol.WriteFrame(w, wav); err != nil {
			return err
		}
		written += int64(4 + len(wav))
		if fl, ok := w.(interface{ Flush() error }); ok {
			return fl.Flush()
		}
		return nil
	}

	if err := emit(f.first); err != nil {
		return written, err
	}
	for i, g := range f.rest {
		if err := f.ctx.Err(); err != nil {
			return written, err
		}
		res, err := f.synth.synthesize(f.ctx, g)
		if err != nil {
			f.synth.logger.Warn("stream truncated", "group", i+2, "error", err)
			return written, err
		}
		if err := emit(res); err != nil {
			return written, err
		}
	}
	return written, nil
}

// Preview shortens text for logs.
func Preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= n {
		return text
	}
	return text[:n] + "..."
}
