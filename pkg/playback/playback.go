// Package playback fetches synthesized speech and plays it in order.
//
// Every Play bumps a generation counter. Each asynchronous step compares its
// generation with the current one, so only the newest request can make a
// sound or report completion. Cancel (barge-in) bumps the generation too.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-murmur/pkg/audioio"
	"github.com/teslashibe/go-murmur/pkg/protocol"
)

// errStale aborts a request that a newer one has replaced.
var errStale = errors.New("playback: superseded")

// Request is one utterance to play.
type Request struct {
	CategoryID string
	MessageID  string
	Text       string
}

// Completion reports that the request of Generation finished playing.
// Fallback is set when the local speaker was used instead; Err is then
// the speaker's error, if any.
type Completion struct {
	Request
	Generation uint64
	Fallback   bool
	Err        error
}

// Pipeline plays synthesized speech through an audio sink.
type Pipeline struct {
	cfg     Config
	fetcher Fetcher
	sink    audioio.Sink
	speaker Speaker
	cue     *Cue
	logger  *slog.Logger

	gen atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc

	done chan Completion
}

// New creates a pipeline. speaker is used when synthesis fails.
func New(fetcher Fetcher, sink audioio.Sink, speaker Speaker, opts ...Option) *Pipeline {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	p := &Pipeline{
		cfg:     cfg,
		fetcher: fetcher,
		sink:    sink,
		speaker: speaker,
		logger:  cfg.Logger.With("component", "playback"),
		done:    make(chan Completion, 8),
	}
	if cfg.ThinkingCue {
		p.cue = NewCue(sink, cfg.CueInterval)
	}
	return p
}

// Done delivers completions of current requests.
func (p *Pipeline) Done() <-chan Completion {
	return p.done
}

// Generation returns the current generation.
func (p *Pipeline) Generation() uint64 {
	return p.gen.Load()
}

// Current reports whether gen is still the newest generation.
func (p *Pipeline) Current(gen uint64) bool {
	return p.gen.Load() == gen
}

// Play starts playing req, superseding anything in flight, and returns the
// request's generation.
func (p *Pipeline) Play(ctx context.Context, req Request) uint64 {
	gen := p.gen.Add(1)

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	prev := p.cancel
	p.cancel = cancel
	p.mu.Unlock()
	if prev != nil {
		prev()
		_ = p.sink.Clear()
	}

	p.logger.Debug("play", "generation", gen, "category", req.CategoryID, "chars", len(req.Text))
	go p.run(ctx, gen, req)
	return gen
}

// Cancel stops playback and the thinking cue and invalidates every
// outstanding request.
func (p *Pipeline) Cancel() {
	p.gen.Add(1)

	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	p.StopThinking()
	_ = p.sink.Clear()
}

// StartThinking starts the thinking cue if it is enabled.
func (p *Pipeline) StartThinking(ctx context.Context) {
	if p.cue != nil {
		p.cue.Start(ctx)
	}
}

// StepThinking raises the thinking cue's pitch.
func (p *Pipeline) StepThinking() {
	if p.cue != nil {
		p.cue.Step()
	}
}

// StopThinking stops the thinking cue.
func (p *Pipeline) StopThinking() {
	if p.cue != nil {
		p.cue.Stop()
	}
}

// Thinking reports whether the cue is running.
func (p *Pipeline) Thinking() bool {
	return p.cue != nil && p.cue.Active()
}

func (p *Pipeline) run(ctx context.Context, gen uint64, req Request) {
	var err error
	if p.cfg.Streaming {
		err = p.playStream(ctx, gen, req.Text)
	} else {
		err = p.playBlob(ctx, gen, req.Text)
	}
	if !p.Current(gen) || ctx.Err() != nil {
		return
	}

	c := Completion{Request: req, Generation: gen}
	if err != nil {
		p.logger.Warn("synthesis failed, using local speaker", "generation", gen, "error", err)
		p.StopThinking()
		c.Fallback = true
		c.Err = p.speaker.Say(ctx, req.Text)
		if !p.Current(gen) {
			return
		}
	}

	select {
	case p.done <- c:
	case <-ctx.Done():
	}
}

func (p *Pipeline) playBlob(ctx context.Context, gen uint64, text string) error {
	data, err := p.fetcher.Blob(ctx, text)
	if err != nil {
		return err
	}
	pcm, err := protocol.DecodeWAV(data)
	if err != nil {
		return err
	}
	if !p.Current(gen) {
		return errStale
	}

	p.StopThinking()
	if err := p.sink.Write(ctx, chunkFromPCM(pcm)); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	return p.sink.Flush(ctx)
}

// playStream plays frames as they arrive. A stream that breaks after audio
// has started is cut short rather than repeated through the fallback.
func (p *Pipeline) playStream(ctx context.Context, gen uint64, text string) error {
	body, err := p.fetcher.Stream(ctx, text)
	if err != nil {
		return err
	}
	defer body.Close()

	frames := protocol.NewFrameReader(body)
	started := false
	for {
		frame, err := frames.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err == nil {
			var pcm *protocol.PCM
			pcm, err = protocol.DecodeWAV(frame)
			if err == nil {
				if !p.Current(gen) {
					return errStale
				}
				if !started {
					p.StopThinking()
					started = true
				}
				err = p.sink.Write(ctx, chunkFromPCM(pcm))
			}
		}
		if err != nil {
			if !started {
				return err
			}
			p.logger.Warn("audio stream interrupted", "generation", gen, "error", err)
			break
		}
	}

	if !started {
		return nil
	}
	return p.sink.Flush(ctx)
}

func chunkFromPCM(pcm *protocol.PCM) audioio.AudioChunk {
	return audioio.AudioChunk{
		Samples:    pcm.Samples,
		SampleRate: pcm.SampleRate,
		Channels:   pcm.Channels,
	}
}
