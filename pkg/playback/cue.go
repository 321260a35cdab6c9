package playback

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/go-murmur/pkg/audioio"
)

const (
	cueFreq      = 440.0
	cueStepFreq  = 587.33 // a fourth up once the reply is in
	cueLength    = 120 * time.Millisecond
	cueAmplitude = 0.08
)

// Cue plays a soft periodic tone while the user waits for a reply.
type Cue struct {
	sink     audioio.Sink
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stepped bool
	beeps   int
}

// NewCue creates a cue that writes to sink every interval.
func NewCue(sink audioio.Sink, interval time.Duration) *Cue {
	if interval <= 0 {
		interval = DefaultConfig().CueInterval
	}
	return &Cue{sink: sink, interval: interval}
}

// Start begins the cue. Starting a running cue is a no-op.
func (c *Cue) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.stepped = false
	go c.loop(ctx, c.done)
}

// Step raises the pitch of the following tones. Only the first call counts.
func (c *Cue) Step() {
	c.mu.Lock()
	c.stepped = true
	c.mu.Unlock()
}

// Stop ends the cue and waits for the current tone to be cut off.
func (c *Cue) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Active reports whether the cue is running.
func (c *Cue) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Beeps returns how many tones have been played.
func (c *Cue) Beeps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.beeps
}

func (c *Cue) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.beep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Cue) beep(ctx context.Context) {
	c.mu.Lock()
	freq := cueFreq
	if c.stepped {
		freq = cueStepFreq
	}
	c.beeps++
	c.mu.Unlock()

	rate := c.sink.Config().SampleRate
	if rate <= 0 {
		rate = 16000
	}
	chunk := audioio.AudioChunk{
		Samples:    audioio.Tone(freq, cueLength, rate, cueAmplitude),
		SampleRate: rate,
		Channels:   1,
	}
	if err := c.sink.Write(ctx, chunk); err != nil {
		return
	}
	_ = c.sink.Flush(ctx)
}
