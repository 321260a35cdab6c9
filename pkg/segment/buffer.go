// Package segment accumulates captured speech segments until they are sent
// for transcription as one batch.
package segment

import (
	"errors"
	"time"

	"github.com/teslashibe/go-murmur/pkg/audioio"
)

// ErrFlushing is returned when a segment arrives while a flush is in progress.
var ErrFlushing = errors.New("segment: flush in progress")

// State is the buffer lifecycle.
type State int

const (
	Idle State = iota
	Accumulating
	Flushing
)

func (s State) String() string {
	switch s {
	case Accumulating:
		return "accumulating"
	case Flushing:
		return "flushing"
	default:
		return "idle"
	}
}

// Buffer holds the segments captured since the last flush. It is owned by a
// single goroutine (the client dispatch loop); the debounce timer only posts
// to Fired, and the owner decides whether to flush by calling Fire.
type Buffer struct {
	debounce  time.Duration
	handsFree bool

	state     State
	chunks    []audioio.AudioChunk
	hasSpeech bool

	timer    *time.Timer
	timerGen uint64
	fired    chan uint64
}

// New creates a buffer. debounce is the hands-free pause before an
// automatic flush.
func New(debounce time.Duration, handsFree bool) *Buffer {
	return &Buffer{
		debounce:  debounce,
		handsFree: handsFree,
		fired:     make(chan uint64, 8),
	}
}

// OnSegmentCaptured appends a segment. It reports whether this is the first
// segment since the last flush, in which case the caller creates the pending
// user message. In hands-free mode the debounce flush is (re)scheduled.
func (b *Buffer) OnSegmentCaptured(chunk audioio.AudioChunk) (first bool, err error) {
	if b.state == Flushing {
		return false, ErrFlushing
	}
	first = !b.hasSpeech
	b.chunks = append(b.chunks, chunk)
	b.hasSpeech = true
	b.state = Accumulating
	if b.handsFree {
		b.schedule()
	}
	return first, nil
}

// OnSpeechStarted cancels a scheduled flush; the speaker is still talking.
// Barge-in on playback is the caller's concern.
func (b *Buffer) OnSpeechStarted() {
	b.cancelTimer()
}

func (b *Buffer) schedule() {
	b.cancelTimer()
	gen := b.timerGen
	fired := b.fired
	b.timer = time.AfterFunc(b.debounce, func() {
		select {
		case fired <- gen:
		default:
		}
	})
}

func (b *Buffer) cancelTimer() {
	b.timerGen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// Fired delivers debounce expirations. Pass each value to Fire.
func (b *Buffer) Fired() <-chan uint64 {
	return b.fired
}

// Fire reports whether a debounce expiration is still current, meaning the
// owner should flush now. Stale expirations (superseded by new speech or a
// cancellation) return false.
func (b *Buffer) Fire(gen uint64) bool {
	if gen != b.timerGen || b.timer == nil {
		return false
	}
	b.timer = nil
	return b.hasSpeech
}

// Flush concatenates the buffered segments in arrival order, clears the
// buffer, and hands the payload to send. The buffer is empty afterwards
// whether or not send succeeded. It reports false without calling send
// when nothing is buffered.
func (b *Buffer) Flush(send func(audioio.AudioChunk) error) (bool, error) {
	b.cancelTimer()
	if !b.hasSpeech {
		b.state = Idle
		return false, nil
	}

	b.state = Flushing
	payload := audioio.Concat(b.chunks)
	b.chunks = nil
	b.hasSpeech = false

	err := send(payload)
	b.state = Idle
	return true, err
}

// Cancel drops everything buffered and any scheduled flush.
func (b *Buffer) Cancel() {
	b.cancelTimer()
	b.chunks = nil
	b.hasSpeech = false
	b.state = Idle
}

// SetHandsFree toggles automatic flushing. Turning it off cancels a
// scheduled flush but keeps buffered audio.
func (b *Buffer) SetHandsFree(on bool) {
	b.handsFree = on
	if !on {
		b.cancelTimer()
	} else if b.hasSpeech {
		b.schedule()
	}
}

// HandsFree reports whether automatic flushing is on.
func (b *Buffer) HandsFree() bool { return b.handsFree }

// HasBufferedSpeech reports whether any segment is waiting.
func (b *Buffer) HasBufferedSpeech() bool { return b.hasSpeech }

// Segments returns the number of buffered segments.
func (b *Buffer) Segments() int { return len(b.chunks) }

// State returns the lifecycle state.
func (b *Buffer) State() State { return b.state }

// Duration returns the total buffered audio duration.
func (b *Buffer) Duration() time.Duration {
	var d time.Duration
	for _, c := range b.chunks {
		d += c.Duration()
	}
	return d
}
