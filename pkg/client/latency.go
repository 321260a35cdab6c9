package client

import (
	"sync"
	"time"
)

// Turn holds the timing of one spoken exchange. Every latency is measured
// from the moment the user's speech was sent.
type Turn struct {
	SpeechEnd  time.Time
	Transcript time.Time
	Reply      time.Time
	Playback   time.Time
	Done       time.Time

	ASR      time.Duration // speech sent to transcript
	Provider time.Duration // speech sent to provider reply
	Speech   time.Duration // speech sent to playback start
	Total    time.Duration // speech sent to playback finished
}

// LatencyTracker records turn timings.
type LatencyTracker struct {
	mu      sync.Mutex
	current Turn
	history []Turn
	onDone  func(Turn)
}

const latencyHistory = 50

// NewLatencyTracker creates a tracker.
func NewLatencyTracker() *LatencyTracker {
	return &LatencyTracker{history: make([]Turn, 0, latencyHistory)}
}

// OnDone sets a callback invoked with each finished turn.
func (l *LatencyTracker) OnDone(fn func(Turn)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onDone = fn
}

// MarkSpeechEnd starts a new turn.
func (l *LatencyTracker) MarkSpeechEnd() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = Turn{SpeechEnd: time.Now()}
}

// MarkTranscript records the transcript arriving.
func (l *LatencyTracker) MarkTranscript() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current.SpeechEnd.IsZero() || !l.current.Transcript.IsZero() {
		return
	}
	l.current.Transcript = time.Now()
	l.current.ASR = l.current.Transcript.Sub(l.current.SpeechEnd)
}

// MarkReply records the first provider reply.
func (l *LatencyTracker) MarkReply() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current.SpeechEnd.IsZero() || !l.current.Reply.IsZero() {
		return
	}
	l.current.Reply = time.Now()
	l.current.Provider = l.current.Reply.Sub(l.current.SpeechEnd)
}

// MarkPlayback records playback starting.
func (l *LatencyTracker) MarkPlayback() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current.SpeechEnd.IsZero() || !l.current.Playback.IsZero() {
		return
	}
	l.current.Playback = time.Now()
	l.current.Speech = l.current.Playback.Sub(l.current.SpeechEnd)
}

// MarkDone finishes the turn and archives it.
func (l *LatencyTracker) MarkDone() {
	l.mu.Lock()
	if l.current.SpeechEnd.IsZero() {
		l.mu.Unlock()
		return
	}
	l.current.Done = time.Now()
	l.current.Total = l.current.Done.Sub(l.current.SpeechEnd)
	turn := l.current
	l.history = append(l.history, turn)
	if len(l.history) > latencyHistory {
		l.history = l.history[1:]
	}
	l.current = Turn{}
	fn := l.onDone
	l.mu.Unlock()

	if fn != nil {
		fn(turn)
	}
}

// Current returns the turn in progress.
func (l *LatencyTracker) Current() Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Average returns mean latencies over recent turns.
func (l *LatencyTracker) Average() Turn {
	l.mu.Lock()
	defer l.mu.Unlock()

	var avg Turn
	if len(l.history) == 0 {
		return avg
	}
	for _, t := range l.history {
		avg.ASR += t.ASR
		avg.Provider += t.Provider
		avg.Speech += t.Speech
		avg.Total += t.Total
	}
	n := time.Duration(len(l.history))
	avg.ASR /= n
	avg.Provider /= n
	avg.Speech /= n
	avg.Total /= n
	return avg
}

// Format renders the latencies on one line.
func (t Turn) Format() string {
	return formatDuration(t.ASR) + " asr | " +
		formatDuration(t.Provider) + " reply | " +
		formatDuration(t.Speech) + " speech | " +
		formatDuration(t.Total) + " total"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---"
	}
	return d.Round(time.Millisecond).String()
}
