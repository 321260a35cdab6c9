package client

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyTracker(t *testing.T) {
	l := NewLatencyTracker()
	done := make(chan Turn, 1)
	l.OnDone(func(turn Turn) { done <- turn })

	// Marks before a turn starts are ignored.
	l.MarkTranscript()
	l.MarkDone()
	assert.True(t, l.Current().Transcript.IsZero())

	l.MarkSpeechEnd()
	time.Sleep(2 * time.Millisecond)
	l.MarkTranscript()
	l.MarkReply()
	l.MarkPlayback()
	l.MarkDone()

	turn := <-done
	assert.Greater(t, turn.ASR, time.Duration(0))
	assert.GreaterOrEqual(t, turn.Total, turn.Speech)
	assert.GreaterOrEqual(t, turn.Speech, turn.Provider)
	assert.Equal(t, turn.Total, l.Average().Total)
	assert.Contains(t, turn.Format(), "total")
}

func TestConsoleTranscript(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out)

	c.Transcript("", "hello there")
	c.Warn("careful")

	assert.Contains(t, out.String(), "global")
	assert.Contains(t, out.String(), "you: hello there")
	assert.Contains(t, out.String(), "careful")
}
