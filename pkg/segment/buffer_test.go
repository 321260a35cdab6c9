package segment

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-murmur/pkg/audioio"
)

func seg(samples ...int16) audioio.AudioChunk {
	return audioio.AudioChunk{Samples: samples, SampleRate: 16000, Channels: 1}
}

func TestFlushPreservesOrder(t *testing.T) {
	b := New(time.Second, false)

	first, err := b.OnSegmentCaptured(seg(1, 2))
	require.NoError(t, err)
	assert.True(t, first)
	first, err = b.OnSegmentCaptured(seg(3))
	require.NoError(t, err)
	assert.False(t, first)
	_, _ = b.OnSegmentCaptured(seg(4, 5, 6))
	assert.Equal(t, Accumulating, b.State())
	assert.Equal(t, 3, b.Segments())

	var sent audioio.AudioChunk
	var stateDuringSend State
	ok, err := b.Flush(func(c audioio.AudioChunk) error {
		sent = c
		stateDuringSend = b.State()
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []int16{1, 2, 3, 4, 5, 6}, sent.Samples)
	assert.Equal(t, 16000, sent.SampleRate)
	assert.Equal(t, Flushing, stateDuringSend)

	assert.Equal(t, Idle, b.State())
	assert.False(t, b.HasBufferedSpeech())
	assert.Zero(t, b.Segments())

	// The next segment starts a new batch.
	first, _ = b.OnSegmentCaptured(seg(7))
	assert.True(t, first)
}

func TestFlushFailureDropsBuffer(t *testing.T) {
	b := New(time.Second, false)
	_, _ = b.OnSegmentCaptured(seg(1))

	ok, err := b.Flush(func(audioio.AudioChunk) error { return errors.New("offline") })
	assert.True(t, ok)
	assert.EqualError(t, err, "offline")
	assert.False(t, b.HasBufferedSpeech())
	assert.Equal(t, Idle, b.State())
}

func TestFlushEmpty(t *testing.T) {
	b := New(time.Second, false)
	called := false
	ok, err := b.Flush(func(audioio.AudioChunk) error { called = true; return nil })
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, called)
}

func TestNoAppendWhileFlushing(t *testing.T) {
	b := New(time.Second, false)
	_, _ = b.OnSegmentCaptured(seg(1))

	var appendErr error
	_, _ = b.Flush(func(audioio.AudioChunk) error {
		_, appendErr = b.OnSegmentCaptured(seg(2))
		return nil
	})
	assert.ErrorIs(t, appendErr, ErrFlushing)
	assert.False(t, b.HasBufferedSpeech())
}

func TestDebounceFires(t *testing.T) {
	b := New(20*time.Millisecond, true)
	_, _ = b.OnSegmentCaptured(seg(1))

	select {
	case gen := <-b.Fired():
		assert.True(t, b.Fire(gen))
	case <-time.After(time.Second):
		t.Fatal("debounce did not fire")
	}
}

func TestSpeechStartCancelsDebounce(t *testing.T) {
	b := New(20*time.Millisecond, true)
	_, _ = b.OnSegmentCaptured(seg(1))
	b.OnSpeechStarted()

	select {
	case gen := <-b.Fired():
		// A timer that raced the cancellation must be rejected.
		assert.False(t, b.Fire(gen))
	case <-time.After(60 * time.Millisecond):
	}
	assert.True(t, b.HasBufferedSpeech())
}

func TestStaleFireIgnored(t *testing.T) {
	b := New(time.Hour, true)
	_, _ = b.OnSegmentCaptured(seg(1))
	stale := b.timerGen
	_, _ = b.OnSegmentCaptured(seg(2)) // reschedules

	assert.False(t, b.Fire(stale))
	assert.True(t, b.Fire(b.timerGen))
}

func TestHandsFreeOffKeepsAudio(t *testing.T) {
	b := New(20*time.Millisecond, true)
	_, _ = b.OnSegmentCaptured(seg(1, 2))
	b.SetHandsFree(false)

	select {
	case gen := <-b.Fired():
		assert.False(t, b.Fire(gen))
	case <-time.After(60 * time.Millisecond):
	}
	assert.True(t, b.HasBufferedSpeech())
	assert.Equal(t, time.Duration(125)*time.Microsecond, b.Duration())
}

func TestCancel(t *testing.T) {
	b := New(time.Second, true)
	_, _ = b.OnSegmentCaptured(seg(1))
	b.Cancel()
	assert.False(t, b.HasBufferedSpeech())
	assert.Equal(t, Idle, b.State())
}
