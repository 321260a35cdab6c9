package audioio

import (
	"context"
	"testing"
	"time"
)

func TestMockSource_StartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendMock
	cfg.BufferDuration = 10 * time.Millisecond

	src := NewMockSource(cfg, nil)
	defer src.Close()

	ctx := context.Background()

	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// Starting again should be a no-op
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	// Stopping again should be a no-op
	if err := src.Stop(); err != nil {
		t.Fatalf("Second Stop failed: %v", err)
	}
}

func TestMockSource_Stream(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendMock
	cfg.BufferDuration = 10 * time.Millisecond

	src := NewMockSource(cfg, nil)
	defer src.Close()

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case chunk := <-src.Stream():
		if want := cfg.BufferSize() * cfg.Channels; len(chunk.Samples) != want {
			t.Errorf("Expected %d samples, got %d", want, len(chunk.Samples))
		}
		if chunk.SampleRate != cfg.SampleRate {
			t.Errorf("Expected sample rate %d, got %d", cfg.SampleRate, chunk.SampleRate)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for chunk")
	}
}

func TestMockSource_SineWave(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendMock
	cfg.BufferDuration = 10 * time.Millisecond

	src := NewMockSource(cfg, nil, WithSineWave(440, 0.5))
	defer src.Close()

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	chunk := <-src.Stream()
	rms := CalculateRMS(chunk.Samples)
	// A sine at amplitude 0.5 has RMS 0.5/sqrt(2) ~= 0.354
	if rms < 0.3 || rms > 0.4 {
		t.Errorf("Expected RMS ~0.35 for sine wave, got %f", rms)
	}
}

func TestMockSource_PushWithoutGenerator(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendMock

	src := NewMockSource(cfg, nil, WithoutGenerator())
	defer src.Close()

	chunk := AudioChunk{Samples: []int16{1, 2, 3}, SampleRate: 16000, Channels: 1}
	if src.Push(chunk) {
		t.Fatal("Push should fail before Start")
	}

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !src.Push(chunk) {
		t.Fatal("Push failed on running source")
	}
	got := <-src.Stream()
	if len(got.Samples) != 3 || got.Samples[2] != 3 {
		t.Errorf("Unexpected chunk: %v", got.Samples)
	}

	if err := src.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if _, ok := <-src.Stream(); ok {
		t.Error("Stream should be closed after Stop")
	}
	if stats := src.Stats(); stats.ChunksRead != 1 || stats.Running {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestMockSource_Close(t *testing.T) {
	src := NewMockSource(DefaultConfig(), nil)

	if err := src.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := src.Start(context.Background()); err != ErrClosed {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
}

func TestMockSink_WriteFlushClear(t *testing.T) {
	sink := NewMockSink(DefaultConfig(), nil)
	defer sink.Close()

	ctx := context.Background()
	chunk := AudioChunk{
		Samples:    make([]int16, 480),
		SampleRate: 24000,
		Channels:   1,
	}

	if err := sink.Write(ctx, chunk); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if stats := sink.Stats(); stats.ChunksWritten != 1 || !stats.Playing {
		t.Errorf("Unexpected stats after write: %+v", stats)
	}
	if err := sink.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if err := sink.Write(ctx, chunk); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := sink.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	stats := sink.Stats()
	if stats.ChunksWritten != 2 || stats.Clears != 1 || stats.Playing {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if len(sink.Written()) != 2 {
		t.Errorf("Expected 2 recorded chunks, got %d", len(sink.Written()))
	}
}

func TestMockSink_ClearInterruptsFlush(t *testing.T) {
	sink := NewMockSink(DefaultConfig(), nil, WithFlushDelay(10*time.Second))
	defer sink.Close()

	done := make(chan error, 1)
	go func() { done <- sink.Flush(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	if err := sink.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Flush returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Flush was not interrupted by Clear")
	}
}

func TestMockSink_Closed(t *testing.T) {
	sink := NewMockSink(DefaultConfig(), nil)
	sink.Close()

	err := sink.Write(context.Background(), AudioChunk{Samples: []int16{0}, SampleRate: 16000, Channels: 1})
	if err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestAudioChunk_Bytes(t *testing.T) {
	chunk := AudioChunk{
		Samples:    []int16{0x0102, 0x0304, -1},
		SampleRate: 24000,
		Channels:   1,
	}

	data := chunk.Bytes()
	if len(data) != 6 {
		t.Fatalf("Expected 6 bytes, got %d", len(data))
	}
	// Little-endian
	if data[0] != 0x02 || data[1] != 0x01 {
		t.Errorf("First sample not encoded correctly: %v", data[0:2])
	}
}

func TestChunkFromBytes(t *testing.T) {
	chunk := ChunkFromBytes([]byte{0x02, 0x01, 0x04, 0x03, 0xFF, 0xFF}, 24000, 1)

	if len(chunk.Samples) != 3 {
		t.Fatalf("Expected 3 samples, got %d", len(chunk.Samples))
	}
	if chunk.Samples[0] != 0x0102 {
		t.Errorf("First sample incorrect: got %d, expected %d", chunk.Samples[0], 0x0102)
	}
	if chunk.Samples[2] != -1 {
		t.Errorf("Third sample incorrect: got %d, expected -1", chunk.Samples[2])
	}
}

func TestAudioChunk_Duration(t *testing.T) {
	tests := []struct {
		name  string
		chunk AudioChunk
		want  time.Duration
	}{
		{"20ms mono", AudioChunk{Samples: make([]int16, 480), SampleRate: 24000, Channels: 1}, 20 * time.Millisecond},
		{"20ms stereo", AudioChunk{Samples: make([]int16, 640), SampleRate: 16000, Channels: 2}, 20 * time.Millisecond},
		{"no format", AudioChunk{Samples: make([]int16, 10)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.chunk.Duration(); got != tt.want {
				t.Errorf("Duration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConcat(t *testing.T) {
	a := AudioChunk{Samples: []int16{1, 2}, SampleRate: 16000, Channels: 1}
	b := AudioChunk{Samples: []int16{3}, SampleRate: 16000, Channels: 1}

	got := Concat([]AudioChunk{a, b})
	if len(got.Samples) != 3 || got.Samples[0] != 1 || got.Samples[2] != 3 {
		t.Errorf("Concat order wrong: %v", got.Samples)
	}
	if got.SampleRate != 16000 {
		t.Errorf("Concat lost the sample rate")
	}
	if empty := Concat(nil); len(empty.Samples) != 0 {
		t.Errorf("Concat(nil) should be empty")
	}
}
