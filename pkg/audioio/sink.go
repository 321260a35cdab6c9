package audioio

import (
	"context"
	"io"
)

// Sink plays audio to a speaker or other output device.
type Sink interface {
	// Write queues a chunk for playback. Chunks play in write order.
	Write(ctx context.Context, chunk AudioChunk) error

	// Flush blocks until everything written so far has been played,
	// Clear is called, or ctx is done.
	Flush(ctx context.Context) error

	// Clear discards buffered audio and stops playback immediately.
	Clear() error

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name.
	Name() string

	// Close releases all resources.
	io.Closer
}

// SinkStats contains statistics about the audio sink.
type SinkStats struct {
	ChunksWritten  int64  `json:"chunks_written"`
	SamplesWritten int64  `json:"samples_written"`
	Clears         int64  `json:"clears"`
	Playing        bool   `json:"playing"`
	Backend        string `json:"backend"`
}
