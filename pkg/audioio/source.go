package audioio

import (
	"context"
	"io"
	"time"
)

// AudioChunk represents a chunk of PCM16 audio.
type AudioChunk struct {
	// Samples contains interleaved PCM16 samples.
	Samples []int16

	// SampleRate is the sample rate of this chunk.
	SampleRate int

	// Channels is the number of channels in this chunk.
	Channels int
}

// Bytes returns the samples as little-endian PCM16.
func (c AudioChunk) Bytes() []byte {
	return SamplesToBytes(c.Samples)
}

// ChunkFromBytes builds a chunk from little-endian PCM16 bytes.
func ChunkFromBytes(data []byte, sampleRate, channels int) AudioChunk {
	return AudioChunk{
		Samples:    BytesToSamples(data),
		SampleRate: sampleRate,
		Channels:   channels,
	}
}

// Duration returns the playback duration of this chunk.
func (c AudioChunk) Duration() time.Duration {
	if c.SampleRate == 0 || c.Channels == 0 {
		return 0
	}
	frames := len(c.Samples) / c.Channels
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// Concat joins chunks in order. The format of the first chunk is used;
// no resampling is performed.
func Concat(chunks []AudioChunk) AudioChunk {
	if len(chunks) == 0 {
		return AudioChunk{}
	}
	n := 0
	for _, c := range chunks {
		n += len(c.Samples)
	}
	out := AudioChunk{
		Samples:    make([]int16, 0, n),
		SampleRate: chunks[0].SampleRate,
		Channels:   chunks[0].Channels,
	}
	for _, c := range chunks {
		out.Samples = append(out.Samples, c.Samples...)
	}
	return out
}

// Source captures audio from a microphone or other input device.
type Source interface {
	// Start begins audio capture. Chunks are delivered on Stream.
	Start(ctx context.Context) error

	// Stop halts audio capture. It is safe to call Stop multiple times.
	Stop() error

	// Stream returns the channel for the current capture run.
	// The channel is closed when the source stops.
	Stream() <-chan AudioChunk

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name.
	Name() string

	// Close releases all resources. After Close, the source cannot be restarted.
	io.Closer
}

// SourceStats contains statistics about the audio source.
type SourceStats struct {
	ChunksRead  int64  `json:"chunks_read"`
	SamplesRead int64  `json:"samples_read"`
	Overruns    int64  `json:"overruns"` // Chunks dropped because the consumer was slow
	Running     bool   `json:"running"`
	Backend     string `json:"backend"`
}
