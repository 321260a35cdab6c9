package audioio

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource is an in-memory audio source for tests and headless runs.
// It generates silence or a sine wave on a ticker, and tests can inject
// chunks directly with Push.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	generate bool
	streamCh chan AudioChunk
	stopCh   chan struct{}

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64

	phase     float64
	frequency float64 // Hz, 0 = silence
	amplitude float64 // 0.0 to 1.0
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave configures the mock to generate a sine wave.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithoutGenerator disables the ticker; only pushed chunks are delivered.
func WithoutGenerator() MockSourceOption {
	return func(m *MockSource) {
		m.generate = false
	}
}

// NewMockSource creates a new mock audio source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MockSource{
		cfg:       cfg,
		logger:    logger,
		generate:  true,
		streamCh:  closedStream(),
		amplitude: 0.5,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins delivering audio.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.running {
		return nil
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.streamCh = make(chan AudioChunk, 50)

	if m.generate {
		go m.generateLoop(ctx, m.stopCh)
	}
	return nil
}

func (m *MockSource) generateLoop(ctx context.Context, stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.BufferDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = m.Stop()
			return
		case <-stop:
			return
		case <-ticker.C:
			m.Push(m.generateChunk())
		}
	}
}

func (m *MockSource) generateChunk() AudioChunk {
	bufferSize := m.cfg.BufferSize()
	samples := make([]int16, bufferSize*m.cfg.Channels)

	if m.frequency > 0 {
		for i := 0; i < bufferSize; i++ {
			sample := m.amplitude * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate))
			for ch := 0; ch < m.cfg.Channels; ch++ {
				samples[i*m.cfg.Channels+ch] = int16(sample * 32767)
			}
			m.phase++
			if m.phase >= float64(m.cfg.SampleRate) {
				m.phase = 0
			}
		}
	}

	return AudioChunk{
		Samples:    samples,
		SampleRate: m.cfg.SampleRate,
		Channels:   m.cfg.Channels,
	}
}

// Push delivers chunk to the stream if the source is running.
// It reports false when the chunk was dropped.
func (m *MockSource) Push(chunk AudioChunk) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return false
	}
	select {
	case m.streamCh <- chunk:
		m.chunksRead.Add(1)
		m.samplesRead.Add(int64(len(chunk.Samples)))
		return true
	default:
		m.overruns.Add(1)
		return false
	}
}

// Stop halts audio delivery and closes the stream.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false
	close(m.stopCh)
	close(m.streamCh)
	return nil
}

// Stream returns the audio chunk channel.
func (m *MockSource) Stream() <-chan AudioChunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCh
}

// Config returns the audio configuration.
func (m *MockSource) Config() Config { return m.cfg }

// Name returns "mock".
func (m *MockSource) Name() string { return string(BackendMock) }

// Close releases resources.
func (m *MockSource) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.Stop()
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	return SourceStats{
		ChunksRead:  m.chunksRead.Load(),
		SamplesRead: m.samplesRead.Load(),
		Overruns:    m.overruns.Load(),
		Running:     running,
		Backend:     m.Name(),
	}
}

// MockSink records written audio. Flush simulates playback time by waiting
// FlushDelay, returning early when Clear is called or ctx is done.
type MockSink struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	closed     bool
	written    []AudioChunk
	cleared    chan struct{}
	flushDelay time.Duration
	onWrite    func(AudioChunk)

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
	clears         atomic.Int64
	playing        atomic.Bool
}

// MockSinkOption configures a MockSink.
type MockSinkOption func(*MockSink)

// WithFlushDelay makes each Flush block for d.
func WithFlushDelay(d time.Duration) MockSinkOption {
	return func(m *MockSink) { m.flushDelay = d }
}

// WithWriteHook calls fn for every written chunk.
func WithWriteHook(fn func(AudioChunk)) MockSinkOption {
	return func(m *MockSink) { m.onWrite = fn }
}

// NewMockSink creates a new mock audio sink.
func NewMockSink(cfg Config, logger *slog.Logger, opts ...MockSinkOption) *MockSink {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MockSink{
		cfg:     cfg,
		logger:  logger,
		cleared: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Write records chunk.
func (m *MockSink) Write(ctx context.Context, chunk AudioChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.written = append(m.written, chunk)
	hook := m.onWrite
	m.mu.Unlock()

	m.playing.Store(true)
	m.chunksWritten.Add(1)
	m.samplesWritten.Add(int64(len(chunk.Samples)))
	if hook != nil {
		hook(chunk)
	}
	return nil
}

// Flush waits the configured delay.
func (m *MockSink) Flush(ctx context.Context) error {
	defer m.playing.Store(false)
	if m.flushDelay <= 0 {
		return nil
	}

	m.mu.Lock()
	cleared := m.cleared
	m.mu.Unlock()

	timer := time.NewTimer(m.flushDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-cleared:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clear interrupts a pending Flush.
func (m *MockSink) Clear() error {
	m.mu.Lock()
	close(m.cleared)
	m.cleared = make(chan struct{})
	m.mu.Unlock()

	m.clears.Add(1)
	m.playing.Store(false)
	return nil
}

// Written returns a copy of every chunk written so far.
func (m *MockSink) Written() []AudioChunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AudioChunk(nil), m.written...)
}

// Config returns the audio configuration.
func (m *MockSink) Config() Config { return m.cfg }

// Name returns "mock".
func (m *MockSink) Name() string { return string(BackendMock) }

// Close releases resources.
func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Stats returns sink statistics.
func (m *MockSink) Stats() SinkStats {
	return SinkStats{
		ChunksWritten:  m.chunksWritten.Load(),
		SamplesWritten: m.samplesWritten.Load(),
		Clears:         m.clears.Load(),
		Playing:        m.playing.Load(),
		Backend:        m.Name(),
	}
}
