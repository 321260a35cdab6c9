package audioio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by sources and sinks used after Close.
var ErrClosed = errors.New("audioio: closed")

// ErrCleared is returned by a Write interrupted by Clear.
var ErrCleared = errors.New("audioio: playback cleared")

// ExecSource captures audio by reading raw PCM16 from a recorder process's stdout.
type ExecSource struct {
	cfg    Config
	args   []string
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	cancel   context.CancelFunc
	done     chan struct{}
	streamCh chan AudioChunk

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

// NewExecSource creates a source for cfg.Command.
func NewExecSource(cfg Config, logger *slog.Logger) (*ExecSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	args, err := cfg.CommandArgs()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecSource{
		cfg:      cfg,
		args:     args,
		logger:   logger.With("component", "audio-source"),
		streamCh: closedStream(),
	}, nil
}

// Start launches the recorder process.
func (s *ExecSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, s.args[0], s.args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", s.args[0], err)
	}

	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.streamCh = make(chan AudioChunk, 50)

	go s.readLoop(cmd, stdout, s.streamCh, s.done)

	s.logger.Info("audio capture started", "command", s.args[0], "sample_rate", s.cfg.SampleRate)
	return nil
}

func (s *ExecSource) readLoop(cmd *exec.Cmd, stdout io.Reader, out chan AudioChunk, done chan struct{}) {
	defer close(done)
	defer close(out)

	buf := make([]byte, s.cfg.BufferBytes())
	for {
		if _, err := io.ReadFull(stdout, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Debug("capture read ended", "error", err)
			}
			break
		}
		chunk := ChunkFromBytes(buf, s.cfg.SampleRate, s.cfg.Channels)
		select {
		case out <- chunk:
			s.chunksRead.Add(1)
			s.samplesRead.Add(int64(len(chunk.Samples)))
		default:
			s.overruns.Add(1)
		}
	}

	if err := cmd.Wait(); err != nil {
		s.logger.Debug("recorder exited", "error", err)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Stop kills the recorder and waits for the stream to close.
func (s *ExecSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("audio capture stopped")
	return nil
}

// Stream returns the chunk channel of the current run.
func (s *ExecSource) Stream() <-chan AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

// Config returns the audio configuration.
func (s *ExecSource) Config() Config { return s.cfg }

// Name returns "exec".
func (s *ExecSource) Name() string { return string(BackendExec) }

// Close stops capture permanently.
func (s *ExecSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns source statistics.
func (s *ExecSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     s.Name(),
	}
}

// ExecSink plays audio by piping raw PCM16 into a player process's stdin.
// The process is started on the first Write and ends on Flush or Clear,
// so each utterance runs its own player.
type ExecSink struct {
	cfg    Config
	args   []string
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	proc   *playerProc

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
	clears         atomic.Int64
}

type playerProc struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan struct{}
	err   error

	// writeMu keeps chunks from interleaving on stdin. Clear never takes it.
	writeMu sync.Mutex
}

// NewExecSink creates a sink for cfg.Command.
func NewExecSink(cfg Config, logger *slog.Logger) (*ExecSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	args, err := cfg.CommandArgs()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecSink{
		cfg:    cfg,
		args:   args,
		logger: logger.With("component", "audio-sink"),
	}, nil
}

// writeSlice bounds each pipe write so a Clear is noticed between slices.
const writeSlice = 4096

// Write converts chunk to the sink format and pipes it to the player. The
// pipe write happens outside the sink lock: a player that stops reading
// blocks Write, never Clear.
func (s *ExecSink) Write(ctx context.Context, chunk AudioChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.proc == nil {
		proc, err := s.startLocked()
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.proc = proc
	}
	p := s.proc
	s.mu.Unlock()

	out := Convert(chunk, s.cfg.SampleRate, s.cfg.Channels)
	data := out.Bytes()

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(len(data), writeSlice)
		if _, err := p.stdin.Write(data[:n]); err != nil {
			s.mu.Lock()
			current := s.proc == p
			if current {
				s.killLocked()
			}
			s.mu.Unlock()
			if !current {
				return ErrCleared
			}
			return fmt.Errorf("write to player: %w", err)
		}
		data = data[n:]
	}
	s.chunksWritten.Add(1)
	s.samplesWritten.Add(int64(len(out.Samples)))
	return nil
}

func (s *ExecSink) startLocked() (*playerProc, error) {
	cmd := exec.Command(s.args[0], s.args[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", s.args[0], err)
	}
	p := &playerProc{cmd: cmd, stdin: stdin, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// Flush closes the player's stdin and waits for it to drain.
func (s *ExecSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	p := s.proc
	if p == nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	p.writeMu.Lock()
	_ = p.stdin.Close()
	p.writeMu.Unlock()

	select {
	case <-p.done:
	case <-ctx.Done():
		s.mu.Lock()
		if s.proc == p {
			s.killLocked()
		}
		s.mu.Unlock()
		return ctx.Err()
	}

	s.mu.Lock()
	if s.proc == p {
		s.proc = nil
	}
	s.mu.Unlock()

	// A player killed by Clear exits with a signal; that is not a playback error.
	var exitErr *exec.ExitError
	if p.err != nil && !errors.As(p.err, &exitErr) {
		return fmt.Errorf("player: %w", p.err)
	}
	return nil
}

// Clear kills the player so playback stops mid-utterance.
func (s *ExecSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != nil {
		s.killLocked()
		s.clears.Add(1)
	}
	return nil
}

func (s *ExecSink) killLocked() {
	p := s.proc
	s.proc = nil
	_ = p.stdin.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		s.logger.Warn("player did not exit after kill")
	}
}

// Config returns the audio configuration.
func (s *ExecSink) Config() Config { return s.cfg }

// Name returns "exec".
func (s *ExecSink) Name() string { return string(BackendExec) }

// Close stops playback permanently.
func (s *ExecSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.proc != nil {
		s.killLocked()
	}
	return nil
}

// Stats returns sink statistics.
func (s *ExecSink) Stats() SinkStats {
	s.mu.Lock()
	playing := s.proc != nil
	s.mu.Unlock()
	return SinkStats{
		ChunksWritten:  s.chunksWritten.Load(),
		SamplesWritten: s.samplesWritten.Load(),
		Clears:         s.clears.Load(),
		Playing:        playing,
		Backend:        s.Name(),
	}
}

func closedStream() chan AudioChunk {
	ch := make(chan AudioChunk)
	close(ch)
	return ch
}
