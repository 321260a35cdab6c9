// Package client is the voice client core. A single goroutine (App.Run)
// owns category state and reacts to audio, server frames, console input,
// playback completions and debounce timers.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-murmur/pkg/audioio"
	"github.com/teslashibe/go-murmur/pkg/channel"
	"github.com/teslashibe/go-murmur/pkg/playback"
	"github.com/teslashibe/go-murmur/pkg/protocol"
	"github.com/teslashibe/go-murmur/pkg/segment"
	"github.com/teslashibe/go-murmur/pkg/session"
)

// Transport is the server connection.
type Transport interface {
	Send(msg *protocol.Message) error
	SendAudio(audioCtx *protocol.Message, wav []byte) error
	Messages() <-chan *protocol.Message
	States() <-chan channel.State
	Connected() bool
}

// Player plays replies.
type Player interface {
	Play(ctx context.Context, req playback.Request) uint64
	Cancel()
	Current(gen uint64) bool
	Done() <-chan playback.Completion
	StartThinking(ctx context.Context)
	StepThinking()
	StopThinking()
}

var _ Transport = (*channel.Channel)(nil)
var _ Player = (*playback.Pipeline)(nil)

// Config configures an App.
type Config struct {
	HandsFree        bool
	Debounce         time.Duration
	HistoryWindow    int
	ClassifyFreeText bool
	VAD              audioio.VADConfig
	Logger           *slog.Logger
}

// DefaultConfig returns hands-free operation with a 1.5s debounce.
func DefaultConfig() Config {
	return Config{
		HandsFree:     true,
		Debounce:      1500 * time.Millisecond,
		HistoryWindow: 10,
		VAD:           audioio.DefaultVADConfig(),
	}
}

// Deps are the collaborators an App drives.
type Deps struct {
	Source    audioio.Source
	Transport Transport
	Player    Player
	Speaker   playback.Speaker // short local prompts
	Store     *session.Store
	Console   *Console
	Intents   <-chan Intent
}

// App is the client core.
type App struct {
	cfg    Config
	logger *slog.Logger

	source    audioio.Source
	transport Transport
	player    Player
	speaker   playback.Speaker
	store     *session.Store
	console   *Console
	intents   <-chan Intent

	vad    *audioio.VAD
	buffer *segment.Buffer

	// Loop-owned state; only touched from Run.
	listening      bool
	audio          <-chan audioio.AudioChunk // nil while capture is off
	bufferCategory string                    // category the buffered audio belongs to ("" = global)
	pendingUser    map[string]string
	speakingCat    string
	thinkingCat    string
	pendingFind    map[string]bool
	notices        chan string
	latency        *LatencyTracker
	connected      bool
	quit           bool
}

// ErrQuit is returned by Run when the user asked to quit.
var ErrQuit = errors.New("client: quit")

// New creates an App.
func New(cfg Config, deps Deps) *App {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultConfig().HistoryWindow
	}
	if deps.Console == nil {
		deps.Console = NewConsole(nil)
	}
	a := &App{
		cfg:         cfg,
		logger:      cfg.Logger.With("component", "client"),
		source:      deps.Source,
		transport:   deps.Transport,
		player:      deps.Player,
		speaker:     deps.Speaker,
		store:       deps.Store,
		console:     deps.Console,
		intents:     deps.Intents,
		vad:         audioio.NewVAD(cfg.VAD),
		buffer:      segment.New(cfg.Debounce, cfg.HandsFree),
		listening:   cfg.HandsFree,
		pendingUser: make(map[string]string),
		pendingFind: make(map[string]bool),
		notices:     make(chan string, 8),
		latency:     NewLatencyTracker(),
	}
	a.latency.OnDone(a.console.Latency)
	return a
}

// Run is the dispatch loop. It returns when ctx is done or the user quits.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.noticeLoop(ctx)

	// Push-to-talk opens the microphone on the first press.
	if a.listening {
		if err := a.startCapture(ctx); err != nil {
			return err
		}
	}
	defer a.stopCapture()

	a.console.Banner(a.store.Snapshot(), a.store.SelectedID(), a.cfg.HandsFree)

	for !a.quit {
		select {
		case <-ctx.Done():
			return nil

		case chunk, ok := <-a.audio:
			if !ok {
				a.logger.Warn("audio source ended")
				a.audio = nil
				continue
			}
			a.onAudio(ctx, chunk)

		case msg := <-a.transport.Messages():
			a.onMessage(ctx, msg)

		case st := <-a.transport.States():
			a.onState(st)

		case in, ok := <-a.intents:
			if !ok {
				a.intents = nil
				continue
			}
			a.onIntent(ctx, in)

		case c := <-a.player.Done():
			a.onCompletion(c)

		case gen := <-a.buffer.Fired():
			if a.buffer.Fire(gen) {
				a.flush(ctx)
			}
		}
	}
	return ErrQuit
}

// startCapture starts the source and follows its stream.
func (a *App) startCapture(ctx context.Context) error {
	if a.source == nil || a.audio != nil {
		return nil
	}
	if err := a.source.Start(ctx); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	a.audio = a.source.Stream()
	return nil
}

// stopCapture releases the microphone. The stream is dropped first so its
// close is not mistaken for the source dying.
func (a *App) stopCapture() {
	if a.source == nil || a.audio == nil {
		return
	}
	a.audio = nil
	if err := a.source.Stop(); err != nil {
		a.logger.Warn("stop capture", "error", err)
	}
	a.vad.Reset()
}

func (a *App) onState(st channel.State) {
	a.connected = st == channel.StateConnected
	a.console.Connection(a.connected)
	a.logger.Info("connection state", "state", st.String())
}

// send builds and sends a scoped control frame, logging failures.
func (a *App) send(msg *protocol.Message, err error) bool {
	if err != nil {
		a.logger.Error("build message", "error", err)
		return false
	}
	if err := a.transport.Send(msg); err != nil {
		a.logger.Warn("send failed", "type", msg.Type, "error", err)
		return false
	}
	return true
}
