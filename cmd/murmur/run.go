package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-murmur/internal/config"
	"github.com/teslashibe/go-murmur/internal/httpc"
	"github.com/teslashibe/go-murmur/internal/log"
	"github.com/teslashibe/go-murmur/pkg/audioio"
	"github.com/teslashibe/go-murmur/pkg/channel"
	"github.com/teslashibe/go-murmur/pkg/client"
	"github.com/teslashibe/go-murmur/pkg/playback"
	"github.com/teslashibe/go-murmur/pkg/session"
)

// replySampleRate is the rate synthesized speech is played at.
const replySampleRate = 24000

var (
	handsFree    bool
	streaming    bool
	audioBackend string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the voice client",
	RunE:  runClient,
}

func init() {
	runCmd.Flags().BoolVar(&handsFree, "hands-free", true, "listen continuously and send after a pause")
	runCmd.Flags().BoolVar(&streaming, "streaming", true, "play replies sentence by sentence as they are synthesized")
	runCmd.Flags().StringVar(&audioBackend, "audio", "", "audio backend: exec or mock")
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg, v, err := loadConfig(cmd, map[string]string{
		"client.hands_free":    "hands-free",
		"client.streaming":     "streaming",
		"client.audio_backend": "audio",
	})
	if err != nil {
		return err
	}
	logger := log.L()
	config.Watch(v, logger, func(c *config.Config) { log.SetLevel(c.LogLevel) })

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch := channel.New(channel.Config{
		URL:       cfg.Client.ServerURL,
		BaseDelay: cfg.Client.ReconnectDelay,
		MaxDelay:  cfg.Client.MaxReconnectDelay,
		Logger:    logger,
	})
	go func() {
		if err := ch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("channel stopped", "error", err)
		}
	}()

	store := session.NewStore(session.NewREST(cfg.HTTPBaseURL(), httpc.NewClient(10*time.Second)), logger)
	defer store.Close()
	if err := store.Load(ctx); err != nil {
		// Categories still work locally; writes retry on the next change.
		logger.Warn("could not load categories from server", "error", err)
	}

	source, err := audioio.NewSource(audioio.Config{
		Backend:        audioio.Backend(cfg.Client.AudioBackend),
		SampleRate:     cfg.Client.SampleRate,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
		Command:        cfg.Client.RecordCommand,
	}, logger)
	if err != nil {
		return fmt.Errorf("audio source: %w", err)
	}
	defer source.Close()

	player, sink, err := newPlayer(cfg, logger)
	if err != nil {
		return err
	}
	defer sink.Close()

	vad := audioio.DefaultVADConfig()
	vad.Threshold = cfg.Client.VADThreshold
	vad.Hangover = cfg.Client.VADHangover

	app := client.New(client.Config{
		HandsFree:        cfg.Client.HandsFree,
		Debounce:         cfg.Client.Debounce,
		HistoryWindow:    cfg.Client.HistoryWindow,
		ClassifyFreeText: cfg.Client.ClassifyFreeText,
		VAD:              vad,
		Logger:           logger,
	}, client.Deps{
		Source:    source,
		Transport: ch,
		Player:    player,
		Speaker:   playback.NewExecSpeaker(cfg.Client.FallbackVoice),
		Store:     store,
		Console:   client.NewConsole(os.Stdout),
		Intents:   client.ReadIntents(ctx, os.Stdin),
	})

	err = app.Run(ctx)
	if errors.Is(err, client.ErrQuit) {
		return nil
	}
	return err
}

// newPlayer builds the reply pipeline and the sink it plays into.
func newPlayer(cfg *config.Config, logger *slog.Logger) (*playback.Pipeline, audioio.Sink, error) {
	sink, err := audioio.NewSink(audioio.Config{
		Backend:        audioio.Backend(cfg.Client.AudioBackend),
		SampleRate:     replySampleRate,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
		Command:        cfg.Client.PlayCommand,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("audio sink: %w", err)
	}

	fetcher, err := playback.NewHTTPFetcher(cfg.Client.ServerURL)
	if err != nil {
		sink.Close()
		return nil, nil, err
	}

	player := playback.New(fetcher, sink, playback.NewExecSpeaker(cfg.Client.FallbackVoice),
		playback.WithStreaming(cfg.Client.Streaming),
		playback.WithThinkingCue(cfg.Client.ThinkingCue),
		playback.WithLogger(logger),
	)
	return player, sink, nil
}
