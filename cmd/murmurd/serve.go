package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-murmur/internal/config"
	"github.com/teslashibe/go-murmur/internal/log"
	"github.com/teslashibe/go-murmur/pkg/intent"
	"github.com/teslashibe/go-murmur/pkg/provider"
	"github.com/teslashibe/go-murmur/pkg/server"
	"github.com/teslashibe/go-murmur/pkg/store"
	"github.com/teslashibe/go-murmur/pkg/stt"
	"github.com/teslashibe/go-murmur/pkg/tts"
	"github.com/teslashibe/go-murmur/pkg/workspace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	_, v, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := v.BindPFlag("server.addr", cmd.Flags().Lookup("addr")); err != nil {
		return err
	}
	if err := v.BindPFlag("log_level", cmd.Flags().Lookup("log-level")); err != nil {
		return err
	}
	cfg, err := config.Decode(v)
	if err != nil {
		return err
	}

	log.Init(cfg.LogLevel)
	logger := log.L()
	if config.Watch(v, logger, func(c *config.Config) { log.SetLevel(c.LogLevel) }) {
		logger.Info("watching config", "file", v.ConfigFileUsed())
	}

	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting murmurd", "version", version, "addr", cfg.Server.Addr, "store", cfg.Store.Path)

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	metrics := server.NewMetrics()
	srvCfg := server.Config{
		Store:         db,
		Metrics:       metrics,
		CORSOrigins:   cfg.Server.CORSOrigins,
		AccessLog:     accessLog,
		Retention:     cfg.Queue.Retention,
		PruneSchedule: cfg.Queue.PruneSchedule,
		Logger:        logger,
	}

	srvCfg.Providers, srvCfg.Coding, err = buildProviders(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := wireSpeech(&srvCfg, cfg, logger, metrics); err != nil {
		return err
	}

	if cfg.Providers.LocalURL != "" {
		classifier, err := intent.New(intent.Config{
			BaseURL: cfg.Providers.LocalURL,
			APIKey:  cfg.Providers.LocalAPIKey,
			Model:   cfg.Providers.IntentModel,
			Logger:  logger,
		})
		if err != nil {
			return fmt.Errorf("intent classifier: %w", err)
		}
		srvCfg.Classifier = classifier
	}

	srvCfg.Workspace, err = workspace.New(workspace.Config{
		SearchRoot: cfg.Providers.SearchRoot,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("workspace: %w", err)
	}

	srv, err := server.New(srvCfg)
	if err != nil {
		return err
	}
	if err := srv.Run(ctx, cfg.Server.Addr); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("goodbye")
	return nil
}

// buildProviders registers every backend that has enough configuration to
// start. The coding provider only needs the claude binary, so it is always
// present.
func buildProviders(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*provider.Registry, *provider.Coding, error) {
	registry := provider.NewRegistry()

	if cfg.Providers.GeminiAPIKey != "" {
		gemini, err := provider.NewGemini(ctx,
			provider.WithAPIKey(cfg.Providers.GeminiAPIKey),
			provider.WithModel(cfg.Providers.GeminiModel),
			provider.WithLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}
		registry.Register(gemini)
	} else {
		logger.Warn("no Gemini API key, conversational provider disabled")
	}

	if cfg.Providers.LocalModel != "" {
		local, err := provider.NewLocal(
			provider.WithBaseURL(cfg.Providers.LocalURL),
			provider.WithModel(cfg.Providers.LocalModel),
			provider.WithAPIKey(cfg.Providers.LocalAPIKey),
			provider.WithLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}
		registry.Register(local)
	}

	coding := provider.NewCoding(provider.CodingConfig{
		Binary:      cfg.Providers.ClaudeBinary,
		WorkDir:     cfg.Providers.WorkDir,
		PlanTimeout: cfg.Providers.PlanTimeout,
		Logger:      logger,
	})
	registry.Register(coding)

	return registry, coding, nil
}

// wireSpeech sets the transcriber and synthesizer when their API keys are
// configured. Fields stay nil otherwise so the server reports them missing.
func wireSpeech(srvCfg *server.Config, cfg *config.Config, logger *slog.Logger, metrics *server.Metrics) error {
	if cfg.Speech.OpenAIKey != "" {
		whisper, err := stt.NewWhisper(stt.Config{
			APIKey:   cfg.Speech.OpenAIKey,
			Model:    cfg.Speech.WhisperModel,
			Language: cfg.Speech.Language,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("whisper: %w", err)
		}
		srvCfg.Transcriber = whisper
	} else {
		logger.Warn("no OpenAI API key, transcription disabled")
	}

	var voices []tts.Provider
	if cfg.Speech.OpenAIKey != "" {
		openai, err := tts.NewOpenAI(
			tts.WithAPIKey(cfg.Speech.OpenAIKey),
			tts.WithModel(cfg.Speech.TTSModel),
			tts.WithVoice(cfg.Speech.TTSVoice),
			tts.WithLogger(logger),
		)
		if err != nil {
			return fmt.Errorf("openai tts: %w", err)
		}
		voices = append(voices, openai)
	}
	if cfg.Speech.ElevenLabsKey != "" {
		opts := []tts.Option{
			tts.WithAPIKey(cfg.Speech.ElevenLabsKey),
			tts.WithLogger(logger),
		}
		if cfg.Speech.ElevenLabsVoice != "" {
			opts = append(opts, tts.WithVoice(cfg.Speech.ElevenLabsVoice))
		}
		eleven, err := tts.NewElevenLabs(opts...)
		if err != nil {
			return fmt.Errorf("elevenlabs tts: %w", err)
		}
		voices = append(voices, eleven)
	}
	if len(voices) == 0 {
		logger.Warn("no speech synthesis provider configured")
		return nil
	}

	chain, err := tts.NewChain(logger, voices...)
	if err != nil {
		return err
	}
	srvCfg.Synthesizer = tts.NewSynthesizer(chain, logger, metrics.ObserveSynthesis)
	return nil
}
