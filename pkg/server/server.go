// Package server is murmurd: the websocket hub voice clients connect to, the
// per-category task queue in front of the AI providers, speech recognition
// and synthesis, and the REST API for the session store.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-murmur/pkg/protocol"
	"github.com/teslashibe/go-murmur/pkg/provider"
	"github.com/teslashibe/go-murmur/pkg/store"
	"github.com/teslashibe/go-murmur/pkg/stt"
	"github.com/teslashibe/go-murmur/pkg/taskqueue"
	"github.com/teslashibe/go-murmur/pkg/tts"
	"github.com/teslashibe/go-murmur/pkg/workspace"
)

// Defaults for task history maintenance.
const (
	DefaultRetention     = 24 * time.Hour
	DefaultPruneSchedule = "@every 10m"
)

// Synthesizer renders reply text as speech.
type Synthesizer interface {
	Blob(ctx context.Context, text string) ([]byte, error)
	Stream(ctx context.Context, text string) (*tts.FrameStream, error)
}

// Classifier maps free text to an app action.
type Classifier interface {
	Classify(ctx context.Context, text string, history []protocol.Turn) (protocol.ActionClassificationData, error)
}

// Config configures a Server.
type Config struct {
	// Store persists categories and task history. Required.
	Store *store.Store

	// Providers answers provider requests. Required.
	Providers *provider.Registry

	// Coding serves plan and execute requests. Optional.
	Coding *provider.Coding

	// Optional services. Missing ones are reported to the client.
	Transcriber stt.Transcriber
	Synthesizer Synthesizer
	Classifier  Classifier

	// Workspace answers directory queries. Defaults to ~/dev.
	Workspace *workspace.Workspace

	Metrics *Metrics

	// CORSOrigins is passed to the CORS middleware. Defaults to "*".
	CORSOrigins string

	// AccessLog logs every HTTP request.
	AccessLog bool

	// Retention is how long finished tasks are kept; PruneSchedule is the
	// cron spec that drops older ones.
	Retention     time.Duration
	PruneSchedule string

	// NewTaskID overrides task id generation for tests.
	NewTaskID func() string

	Logger *slog.Logger
}

// Server wires the hub, the queue and the REST API into one Fiber app.
type Server struct {
	cfg     Config
	app     *fiber.App
	hub     *Hub
	queue   *taskqueue.Scheduler
	cron    *cron.Cron
	metrics *Metrics
	logger  *slog.Logger
}

// New creates a server. Nothing listens until Listen or Run.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("server: store is required")
	}
	if cfg.Providers == nil {
		return nil, errors.New("server: provider registry is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}
	if cfg.Workspace == nil {
		ws, err := workspace.New(workspace.Config{Logger: cfg.Logger})
		if err != nil {
			return nil, err
		}
		cfg.Workspace = ws
	}
	if cfg.CORSOrigins == "" {
		cfg.CORSOrigins = "*"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.PruneSchedule == "" {
		cfg.PruneSchedule = DefaultPruneSchedule
	}

	s := &Server{
		cfg:     cfg,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With("component", "server"),
	}

	queue, err := taskqueue.New(taskqueue.Config{
		Handler: s.runTask,
		OnEvent: s.onTaskEvent,
		Logger:  cfg.Logger,
		NewID:   cfg.NewTaskID,
	})
	if err != nil {
		return nil, err
	}
	s.queue = queue

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(cfg.PruneSchedule, func() { s.Prune(context.Background()) }); err != nil {
		return nil, fmt.Errorf("server: prune schedule %q: %w", cfg.PruneSchedule, err)
	}

	s.hub = NewHub(cfg.Logger, cfg.Metrics)
	s.hub.OnMessage(s.handleMessage)
	s.hub.OnAudio(s.handleAudio)

	app := fiber.New(fiber.Config{
		AppName:               "murmurd",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	if cfg.AccessLog {
		app.Use(logger.New())
	}

	app.Get("/health", s.health)
	app.Get("/metrics", cfg.Metrics.Handler())
	s.hub.RegisterRoutes(app)
	s.RegisterAPIRoutes(app.Group("/api"))
	s.app = app

	return s, nil
}

// App returns the Fiber app, for tests and embedding.
func (s *Server) App() *fiber.App { return s.app }

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Queue returns the task scheduler.
func (s *Server) Queue() *taskqueue.Scheduler { return s.queue }

// Listen starts the maintenance schedule and serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.cron.Start()
	s.logger.Info("listening", "addr", addr)
	return s.app.Listen(addr)
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Listen(addr)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown stops accepting connections, cancels running tasks and waits
// for them and any scheduled prune to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	cronDone := s.cron.Stop()

	var errs []error
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	if err := s.queue.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("queue: %w", err))
	}

	select {
	case <-cronDone.Done():
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("prune: %w", ctx.Err()))
	}
	s.logger.Info("server stopped")
	return errors.Join(errs...)
}

// Prune drops finished tasks older than the retention window from the
// queue's memory and from the task history table.
func (s *Server) Prune(ctx context.Context) {
	dropped := s.queue.Prune(s.cfg.Retention)
	deleted, err := s.cfg.Store.PruneTasks(ctx, time.Now().Add(-s.cfg.Retention))
	if err != nil {
		s.logger.Warn("prune task history", "error", err)
		return
	}
	if dropped > 0 || deleted > 0 {
		s.logger.Info("pruned task history", "queue", dropped, "store", deleted)
	}
}

// forgetCategory drops every server-side trace of a deleted category.
func (s *Server) forgetCategory(id string) {
	s.queue.Clear(id)
	if _, err := s.queue.CancelRunning(id); err != nil && !errors.Is(err, taskqueue.ErrNoRunningTask) {
		s.logger.Warn("cancel running task", "category", id, "error", err)
	}
	s.cfg.Providers.Forget(id)
	if s.cfg.Coding != nil {
		s.cfg.Coding.Plans().Forget(id)
	}
}

func (s *Server) health(c *fiber.Ctx) error {
	status := "ok"
	storeStatus := "ok"
	if err := s.cfg.Store.Ping(c.UserContext()); err != nil {
		status, storeStatus = "degraded", err.Error()
	}
	return c.JSON(fiber.Map{
		"status":      status,
		"store":       storeStatus,
		"connections": s.hub.ConnCount(),
	})
}
