package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-murmur/pkg/protocol"
)

// Runner runs name with args in dir and returns its stdout.
type Runner func(ctx context.Context, dir, name string, args ...string) (string, error)

// CodingConfig configures the coding provider.
type CodingConfig struct {
	// Binary is the claude executable. Defaults to "claude".
	Binary string

	// WorkDir is used when a request carries no category directory.
	// Defaults to ~/dev.
	WorkDir string

	// PlanTimeout bounds planning and chat. Execution is only bounded by ctx.
	PlanTimeout time.Duration

	// HistoryTurns is how many recent turns are quoted into a chat prompt.
	HistoryTurns int

	// Runner and NewID are overridable for tests.
	Runner Runner
	NewID  func() string

	Logger *slog.Logger
}

// Coding drives the claude CLI. Chat answers without side effects; Plan
// proposes work that waits in the PlanBook until confirmed or denied;
// Execute runs a confirmed plan with full permissions.
type Coding struct {
	cfg    CodingConfig
	plans  *PlanBook
	logger *slog.Logger
}

// NewCoding creates the coding provider.
func NewCoding(cfg CodingConfig) *Coding {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	if cfg.WorkDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.WorkDir = filepath.Join(home, "dev")
		}
	}
	if cfg.PlanTimeout <= 0 {
		cfg.PlanTimeout = 60 * time.Second
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 6
	}
	if cfg.Runner == nil {
		cfg.Runner = execRunner
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.NewString()[:8] }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coding{
		cfg:    cfg,
		plans:  NewPlanBook(),
		logger: cfg.Logger.With("component", "provider.coding"),
	}
}

// Name returns protocol.ProviderCoding.
func (c *Coding) Name() protocol.Provider { return protocol.ProviderCoding }

// Plans returns the plan book.
func (c *Coding) Plans() *PlanBook { return c.plans }

// Respond answers in chat mode.
func (c *Coding) Respond(ctx context.Context, req *Request) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", Wrap(c.Name(), "chat", ErrEmptyText)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PlanTimeout)
	defer cancel()

	out, err := c.cfg.Runner(ctx, c.dir(req), c.cfg.Binary, "-p", c.chatPrompt(req), "--print")
	if err != nil {
		return "", Wrap(c.Name(), "chat", timeoutErr(ctx, err))
	}
	return strings.TrimSpace(out), nil
}

// Plan asks claude for a plan and files it under id. An empty id gets a
// generated one. A failed plan is recorded and returned along with the error.
func (c *Coding) Plan(ctx context.Context, id string, req *Request) (Plan, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Plan{}, Wrap(c.Name(), "plan", ErrEmptyText)
	}
	if id == "" {
		id = c.cfg.NewID()
	}
	p := &Plan{
		ID:         id,
		CategoryID: req.CategoryID,
		Prompt:     withContext(req),
		Dir:        c.dir(req),
		Status:     PlanPlanning,
	}
	c.plans.put(p)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.PlanTimeout)
	defer cancel()

	prompt := "Describe the plan you would follow for the task below in a few short spoken sentences. " +
		"Do not make any changes yet.\n\n" + p.Prompt
	out, err := c.cfg.Runner(ctx, p.Dir, c.cfg.Binary, "-p", prompt, "--print")
	if err == nil && strings.TrimSpace(out) == "" {
		err = errors.New("claude returned an empty plan")
	}
	if err != nil {
		err = timeoutErr(ctx, err)
		failed, _ := c.plans.finish(id, "", err)
		c.logger.Warn("planning failed", "plan_id", id, "category", req.CategoryID, "error", err)
		return failed, Wrap(c.Name(), "plan", err)
	}

	plan, err := c.plans.proposed(id, strings.TrimSpace(out))
	if err != nil {
		return plan, Wrap(c.Name(), "plan", err)
	}
	c.logger.Info("plan proposed", "plan_id", id, "category", req.CategoryID, "chars", len(plan.Text))
	return plan, nil
}

// Confirm accepts a pending plan. Run it with Execute.
func (c *Coding) Confirm(id string) (Plan, error) {
	p, err := c.plans.Confirm(id)
	if err != nil {
		return p, Wrap(c.Name(), "confirm", err)
	}
	return p, nil
}

// Deny rejects a pending plan.
func (c *Coding) Deny(id string) (Plan, error) {
	p, err := c.plans.Deny(id)
	if err != nil {
		return p, Wrap(c.Name(), "deny", err)
	}
	c.logger.Info("plan denied", "plan_id", id)
	return p, nil
}

// Execute runs a confirmed plan. There is no timeout; cancel ctx to stop it.
func (c *Coding) Execute(ctx context.Context, id string) (string, error) {
	p, ok := c.plans.Get(id)
	if !ok {
		return "", Wrap(c.Name(), "execute", fmt.Errorf("%w: %s", ErrPlanNotFound, id))
	}
	if p.Status != PlanRunning {
		return "", Wrap(c.Name(), "execute", fmt.Errorf("%w (status: %s)", ErrPlanNotPending, p.Status))
	}

	start := time.Now()
	out, err := c.run(ctx, p.Dir, p.Prompt)
	_, _ = c.plans.finish(id, out, err)
	if err != nil {
		return "", Wrap(c.Name(), "execute", err)
	}
	c.logger.Info("plan executed", "plan_id", id, "duration", time.Since(start).Round(time.Millisecond))
	return out, nil
}

// Run executes req immediately without a plan.
func (c *Coding) Run(ctx context.Context, req *Request) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", Wrap(c.Name(), "execute", ErrEmptyText)
	}
	out, err := c.run(ctx, c.dir(req), withContext(req))
	if err != nil {
		return "", Wrap(c.Name(), "execute", err)
	}
	return out, nil
}

func (c *Coding) run(ctx context.Context, dir, prompt string) (string, error) {
	out, err := c.cfg.Runner(ctx, dir, c.cfg.Binary, "-p", prompt, "--dangerously-skip-permissions")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Health checks that the CLI is installed.
func (c *Coding) Health(ctx context.Context) error {
	if _, err := exec.LookPath(c.cfg.Binary); err != nil {
		return Wrap(c.Name(), "health", fmt.Errorf("%w: %v", ErrProviderUnavailable, err))
	}
	return nil
}

func (c *Coding) dir(req *Request) string {
	if req.DirectoryPath != "" {
		return req.DirectoryPath
	}
	return c.cfg.WorkDir
}

// chatPrompt quotes the most recent turns so the stateless CLI can follow
// the conversation.
func (c *Coding) chatPrompt(req *Request) string {
	history := req.History
	if len(history) > c.cfg.HistoryTurns {
		history = history[len(history)-c.cfg.HistoryTurns:]
	}
	if len(history) == 0 {
		return withContext(req)
	}

	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	for _, t := range history {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
	}
	b.WriteString("\n")
	b.WriteString(withContext(req))
	return b.String()
}

func timeoutErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: claude did not answer in time", ErrTimeout)
	}
	return err
}

func execRunner(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if errors.Is(err, exec.ErrNotFound) {
		return "", fmt.Errorf("%w: %s CLI not found. Is it installed?", ErrProviderUnavailable, name)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", errors.New(msg)
		}
		return "", fmt.Errorf("%s exited with code %d", name, exitErr.ExitCode())
	}
	return "", err
}
