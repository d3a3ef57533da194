// Package scheduler runs configured prompts through the agent on cron
// schedules.
package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/soratobu/jeeves/internal/config"
	"github.com/soratobu/jeeves/internal/errors"
)

// Processor runs one user input to a final answer.
type Processor interface {
	Process(ctx context.Context, sessionID, input string) (string, error)
}

type Engine struct {
	processor Processor
	jobs      []config.ScheduledJob
	cron      *cron.Cron

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New validates every configured job before anything is scheduled, so a
// bad cron expression fails startup instead of silently never firing.
func New(cfg config.SchedulerConfig, processor Processor) (*Engine, error) {
	for _, job := range cfg.Jobs {
		if strings.TrimSpace(job.Name) == "" {
			return nil, errors.Config("scheduled job without a name")
		}
		if strings.TrimSpace(job.Prompt) == "" {
			return nil, errors.Config("scheduled job '%s' has no prompt", job.Name)
		}
		if _, err := cron.ParseStandard(job.Schedule); err != nil {
			return nil, errors.Config("scheduled job '%s' has invalid schedule %q: %v", job.Name, job.Schedule, err)
		}
	}

	return &Engine{
		processor: processor,
		jobs:      cfg.Jobs,
		cron:      cron.New(),
	}, nil
}

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	e.ctx, e.cancel = context.WithCancel(ctx)

	for _, job := range e.jobs {
		if _, err := e.cron.AddFunc(job.Schedule, func() { e.runJob(job) }); err != nil {
			return errors.Config("register scheduled job '%s': %v", job.Name, err)
		}
	}

	e.cron.Start()
	e.running = true
	slog.Info("Scheduler started", "jobs", len(e.jobs))
	return nil
}

// Stop halts scheduling and waits for in-flight jobs, bounded by ctx.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	e.cancel()
	stopped := e.cron.Stop()

	select {
	case <-stopped.Done():
		slog.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		slog.Warn("Scheduler shutdown timed out with jobs in flight")
		return ctx.Err()
	}
}

func (e *Engine) runJob(job config.ScheduledJob) {
	sessionID := job.Session
	if sessionID == "" {
		sessionID = "scheduler:" + job.Name
	}

	slog.Info("Running scheduled job", "job", job.Name, "session_id", sessionID)

	output, err := e.processor.Process(e.ctx, sessionID, job.Prompt)
	if err != nil {
		slog.Error("Scheduled job failed", "job", job.Name, "error", err)
		return
	}
	slog.Info("Scheduled job completed", "job", job.Name, "output_len", len(output))
}
