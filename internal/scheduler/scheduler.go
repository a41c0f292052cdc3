package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/service"
)

// Counter runs one inference for a source
type Counter interface {
	Count(ctx context.Context, sourceID string) (*detection.Result, error)
}

// Stats counts scheduled runs
type Stats struct {
	Runs      int64 `json:"runs"`
	Succeeded int64 `json:"succeeded"`
	Skipped   int64 `json:"skipped"`
	Failed    int64 `json:"failed"`
}

// Scheduler triggers counts for one source on a duration or cron schedule
type Scheduler struct {
	*service.ServiceBase
	counter Counter

	mu        sync.Mutex
	cfg       config.SchedulerConfig
	scheduler gocron.Scheduler
	job       gocron.Job
	runCtx    context.Context
	cancel    context.CancelFunc
	started   bool

	runs      atomic.Int64
	succeeded atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
}

// New creates a scheduler service
func New(cfg config.SchedulerConfig, counter Counter, log *logger.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{
		ServiceBase: service.NewServiceBase("scheduler", log),
		counter:     counter,
		cfg:         cfg,
		scheduler:   s,
	}, nil
}

// Name returns the service name
func (s *Scheduler) Name() string {
	return "scheduler"
}

// jobDefinition turns a schedule into a gocron job definition.
// A Go duration runs at that interval, anything else is a five-field cron expression.
func jobDefinition(schedule string) (gocron.JobDefinition, error) {
	if err := config.ValidateSchedule(schedule); err != nil {
		return nil, err
	}
	if d, err := time.ParseDuration(schedule); err == nil {
		return gocron.DurationJob(d), nil
	}
	return gocron.CronJob(schedule, false), nil
}

// Start registers the job, if enabled, and starts the scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runCtx, s.cancel = context.WithCancel(context.Background())
	if err := s.scheduleLocked(); err != nil {
		s.GetStatus().SetError(err)
		return err
	}

	s.scheduler.Start()
	s.started = true
	s.GetStatus().SetStatus(service.StatusRunning)
	return nil
}

func (s *Scheduler) scheduleLocked() error {
	if s.job != nil {
		if err := s.scheduler.RemoveJob(s.job.ID()); err != nil {
			s.LogWarn("Failed to remove scheduled job", "error", err)
		}
		s.job = nil
	}

	if !s.cfg.Enabled {
		s.LogInfo("Periodic counting is disabled")
		return nil
	}

	def, err := jobDefinition(s.cfg.Schedule)
	if err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}

	sourceID := s.cfg.SourceID
	job, err := s.scheduler.NewJob(
		def,
		gocron.NewTask(s.tick, s.runCtx, sourceID),
		gocron.WithName("count:"+sourceID),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule count: %w", err)
	}
	s.job = job

	s.LogInfo("Periodic counting scheduled", "source_id", sourceID, "schedule", s.cfg.Schedule, "job_id", job.ID())
	return nil
}

// Reschedule replaces the job after a configuration change
func (s *Scheduler) Reschedule(cfg config.SchedulerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	if !s.started {
		return nil
	}
	return s.scheduleLocked()
}

// tick runs one scheduled count. A request already in flight means this tick is skipped.
func (s *Scheduler) tick(ctx context.Context, sourceID string) {
	s.runs.Add(1)
	if ctx.Err() != nil {
		s.skipped.Add(1)
		return
	}

	result, err := s.counter.Count(ctx, sourceID)
	switch {
	case err == nil:
		s.succeeded.Add(1)
		s.LogDebug("Scheduled count complete", "source_id", sourceID, "count", result.Count())
	case errors.Is(err, detection.ErrConcurrentRequest):
		s.skipped.Add(1)
		s.LogDebug("Scheduled count skipped, inference in progress", "source_id", sourceID)
	default:
		s.failed.Add(1)
		s.LogWarn("Scheduled count failed", "source_id", sourceID, "error", err)
	}
}

// NextRun returns when the job runs next
func (s *Scheduler) NextRun() (time.Time, bool) {
	s.mu.Lock()
	job := s.job
	s.mu.Unlock()
	if job == nil {
		return time.Time{}, false
	}
	next, err := job.NextRun()
	if err != nil || next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

// Stats returns run counters
func (s *Scheduler) Stats() Stats {
	return Stats{
		Runs:      s.runs.Load(),
		Succeeded: s.succeeded.Load(),
		Skipped:   s.skipped.Load(),
		Failed:    s.failed.Load(),
	}
}

// Stop cancels any running count and shuts the scheduler down
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	s.GetStatus().SetStatus(service.StatusStopping)
	done := make(chan error, 1)
	go func() {
		done <- s.scheduler.Shutdown()
	}()

	select {
	case err := <-done:
		s.GetStatus().SetStatus(service.StatusStopped)
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
