package core

// scheduler.go triggers periodic conversions of the configured source
// directory.
//
// Schedules use standard five-field cron expressions, or descriptors such as
// "@daily" and "@every 6h". A tick that finds all run slots busy is skipped
// and logged; the scheduler never queues runs behind each other.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// ScheduleConfig holds configuration for the run scheduler.
type ScheduleConfig struct {
	Spec      string // cron expression; empty disables scheduling
	SourceDir string // defaults to the service's source directory
}

// Scheduler starts runs on a cron schedule.
type Scheduler struct {
	svc  *Service
	cfg  ScheduleConfig
	cron *cron.Cron
	log  *slog.Logger
}

// NewScheduler validates the schedule and prepares a scheduler. It does not
// start until Start is called.
func NewScheduler(svc *Service, cfg ScheduleConfig) (*Scheduler, error) {
	s := &Scheduler{
		svc: svc,
		cfg: cfg,
		log: svc.log.With("component", "scheduler"),
	}
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
		cron.Recover(cron.DiscardLogger),
	))
	if _, err := s.cron.AddFunc(cfg.Spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid configuration: schedule %q: %w", cfg.Spec, err)
	}
	return s, nil
}

// Start runs the scheduler until ctx is cancelled. It blocks.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info("run scheduler started", "schedule", s.cfg.Spec)
	s.cron.Start()

	<-ctx.Done()

	// Wait for an in-flight tick to return; started runs are stopped by
	// the service's shutdown.
	<-s.cron.Stop().Done()
	s.log.Info("run scheduler stopped")
}

// tick starts one run. A busy service rejects it immediately.
func (s *Scheduler) tick() {
	ctx := ContextWithTrigger(context.Background(), TriggerScheduler)
	id, err := s.svc.TryStart(ctx, RunRequest{SourceDir: s.cfg.SourceDir})
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, ErrTooManyRuns) {
			level = slog.LevelWarn
		}
		s.log.Log(ctx, level, "scheduled run skipped", "error", err)
		return
	}
	s.log.Info("scheduled run started", "run_id", id)
}

// Next returns a description of the next activation, for diagnostics.
func (s *Scheduler) Next() string {
	entries := s.cron.Entries()
	if len(entries) == 0 || entries[0].Next.IsZero() {
		return ""
	}
	return entries[0].Next.UTC().Format("2006-01-02T15:04:05Z")
}
