// Package scheduler triggers projection runs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"caixa/internal/log"
	"caixa/internal/services"

	"github.com/robfig/cron/v3"
)

// Projector runs one projection for the month containing now.
type Projector interface {
	Run(ctx context.Context, now time.Time) (services.Report, error)
}

type Config struct {
	// Spec is a standard five-field cron expression
	Spec string

	// RunOnStart triggers one run as soon as the scheduler starts
	RunOnStart bool

	// Location evaluates Spec in this zone (default: UTC)
	Location *time.Location
}

type Scheduler struct {
	cron      *cron.Cron
	entry     cron.EntryID
	projector Projector
	config    Config
	logger    *log.Logger
	now       func() time.Time

	ctx context.Context
}

// New validates the schedule and registers the projection job.
func New(projector Projector, config Config, logger *log.Logger) (*Scheduler, error) {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	logger = logger.WithComponent(log.ComponentScheduler)

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn))
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(config.Location),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		projector: projector,
		config:    config,
		logger:    logger,
		now:       time.Now,
		ctx:       context.Background(),
	}

	id, err := s.cron.AddJob(config.Spec, cron.FuncJob(func() {
		_, _ = s.RunNow(s.ctx, log.TriggerSchedule)
	}))
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", config.Spec, err)
	}
	s.entry = id

	return s, nil
}

// Start begins scheduling. Runs use ctx; it should outlive the scheduler.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.logger.InfoContext(ctx, "Scheduler started",
		"schedule", s.config.Spec,
		"location", s.config.Location.String(),
		"run_on_start", s.config.RunOnStart)

	if s.config.RunOnStart {
		go func() { _, _ = s.RunNow(ctx, log.TriggerStartup) }()
	}
	s.cron.Start()
}

// Stop halts scheduling and waits for a running job up to ctx's deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.InfoContext(ctx, "Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "Scheduler stop timed out")
		return ctx.Err()
	}
}

// Next returns the next scheduled activation, zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// RunNow runs the projector once and logs the outcome.
func (s *Scheduler) RunNow(ctx context.Context, trigger string) (services.Report, error) {
	ctx = log.NewContext(ctx, s.logger.With(log.FieldTrigger, trigger))

	report, err := s.projector.Run(ctx, s.now())
	switch {
	case errors.Is(err, services.ErrRunInProgress):
		s.logger.InfoContext(ctx, "Recurring run skipped, another run in progress", log.FieldTrigger, trigger)
	case err != nil:
		s.logger.ErrorContext(ctx, "Recurring run failed",
			log.FieldTrigger, trigger,
			log.FieldError, err)
	default:
		s.logger.InfoContext(ctx, "Recurring run finished",
			log.FieldTrigger, trigger,
			log.FieldReferenceDate, report.ReferenceDate.String(),
			"created", report.Created,
			"skipped", report.Skipped,
			"errors", len(report.Errors))
	}
	return report, err
}
