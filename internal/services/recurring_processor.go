package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"caixa/internal/core"
	"caixa/internal/log"
	"caixa/internal/storage"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrRunInProgress is returned when Run is called while another run holds the lock.
	ErrRunInProgress = errors.New("recurring projection already in progress")

	// ErrRunAborted is returned when the run timeout expires before every template is visited.
	ErrRunAborted = errors.New("recurring projection aborted")

	// ErrStoreUnavailable wraps failures to reach the store or fetch templates.
	ErrStoreUnavailable = errors.New("expense store unavailable")
)

// ProjectorConfig holds configuration for the recurrence projector
type ProjectorConfig struct {
	// Workers is the number of templates processed concurrently (default: 1, sequential).
	// Above 1 the store's unique index is what prevents duplicates.
	Workers int

	// MaxAttempts bounds store calls per template, first try included (default: 2)
	MaxAttempts int

	// RetryDelay is the initial backoff between attempts (default: 200ms)
	RetryDelay time.Duration

	// Timeout aborts a run that takes longer (default: 5m, 0 disables)
	Timeout time.Duration

	// Location decides which calendar day "now" falls on (default: UTC)
	Location *time.Location
}

// DefaultProjectorConfig returns sensible defaults
func DefaultProjectorConfig() ProjectorConfig {
	return ProjectorConfig{
		Workers:     1,
		MaxAttempts: 2,
		RetryDelay:  200 * time.Millisecond,
		Timeout:     5 * time.Minute,
		Location:    time.UTC,
	}
}

// RecurrenceProjector creates this month's expense instances from recurring templates.
type RecurrenceProjector struct {
	store  ProjectionStore
	config ProjectorConfig

	// held for the whole run so overlapping triggers never interleave
	mu sync.Mutex
}

// NewRecurrenceProjector creates a new projector over store
func NewRecurrenceProjector(store ProjectionStore, config ProjectorConfig) *RecurrenceProjector {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &RecurrenceProjector{
		store:  store,
		config: config,
	}
}

type outcome int

const (
	outcomeCreated outcome = iota
	outcomeSkipped
	outcomeFailed
	outcomeAborted
)

// tally accumulates per-template outcomes; safe for concurrent workers.
type tally struct {
	mu     sync.Mutex
	report *Report
}

func (t *tally) record(tpl core.Expense, o outcome, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch o {
	case outcomeCreated:
		t.report.Created++
	case outcomeSkipped:
		t.report.Skipped++
	case outcomeFailed:
		t.report.Errors = append(t.report.Errors, ItemError{
			TemplateID:  tpl.ID,
			Description: tpl.Description,
			Message:     err.Error(),
		})
	case outcomeAborted:
		t.report.Aborted = true
	}
}

// Run ensures every active template has one instance due in the month of now.
//
// Per-template failures are collected in the report and never stop the run.
// An error is returned only when the run cannot start (store unreachable,
// template fetch failed, another run in progress) or when it times out; in the
// latter case the report carries the partial progress.
func (p *RecurrenceProjector) Run(ctx context.Context, now time.Time) (Report, error) {
	if p.store == nil {
		return Report{}, fmt.Errorf("%w: projector not properly initialized", ErrStoreUnavailable)
	}

	if !p.mu.TryLock() {
		return Report{}, ErrRunInProgress
	}
	defer p.mu.Unlock()

	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	logger := log.FromContext(ctx).WithComponent(log.ComponentProjector)
	ctx = log.NewContext(ctx, logger)

	plan := newMonthPlan(core.DateOf(now, p.config.Location))
	report := Report{
		ReferenceDate: plan.Reference,
		Errors:        []ItemError{},
		ProcessedAt:   now,
	}

	templates, err := p.store.ListActiveRecurringTemplates(ctx, plan.Reference)
	if err != nil {
		if ctx.Err() != nil {
			report.Aborted = true
			return report, fmt.Errorf("%w: list active recurring templates: %w", ErrRunAborted, err)
		}
		return Report{}, fmt.Errorf("%w: list active recurring templates: %w", ErrStoreUnavailable, err)
	}
	report.TotalTemplates = len(templates)

	logger.InfoContext(ctx, "Processing recurring expenses",
		"total_active", len(templates),
		log.FieldReferenceDate, plan.Reference.String(),
		"workers", p.config.Workers)

	t := &tally{report: &report}
	if p.config.Workers == 1 {
		for _, tpl := range templates {
			if ctx.Err() != nil {
				t.record(tpl, outcomeAborted, nil)
				break
			}
			o, err := p.processTemplate(ctx, plan, tpl)
			t.record(tpl, o, err)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(p.config.Workers)
		for _, tpl := range templates {
			g.Go(func() error {
				if ctx.Err() != nil {
					t.record(tpl, outcomeAborted, nil)
					return nil
				}
				o, err := p.processTemplate(ctx, plan, tpl)
				t.record(tpl, o, err)
				return nil
			})
		}
		_ = g.Wait()
	}

	if report.Aborted {
		logger.WarnContext(ctx, "Recurring expense processing aborted",
			"processed", report.Processed(),
			"total", report.TotalTemplates,
			"created", report.Created)
		return report, fmt.Errorf("%w after %d of %d templates: %w",
			ErrRunAborted, report.Processed(), report.TotalTemplates, ctx.Err())
	}

	logger.InfoContext(ctx, "Recurring expense processing complete",
		"created", report.Created,
		"skipped", report.Skipped,
		"errors", len(report.Errors),
		"total_checked", report.TotalTemplates)

	return report, nil
}

// processTemplate runs the skip, clamp, check, insert sequence for one template.
func (p *RecurrenceProjector) processTemplate(ctx context.Context, plan monthPlan, tpl core.Expense) (outcome, error) {
	due, reason := plan.dueDate(tpl)
	if reason != skipNone {
		p.logSkip(ctx, tpl, reason, due)
		return outcomeSkipped, nil
	}

	existing, err := withRetry(ctx, p.config.MaxAttempts, p.config.RetryDelay, func() (*core.Expense, error) {
		return p.store.FindInstanceForTemplateInMonth(ctx, tpl.ID, plan.Start, plan.End)
	})
	if err != nil {
		return p.failure(ctx, tpl, fmt.Errorf("check existing instance: %w", err))
	}
	if existing != nil {
		p.logSkip(ctx, tpl, skipExisting, *existing.DueDate)
		return outcomeSkipped, nil
	}

	instance := tpl.NewInstance(due)
	id, err := withRetry(ctx, p.config.MaxAttempts, p.config.RetryDelay, func() (string, error) {
		return p.store.InsertExpenseInstance(ctx, instance)
	})
	if errors.Is(err, storage.ErrDuplicateInstance) {
		// another run inserted between our check and insert
		p.logSkip(ctx, tpl, skipLostRace, due)
		return outcomeSkipped, nil
	}
	if err != nil {
		return p.failure(ctx, tpl, fmt.Errorf("insert instance: %w", err))
	}

	log.FromContext(ctx).InfoContext(ctx, "Created expense from recurring template",
		log.FieldInstanceID, id,
		log.FieldTemplateID, tpl.ID,
		log.FieldDescription, tpl.Description,
		"amount", core.FormatAmount(tpl.Amount),
		log.FieldDueDate, due.String())

	return outcomeCreated, nil
}

func (p *RecurrenceProjector) failure(ctx context.Context, tpl core.Expense, err error) (outcome, error) {
	if ctx.Err() != nil {
		return outcomeAborted, err
	}
	fields := log.NewFields().WithTemplate(tpl.ID, tpl.Description).WithError(err)
	log.FromContext(ctx).ErrorContext(ctx, "Failed to create expense from recurring template", fields.ToSlice()...)
	return outcomeFailed, err
}

func (p *RecurrenceProjector) logSkip(ctx context.Context, tpl core.Expense, reason skipReason, due core.Date) {
	log.FromContext(ctx).DebugContext(ctx, "Skipped recurring template",
		log.FieldTemplateID, tpl.ID,
		log.FieldDescription, tpl.Description,
		log.FieldReason, string(reason),
		log.FieldDueDate, due.String())
}
