package cli

import (
	"context"
	"errors"
	"io"
	"time"

	"caixa/internal/amqp"
	"caixa/internal/config"
	"caixa/internal/log"
	"caixa/internal/services"
)

// app holds what every command builds before doing its job.
type app struct {
	cfg       *config.Config
	logger    *log.Logger
	store     Store
	amqp      *amqp.Client
	projector *services.RecurrenceProjector
}

func newApp(ctx context.Context, logOut io.Writer, withEvents bool) (*app, error) {
	cfg, err := LoadAndValidateConfig()
	if err != nil {
		return nil, err
	}
	logger := SetupLogger(logOut, cfg)

	store, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, store: store}

	// an untyped nil keeps the service's "no publisher" path
	var publisher services.InstancePublisher
	if withEvents {
		if a.amqp = ConnectAMQP(ctx, cfg, logger); a.amqp != nil {
			publisher = a.amqp
		}
	}

	a.projector = services.NewRecurrenceProjector(
		services.NewExpenseService(store, publisher),
		projectorConfig(cfg),
	)
	return a, nil
}

func projectorConfig(cfg *config.Config) services.ProjectorConfig {
	pc := services.DefaultProjectorConfig()
	pc.Workers = cfg.RecurringWorkers
	pc.MaxAttempts = cfg.RecurringMaxAttempts
	pc.Timeout = cfg.RecurringTimeout
	pc.Location = cfg.Location()
	return pc
}

// now returns the current time in the configured zone.
func (a *app) now() time.Time {
	return time.Now().In(a.cfg.Location())
}

// handleRunRequest serves the AMQP trigger queue. Only store outages are
// returned, so the request is requeued for a later attempt; anything else
// would fail again and is dropped after logging.
func (a *app) handleRunRequest(ctx context.Context, req *amqp.RunRequest) error {
	ctx = log.NewContext(ctx, a.logger.With(log.FieldTrigger, log.TriggerAMQP, "requested_by", req.RequestedBy))

	report, err := a.projector.Run(ctx, req.ReferenceTime(a.now()))
	switch {
	case errors.Is(err, services.ErrStoreUnavailable):
		return err
	case err != nil:
		a.logger.WarnContext(ctx, "Requested run did not complete", log.FieldError, err)
	default:
		a.logger.InfoContext(ctx, "Requested run finished",
			log.FieldReferenceDate, report.ReferenceDate.String(),
			"created", report.Created,
			"skipped", report.Skipped,
			"errors", len(report.Errors))
	}
	return nil
}

func (a *app) close() {
	if a.amqp != nil {
		if err := a.amqp.Close(); err != nil {
			a.logger.Warn("Failed to close AMQP client", log.FieldError, err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Failed to close store", log.FieldError, err)
	}
}
