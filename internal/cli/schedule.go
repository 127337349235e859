package cli

import (
	"context"
	"errors"

	"caixa/internal/log"
	"caixa/internal/scheduler"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var flagScheduleHTTP bool

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the projection on RECURRING_SCHEDULE and consume AMQP run requests",
	Args:  cobra.NoArgs,
	RunE:  runSchedule,
}

func init() {
	scheduleCmd.Flags().BoolVar(&flagScheduleHTTP, "http", false, "Also serve the HTTP run trigger")
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), cmd.ErrOrStderr(), true)
	if err != nil {
		return err
	}
	defer a.close()

	sched, err := scheduler.New(a.projector, scheduler.Config{
		Spec:       a.cfg.RecurringSchedule,
		RunOnStart: a.cfg.RecurringRunOnStart,
		Location:   a.cfg.Location(),
	}, a.logger)
	if err != nil {
		return err
	}

	ctx, cancel := ShutdownContext(cmd.Context(), a.logger)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	// in-flight runs finish on shutdown; Stop waits for them
	sched.Start(context.WithoutCancel(gctx))
	a.logger.Info("Next recurring run", "at", sched.Next())

	if a.amqp != nil && a.cfg.AMQPTriggerQueue != "" {
		amqpLogger := a.logger.WithComponent(log.ComponentAMQP)
		g.Go(func() error {
			err := a.amqp.ConsumeRunRequests(log.NewContext(gctx, amqpLogger), a.handleRunRequest)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if flagScheduleHTTP {
		g.Go(func() error { return a.serveHTTP(gctx) })
	}

	<-gctx.Done()
	err = g.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), a.cfg.RecurringTimeout+shutdownTimeout)
	defer stopCancel()
	if stopErr := sched.Stop(stopCtx); stopErr != nil && err == nil {
		err = stopErr
	}
	return err
}
