package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"caixa/internal/core"
	"caixa/internal/log"
	"caixa/internal/services"

	"github.com/spf13/cobra"
)

var errRunFailed = errors.New("recurring run failed")

var flagRunDate string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the projection once and print the result as JSON",
	Args:  cobra.NoArgs,
	RunE:  runOnce,
}

func init() {
	runCmd.Flags().StringVar(&flagRunDate, "date", "", "Reference date YYYY-MM-DD (default: today in TIMEZONE)")
	rootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, _ []string) error {
	var date core.Date
	if flagRunDate != "" {
		d, err := core.ParseDate(flagRunDate)
		if err != nil {
			return fmt.Errorf("invalid --date: %w", err)
		}
		date = d
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cmd.ErrOrStderr(), true)
	if err != nil {
		return err
	}
	defer a.close()

	now := a.now()
	if !date.IsZero() {
		now = time.Date(date.Year(), date.Month(), date.Day(), 12, 0, 0, 0, now.Location())
	}

	ctx = log.NewContext(ctx, a.logger.With(log.FieldTrigger, log.TriggerCLI))
	report, runErr := a.projector.Run(ctx, now)
	result := services.NewRunResult(report, runErr)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("write result: %w", err)
	}

	if !result.Success {
		return fmt.Errorf("%w: %s", errRunFailed, result.Error)
	}
	return nil
}
