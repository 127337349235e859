package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

var flagEnvFile string

var rootCmd = &cobra.Command{
	Use:   "recurring-worker",
	Short: "Project recurring expense templates into monthly instances",
	Long: "recurring-worker makes sure every active recurring expense template has\n" +
		"exactly one pending instance due in the current month.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return LoadEnvFile(flagEnvFile)
	},
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", ".env", "Environment file for local development (empty to skip)")
}
