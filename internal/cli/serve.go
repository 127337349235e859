package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	apphttp "caixa/internal/http"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP run trigger with health and readiness probes",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), cmd.ErrOrStderr(), true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := ShutdownContext(cmd.Context(), a.logger)
	defer cancel()

	return a.serveHTTP(ctx)
}

// serveHTTP runs the trigger server until ctx is done.
func (a *app) serveHTTP(ctx context.Context) error {
	srv := apphttp.NewServer(":"+a.cfg.Port, a.projector, a.store, a.cfg.Location(), a.logger)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	a.logger.Info("HTTP server stopped")
	return nil
}
