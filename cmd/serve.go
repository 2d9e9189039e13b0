package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tdhoang/reportfetch/internal/coordinator"
	"github.com/tdhoang/reportfetch/internal/scheduler"
	"github.com/tdhoang/reportfetch/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP facade",
	Long: `Starts the HTTP API: triggering runs, streaming run progress, browsing
the audit trail, and managing saved configurations and one-shot
schedules. Pending schedules are restored from the state store on
startup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		runCtx, cancelRuns := context.WithCancel(context.Background())
		defer cancelRuns()

		coord := &coordinator.Coordinator{
			Cfg:   appConfig,
			Log:   rootLogger,
			State: appState,
			Audit: appAudit,
		}
		srv := &server.Server{
			Cfg:    appConfig,
			Log:    rootLogger,
			Coord:  coord,
			State:  appState,
			Audit:  appAudit,
			Store:  appStore,
			RunCtx: runCtx,
		}
		srv.Sched = scheduler.New(appStore, srv.StartSaved, rootLogger)
		defer srv.Sched.Stop()

		if err := srv.Sched.Restore(runCtx); err != nil {
			return fmt.Errorf("restoring schedules: %w", err)
		}

		httpSrv := &http.Server{
			Addr:    appConfig.ListenAddr,
			Handler: srv.Handler(),
		}

		errCh := make(chan error, 1)
		go func() {
			rootLogger.Info("http server listening", "addr", appConfig.ListenAddr)
			errCh <- httpSrv.ListenAndServe()
		}()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case sig := <-stop:
			rootLogger.Info("shutting down", "signal", sig.String())
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				rootLogger.Error("http shutdown failed", "error", err)
			}
			cancelRuns()
		}
		return nil
	},
}
