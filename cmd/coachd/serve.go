package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	httpserver "github.com/fyrsmithlabs/coachd/internal/http"
	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/monitor"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the coachd HTTP API. When monitor.enabled is set the intervention
monitor sweeps on monitor.interval in the same process.

Examples:
  # Start with the default config file
  coachd serve

  # Override settings through the environment
  COACHD_SERVER_PORT=9090 COACHD_MONITOR_ENABLED=true coachd serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

// runServe starts the server and blocks until ctx is cancelled, then shuts
// down within server.shutdown_timeout.
func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx = logging.WithLogger(ctx, a.logger)

	services := httpserver.Services{
		Onboarding:   a.onboarding,
		DailyCheck:   a.dailyCheck,
		Intervention: a.intervention,
		Resolution:   a.resolution,
		Chat:         a.chat,
		Profiles:     a.profiles,
	}

	var running *monitor.Running
	if cfg.Monitor.Enabled {
		m := a.newMonitor()
		services.Monitor = m
		running = m.Go(ctx, cfg.Monitor.Interval.Duration())
		a.logger.Info(ctx, "intervention monitor started", zap.Duration("interval", cfg.Monitor.Interval.Duration()))
	}

	srv, err := httpserver.NewServer(services, a.logger, &httpserver.Config{
		Host:     cfg.Server.Host,
		Port:     cfg.Server.Port,
		Version:  version,
		Backends: a.backends(),
	})
	if err != nil {
		if running != nil {
			running.Stop()
		}
		return fmt.Errorf("create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
	}

	if running != nil {
		running.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		a.logger.Error(shutdownCtx, "http shutdown failed", zap.Error(serr))
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	a.logger.Info(context.Background(), "server shutdown complete")
	return nil
}
