package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"VNPriceCache/internal/refresh"
	"VNPriceCache/internal/scheduler"
)

var runOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Refresh on a cron schedule until stopped",
	Long: `Runs the refresh on schedule.cron (seconds field first, market timezone),
serves Prometheus metrics on metrics.listen when set, and answers /status and
/refresh from the configured Telegram chat.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&runOnStart, "run-now", false, "run one refresh immediately after starting")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	sched := scheduler.NewScheduler(ctx, scheduler.Config{
		Runner: a.driver,
		Universe: func() ([]string, error) {
			return a.symbols(ctx, nil, false)
		},
		Status:      a.status,
		Notifier:    a.notifier,
		MaxAttempts: a.cfg.Refresh.MaxAttempts,
		BackOff: func() backoff.BackOff {
			return refresh.NewBackOff(a.cfg.Refresh.RetryInitial, a.cfg.Refresh.RetryMax)
		},
		Location: a.cfg.Location(),
		Logger:   a.logger,
	})
	if err := sched.RegisterAll(a.cfg.Schedule.Cron); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	var srv *http.Server
	if a.cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		})
		srv = &http.Server{Addr: a.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			a.logger.Info().Str("address", srv.Addr).Msg("metrics server starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	if a.notifier.Enabled() {
		go a.notifier.StartPolling(ctx, sched.HandleCommand)
		a.logger.Info().Msg("telegram polling started")
	}

	if runOnStart {
		a.logger.Info().Msg("--run-now set, refreshing immediately")
		sched.HandleCommand(ctx, "/refresh")
	}

	a.logger.Info().Str("cron", a.cfg.Schedule.Cron).Msg("refresher is running, press Ctrl+C to stop")
	<-ctx.Done()
	a.logger.Info().Msg("shutdown signal received, stopping")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return nil
}
