package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	every       time.Duration
	metricsAddr string
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule [channel...]",
	Short: "Run the sync on a fixed interval and serve metrics",
	Long: `Schedule runs the sync immediately and then every --every interval until
interrupted. Prometheus metrics are served on /metrics and a health check on
/healthz at --metrics-addr.

Example:
  ytsheets schedule --every 6h --metrics-addr :9090 @GoogleDevelopers`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if every <= 0 {
			return errors.New("--every must be positive")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		rc, err := flags.apply(cmd, a.runConfig(args))
		if err != nil {
			return err
		}
		if err := rc.Normalize().Validate(); err != nil {
			return err
		}

		addr := cfg.MetricsAddr
		if cmd.Flags().Changed("metrics-addr") {
			addr = metricsAddr
		}
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.metrics.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.log.Info().Str("addr", addr).Msg("metrics server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			runOnce(ctx, a, rc)
			a.log.Info().Time("next", time.Now().Add(every)).Msg("waiting for next run")
			select {
			case <-ctx.Done():
				a.log.Info().Msg("scheduler stopped")
				return nil
			case <-ticker.C:
			}
		}
	},
}

func init() {
	addRunFlags(scheduleCmd)
	scheduleCmd.Flags().DurationVar(&every, "every", time.Hour, "interval between runs")
	scheduleCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "metrics listen address (overrides config)")
}
