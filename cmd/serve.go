package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/brensch/jusosync/internal/metrics"
	"github.com/brensch/jusosync/internal/scheduler"
	"github.com/brensch/jusosync/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daily timer and the manual trigger endpoint",
	Long: `Starts the daily timer (schedule.cron, Quartz style accepted) and an HTTP
server exposing:

  POST /api/batch/run-update   run one recovery pass now
  GET  /api/health             liveness and the last success date
  GET  /metrics                Prometheus metrics

Runs until SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := appConfig

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		registry := metrics.NewRegistry()
		m := metrics.New(registry)
		c, err := buildComponents(cfg, dbConn, dbDialect, m, observers{}, logger)
		if err != nil {
			return err
		}
		loc, err := cfg.Location()
		if err != nil {
			return err
		}

		var timer *scheduler.Timer
		if cfg.Schedule.Enabled {
			timer, err = scheduler.NewTimer(cfg.Schedule.Cron, loc, logger)
			if err != nil {
				return err
			}
			err = timer.Start(ctx, func(ctx context.Context) {
				if _, err := c.scheduler.Run(ctx); err != nil && !errors.Is(err, scheduler.ErrRunInProgress) {
					logger.Error("Scheduled recovery run failed.", "error", err)
				}
			})
			if err != nil {
				return err
			}
		} else {
			logger.Info("Timer disabled, only manual triggers will run.")
		}

		srv := server.New(server.Options{
			Addr:     cfg.Server.Addr,
			Runner:   c.scheduler,
			Progress: c.progress,
			Gatherer: registry,
			Location: loc,
		}, logger)
		serveErr := srv.ListenAndServe(ctx)

		if timer != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := timer.Stop(stopCtx); err != nil {
				logger.Warn("Timer did not stop cleanly.", "error", err)
			}
		}
		logger.Info("Shut down.", slog.String("addr", cfg.Server.Addr))
		return serveErr
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "HTTP listen address")
}
