package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/monitor"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run monitoring cycles on a schedule",
	Long: `Run monitoring cycles continuously on the configured cron
schedule, optionally also triggered by log file writes
(daemon.follow_log). Triggers coalesce: a cycle already in flight
absorbs any that fire while it runs.

When daemon.ops_addr is set, /healthz and Prometheus /metrics are
served on that address.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The meter provider must exist before services create their
	// instruments, so this precedes newApp.
	exporter, err := otelprom.New()
	if err != nil {
		return fmt.Errorf("failed to create metrics exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "failed to shut down metrics: %v\n", err)
		}
	}()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	trigger := make(chan struct{}, 1)
	kick := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	sched := cron.New()
	if _, err := sched.AddFunc(a.cfg.Daemon.Schedule, kick); err != nil {
		return fmt.Errorf("invalid daemon schedule %q: %w", a.cfg.Daemon.Schedule, err)
	}
	sched.Start()
	defer sched.Stop()

	if a.cfg.Daemon.FollowLog {
		go func() {
			if err := a.reader.Follow(ctx, trigger); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("log follower stopped", zap.Error(err))
			}
		}()
	}

	var ops *echo.Echo
	if addr := a.cfg.Daemon.OpsAddr; addr != "" {
		ops = newOpsServer()
		go func() {
			if err := ops.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("ops server stopped", zap.Error(err))
			}
		}()
	}

	a.logger.Info("daemon started",
		zap.String("schedule", a.cfg.Daemon.Schedule),
		zap.Bool("follow_log", a.cfg.Daemon.FollowLog),
		zap.String("ops_addr", a.cfg.Daemon.OpsAddr),
	)

	// First cycle immediately; the schedule covers steady state.
	kick()

	for {
		select {
		case <-ctx.Done():
			if ops != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := ops.Shutdown(shutdownCtx); err != nil {
					a.logger.Error("failed to shut down ops server", zap.Error(err))
				}
				cancel()
			}
			a.logger.Info("daemon stopped")
			return nil
		case <-trigger:
			if _, err := a.monitor.RunCycle(ctx); err != nil &&
				!errors.Is(err, monitor.ErrCycleRunning) &&
				!errors.Is(err, context.Canceled) {
				a.logger.Error("scan cycle failed", zap.Error(err))
			}
		}
	}
}

func newOpsServer() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}
