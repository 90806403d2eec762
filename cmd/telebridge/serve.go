package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"telebridge/internal/health"
	"telebridge/internal/httpapi"
	"telebridge/internal/logging"
	"telebridge/internal/scheduler"
)

const (
	connectTimeout      = 60 * time.Second
	httpShutdownTimeout = 10 * time.Second
	schedulerStopWait   = 10 * time.Second
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled refresh",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}

	logger.WithFields(logging.Fields{
		"event":         "startup",
		"store_backend": cfg.StoreBackend,
		"insights":      cfg.InsightsEnabled(),
	}).Info("configuration loaded")

	a, err := newApp(parent, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	connectCtx, cancelConnect := context.WithTimeout(parent, connectTimeout)
	if err := a.connect(connectCtx); err != nil {
		logger.WithError(err).WithField("event", "bot_connect_failed").Warn("stored bot token rejected; starting disconnected")
	}
	cancelConnect()

	var sched *scheduler.Scheduler
	if cfg.RefreshSchedule != "" {
		sched, err = scheduler.New(cfg.RefreshSchedule, a.engine, logger)
		if err != nil {
			return err
		}
		if err := sched.Start(); err != nil {
			return err
		}
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Engine:   a.engine,
		Invites:  a.invites,
		Transfer: a.transfer,
		Health:   health.NewHandler(a.settings, a.engine, logger),
		Metrics:  a.metrics.Handler(),
		Logger:   logger,
	})
	server := httpapi.NewServer(cfg.HTTPPort, router, logger)

	signalCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	var runErr error
	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, shutting down")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		} else {
			logger.WithField("event", "http_stopped_early").Warn("http server stopped before shutdown signal")
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), httpShutdownTimeout)
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).WithField("event", "http_shutdown_timeout").Warn("http server shutdown did not complete")
	}
	cancelShutdown()

	if sched != nil {
		stopCtx, cancelStop := context.WithTimeout(context.Background(), schedulerStopWait)
		if err := sched.Stop(stopCtx); err != nil {
			logger.WithError(err).WithField("event", "scheduler_stop_timeout").Warn("timed out waiting for scheduled refresh to stop")
		}
		cancelStop()
	}

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
	return runErr
}
