package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/flowline/pkg/cmd"
	"github.com/dukex/flowline/pkg/config"
	"github.com/dukex/flowline/pkg/triggers/schedule"
	"github.com/dukex/flowline/pkg/worker"
	"github.com/dukex/flowline/pkg/workflow"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

type WorkerManager struct {
	cfg      config.Config
	backends *cmd.Backends
	logger   *slog.Logger
}

func NewWorkerManager(cfg config.Config, backends *cmd.Backends, logger *slog.Logger) *WorkerManager {
	return &WorkerManager{
		cfg:      cfg,
		backends: backends,
		logger:   logger,
	}
}

// Start runs the worker pool, the schedule triggers and the metrics endpoint until SIGINT, SIGTERM or ctx ends.
func (w *WorkerManager) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w.logger.InfoContext(ctx, "Starting worker manager",
		"concurrency", w.cfg.Concurrency,
		"queue", w.cfg.QueueName,
		"schedules", len(w.cfg.Schedules),
	)

	triggers, err := schedule.NewScheduleTriggers(w.cfg.Schedules, w.backends.Engine, w.logger)
	if err != nil {
		return err
	}

	for _, trigger := range triggers {
		err = trigger.Start(ctx)
		if err != nil {
			w.stopTriggers(ctx, triggers)

			return fmt.Errorf("failed to start schedule %s: %w", trigger.CronExpr, err)
		}
	}
	defer w.stopTriggers(ctx, triggers)

	if w.cfg.MetricsAddr != "" {
		server := w.serveMetrics(ctx)
		defer w.shutdown(ctx, server)
	}

	pool := worker.NewPool(
		w.cfg.WorkerID,
		w.backends.Queue,
		workflow.NewRunner(w.backends.Engine),
		w.logger,
		worker.WithConcurrency(w.cfg.Concurrency),
		worker.WithPollInterval(w.cfg.PollInterval),
		worker.WithMaxAttempts(w.cfg.MaxAttempts),
		worker.WithQueueName(w.cfg.QueueName),
		worker.WithTracer(w.backends.Tracer),
	)

	w.logger.InfoContext(ctx, "Worker started successfully")

	err = pool.Run(ctx)

	w.logger.InfoContext(ctx, "Shutting down worker...")

	return err
}

func (w *WorkerManager) stopTriggers(ctx context.Context, triggers []*schedule.ScheduleTrigger) {
	for _, trigger := range triggers {
		err := trigger.Stop(context.WithoutCancel(ctx))
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to stop schedule", "cron", trigger.CronExpr, "error", err)
		}
	}
}

func (w *WorkerManager) serveMetrics(ctx context.Context) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              w.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		w.logger.InfoContext(ctx, "Serving metrics", "addr", w.cfg.MetricsAddr)

		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.logger.ErrorContext(ctx, "Metrics server failed", "error", err)
		}
	}()

	return server
}

func (w *WorkerManager) shutdown(ctx context.Context, server *http.Server) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	err := server.Shutdown(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to stop metrics server", "error", err)
	}
}
