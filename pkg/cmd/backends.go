package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowline/pkg/config"
	"github.com/dukex/flowline/pkg/lock"
	"github.com/dukex/flowline/pkg/otelhelper"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/queue"
	"github.com/dukex/flowline/pkg/registry"
	"github.com/dukex/flowline/pkg/scheduler"
	"github.com/dukex/flowline/pkg/workflow"
	"go.opentelemetry.io/otel/trace"
)

// Backends wires the engine to the store, queue and locker named by the configuration.
type Backends struct {
	Store    persistence.Store
	Queue    queue.Queue
	Locker   lock.Locker
	Registry *registry.Registry
	Engine   *workflow.Engine
	Tracer   trace.Tracer

	logger   *slog.Logger
	shutdown otelhelper.ShutdownFunc
}

// OpenBackends connects every backend. On failure the backends opened so far are closed.
func OpenBackends(ctx context.Context, cfg config.Config, logger *slog.Logger, service string) (*Backends, error) {
	b := &Backends{logger: logger}

	err := b.open(ctx, cfg, service)
	if err != nil {
		b.Close(ctx)

		return nil, err
	}

	return b, nil
}

func (b *Backends) open(ctx context.Context, cfg config.Config, service string) error {
	var err error

	b.Tracer, b.shutdown, err = otelhelper.NewTracer(ctx, service, cfg.Otel)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	b.Registry, err = NewRegistry(b.logger, cfg.PluginsPath)
	if err != nil {
		return err
	}

	b.Store, err = NewPersistence(ctx, b.logger, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open persistence: %w", err)
	}

	b.Queue, err = NewQueue(ctx, b.logger, cfg.QueueURL, cfg.QueueName, b.Store)
	if err != nil {
		return fmt.Errorf("failed to open queue: %w", err)
	}

	b.Locker, err = NewLocker(ctx, cfg.LockURL)
	if err != nil {
		return fmt.Errorf("failed to open locker: %w", err)
	}

	b.Engine = workflow.NewEngine(
		b.Store,
		b.Registry,
		b.Locker,
		scheduler.NewQueueScheduler(b.Queue, b.logger),
		b.logger,
		workflow.WithLockTTL(cfg.LockTimeout),
		workflow.WithTracer(b.Tracer),
	)

	return nil
}

// Close releases the backends in reverse order of opening, logging failures.
func (b *Backends) Close(ctx context.Context) {
	var errs []error

	if b.Locker != nil {
		errs = append(errs, b.Locker.Close())
	}

	if b.Queue != nil {
		errs = append(errs, b.Queue.Close())
	}

	if b.Store != nil {
		errs = append(errs, b.Store.Close(ctx))
	}

	if b.shutdown != nil {
		errs = append(errs, b.shutdown(ctx))
	}

	err := errors.Join(errs...)
	if err != nil {
		b.logger.ErrorContext(ctx, "Failed to close backends", "error", err)
	}
}
