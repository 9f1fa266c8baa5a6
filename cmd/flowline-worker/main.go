// Package main provides the flowline worker: it executes queued tasks and fires scheduled workflow starts.
package main

import (
	"context"
	"os"
	"slices"

	"github.com/dukex/flowline/pkg/cmd"
	"github.com/dukex/flowline/pkg/log"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                      "flowline-worker",
		EnableShellCompletion:     true,
		DisableSliceFlagSeparator: true,
		Usage:                     "Start workers to execute workflow tasks",
		Flags:                     slices.Concat(cmd.BackendFlags(), cmd.WorkerFlags()),
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, err := cmd.LoadConfig(command)
			if err != nil {
				return err
			}

			log.Setup(cfg.LogLevel, cfg.LogFormat)

			if cfg.WorkerID == "" {
				cfg.WorkerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("flowline-worker").With("worker_id", cfg.WorkerID)

			logger.InfoContext(ctx, "Initializing Flowline Worker")

			backends, err := cmd.OpenBackends(ctx, cfg, logger, "flowline-worker")
			if err != nil {
				return err
			}
			defer backends.Close(context.WithoutCancel(ctx))

			return NewWorkerManager(cfg, backends, logger).Start(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("flowline-worker").Error("Worker failed", "error", err)
		os.Exit(1)
	}
}
