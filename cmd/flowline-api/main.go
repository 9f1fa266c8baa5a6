// Package main provides the Flowline API server.
package main

import (
	"context"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/dukex/flowline/pkg/cmd"
	"github.com/dukex/flowline/pkg/config"
	"github.com/dukex/flowline/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "flowline-api",
		Usage:                 "Serve human task completion, workflow starts and admin actions over HTTP",
		EnableShellCompletion: true,
		Flags: slices.Concat(cmd.BackendFlags(), []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   config.DefaultPort,
				Sources: cli.EnvVars("PORT"),
			},
		}),
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, err := cmd.LoadConfig(command)
			if err != nil {
				return err
			}

			log.Setup(cfg.LogLevel, cfg.LogFormat)

			logger.InfoContext(ctx, "Initializing Flowline API")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			backends, err := cmd.OpenBackends(ctx, cfg, logger, "flowline-api")
			if err != nil {
				return err
			}
			defer backends.Close(context.WithoutCancel(ctx))

			return NewAPI(logger, backends.Engine, backends.Store).Start(ctx, cfg.Port)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		logger.Error("API failed", "error", err)
		os.Exit(1)
	}
}
