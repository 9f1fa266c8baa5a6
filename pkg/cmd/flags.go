package cmd

import (
	"fmt"

	"github.com/dukex/flowline/pkg/config"
	"github.com/urfave/cli/v3"
)

// BackendFlags are the flags every binary needs to reach the store, the queue and the lock server.
func BackendFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a YAML configuration file; flags and environment variables override it",
			Sources: cli.EnvVars("FLOWLINE_CONFIG"),
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Database connection URL for persistence (memory://, sqlite://path, postgres://...)",
			Value:   config.DefaultDatabaseURL,
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "queue-url",
			Usage:   "Queue URL (redis://, kafka://broker1,broker2, gochannel://, sqlite://, postgres://); the database by default",
			Sources: cli.EnvVars("QUEUE_URL"),
		},
		&cli.StringFlag{
			Name:    "queue-name",
			Usage:   "Name of the task queue",
			Value:   config.DefaultQueueName,
			Sources: cli.EnvVars("QUEUE_NAME"),
		},
		&cli.StringFlag{
			Name:    "lock-url",
			Usage:   "Workflow lock server URL (redis://... or memory://)",
			Value:   config.DefaultLockURL,
			Sources: cli.EnvVars("LOCK_URL"),
		},
		&cli.DurationFlag{
			Name:    "lock-timeout",
			Usage:   "How long a workflow lock outlives a crashed holder",
			Value:   config.DefaultLockTimeout,
			Sources: cli.EnvVars("LOCK_TIMEOUT"),
		},
		&cli.StringFlag{
			Name:    "plugins-path",
			Usage:   "Path to the directory containing workflow type plugins",
			Value:   "./plugins",
			Sources: cli.EnvVars("PLUGINS_PATH"),
		},
		&cli.BoolFlag{
			Name:    "otel",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

// WorkerFlags configure the worker pool.
func WorkerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Custom worker ID (auto-generated if not provided)",
			Sources: cli.EnvVars("WORKER_ID"),
		},
		&cli.IntFlag{
			Name:    "concurrency",
			Usage:   "Number of tasks executed at the same time",
			Value:   config.DefaultConcurrency,
			Sources: cli.EnvVars("CONCURRENCY"),
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "Pause between polls of an empty queue",
			Value:   config.DefaultPollInterval,
			Sources: cli.EnvVars("POLL_INTERVAL"),
		},
		&cli.IntFlag{
			Name:    "max-attempts",
			Usage:   "Redeliveries of a job after infrastructure failures (0 retries forever)",
			Sources: cli.EnvVars("MAX_ATTEMPTS"),
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Usage:   "Address serving Prometheus metrics; empty disables it",
			Value:   config.DefaultMetricsAddr,
			Sources: cli.EnvVars("METRICS_ADDR"),
		},
		&cli.StringSliceFlag{
			Name:    "schedule",
			Usage:   "Start a workflow on a cron expression, as type:node:cron (repeatable)",
			Sources: cli.EnvVars("SCHEDULES"),
		},
	}
}

// LoadConfig reads the configuration file named by --config and applies the flags that were set.
func LoadConfig(command *cli.Command) (config.Config, error) {
	cfg, err := config.Load(command.String("config"))
	if err != nil {
		return cfg, err
	}

	stringFlags := map[string]*string{
		"database-url": &cfg.DatabaseURL,
		"queue-url":    &cfg.QueueURL,
		"queue-name":   &cfg.QueueName,
		"lock-url":     &cfg.LockURL,
		"plugins-path": &cfg.PluginsPath,
		"log-level":    &cfg.LogLevel,
		"log-format":   &cfg.LogFormat,
		"worker-id":    &cfg.WorkerID,
		"metrics-addr": &cfg.MetricsAddr,
	}
	for name, target := range stringFlags {
		if command.IsSet(name) {
			*target = command.String(name)
		}
	}

	intFlags := map[string]*int{
		"concurrency":  &cfg.Concurrency,
		"max-attempts": &cfg.MaxAttempts,
		"port":         &cfg.Port,
	}
	for name, target := range intFlags {
		if command.IsSet(name) {
			*target = command.Int(name)
		}
	}

	if command.IsSet("lock-timeout") {
		cfg.LockTimeout = command.Duration("lock-timeout")
	}

	if command.IsSet("poll-interval") {
		cfg.PollInterval = command.Duration("poll-interval")
	}

	if command.IsSet("otel") {
		cfg.Otel = command.Bool("otel")
	}

	if command.IsSet("schedule") {
		cfg.Schedules = command.StringSlice("schedule")
	}

	if cfg.PluginsPath == "" {
		cfg.PluginsPath = "./plugins"
	}

	err = cfg.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
