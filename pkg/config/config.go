// Package config holds the settings shared by the flowline binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDatabaseURL  = "sqlite://flowline.db"
	DefaultLockURL      = "redis://localhost:6379/0"
	DefaultLockTimeout  = 60 * time.Second
	DefaultQueueName    = "flowline"
	DefaultConcurrency  = 4
	DefaultPollInterval = 200 * time.Millisecond
	DefaultPort         = 9091
	DefaultMetricsAddr  = ":9092"
)

// Config is read from an optional YAML file; command line flags and environment variables override it.
type Config struct {
	WorkerID    string `yaml:"worker_id"`
	DatabaseURL string `yaml:"database_url" validate:"required"`
	// QueueURL selects the queue backend. Empty means the database is used as the queue.
	QueueURL    string        `yaml:"queue_url"`
	QueueName   string        `yaml:"queue_name"   validate:"required,max=128"`
	LockURL     string        `yaml:"lock_url"     validate:"required"`
	LockTimeout time.Duration `yaml:"lock_timeout" validate:"gt=0"`

	Concurrency  int           `yaml:"concurrency"   validate:"min=1,max=1024"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
	// MaxAttempts bounds redeliveries after infrastructure failures. Zero retries forever.
	MaxAttempts int `yaml:"max_attempts" validate:"min=0"`

	Port        int    `yaml:"port"         validate:"min=1,max=65535"`
	MetricsAddr string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
	Otel        bool   `yaml:"otel"`

	// Schedules start workflows on a cron expression, as "type:node:cron".
	Schedules   []string `yaml:"schedules"    validate:"dive,required"`
	PluginsPath string   `yaml:"plugins_path"`

	LogLevel  string `yaml:"log_level"  validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"oneof=text json"`
}

func Default() Config {
	return Config{
		DatabaseURL:  DefaultDatabaseURL,
		QueueName:    DefaultQueueName,
		LockURL:      DefaultLockURL,
		LockTimeout:  DefaultLockTimeout,
		Concurrency:  DefaultConcurrency,
		PollInterval: DefaultPollInterval,
		Port:         DefaultPort,
		MetricsAddr:  DefaultMetricsAddr,
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return cfg, nil
}

// Validate checks every field and reports all violations at once.
func (c Config) Validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(c)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	errs := make([]error, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		errs = append(errs, fmt.Errorf("invalid %s: failed on %q", fieldErr.Namespace(), fieldErr.Tag()))
	}

	return errors.Join(errs...)
}
