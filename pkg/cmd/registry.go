// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/dukex/flowline/internal/samples"
	"github.com/dukex/flowline/pkg/registry"
)

// NewRegistry registers the built-in workflow types and the plugin types found under pluginsPath.
// A missing plugins directory is not an error.
func NewRegistry(logger *slog.Logger, pluginsPath string) (*registry.Registry, error) {
	reg := registry.NewRegistry(logger)

	err := reg.Register(samples.Types()...)
	if err != nil {
		return nil, fmt.Errorf("failed to register sample workflow types: %w", err)
	}

	if pluginsPath == "" {
		return reg, nil
	}

	_, err = os.Stat(pluginsPath)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Debug("Plugins directory not found; skipping", "path", pluginsPath)

		return reg, nil
	}

	err = reg.LoadPlugins(pluginsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load plugins: %w", err)
	}

	return reg, nil
}
