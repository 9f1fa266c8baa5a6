package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/persistence/memory"
	"github.com/dukex/flowline/pkg/persistence/postgresql"
	"github.com/dukex/flowline/pkg/persistence/sqlite"
)

var supportedPersistenceProviders = []string{"memory", "sqlite", "postgres", "postgresql"}

// NewPersistence opens the store selected by the scheme of databaseURL.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Store, error) {
	provider := parseProvider(databaseURL)

	switch provider {
	case "memory":
		return memory.NewStore(logger), nil
	case "sqlite":
		return sqlite.NewPersistence(ctx, logger, databaseURL)
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return nil, fmt.Errorf("unsupported persistence provider %q, expected one of %s",
			provider, strings.Join(supportedPersistenceProviders, ", "))
	}
}

// parseProvider returns the scheme of url, or the whole value when it has none.
func parseProvider(url string) string {
	provider, _, _ := strings.Cut(url, "://")

	return provider
}
