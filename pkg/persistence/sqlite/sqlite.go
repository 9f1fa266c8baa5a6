// Package sqlite provides the SQLite store for workflow instances and tasks, backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/flowline/pkg/persistence/sqlbase"
	_ "modernc.org/sqlite"
)

// Persistence implements persistence.Store for SQLite.
type Persistence struct {
	*sqlbase.Store
}

// NewPersistence opens the database at dsn, runs the migrations and returns the store.
// SQLite has a single writer, so the pool is limited to one connection and transactions serialize.
func NewPersistence(ctx context.Context, logger *slog.Logger, dsn string) (*Persistence, error) {
	database, err := Open(ctx, dsn)
	if err != nil {
		return nil, err
	}

	logger = logger.With("module", "sqlite")

	migrationManager := sqlbase.NewMigrationManager(logger, database, Dialect(), "schema_migrations", migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{Store: sqlbase.NewStore(database, logger, Dialect())}, nil
}

// connectionPragmas are applied by the driver to every connection it opens.
var connectionPragmas = []string{"foreign_keys(1)", "busy_timeout(5000)"}

// Open opens a SQLite database with foreign keys enabled and a busy timeout.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	database, err := sql.Open("sqlite", DSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	database.SetMaxOpenConns(1)

	err = database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to connect to SQLite database: %w", err)
	}

	return database, nil
}

// DSN strips the sqlite:// scheme and appends the connection pragmas as _pragma parameters.
func DSN(dsn string) string {
	dsn = strings.TrimPrefix(dsn, "sqlite://")

	params := make([]string, 0, len(connectionPragmas))
	for _, pragma := range connectionPragmas {
		params = append(params, "_pragma="+pragma)
	}

	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}

	return dsn + separator + strings.Join(params, "&")
}
