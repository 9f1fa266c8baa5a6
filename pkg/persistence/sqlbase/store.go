package sqlbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowline/pkg/persistence"
)

// Store implements persistence.Store over database/sql for any Dialect.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	dialect *Dialect
	now     func() time.Time
}

// NewStore wraps an open database. The schema must already be migrated.
func NewStore(db *sql.DB, logger *slog.Logger, dialect *Dialect) *Store {
	return &Store{
		db:      db,
		logger:  logger,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the clock used for created and modified timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the SQL dialect of the store.
func (s *Store) Dialect() *Dialect {
	return s.dialect
}

// Transaction runs fn in a database transaction and runs the registered hooks after commit.
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context, tx persistence.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.dialect.Classify(fmt.Errorf("failed to begin transaction: %w", err))
	}

	tx := &Tx{tx: sqlTx, store: s}

	defer func() {
		if r := recover(); r != nil {
			_ = sqlTx.Rollback()

			panic(r)
		}
	}()

	err = fn(ctx, tx)
	if err != nil {
		rollbackErr := sqlTx.Rollback()
		if rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.logger.ErrorContext(ctx, "Failed to rollback transaction", "error", rollbackErr)
		}

		return err
	}

	err = sqlTx.Commit()
	if err != nil {
		return s.dialect.Classify(fmt.Errorf("failed to commit transaction: %w", err))
	}

	tx.hooks.Run(ctx, s.logger)

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *Store) HealthCheck(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close(context.Context) error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}

	return nil
}
