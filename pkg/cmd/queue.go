package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/flowline/pkg/channels/gochannel"
	"github.com/dukex/flowline/pkg/channels/kafka"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/persistence/postgresql"
	"github.com/dukex/flowline/pkg/persistence/sqlbase"
	"github.com/dukex/flowline/pkg/persistence/sqlite"
	"github.com/dukex/flowline/pkg/queue"
	"github.com/dukex/flowline/pkg/queue/redisqueue"
	"github.com/dukex/flowline/pkg/queue/sqlqueue"
	"github.com/dukex/flowline/pkg/queue/watermillqueue"
)

// sqlStore is a store whose database can also hold the queue.
type sqlStore interface {
	DB() *sql.DB
	Dialect() *sqlbase.Dialect
}

// NewQueue opens the queue selected by the scheme of queueURL. An empty URL keeps the jobs next to the
// workflow data: in the store's database, or in process memory for the memory store.
func NewQueue(ctx context.Context, logger *slog.Logger, queueURL, name string, store persistence.Store) (queue.Queue, error) {
	if queueURL == "" {
		if shared, ok := store.(sqlStore); ok {
			return sqlqueue.New(ctx, logger, shared.DB(), shared.Dialect(), name)
		}

		return queue.NewMemory(), nil
	}

	provider := parseProvider(queueURL)

	switch provider {
	case "memory":
		return queue.NewMemory(), nil
	case "redis", "rediss":
		return redisqueue.NewFromURL(ctx, queueURL, name)
	case "sqlite":
		db, err := sqlite.Open(ctx, queueURL)
		if err != nil {
			return nil, err
		}

		return ownedSQLQueue(ctx, logger, db, sqlite.Dialect(), name)
	case "postgres", "postgresql":
		db, err := sql.Open("postgres", queueURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL queue database: %w", err)
		}

		return ownedSQLQueue(ctx, logger, db, postgresql.Dialect(), name)
	case "kafka":
		kafkaConfig, err := kafka.ParseURL(queueURL, "flowline-"+name)
		if err != nil {
			return nil, fmt.Errorf("invalid Kafka queue URL: %w", err)
		}

		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), kafkaConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return watermillqueue.New(ctx, logger, pub, sub, name)
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger), gochannel.DefaultBuffer)
		if err != nil {
			return nil, err
		}

		return watermillqueue.New(ctx, logger, pub, sub, name)
	default:
		return nil, fmt.Errorf("unsupported queue provider %q", provider)
	}
}

func ownedSQLQueue(ctx context.Context, logger *slog.Logger, db *sql.DB, dialect *sqlbase.Dialect, name string) (queue.Queue, error) {
	q, err := sqlqueue.New(ctx, logger, db, dialect, name, sqlqueue.WithOwnedDB())
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return q, nil
}
