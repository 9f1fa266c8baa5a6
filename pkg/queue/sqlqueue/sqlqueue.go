// Package sqlqueue stores jobs in a SQL table. Consumers claim due rows with a visibility timeout;
// PostgreSQL consumers skip rows claimed by concurrent transactions.
package sqlqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowline/pkg/persistence/sqlbase"
	"github.com/dukex/flowline/pkg/queue"
	"github.com/google/uuid"
)

// DefaultVisibilityTimeout is how long a claimed job stays invisible before it is redelivered.
const DefaultVisibilityTimeout = 5 * time.Minute

type Queue struct {
	db         *sql.DB
	dialect    *sqlbase.Dialect
	logger     *slog.Logger
	name       string
	visibility time.Duration
	now        func() time.Time
	closeDB    bool
}

type Option func(*Queue)

func WithVisibilityTimeout(timeout time.Duration) Option {
	return func(q *Queue) {
		q.visibility = timeout
	}
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// WithOwnedDB makes Close close the database handle.
func WithOwnedDB() Option {
	return func(q *Queue) {
		q.closeDB = true
	}
}

// New migrates the queue table on db and returns the queue called name.
func New(ctx context.Context, logger *slog.Logger, db *sql.DB, dialect *sqlbase.Dialect, name string, opts ...Option) (*Queue, error) {
	q := &Queue{
		db:         db,
		dialect:    dialect,
		logger:     logger.With("module", "sqlqueue", "queue", name),
		name:       name,
		visibility: DefaultVisibilityTimeout,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(q)
	}

	err := sqlbase.NewMigrationManager(q.logger, db, dialect, "queue_schema_migrations", migrations()).RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run queue migrations: %w", err)
	}

	return q, nil
}

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS queue_jobs (
				id TEXT PRIMARY KEY,
				queue TEXT NOT NULL,
				task_id TEXT NOT NULL,
				workflow_id TEXT NOT NULL,
				retries INTEGER NOT NULL DEFAULT 0,
				attempts INTEGER NOT NULL DEFAULT 0,
				not_before BIGINT NOT NULL,
				created BIGINT NOT NULL,
				locked_until BIGINT NOT NULL DEFAULT 0,
				claim TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX IF NOT EXISTS idx_queue_jobs_due ON queue_jobs(queue, not_before, locked_until);
		`,
	}
}

func (q *Queue) Enqueue(ctx context.Context, job queue.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	_, err := q.db.ExecContext(ctx, q.dialect.Rebind(`
		INSERT INTO queue_jobs (id, queue, task_id, workflow_id, retries, attempts, not_before, created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), job.ID, q.name, job.TaskID, job.WorkflowID, job.Retries, job.Attempts, job.NotBefore.UnixMilli(), q.now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to enqueue job for task %s: %w", job.TaskID, q.dialect.Classify(err))
	}

	return nil
}

func (q *Queue) Dequeue(ctx context.Context) (*queue.Delivery, error) {
	now := q.now()
	claim := uuid.New().String()

	var (
		job       queue.Job
		notBefore int64
	)

	err := q.db.QueryRowContext(ctx, q.dialect.Rebind(`
		UPDATE queue_jobs SET locked_until = ?, claim = ?
		WHERE id = (
			SELECT id FROM queue_jobs
			WHERE queue = ? AND not_before <= ? AND locked_until <= ?
			ORDER BY not_before, created
			LIMIT 1`+q.dialect.SkipLocked+`
		)
		RETURNING id, task_id, workflow_id, retries, attempts, not_before
	`), now.Add(q.visibility).UnixMilli(), claim, q.name, now.UnixMilli(), now.UnixMilli(),
	).Scan(&job.ID, &job.TaskID, &job.WorkflowID, &job.Retries, &job.Attempts, &notBefore)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrEmpty
	}

	if err != nil {
		return nil, fmt.Errorf("failed to dequeue job: %w", q.dialect.Classify(err))
	}

	job.NotBefore = time.UnixMilli(notBefore).UTC()

	return queue.NewDelivery(job, func(ctx context.Context) error {
		return q.ack(ctx, job.ID, claim)
	}), nil
}

func (q *Queue) ack(ctx context.Context, id, claim string) error {
	result, err := q.db.ExecContext(ctx, q.dialect.Rebind(`DELETE FROM queue_jobs WHERE id = ? AND claim = ?`), id, claim)
	if err != nil {
		return fmt.Errorf("failed to ack job %s: %w", id, q.dialect.Classify(err))
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		q.logger.WarnContext(ctx, "Job was reclaimed before ack", "job_id", id)
	}

	return nil
}

func (q *Queue) Depth(ctx context.Context) (int, error) {
	var depth int

	err := q.db.QueryRowContext(ctx, q.dialect.Rebind(`SELECT COUNT(*) FROM queue_jobs WHERE queue = ?`), q.name).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", q.dialect.Classify(err))
	}

	return depth, nil
}

func (q *Queue) Close() error {
	if q.closeDB {
		return q.db.Close()
	}

	return nil
}
