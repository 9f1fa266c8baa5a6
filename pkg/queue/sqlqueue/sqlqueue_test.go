package sqlqueue_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/flowline/pkg/persistence/sqlite"
	"github.com/dukex/flowline/pkg/queue"
	"github.com/dukex/flowline/pkg/queue/sqlqueue"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func newQueue(t *testing.T, name string, c *clock) *sqlqueue.Queue {
	t.Helper()

	ctx := context.Background()

	db, err := sqlite.Open(ctx, "file:"+uuid.New().String()+"?mode=memory&cache=shared")
	require.NoError(t, err)

	q, err := sqlqueue.New(ctx, slog.New(slog.NewTextHandler(io.Discard, nil)), db, sqlite.Dialect(), name,
		sqlqueue.WithClock(c.Now), sqlqueue.WithVisibilityTimeout(time.Minute), sqlqueue.WithOwnedDB())
	require.NoError(t, err)

	t.Cleanup(func() { _ = q.Close() })

	return q
}

func TestQueue_DelayedDelivery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	q := newQueue(t, "flowline", c)

	require.NoError(t, q.Enqueue(ctx, queue.NewJob("later", "w1", 2, c.Now().Add(10*time.Second))))
	require.NoError(t, q.Enqueue(ctx, queue.NewJob("now", "w1", 0, c.Now())))

	delivery, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "now", delivery.Job.TaskID)
	require.NoError(t, delivery.Ack(ctx))

	_, err = q.Dequeue(ctx)
	require.ErrorIs(t, err, queue.ErrEmpty)

	c.Advance(10 * time.Second)

	delivery, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "later", delivery.Job.TaskID)
	assert.Equal(t, 2, delivery.Job.Retries)
	assert.True(t, delivery.Job.NotBefore.Equal(c.Now()))
	require.NoError(t, delivery.Ack(ctx))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestQueue_UnackedJobIsRedelivered(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	q := newQueue(t, "flowline", c)

	require.NoError(t, q.Enqueue(ctx, queue.NewJob("t1", "w1", 0, c.Now())))

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)

	_, err = q.Dequeue(ctx)
	require.ErrorIs(t, err, queue.ErrEmpty)

	c.Advance(time.Minute)

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Job.ID, second.Job.ID)

	require.NoError(t, first.Ack(ctx))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	require.NoError(t, second.Ack(ctx))

	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}
