package worker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/flowline/pkg/queue"
	"github.com/dukex/flowline/pkg/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecutor struct {
	mu   sync.Mutex
	jobs []queue.Job
	err  error
}

func (e *recordingExecutor) Execute(_ context.Context, job queue.Job) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.jobs = append(e.jobs, job)

	return e.err
}

func (e *recordingExecutor) executed() []queue.Job {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]queue.Job(nil), e.jobs...)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProcessOne(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	q := queue.NewMemoryWithClock(func() time.Time { return now })
	executor := &recordingExecutor{}
	pool := worker.NewPool("w1", q, executor, discard())

	processed, err := pool.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)

	job := queue.NewJob("task-1", "wf-1", 0, now)
	require.NoError(t, q.Enqueue(context.Background(), job))

	processed, err = pool.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	require.Len(t, executor.executed(), 1)
	assert.Equal(t, job, executor.executed()[0])

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestProcessOne_RedeliversFailedJobs(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	q := queue.NewMemoryWithClock(clock)
	executor := &recordingExecutor{err: errors.New("database is down")}
	pool := worker.NewPool("w1", q, executor, discard(), worker.WithClock(clock), worker.WithMaxAttempts(3))

	job := queue.NewJob("task-1", "wf-1", 2, now)
	require.NoError(t, q.Enqueue(context.Background(), job))

	processed, err := pool.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	jobs := q.Jobs()
	require.Len(t, jobs, 1)

	retry := jobs[0]
	assert.NotEqual(t, job.ID, retry.ID)
	assert.Equal(t, job.TaskID, retry.TaskID)
	assert.Equal(t, 1, retry.Attempts)
	assert.Equal(t, job.Retries, retry.Retries)
	assert.True(t, retry.NotBefore.After(now))

	now = now.Add(time.Hour)

	_, err = pool.ProcessOne(context.Background())
	require.NoError(t, err)

	require.Len(t, q.Jobs(), 1)
	assert.Equal(t, 2, q.Jobs()[0].Attempts)

	now = now.Add(time.Hour)

	_, err = pool.ProcessOne(context.Background())
	require.NoError(t, err)

	assert.Empty(t, q.Jobs(), "the job is dropped after the last attempt")
	assert.Len(t, executor.executed(), 3)
}

func TestRun(t *testing.T) {
	q := queue.NewMemory()
	executor := &recordingExecutor{}
	pool := worker.NewPool("w1", q, executor, discard(),
		worker.WithConcurrency(3),
		worker.WithPollInterval(5*time.Millisecond),
	)

	for i := range 10 {
		require.NoError(t, q.Enqueue(context.Background(), queue.NewJob(string(rune('a'+i)), "wf", 0, time.Time{})))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- pool.Run(ctx)
	}()

	assert.Eventually(t, func() bool {
		return len(executor.executed()) == 10
	}, 5*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
}
