package scheduler_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/flowline/pkg/queue"
	"github.com/dukex/flowline/pkg/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		retries int
		base    time.Duration
	}{
		{retries: -1, base: time.Second},
		{retries: 0, base: time.Second},
		{retries: 1, base: 2 * time.Second},
		{retries: 5, base: 32 * time.Second},
		{retries: 9, base: 512 * time.Second},
		{retries: 10, base: 600 * time.Second},
		{retries: 64, base: 600 * time.Second},
	}

	for _, tt := range tests {
		for range 20 {
			delay := scheduler.Backoff(tt.retries)

			assert.GreaterOrEqual(t, delay, tt.base, "retries=%d", tt.retries)
			assert.LessOrEqual(t, delay, tt.base+4*time.Second, "retries=%d", tt.retries)
			assert.Zero(t, delay%time.Second)
		}
	}
}

func TestQueueScheduler_Submit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	q := queue.NewMemoryWithClock(func() time.Time { return now })

	s := scheduler.NewQueueScheduler(q, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.Submit(ctx, scheduler.Submission{TaskID: "immediate", WorkflowID: "w"}))
	require.NoError(t, s.Submit(ctx, scheduler.Submission{TaskID: "delayed", WorkflowID: "w", Delay: time.Minute, Retries: 3}))
	require.NoError(t, s.Submit(ctx, scheduler.Submission{TaskID: "eta", WorkflowID: "w", At: now.Add(time.Hour)}))

	jobs := q.Jobs()
	require.Len(t, jobs, 3)

	assert.Equal(t, "immediate", jobs[0].TaskID)
	assert.True(t, jobs[0].NotBefore.Equal(now))

	assert.Equal(t, "delayed", jobs[1].TaskID)
	assert.True(t, jobs[1].NotBefore.Equal(now.Add(time.Minute)))
	assert.Equal(t, 3, jobs[1].Retries)

	assert.Equal(t, "eta", jobs[2].TaskID)
	assert.True(t, jobs[2].NotBefore.Equal(now.Add(time.Hour)))
}
