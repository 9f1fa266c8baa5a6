// Package scheduler submits tasks to the queue for asynchronous execution.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/dukex/flowline/pkg/queue"
)

const (
	// MaxBackoff caps the exponential part of the retry delay.
	MaxBackoff = 600 * time.Second
	maxJitter  = 5
)

// Submission asks for a task to be executed, immediately, after Delay, or At a given time.
type Submission struct {
	TaskID     string
	WorkflowID string
	Delay      time.Duration
	At         time.Time
	Retries    int
}

// Scheduler hands tasks to the asynchronous execution substrate.
type Scheduler interface {
	Submit(ctx context.Context, submission Submission) error
}

// Backoff returns min(600s, 2^retries s) plus a jitter of 0 to 4 seconds.
func Backoff(retries int) time.Duration {
	if retries < 0 {
		retries = 0
	}

	delay := MaxBackoff
	if retries < 10 {
		delay = min(MaxBackoff, time.Duration(1<<retries)*time.Second)
	}

	return delay + time.Duration(rand.IntN(maxJitter))*time.Second
}

// QueueScheduler turns submissions into queue jobs.
type QueueScheduler struct {
	queue  queue.Queue
	logger *slog.Logger
	now    func() time.Time
}

func NewQueueScheduler(q queue.Queue, logger *slog.Logger) *QueueScheduler {
	return &QueueScheduler{
		queue:  q,
		logger: logger.With("module", "scheduler"),
		now:    time.Now,
	}
}

// SetClock replaces the clock used to compute due times.
func (s *QueueScheduler) SetClock(now func() time.Time) {
	s.now = now
}

func (s *QueueScheduler) Submit(ctx context.Context, submission Submission) error {
	notBefore := submission.At
	if notBefore.IsZero() {
		notBefore = s.now().Add(submission.Delay)
	}

	job := queue.NewJob(submission.TaskID, submission.WorkflowID, submission.Retries, notBefore)

	err := s.queue.Enqueue(ctx, job)
	if err != nil {
		return fmt.Errorf("failed to submit task %s: %w", submission.TaskID, err)
	}

	s.logger.DebugContext(ctx, "Submitted task",
		"task_id", submission.TaskID,
		"workflow_id", submission.WorkflowID,
		"not_before", notBefore,
		"retries", submission.Retries,
	)

	return nil
}
