// Package queue is the asynchronous execution substrate: at-least-once delivery of task jobs, optionally delayed.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// DefaultName is the queue used when none is configured.
const DefaultName = "flowline"

var ErrEmpty = errors.New("no job is due")

// Job asks the runner to execute one task of one workflow instance.
type Job struct {
	ID         string `json:"id"`
	TaskID     string `json:"task_id"`
	WorkflowID string `json:"workflow_id"`
	// Retries counts lock and not-ready resubmissions; it drives the backoff.
	Retries int `json:"retries"`
	// Attempts counts redeliveries after infrastructure failures.
	Attempts  int       `json:"attempts"`
	NotBefore time.Time `json:"not_before"`
}

// NewJob returns a job due at notBefore.
func NewJob(taskID, workflowID string, retries int, notBefore time.Time) Job {
	return Job{
		ID:         uuid.New().String(),
		TaskID:     taskID,
		WorkflowID: workflowID,
		Retries:    retries,
		NotBefore:  notBefore,
	}
}

// Delivery is a dequeued job. It is redelivered unless acknowledged.
type Delivery struct {
	Job Job
	ack func(ctx context.Context) error
}

func NewDelivery(job Job, ack func(ctx context.Context) error) *Delivery {
	return &Delivery{Job: job, ack: ack}
}

// Ack removes the job from the queue.
func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}

	return d.ack(ctx)
}

// Queue stores jobs until they are due.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue returns the next due job or ErrEmpty without blocking.
	Dequeue(ctx context.Context) (*Delivery, error)
	// Depth returns the number of jobs waiting, due or not.
	Depth(ctx context.Context) (int, error)
	Close() error
}
