// Package watermillqueue carries jobs over a watermill Pub/Sub (GoChannel or Kafka). Received jobs that are not yet
// due wait in process memory until their time comes.
package watermillqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/flowline/pkg/queue"
)

const taskIDMetadataKey = "task_id"

type Queue struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	topic      string
	pending    *queue.Memory
	logger     *slog.Logger
	cancel     context.CancelFunc
	done       chan struct{}
}

// New subscribes to topic and starts moving received jobs into the local due-time queue.
func New(ctx context.Context, logger *slog.Logger, publisher message.Publisher, subscriber message.Subscriber, topic string) (*Queue, error) {
	ctx, cancel := context.WithCancel(ctx)

	messages, err := subscriber.Subscribe(ctx, topic)
	if err != nil {
		cancel()

		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	q := &Queue{
		publisher:  publisher,
		subscriber: subscriber,
		topic:      topic,
		pending:    queue.NewMemory(),
		logger:     logger.With("module", "watermillqueue", "topic", topic),
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	go q.consume(ctx, messages)

	return q, nil
}

func (q *Queue) consume(ctx context.Context, messages <-chan *message.Message) {
	defer close(q.done)

	for msg := range messages {
		var job queue.Job

		err := json.Unmarshal(msg.Payload, &job)
		if err != nil {
			q.logger.ErrorContext(ctx, "Dropping malformed job message", "message_id", msg.UUID, "error", err)
			msg.Ack()

			continue
		}

		err = q.pending.Enqueue(ctx, job)
		if err != nil {
			msg.Nack()

			continue
		}

		msg.Ack()
	}
}

func (q *Queue) Enqueue(_ context.Context, job queue.Job) error {
	if job.ID == "" {
		job.ID = watermill.NewUUID()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	msg := message.NewMessage(job.ID, payload)
	msg.Metadata.Set(taskIDMetadataKey, job.TaskID)

	err = q.publisher.Publish(q.topic, msg)
	if err != nil {
		return fmt.Errorf("failed to publish job for task %s: %w", job.TaskID, err)
	}

	return nil
}

func (q *Queue) Dequeue(ctx context.Context) (*queue.Delivery, error) {
	return q.pending.Dequeue(ctx)
}

func (q *Queue) Depth(ctx context.Context) (int, error) {
	return q.pending.Depth(ctx)
}

func (q *Queue) Close() error {
	q.cancel()

	err := q.publisher.Close()
	if err != nil {
		return err
	}

	err = q.subscriber.Close()
	if err != nil {
		return err
	}

	<-q.done

	return nil
}
