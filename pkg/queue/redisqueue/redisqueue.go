// Package redisqueue keeps jobs in a Redis sorted set scored by due time. Claimed jobs move to a processing set
// until they are acknowledged or their visibility timeout expires.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/flowline/pkg/queue"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultVisibilityTimeout = 5 * time.Minute

var popScript = redis.NewScript(`
local expired = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[1])
for _, member in ipairs(expired) do
	redis.call("ZREM", KEYS[2], member)
	redis.call("ZADD", KEYS[1], ARGV[1], member)
end
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 1)
if #due == 0 then
	return false
end
redis.call("ZREM", KEYS[1], due[1])
redis.call("ZADD", KEYS[2], ARGV[2], due[1])
return due[1]
`)

type Queue struct {
	client     redis.UniversalClient
	ready      string
	processing string
	visibility time.Duration
	now        func() time.Time
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

func New(client redis.UniversalClient, name string, opts ...Option) *Queue {
	q := &Queue{
		client:     client,
		ready:      "flowline:queue:" + name,
		processing: "flowline:queue:" + name + ":processing",
		visibility: DefaultVisibilityTimeout,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// NewFromURL connects to redis://host:port/db and returns the queue called name.
func NewFromURL(ctx context.Context, url, name string, opts ...Option) (*Queue, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(options)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return New(client, name, opts...), nil
}

func (q *Queue) Enqueue(ctx context.Context, job queue.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = q.client.ZAdd(ctx, q.ready, redis.Z{Score: float64(job.NotBefore.UnixMilli()), Member: string(payload)}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue job for task %s: %w", job.TaskID, err)
	}

	return nil
}

func (q *Queue) Dequeue(ctx context.Context) (*queue.Delivery, error) {
	now := q.now()

	member, err := popScript.Run(ctx, q.client, []string{q.ready, q.processing},
		now.UnixMilli(), now.Add(q.visibility).UnixMilli()).Text()
	if errors.Is(err, redis.Nil) {
		return nil, queue.ErrEmpty
	}

	if err != nil {
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}

	var job queue.Job

	err = json.Unmarshal([]byte(member), &job)
	if err != nil {
		_ = q.client.ZRem(ctx, q.processing, member).Err()

		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return queue.NewDelivery(job, func(ctx context.Context) error {
		err := q.client.ZRem(ctx, q.processing, member).Err()
		if err != nil {
			return fmt.Errorf("failed to ack job %s: %w", job.ID, err)
		}

		return nil
	}), nil
}

func (q *Queue) Depth(ctx context.Context) (int, error) {
	pipe := q.client.Pipeline()
	ready := pipe.ZCard(ctx, q.ready)
	processing := pipe.ZCard(ctx, q.processing)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	return int(ready.Val() + processing.Val()), nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}
