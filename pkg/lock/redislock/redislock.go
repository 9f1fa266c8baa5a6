// Package redislock implements lock.Locker with Redis SET NX and a compare-and-delete release.
package redislock

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/flowline/pkg/lock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	client redis.UniversalClient
}

// New wraps an existing client.
func New(client redis.UniversalClient) *Locker {
	return &Locker{client: client}
}

// NewFromURL connects to the Redis server at url (redis://host:port/db).
func NewFromURL(ctx context.Context, url string) (*Locker, error) {
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

	return New(client), nil
}

func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (lock.Lease, bool, error) {
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	if !ok {
		return nil, false, nil
	}

	return &lease{client: l.client, key: key, token: token}, true, nil
}

func (l *Locker) Close() error {
	return l.client.Close()
}

type lease struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (l *lease) Release(ctx context.Context) error {
	deleted, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}

	if deleted == 0 {
		return lock.ErrNotHeld
	}

	return nil
}
