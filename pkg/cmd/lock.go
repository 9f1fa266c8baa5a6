package cmd

import (
	"context"
	"fmt"

	"github.com/dukex/flowline/pkg/lock"
	"github.com/dukex/flowline/pkg/lock/redislock"
)

// NewLocker opens the workflow locker selected by the scheme of lockURL. The memory locker only serializes
// the workers of one process.
func NewLocker(ctx context.Context, lockURL string) (lock.Locker, error) {
	switch provider := parseProvider(lockURL); provider {
	case "memory":
		return lock.NewMemoryLocker(), nil
	case "redis", "rediss":
		return redislock.NewFromURL(ctx, lockURL)
	default:
		return nil, fmt.Errorf("unsupported lock provider %q", provider)
	}
}
