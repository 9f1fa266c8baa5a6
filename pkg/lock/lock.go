// Package lock provides the per-workflow mutual exclusion used by the runner and the human completion path.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL bounds how long a crashed holder can keep a workflow locked.
const DefaultTTL = 60 * time.Second

var ErrNotHeld = errors.New("lock not held")

// Lease is an acquired lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker acquires named locks without blocking.
type Locker interface {
	// TryAcquire returns false when the lock is held by someone else.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error)
	Close() error
}

// WorkflowKey is the lock key of a workflow instance.
func WorkflowKey(workflowID string) string {
	return "flowline_workflow_" + workflowID
}

type entry struct {
	token   string
	expires time.Time
}

// MemoryLocker holds locks in process memory. It only serializes workers of one process.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]entry
	now   func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]entry), now: time.Now}
}

func (l *MemoryLocker) TryAcquire(_ context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if current, held := l.locks[key]; held && now.Before(current.expires) {
		return nil, false, nil
	}

	token := uuid.New().String()
	l.locks[key] = entry{token: token, expires: now.Add(ttl)}

	return &memoryLease{locker: l, key: key, token: token}, true, nil
}

func (l *MemoryLocker) Close() error {
	return nil
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	token  string
}

func (m *memoryLease) Release(context.Context) error {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()

	current, held := m.locker.locks[m.key]
	if !held || current.token != m.token {
		return ErrNotHeld
	}

	delete(m.locker.locks, m.key)

	return nil
}
