package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Memory is an in-process delay queue. Jobs are lost when the process exits.
type Memory struct {
	mu   sync.Mutex
	jobs jobHeap
	seq  uint64
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

// NewMemoryWithClock returns a queue that reads time from now.
func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{now: now}
}

func (m *Memory) Enqueue(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	heap.Push(&m.jobs, queued{job: job, seq: m.seq})

	return nil
}

func (m *Memory) Dequeue(context.Context) (*Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.jobs.Len() == 0 || m.jobs[0].job.NotBefore.After(m.now()) {
		return nil, ErrEmpty
	}

	next := heap.Pop(&m.jobs).(queued)

	return NewDelivery(next.job, nil), nil
}

func (m *Memory) Depth(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.jobs.Len(), nil
}

// Jobs returns a snapshot of the waiting jobs in due order.
func (m *Memory) Jobs() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make(jobHeap, len(m.jobs))
	copy(snapshot, m.jobs)

	jobs := make([]Job, 0, len(snapshot))
	for snapshot.Len() > 0 {
		jobs = append(jobs, heap.Pop(&snapshot).(queued).job)
	}

	return jobs
}

func (m *Memory) Close() error {
	return nil
}

type queued struct {
	job Job
	seq uint64
}

type jobHeap []queued

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].job.NotBefore.Equal(h[j].job.NotBefore) {
		return h[i].seq < h[j].seq
	}

	return h[i].job.NotBefore.Before(h[j].job.NotBefore)
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(queued)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]

	return item
}
