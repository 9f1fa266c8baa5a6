// Package memory provides an in-process Store for tests and single-process deployments.
package memory

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/google/uuid"
)

// Store keeps every record in memory. Transactions are serialized by a single mutex, which gives
// them the isolation of row locks without any locking reads.
type Store struct {
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
	data   *dataset
}

type dataset struct {
	workflows map[string]*models.Workflow
	tasks     map[string]*models.Task
	taskOrder []string
	parents   map[string][]string
	assignees map[string][]string
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the clock used for created and modified timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore returns an empty store.
func NewStore(logger *slog.Logger, opts ...Option) *Store {
	store := &Store{
		logger: logger.With("module", "memory_store"),
		now:    func() time.Time { return time.Now().UTC() },
		data: &dataset{
			workflows: make(map[string]*models.Workflow),
			tasks:     make(map[string]*models.Task),
			parents:   make(map[string][]string),
			assignees: make(map[string][]string),
		},
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Transaction runs fn with exclusive access to the store and restores the previous data when fn fails.
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context, tx persistence.Tx) error) error {
	s.mu.Lock()

	snapshot := s.data.clone()
	tx := &transaction{store: s}

	committed := false

	defer func() {
		if !committed {
			s.data = snapshot
			s.mu.Unlock()
		}
	}()

	err := fn(ctx, tx)
	if err != nil {
		return err
	}

	committed = true

	s.mu.Unlock()

	tx.hooks.Run(ctx, s.logger)

	return nil
}

func (s *Store) HealthCheck(context.Context) error {
	return nil
}

func (s *Store) Close(context.Context) error {
	return nil
}

func (d *dataset) clone() *dataset {
	out := &dataset{
		workflows: make(map[string]*models.Workflow, len(d.workflows)),
		tasks:     make(map[string]*models.Task, len(d.tasks)),
		taskOrder: slices.Clone(d.taskOrder),
		parents:   make(map[string][]string, len(d.parents)),
		assignees: make(map[string][]string, len(d.assignees)),
	}

	for id, wf := range d.workflows {
		out.workflows[id] = copyWorkflow(wf)
	}

	for id, task := range d.tasks {
		out.tasks[id] = copyTask(task)
	}

	for id, parents := range d.parents {
		out.parents[id] = slices.Clone(parents)
	}

	for id, users := range d.assignees {
		out.assignees[id] = slices.Clone(users)
	}

	return out
}

func copyWorkflow(wf *models.Workflow) *models.Workflow {
	out := *wf
	out.State = wf.State.Clone()

	return &out
}

func copyTask(task *models.Task) *models.Task {
	out := *task
	if task.Completed != nil {
		completed := *task.Completed
		out.Completed = &completed
	}

	if task.CompletedBy != nil {
		user := *task.CompletedBy
		out.CompletedBy = &user
	}

	return &out
}

func newID() string {
	return uuid.New().String()
}
