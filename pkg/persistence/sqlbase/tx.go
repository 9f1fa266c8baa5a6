package sqlbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/google/uuid"
)

const taskColumns = `id, workflow_id, name, type, status, is_exclusive, created, modified, completed, completed_by, exception, stacktrace`

// Tx is the unit of work of a Store.
type Tx struct {
	tx    *sql.Tx
	store *Store
	hooks persistence.CommitHooks
}

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (t *Tx) OnCommit(hook func(ctx context.Context)) {
	t.hooks.Add(hook)
}

func (t *Tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	result, err := t.tx.ExecContext(ctx, t.store.dialect.Rebind(query), args...)

	return result, t.store.dialect.Classify(err)
}

func (t *Tx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.store.dialect.Rebind(query), args...)
}

func (t *Tx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, t.store.dialect.Rebind(query), args...)

	return rows, t.store.dialect.Classify(err)
}

func (t *Tx) closeRows(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		t.store.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

func (t *Tx) CreateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	if workflow.State == nil {
		workflow.State = models.State{}
	}

	state, err := json.Marshal(workflow.State)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow state: %w", err)
	}

	now := t.store.now()

	_, err = t.exec(ctx, `
		INSERT INTO workflows (id, type, state, created, modified)
		VALUES (?, ?, ?, ?, ?)
	`, workflow.ID, workflow.Type, string(state), now, now)
	if err != nil {
		return persistence.NewWorkflowError("CreateWorkflow", workflow.ID, err)
	}

	workflow.Created = now
	workflow.Modified = now

	return nil
}

func (t *Tx) Workflow(ctx context.Context, id string, forUpdate bool) (*models.Workflow, error) {
	query := `SELECT id, type, state, created, modified FROM workflows WHERE id = ?`
	if forUpdate {
		query += t.store.dialect.LockForUpdateNoWait
	}

	var (
		workflow models.Workflow
		state    []byte
	)

	err := t.queryRow(ctx, query, id).Scan(&workflow.ID, &workflow.Type, &state, &workflow.Created, &workflow.Modified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewWorkflowError("Workflow", id, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return nil, persistence.NewWorkflowError("Workflow", id, t.store.dialect.Classify(err))
	}

	err = json.Unmarshal(state, &workflow.State)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow state: %w", err)
	}

	if workflow.State == nil {
		workflow.State = models.State{}
	}

	return &workflow, nil
}

func (t *Tx) SaveWorkflow(ctx context.Context, workflow *models.Workflow, fields []string) error {
	if fields == nil {
		return persistence.NewWorkflowError("SaveWorkflow", workflow.ID, persistence.ErrStaleWrite)
	}

	keys := make([]string, 0, len(fields))

	for _, field := range fields {
		if field != models.FieldModified {
			keys = append(keys, field)
		}
	}

	now := t.store.now()

	var (
		result sql.Result
		err    error
	)

	if t.store.dialect.MergeJSON != nil {
		result, err = t.mergeState(ctx, workflow, keys, now)
	} else {
		result, err = t.rewriteState(ctx, workflow, keys, now)
	}

	if err != nil {
		return persistence.NewWorkflowError("SaveWorkflow", workflow.ID, err)
	}

	err = expectRow(result)
	if err != nil {
		return persistence.NewWorkflowError("SaveWorkflow", workflow.ID, fmt.Errorf("%w: %w", persistence.ErrWorkflowNotFound, err))
	}

	workflow.Modified = now

	return nil
}

// mergeState lets the database replace the named top-level keys.
func (t *Tx) mergeState(ctx context.Context, workflow *models.Workflow, keys []string, now time.Time) (sql.Result, error) {
	patch, err := json.Marshal(workflow.State.Subset(keys))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow state: %w", err)
	}

	return t.exec(ctx,
		`UPDATE workflows SET `+t.store.dialect.MergeJSON("state")+`, modified = ? WHERE id = ?`,
		string(patch), now, workflow.ID,
	)
}

// rewriteState reads the stored state, replaces the named keys and writes the whole object back.
// Only valid where the transaction already excludes concurrent writers.
func (t *Tx) rewriteState(ctx context.Context, workflow *models.Workflow, keys []string, now time.Time) (sql.Result, error) {
	var raw []byte

	err := t.queryRow(ctx, `SELECT state FROM workflows WHERE id = ?`, workflow.ID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrWorkflowNotFound
	}

	if err != nil {
		return nil, t.store.dialect.Classify(err)
	}

	stored := models.State{}

	err = json.Unmarshal(raw, &stored)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow state: %w", err)
	}

	for key, value := range workflow.State.Subset(keys) {
		stored[key] = value
	}

	state, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow state: %w", err)
	}

	return t.exec(ctx, `UPDATE workflows SET state = ?, modified = ? WHERE id = ?`, string(state), now, workflow.ID)
}

func (t *Tx) CreateTask(ctx context.Context, task *models.Task) error {
	err := t.insertTask(ctx, task, "")
	if err != nil {
		return persistence.NewTaskError("CreateTask", task.ID, err)
	}

	return nil
}

func (t *Tx) insertTask(ctx context.Context, task *models.Task, onConflict string) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	if task.Status == "" {
		task.Status = models.TaskStatusScheduled
	}

	now := t.store.now()
	if task.Created.IsZero() {
		task.Created = now
	}

	task.Modified = now

	result, err := t.exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`+onConflict,
		task.ID, task.WorkflowID, task.Name, string(task.Type), string(task.Status), task.Exclusive,
		task.Created, task.Modified, nullTime(task.Completed), nullString(task.CompletedBy),
		task.Exception, task.Stacktrace,
	)
	if err != nil {
		return err
	}

	return expectRow(result)
}

func (t *Tx) Task(ctx context.Context, id string) (*models.Task, error) {
	task, err := scanTask(t.queryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewTaskError("Task", id, persistence.ErrTaskNotFound)
	}

	if err != nil {
		return nil, persistence.NewTaskError("Task", id, t.store.dialect.Classify(err))
	}

	return task, nil
}

func (t *Tx) PendingTask(ctx context.Context, id string) (*models.Task, error) {
	task, err := scanTask(t.queryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND completed IS NULL`+t.store.dialect.LockForUpdate, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewTaskError("PendingTask", id, persistence.ErrTaskNotFound)
	}

	if err != nil {
		return nil, persistence.NewTaskError("PendingTask", id, t.store.dialect.Classify(err))
	}

	return task, nil
}

func (t *Tx) SaveTask(ctx context.Context, task *models.Task, fields []string) error {
	if fields == nil {
		return persistence.NewTaskError("SaveTask", task.ID, persistence.ErrStaleWrite)
	}

	sets := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+2)

	for _, field := range fields {
		switch field {
		case models.TaskFieldStatus:
			args = append(args, string(task.Status))
		case models.TaskFieldCompleted:
			args = append(args, nullTime(task.Completed))
		case models.TaskFieldCompletedBy:
			args = append(args, nullString(task.CompletedBy))
		case models.TaskFieldException:
			args = append(args, task.Exception)
		case models.TaskFieldStacktrace:
			args = append(args, task.Stacktrace)
		case models.FieldModified:
			continue
		default:
			return persistence.NewTaskError("SaveTask", task.ID, fmt.Errorf("%w: %s", persistence.ErrUnknownField, field))
		}

		sets = append(sets, field+" = ?")
	}

	now := t.store.now()
	sets = append(sets, "modified = ?")
	args = append(args, now, task.ID)

	result, err := t.exec(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return persistence.NewTaskError("SaveTask", task.ID, err)
	}

	err = expectRow(result)
	if err != nil {
		return persistence.NewTaskError("SaveTask", task.ID, fmt.Errorf("%w: %w", persistence.ErrTaskNotFound, err))
	}

	task.Modified = now

	return nil
}

const liveExclusivePredicate = `status = 'scheduled' AND is_exclusive = TRUE`

func (t *Tx) GetOrCreateScheduledTask(ctx context.Context, task *models.Task) (*models.Task, bool, error) {
	existing, err := t.liveExclusive(ctx, task.WorkflowID, task.Name)
	if err == nil {
		return existing, false, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, persistence.NewTaskError("GetOrCreateScheduledTask", task.Name, t.store.dialect.Classify(err))
	}

	task.Exclusive = true
	task.Status = models.TaskStatusScheduled
	task.Completed = nil

	err = t.insertTask(ctx, task, ` ON CONFLICT (workflow_id, name) WHERE `+liveExclusivePredicate+` DO NOTHING`)
	if err == nil {
		return task, true, nil
	}

	if !errors.Is(err, errNoRowsAffected) {
		return nil, false, persistence.NewTaskError("GetOrCreateScheduledTask", task.Name, err)
	}

	// A concurrent transaction inserted the live task first.
	existing, err = t.liveExclusive(ctx, task.WorkflowID, task.Name)
	if err != nil {
		return nil, false, persistence.NewTaskError("GetOrCreateScheduledTask", task.Name, t.store.dialect.Classify(err))
	}

	return existing, false, nil
}

func (t *Tx) liveExclusive(ctx context.Context, workflowID, name string) (*models.Task, error) {
	return scanTask(t.queryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE workflow_id = ? AND name = ? AND `+liveExclusivePredicate+t.store.dialect.LockForUpdate,
		workflowID, name,
	))
}

func (t *Tx) FindTasks(ctx context.Context, filter persistence.TaskFilter) ([]*models.Task, error) {
	where, args := filterClause(filter)

	rows, err := t.query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE `+where+` ORDER BY created, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer t.closeRows(ctx, rows)

	return scanTasks(rows)
}

func (t *Tx) CountTasks(ctx context.Context, filter persistence.TaskFilter) (int, error) {
	where, args := filterClause(filter)

	var count int

	err := t.queryRow(ctx, `SELECT COUNT(*) FROM tasks WHERE `+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", t.store.dialect.Classify(err))
	}

	return count, nil
}

func (t *Tx) CancelTasks(ctx context.Context, filter persistence.TaskFilter, completedBy *string, at time.Time) (int, error) {
	where, args := filterClause(filter)
	args = append([]any{string(models.TaskStatusCanceled), at, nullString(completedBy), t.store.now()}, args...)

	result, err := t.exec(ctx,
		`UPDATE tasks SET status = ?, completed = ?, completed_by = ?, modified = ? WHERE `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel tasks: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count canceled tasks: %w", err)
	}

	return int(affected), nil
}

func (t *Tx) AddParents(ctx context.Context, taskID string, parentIDs ...string) error {
	for _, parentID := range parentIDs {
		_, err := t.exec(ctx, `
			INSERT INTO task_parents (child_id, parent_id) VALUES (?, ?)
			ON CONFLICT (child_id, parent_id) DO NOTHING
		`, taskID, parentID)
		if err != nil {
			return persistence.NewTaskError("AddParents", taskID, err)
		}
	}

	return nil
}

func (t *Tx) SetParents(ctx context.Context, taskID string, parentIDs ...string) error {
	_, err := t.exec(ctx, `DELETE FROM task_parents WHERE child_id = ?`, taskID)
	if err != nil {
		return persistence.NewTaskError("SetParents", taskID, err)
	}

	return t.AddParents(ctx, taskID, parentIDs...)
}

func (t *Tx) Parents(ctx context.Context, taskID string) ([]*models.Task, error) {
	return t.related(ctx, `
		SELECT `+prefixed("t.")+` FROM tasks t
		JOIN task_parents p ON p.parent_id = t.id
		WHERE p.child_id = ?
		ORDER BY t.created, t.id
	`, taskID)
}

func (t *Tx) Children(ctx context.Context, taskID string) ([]*models.Task, error) {
	return t.related(ctx, `
		SELECT `+prefixed("t.")+` FROM tasks t
		JOIN task_parents p ON p.child_id = t.id
		WHERE p.parent_id = ?
		ORDER BY t.created, t.id
	`, taskID)
}

func (t *Tx) related(ctx context.Context, query, taskID string) ([]*models.Task, error) {
	rows, err := t.query(ctx, query, taskID)
	if err != nil {
		return nil, persistence.NewTaskError("related", taskID, err)
	}
	defer t.closeRows(ctx, rows)

	return scanTasks(rows)
}

func (t *Tx) Edges(ctx context.Context, workflowID string) ([]models.Edge, error) {
	rows, err := t.query(ctx, `
		SELECT p.parent_id, p.child_id FROM task_parents p
		JOIN tasks t ON t.id = p.child_id
		WHERE t.workflow_id = ?
		ORDER BY t.created, t.id
	`, workflowID)
	if err != nil {
		return nil, persistence.NewWorkflowError("Edges", workflowID, err)
	}
	defer t.closeRows(ctx, rows)

	var edges []models.Edge

	for rows.Next() {
		var edge models.Edge

		err := rows.Scan(&edge.ParentID, &edge.ChildID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task edge: %w", err)
		}

		edges = append(edges, edge)
	}

	return edges, rows.Err()
}

func (t *Tx) SetAssignees(ctx context.Context, taskID string, userIDs ...string) error {
	_, err := t.exec(ctx, `DELETE FROM task_assignees WHERE task_id = ?`, taskID)
	if err != nil {
		return persistence.NewTaskError("SetAssignees", taskID, err)
	}

	for _, userID := range userIDs {
		_, err := t.exec(ctx, `
			INSERT INTO task_assignees (task_id, user_id) VALUES (?, ?)
			ON CONFLICT (task_id, user_id) DO NOTHING
		`, taskID, userID)
		if err != nil {
			return persistence.NewTaskError("SetAssignees", taskID, err)
		}
	}

	return nil
}

func (t *Tx) Assignees(ctx context.Context, taskID string) ([]string, error) {
	rows, err := t.query(ctx, `SELECT user_id FROM task_assignees WHERE task_id = ? ORDER BY user_id`, taskID)
	if err != nil {
		return nil, persistence.NewTaskError("Assignees", taskID, err)
	}
	defer t.closeRows(ctx, rows)

	var users []string

	for rows.Next() {
		var user string

		err := rows.Scan(&user)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignee: %w", err)
		}

		users = append(users, user)
	}

	return users, rows.Err()
}
