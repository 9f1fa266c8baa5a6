package sqlbase

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
)

var errNoRowsAffected = errors.New("no rows affected")

func expectRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return errNoRowsAffected
	}

	return nil
}

func scanTask(row scanner) (*models.Task, error) {
	var (
		task        models.Task
		taskType    string
		status      string
		completed   sql.NullTime
		completedBy sql.NullString
	)

	err := row.Scan(
		&task.ID, &task.WorkflowID, &task.Name, &taskType, &status, &task.Exclusive,
		&task.Created, &task.Modified, &completed, &completedBy, &task.Exception, &task.Stacktrace,
	)
	if err != nil {
		return nil, err
	}

	task.Type = models.NodeType(taskType)
	task.Status = models.TaskStatus(status)

	if completed.Valid {
		value := completed.Time
		task.Completed = &value
	}

	if completedBy.Valid {
		value := completedBy.String
		task.CompletedBy = &value
	}

	return &task, nil
}

func scanTasks(rows *sql.Rows) ([]*models.Task, error) {
	var tasks []*models.Task

	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		tasks = append(tasks, task)
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

func prefixed(prefix string) string {
	columns := strings.Split(taskColumns, ", ")
	for i, column := range columns {
		columns[i] = prefix + column
	}

	return strings.Join(columns, ", ")
}

func filterClause(filter persistence.TaskFilter) (string, []any) {
	clauses := []string{"1 = 1"}

	var args []any

	if filter.IDs != nil {
		clauses = append(clauses, "id IN "+In(len(filter.IDs)))
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}

	if filter.WorkflowID != "" {
		clauses = append(clauses, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}

	if filter.Name != "" {
		clauses = append(clauses, "name = ?")
		args = append(args, filter.Name)
	}

	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN "+In(len(filter.Statuses)))
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
	}

	if len(filter.ExcludeStatuses) > 0 {
		clauses = append(clauses, "status NOT IN "+In(len(filter.ExcludeStatuses)))
		for _, status := range filter.ExcludeStatuses {
			args = append(args, string(status))
		}
	}

	if filter.Pending {
		clauses = append(clauses, "completed IS NULL")
	}

	return strings.Join(clauses, " AND "), args
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *value, Valid: true}
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}

	return sql.NullString{String: *value, Valid: true}
}
