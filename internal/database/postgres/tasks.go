package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rollcall-io/rollcall/internal/database"
)

// TaskRepository provides PostgreSQL-backed sign-in task storage.
type TaskRepository struct {
	pool *Pool
}

// NewTaskRepository creates a new PostgreSQL task repository.
func NewTaskRepository(pool *Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

// CreateRow inserts the task row for one group under a freshly allocated
// row ID. A second row for the same (task, group) pair returns
// ErrDuplicateRecord.
func (r *TaskRepository) CreateRow(ctx context.Context, taskID, groupID, initiator string) (*database.SignTask, error) {
	id, err := allocateID(ctx, func(ctx context.Context, id string) error {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO sign_tasks (id, task_id, group_id, initiator)
			VALUES ($1, $2, $3, $4)
		`, id, taskID, groupID, initiator)
		return err
	})
	if err != nil {
		if isUniqueViolation(err, "sign_tasks_task_group_key") {
			return nil, database.ErrDuplicateRecord
		}
		return nil, fmt.Errorf("create task row: %w", err)
	}

	return r.getRow(ctx, id)
}

func (r *TaskRepository) getRow(ctx context.Context, id string) (*database.SignTask, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, task_id, group_id, initiator, status, created_at, updated_at
		FROM sign_tasks
		WHERE id = $1
	`, id)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// RowForGroup returns the task row for one (task, group) pair.
func (r *TaskRepository) RowForGroup(ctx context.Context, taskID, groupID string) (*database.SignTask, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, task_id, group_id, initiator, status, created_at, updated_at
		FROM sign_tasks
		WHERE task_id = $1 AND group_id = $2
	`, taskID, groupID)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// TaskExists checks whether any row carries the given task ID.
func (r *TaskRepository) TaskExists(ctx context.Context, taskID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM sign_tasks WHERE task_id = $1)", taskID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check task exists: %w", err)
	}
	return exists, nil
}

// RowsByTask returns all group rows of a task.
func (r *TaskRepository) RowsByTask(ctx context.Context, taskID string) ([]database.SignTask, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, task_id, group_id, initiator, status, created_at, updated_at
		FROM sign_tasks
		WHERE task_id = $1
		ORDER BY created_at, id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query task rows: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// Close marks every still-open row of a task closed and returns the number
// of rows that changed. Closing an already-closed task changes nothing.
func (r *TaskRepository) Close(ctx context.Context, taskID string) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE sign_tasks SET
			status = $1,
			updated_at = NOW()
		WHERE task_id = $2 AND status = $3
	`, database.TaskClosed, taskID, database.TaskOpen)
	if err != nil {
		return 0, fmt.Errorf("close task: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("close task rows affected: %w", err)
	}
	return affected, nil
}

// OpenForMember returns the open task rows targeting groups the member
// belongs to, one row per task.
func (r *TaskRepository) OpenForMember(ctx context.Context, memberID string) ([]database.SignTask, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT ON (t.task_id)
		       t.id, t.task_id, t.group_id, t.initiator, t.status, t.created_at, t.updated_at
		FROM sign_tasks t
		JOIN group_members gm ON gm.group_id = t.group_id
		WHERE gm.member_id = $1 AND t.status = $2
		ORDER BY t.task_id, t.created_at
	`, memberID, database.TaskOpen)
	if err != nil {
		return nil, fmt.Errorf("query open tasks for member: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

func scanTask(scanner interface{ Scan(...any) error }) (*database.SignTask, error) {
	var t database.SignTask
	err := scanner.Scan(&t.ID, &t.TaskID, &t.GroupID, &t.Initiator, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task row: %w", err)
	}
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]database.SignTask, error) {
	var tasks []database.SignTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return tasks, nil
}

// Verify interface compliance.
var _ database.TaskStore = (*TaskRepository)(nil)
