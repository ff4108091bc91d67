package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukex/pulse/pkg/models"
)

// TaskRepository handles the singleton task row.
type TaskRepository struct {
	db Querier
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(db Querier) *TaskRepository {
	return &TaskRepository{db: db}
}

// Get returns the task row, or nil when it was never inserted.
func (r *TaskRepository) Get(ctx context.Context) (*models.Task, error) {
	query := `
		SELECT
			id
		  , status
		  , progress
		  , metadata
		  , created_at
		  , updated_at
		  , completed_at
		  , failed_at
		  , canceled_at
		FROM task
		WHERE slot = 1
	`

	task, err := scanTask(r.db.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	return task, nil
}

// Insert creates the task row.
func (r *TaskRepository) Insert(ctx context.Context, task *models.Task) error {
	query := `
		INSERT INTO task (slot, id, status, progress, metadata, created_at, updated_at, completed_at, failed_at, canceled_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		task.ID,
		task.Status,
		task.Progress,
		task.Metadata.NullString(),
		task.CreatedAt,
		task.UpdatedAt,
		nullTime(task.CompletedAt),
		nullTime(task.FailedAt),
		nullTime(task.CanceledAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}

	return nil
}

// Update overwrites the mutable columns of the task row.
func (r *TaskRepository) Update(ctx context.Context, task *models.Task) error {
	query := `
		UPDATE task SET
			status = ?
		  , progress = ?
		  , metadata = ?
		  , updated_at = ?
		  , completed_at = ?
		  , failed_at = ?
		  , canceled_at = ?
		WHERE slot = 1
	`

	result, err := r.db.ExecContext(ctx, query,
		task.Status,
		task.Progress,
		task.Metadata.NullString(),
		task.UpdatedAt,
		nullTime(task.CompletedAt),
		nullTime(task.FailedAt),
		nullTime(task.CanceledAt),
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}

	if rows == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func scanTask(row scanner) (*models.Task, error) {
	var (
		task                              models.Task
		metadata                          sql.NullString
		completedAt, failedAt, canceledAt sql.NullTime
	)

	err := row.Scan(
		&task.ID,
		&task.Status,
		&task.Progress,
		&metadata,
		&task.CreatedAt,
		&task.UpdatedAt,
		&completedAt,
		&failedAt,
		&canceledAt,
	)
	if err != nil {
		return nil, err
	}

	task.Metadata = models.MetadataFromNull(metadata)
	task.CompletedAt = timePtr(completedAt)
	task.FailedAt = timePtr(failedAt)
	task.CanceledAt = timePtr(canceledAt)

	return &task, nil
}
