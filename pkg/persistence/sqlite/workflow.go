package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukex/pulse/pkg/models"
)

// WorkflowRepository handles the singleton workflow row.
type WorkflowRepository struct {
	db Querier
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db Querier) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// Get returns the workflow row, or nil when it was never inserted.
func (r *WorkflowRepository) Get(ctx context.Context) (*models.Workflow, error) {
	query := `
		SELECT
			id
		  , status
		  , overall_progress
		  , expected_phase_count
		  , completed_phase_count
		  , active_phase_key
		  , metadata
		  , created_at
		  , updated_at
		  , completed_at
		  , failed_at
		  , canceled_at
		FROM workflow
		WHERE slot = 1
	`

	workflow, err := scanWorkflow(r.db.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	return workflow, nil
}

// Insert creates the workflow row.
func (r *WorkflowRepository) Insert(ctx context.Context, workflow *models.Workflow) error {
	query := `
		INSERT INTO workflow (
			slot, id, status, overall_progress, expected_phase_count, completed_phase_count,
			active_phase_key, metadata, created_at, updated_at, completed_at, failed_at, canceled_at
		)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		workflow.ID,
		workflow.Status,
		workflow.OverallProgress,
		workflow.ExpectedPhaseCount,
		workflow.CompletedPhaseCount,
		nullString(workflow.ActivePhaseKey),
		workflow.Metadata.NullString(),
		workflow.CreatedAt,
		workflow.UpdatedAt,
		nullTime(workflow.CompletedAt),
		nullTime(workflow.FailedAt),
		nullTime(workflow.CanceledAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert workflow: %w", err)
	}

	return nil
}

// Update overwrites the mutable columns of the workflow row.
func (r *WorkflowRepository) Update(ctx context.Context, workflow *models.Workflow) error {
	query := `
		UPDATE workflow SET
			status = ?
		  , overall_progress = ?
		  , completed_phase_count = ?
		  , active_phase_key = ?
		  , metadata = ?
		  , updated_at = ?
		  , completed_at = ?
		  , failed_at = ?
		  , canceled_at = ?
		WHERE slot = 1
	`

	result, err := r.db.ExecContext(ctx, query,
		workflow.Status,
		workflow.OverallProgress,
		workflow.CompletedPhaseCount,
		nullString(workflow.ActivePhaseKey),
		workflow.Metadata.NullString(),
		workflow.UpdatedAt,
		nullTime(workflow.CompletedAt),
		nullTime(workflow.FailedAt),
		nullTime(workflow.CanceledAt),
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
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

func scanWorkflow(row scanner) (*models.Workflow, error) {
	var (
		workflow                          models.Workflow
		activePhaseKey, metadata          sql.NullString
		completedAt, failedAt, canceledAt sql.NullTime
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.Status,
		&workflow.OverallProgress,
		&workflow.ExpectedPhaseCount,
		&workflow.CompletedPhaseCount,
		&activePhaseKey,
		&metadata,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
		&completedAt,
		&failedAt,
		&canceledAt,
	)
	if err != nil {
		return nil, err
	}

	workflow.ActivePhaseKey = stringPtr(activePhaseKey)
	workflow.Metadata = models.MetadataFromNull(metadata)
	workflow.CompletedAt = timePtr(completedAt)
	workflow.FailedAt = timePtr(failedAt)
	workflow.CanceledAt = timePtr(canceledAt)

	return &workflow, nil
}

// PhaseRepository handles the phase rows of a workflow.
type PhaseRepository struct {
	db Querier
}

// NewPhaseRepository creates a new phase repository.
func NewPhaseRepository(db Querier) *PhaseRepository {
	return &PhaseRepository{db: db}
}

const phaseColumns = `
	phase_key
  , label
  , weight
  , status
  , progress
  , sort_order
  , parent_phase_key
  , depth
  , started_at
  , updated_at
  , completed_at
`

// List returns every phase ordered by its declared order.
func (r *PhaseRepository) List(ctx context.Context) ([]models.Phase, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+phaseColumns+" FROM phases ORDER BY sort_order ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query phases: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	phases := make([]models.Phase, 0)

	for rows.Next() {
		phase, err := scanPhase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan phase: %w", err)
		}

		phases = append(phases, *phase)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating phases: %w", err)
	}

	return phases, nil
}

// Get returns the phase with key, or nil when it does not exist.
func (r *PhaseRepository) Get(ctx context.Context, key string) (*models.Phase, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+phaseColumns+" FROM phases WHERE phase_key = ?", key)

	phase, err := scanPhase(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan phase: %w", err)
	}

	return phase, nil
}

// Insert creates one phase row.
func (r *PhaseRepository) Insert(ctx context.Context, phase *models.Phase) error {
	query := `
		INSERT INTO phases (` + phaseColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		phase.Key,
		phase.Label,
		phase.Weight,
		phase.Status,
		phase.Progress,
		phase.Order,
		nullString(phase.ParentPhaseKey),
		phase.Depth,
		nullTime(phase.StartedAt),
		phase.UpdatedAt,
		nullTime(phase.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert phase %s: %w", phase.Key, err)
	}

	return nil
}

// Update overwrites the progress columns of one phase.
func (r *PhaseRepository) Update(ctx context.Context, phase *models.Phase) error {
	query := `
		UPDATE phases SET
			status = ?
		  , progress = ?
		  , started_at = ?
		  , updated_at = ?
		  , completed_at = ?
		WHERE phase_key = ?
	`

	_, err := r.db.ExecContext(ctx, query,
		phase.Status,
		phase.Progress,
		nullTime(phase.StartedAt),
		phase.UpdatedAt,
		nullTime(phase.CompletedAt),
		phase.Key,
	)
	if err != nil {
		return fmt.Errorf("failed to update phase %s: %w", phase.Key, err)
	}

	return nil
}

func scanPhase(row scanner) (*models.Phase, error) {
	var (
		phase                  models.Phase
		parent                 sql.NullString
		startedAt, completedAt sql.NullTime
	)

	err := row.Scan(
		&phase.Key,
		&phase.Label,
		&phase.Weight,
		&phase.Status,
		&phase.Progress,
		&phase.Order,
		&parent,
		&phase.Depth,
		&startedAt,
		&phase.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	phase.ParentPhaseKey = stringPtr(parent)
	phase.StartedAt = timePtr(startedAt)
	phase.CompletedAt = timePtr(completedAt)

	return &phase, nil
}
