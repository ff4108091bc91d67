package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/dukex/pulse/pkg/models"
)

// HistoryRepository appends to and reads the history log.
type HistoryRepository struct {
	db Querier
}

// NewHistoryRepository creates a new history repository.
func NewHistoryRepository(db Querier) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append inserts event and fills in its assigned ID.
func (r *HistoryRepository) Append(ctx context.Context, event *models.HistoryEvent) error {
	query := `
		INSERT INTO history (entity_id, type, phase_key, message, progress, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		event.EntityID,
		event.Type,
		nullString(event.PhaseKey),
		event.Message,
		nullInt(event.Progress),
		event.Timestamp,
		event.Metadata.NullString(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert history event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read history event id: %w", err)
	}

	event.ID = id

	return nil
}

// Recent returns the latest limit events in insertion order. A limit of zero
// or less returns the whole log.
func (r *HistoryRepository) Recent(ctx context.Context, limit int) ([]models.HistoryEvent, error) {
	query := `
		SELECT
			id
		  , entity_id
		  , type
		  , phase_key
		  , message
		  , progress
		  , timestamp
		  , metadata
		FROM history
		ORDER BY id DESC
		LIMIT ?
	`

	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	events := make([]models.HistoryEvent, 0)

	for rows.Next() {
		event, err := scanHistoryEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history event: %w", err)
		}

		events = append(events, *event)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	slices.Reverse(events)

	return events, nil
}

// Count returns the number of rows in the log.
func (r *HistoryRepository) Count(ctx context.Context) (int, error) {
	var count int

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM history").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}

	return count, nil
}

func scanHistoryEvent(row scanner) (*models.HistoryEvent, error) {
	var (
		event    models.HistoryEvent
		phaseKey sql.NullString
		progress sql.NullInt64
		metadata sql.NullString
	)

	err := row.Scan(
		&event.ID,
		&event.EntityID,
		&event.Type,
		&phaseKey,
		&event.Message,
		&progress,
		&event.Timestamp,
		&metadata,
	)
	if err != nil {
		return nil, err
	}

	event.PhaseKey = stringPtr(phaseKey)
	event.Progress = intPtr(progress)
	event.Metadata = models.MetadataFromNull(metadata)

	return &event, nil
}
