package models

import "time"

// HistoryType classifies an append-only history row.
type HistoryType string

const (
	HistoryLog              HistoryType = "log"
	HistoryProgress         HistoryType = "progress"
	HistoryPhaseProgress    HistoryType = "phase-progress"
	HistoryWorkflowProgress HistoryType = "workflow-progress"
	HistoryError            HistoryType = "error"
	HistorySuccess          HistoryType = "success"
	HistoryCancel           HistoryType = "cancel"
)

// IsValid reports whether t is one of the known history types.
func (t HistoryType) IsValid() bool {
	switch t {
	case HistoryLog, HistoryProgress, HistoryPhaseProgress, HistoryWorkflowProgress,
		HistoryError, HistorySuccess, HistoryCancel:
		return true
	default:
		return false
	}
}

// HistoryEvent is one logged occurrence. Rows are never updated; they are
// ordered by ID, which follows insertion.
type HistoryEvent struct {
	ID        int64       `json:"id"`
	EntityID  string      `json:"entityId"`
	Type      HistoryType `json:"type"`
	PhaseKey  *string     `json:"phaseKey,omitempty"`
	Message   string      `json:"message"`
	Progress  *int        `json:"progress,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Metadata  Metadata    `json:"metadata,omitempty"`
}
