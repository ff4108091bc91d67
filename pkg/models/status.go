// Package models defines the data model shared by task and workflow actors.
package models

// Status represents the lifecycle state of a task, workflow or phase.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// IsTerminal reports whether no transition can leave the status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusSuccess, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// ProgressStatus is the status implied by a raw progress value.
func ProgressStatus(progress int) Status {
	if progress >= 100 {
		return StatusSuccess
	}

	return StatusInProgress
}
