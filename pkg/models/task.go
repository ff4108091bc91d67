package models

import "time"

// Task is the metadata row of a single long-running external job.
type Task struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status"`
	Progress    int        `json:"progress"`
	Metadata    Metadata   `json:"metadata,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	FailedAt    *time.Time `json:"failedAt,omitempty"`
	CanceledAt  *time.Time `json:"canceledAt,omitempty"`
}

// Terminate moves the task into a terminal status. A task that is already
// terminal keeps its status and timestamps.
func (t *Task) Terminate(status Status, now time.Time) {
	t.UpdatedAt = now

	if t.Status.IsTerminal() {
		return
	}

	t.Status = status

	switch status {
	case StatusSuccess:
		t.CompletedAt = &now
	case StatusFailed:
		t.FailedAt = &now
	case StatusCanceled:
		t.CanceledAt = &now
	}
}
