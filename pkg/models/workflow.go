package models

import "time"

// Workflow is the metadata row of a multi-phase pipeline. OverallProgress,
// CompletedPhaseCount and ActivePhaseKey are derived from its phases.
type Workflow struct {
	ID                  string     `json:"id"`
	Status              Status     `json:"status"`
	OverallProgress     int        `json:"overallProgress"`
	ExpectedPhaseCount  int        `json:"expectedPhaseCount"`
	CompletedPhaseCount int        `json:"completedPhaseCount"`
	ActivePhaseKey      *string    `json:"activePhaseKey"`
	Metadata            Metadata   `json:"metadata,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
	FailedAt            *time.Time `json:"failedAt,omitempty"`
	CanceledAt          *time.Time `json:"canceledAt,omitempty"`
}

// Terminate moves the workflow into a terminal status. A workflow that is
// already terminal keeps its status and timestamps.
func (w *Workflow) Terminate(status Status, now time.Time) {
	w.UpdatedAt = now

	if w.Status.IsTerminal() {
		return
	}

	w.Status = status

	switch status {
	case StatusSuccess:
		w.CompletedAt = &now
	case StatusFailed:
		w.FailedAt = &now
	case StatusCanceled:
		w.CanceledAt = &now
	}
}

// Phase is one weighted unit of work inside a workflow. Progress is
// authoritative only for leaves; parents are aggregated from children.
type Phase struct {
	Key            string     `json:"key"`
	Label          string     `json:"label"`
	Weight         float64    `json:"weight"`
	Status         Status     `json:"status"`
	Progress       int        `json:"progress"`
	Order          int        `json:"order"`
	ParentPhaseKey *string    `json:"parentPhaseKey"`
	Depth          int        `json:"depth"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// IsTopLevel reports whether the phase has no parent.
func (p Phase) IsTopLevel() bool {
	return p.ParentPhaseKey == nil
}

// ApplyProgress records a raw progress value on the phase.
func (p *Phase) ApplyProgress(progress int, now time.Time) {
	p.Progress = progress
	p.Status = ProgressStatus(progress)
	p.UpdatedAt = now

	if p.StartedAt == nil && progress > 0 {
		p.StartedAt = &now
	}

	if progress >= 100 && p.CompletedAt == nil {
		p.CompletedAt = &now
	}
}

// PhaseDefinition describes a phase supplied when a workflow is initialized.
type PhaseDefinition struct {
	Key            string  `json:"key"                      validate:"required"`
	Label          string  `json:"label"`
	Weight         float64 `json:"weight"                   validate:"gte=0,lte=1"`
	Status         Status  `json:"status,omitempty"         validate:"omitempty,oneof=pending in-progress success failed canceled"`
	Progress       int     `json:"progress,omitempty"       validate:"gte=0,lte=100"`
	ParentPhaseKey *string `json:"parentPhaseKey,omitempty"`
}

// BuildPhases turns definitions into phase rows. Order follows the slice
// index, depth follows the parent chain, and phases seeded in-progress start
// at now.
func BuildPhases(defs []PhaseDefinition, now time.Time) []Phase {
	parents := make(map[string]*string, len(defs))
	for _, def := range defs {
		parents[def.Key] = def.ParentPhaseKey
	}

	phases := make([]Phase, 0, len(defs))

	for i, def := range defs {
		status := def.Status
		if status == "" {
			status = StatusPending
		}

		phase := Phase{
			Key:            def.Key,
			Label:          def.Label,
			Weight:         def.Weight,
			Status:         status,
			Progress:       def.Progress,
			Order:          i,
			ParentPhaseKey: def.ParentPhaseKey,
			Depth:          phaseDepth(def.Key, parents),
			UpdatedAt:      now,
		}

		if status == StatusInProgress {
			phase.StartedAt = &now
		}

		phases = append(phases, phase)
	}

	return phases
}

// phaseDepth counts ancestors that exist in the definition set. The walk stops
// at an unknown parent or a repeated key.
func phaseDepth(key string, parents map[string]*string) int {
	depth := 0
	seen := map[string]bool{key: true}

	parent := parents[key]
	for parent != nil {
		depth++

		if seen[*parent] {
			break
		}

		seen[*parent] = true

		next, ok := parents[*parent]
		if !ok {
			break
		}

		parent = next
	}

	return depth
}
