package testutil

import (
	"github.com/dukex/pulse/pkg/models"
	"github.com/google/uuid"
)

// CreateTestPhase creates a phase definition with default values that can be overridden.
func CreateTestPhase(key string, overrides ...func(*models.PhaseDefinition)) models.PhaseDefinition {
	phase := models.PhaseDefinition{
		Key:    key,
		Label:  "Phase " + key,
		Weight: 1,
	}

	for _, override := range overrides {
		override(&phase)
	}

	return phase
}

// WithWeight sets the phase weight.
func WithWeight(weight float64) func(*models.PhaseDefinition) {
	return func(p *models.PhaseDefinition) {
		p.Weight = weight
	}
}

// WithParent nests the phase under parent.
func WithParent(parent string) func(*models.PhaseDefinition) {
	return func(p *models.PhaseDefinition) {
		p.ParentPhaseKey = &parent
	}
}

// WithStatus sets the initial phase status.
func WithStatus(status models.Status) func(*models.PhaseDefinition) {
	return func(p *models.PhaseDefinition) {
		p.Status = status
	}
}

// CreateTranscriptionPhases is a two-level pipeline: transcription (0.4)
// with download/transcribe children and digest (0.6) with analyze/summarize
// children.
func CreateTranscriptionPhases() []models.PhaseDefinition {
	return []models.PhaseDefinition{
		CreateTestPhase("transcription", WithWeight(0.4)),
		CreateTestPhase("download", WithWeight(0.4), WithParent("transcription")),
		CreateTestPhase("transcribe", WithWeight(0.6), WithParent("transcription")),
		CreateTestPhase("digest", WithWeight(0.6)),
		CreateTestPhase("digest.analyze", WithWeight(0.5), WithParent("digest")),
		CreateTestPhase("digest.summarize", WithWeight(0.5), WithParent("digest")),
	}
}

// NewEntityID returns a random entity ID.
func NewEntityID() string {
	return uuid.NewString()
}
