package progress_test

import (
	"testing"

	"github.com/dukex/pulse/pkg/models"
	"github.com/dukex/pulse/pkg/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parent(key string) *string {
	return &key
}

func phase(key string, weight float64, value int, parentKey *string) models.Phase {
	return models.Phase{Key: key, Weight: weight, Progress: value, ParentPhaseKey: parentKey}
}

// transcriptionTree mirrors a two-level pipeline: transcription (0.4) with
// download/transcribe children, digest (0.6) with analyze/summarize children.
func transcriptionTree() []models.Phase {
	return []models.Phase{
		phase("transcription", 0.4, 0, nil),
		phase("download", 0.4, 0, parent("transcription")),
		phase("transcribe", 0.6, 0, parent("transcription")),
		phase("digest", 0.6, 0, nil),
		phase("digest.analyze", 0.5, 0, parent("digest")),
		phase("digest.summarize", 0.5, 0, parent("digest")),
	}
}

func set(phases []models.Phase, key string, value int) {
	for i := range phases {
		if phases[i].Key == key {
			phases[i].Progress = value
		}
	}
}

func TestOverall(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		phases   func() []models.Phase
		expected int
	}{
		{
			name:     "empty phase set",
			phases:   func() []models.Phase { return nil },
			expected: 0,
		},
		{
			name:     "single phase with full weight",
			phases:   func() []models.Phase { return []models.Phase{phase("only", 1.0, 37, nil)} },
			expected: 37,
		},
		{
			name: "flat pair",
			phases: func() []models.Phase {
				return []models.Phase{phase("a", 0.5, 50, nil), phase("b", 0.5, 100, nil)}
			},
			expected: 75,
		},
		{
			name: "nested leaf complete",
			phases: func() []models.Phase {
				phases := transcriptionTree()
				set(phases, "download", 100)

				return phases
			},
			expected: 16,
		},
		{
			name: "floors instead of rounding",
			phases: func() []models.Phase {
				phases := transcriptionTree()
				set(phases, "download", 100)
				set(phases, "transcribe", 100)
				set(phases, "digest.analyze", 82)

				return phases
			},
			expected: 64,
		},
		{
			name: "parent progress value is ignored when it has children",
			phases: func() []models.Phase {
				phases := transcriptionTree()
				set(phases, "transcription", 100)

				return phases
			},
			expected: 0,
		},
		{
			name: "weights are not normalized",
			phases: func() []models.Phase {
				return []models.Phase{phase("a", 0.8, 100, nil), phase("b", 0.8, 100, nil)}
			},
			expected: 160,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, progress.Overall(tt.phases()))
		})
	}
}

func TestOverall_OrphansContributeNothing(t *testing.T) {
	t.Parallel()

	phases := []models.Phase{
		phase("a", 1.0, 40, nil),
		phase("ghost-child", 1.0, 100, parent("missing")),
	}

	assert.Equal(t, 40, progress.Overall(phases))

	nested := transcriptionTree()
	set(nested, "download", 100)
	nested = append(nested, phase("stray", 1.0, 100, parent("does-not-exist")))

	assert.Equal(t, 16, progress.Overall(nested))
}

func TestPhaseProgress(t *testing.T) {
	t.Parallel()

	phases := transcriptionTree()
	set(phases, "download", 100)
	set(phases, "transcribe", 50)

	values := progress.PhaseProgress(phases)

	assert.InDelta(t, 70.0, values["transcription"], 1e-9)
	assert.InDelta(t, 100.0, values["download"], 1e-9)
	assert.InDelta(t, 0.0, values["digest"], 1e-9)
}

func TestCompletedCountAndActivePhase(t *testing.T) {
	t.Parallel()

	phases := []models.Phase{
		{Key: "third", Order: 2, Status: models.StatusPending},
		{Key: "first", Order: 0, Status: models.StatusSuccess},
		{Key: "second", Order: 1, Status: models.StatusInProgress},
	}

	assert.Equal(t, 1, progress.CompletedCount(phases))

	active := progress.ActivePhaseKey(phases)
	require.NotNil(t, active)
	assert.Equal(t, "second", *active)

	for i := range phases {
		phases[i].Status = models.StatusSuccess
	}

	assert.Equal(t, 3, progress.CompletedCount(phases))
	assert.Nil(t, progress.ActivePhaseKey(phases))
}
