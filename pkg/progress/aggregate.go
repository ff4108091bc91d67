// Package progress computes derived workflow progress from a forest of
// weighted phases. Everything here is a pure function over phase snapshots
// and is recomputed from scratch after every phase mutation.
package progress

import (
	"math"
	"sort"

	"github.com/dukex/pulse/pkg/models"
)

// Overall returns floor(Σ progress(t) * weight(t)) over the top-level phases,
// where the progress of a phase with children is the weighted sum of its
// children. Phases whose parent key does not exist are never reached and so
// contribute nothing. Weights are used as given.
func Overall(phases []models.Phase) int {
	tree := newForest(phases)

	total := 0.0
	for _, root := range tree.roots {
		total += tree.progress(root) * root.Weight
	}

	return int(math.Floor(total))
}

// PhaseProgress returns the aggregated progress of every phase reachable from
// a top-level phase, keyed by phase key.
func PhaseProgress(phases []models.Phase) map[string]float64 {
	tree := newForest(phases)

	for _, root := range tree.roots {
		tree.progress(root)
	}

	return tree.memo
}

// CompletedCount is the number of phases whose status is success.
func CompletedCount(phases []models.Phase) int {
	count := 0

	for _, phase := range phases {
		if phase.Status == models.StatusSuccess {
			count++
		}
	}

	return count
}

// ActivePhaseKey returns the key of the lowest-order phase that is not
// successful, or nil when every phase succeeded.
func ActivePhaseKey(phases []models.Phase) *string {
	ordered := make([]models.Phase, len(phases))
	copy(ordered, phases)

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Order < ordered[j].Order
	})

	for _, phase := range ordered {
		if phase.Status != models.StatusSuccess {
			key := phase.Key

			return &key
		}
	}

	return nil
}

type forest struct {
	roots    []models.Phase
	children map[string][]models.Phase
	memo     map[string]float64
}

func newForest(phases []models.Phase) *forest {
	f := &forest{
		children: make(map[string][]models.Phase),
		memo:     make(map[string]float64, len(phases)),
	}

	for _, phase := range phases {
		if phase.IsTopLevel() {
			f.roots = append(f.roots, phase)

			continue
		}

		parent := *phase.ParentPhaseKey
		f.children[parent] = append(f.children[parent], phase)
	}

	return f
}

func (f *forest) progress(phase models.Phase) float64 {
	if value, ok := f.memo[phase.Key]; ok {
		return value
	}

	children := f.children[phase.Key]
	if len(children) == 0 {
		value := float64(phase.Progress)
		f.memo[phase.Key] = value

		return value
	}

	value := 0.0
	for _, child := range children {
		value += f.progress(child) * child.Weight
	}

	f.memo[phase.Key] = value

	return value
}
