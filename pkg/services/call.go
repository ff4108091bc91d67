package services

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/pulse/pkg/actor"
	"github.com/dukex/pulse/pkg/models"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

// call runs fn on the actor owning id and hands its result back.
func call[A actor.Actor, R any](
	ctx context.Context,
	host *actor.Host[A],
	id string,
	fn func(ctx context.Context, a A) (R, error),
) (R, error) {
	var result R

	if id == "" {
		return result, ErrEmptyID
	}

	err := host.Do(ctx, id, func(ctx context.Context, a A) error {
		var err error

		result, err = fn(ctx, a)

		return err
	})

	return result, err
}

// EffectiveHistoryLimit is the number of rows a history request with limit
// returns: the default for zero, at most MaxHistoryLimit.
func EffectiveHistoryLimit(limit int) int {
	if limit == 0 {
		return DefaultHistoryLimit
	}

	return min(limit, MaxHistoryLimit)
}

// historyLimit rejects negative limits and caps the rest.
func historyLimit(op string, limit int) (int, error) {
	if limit < 0 {
		return 0, NewValidationError(op, "invalid_limit", "limit must not be negative", ErrInvalidLimit)
	}

	return EffectiveHistoryLimit(limit), nil
}

func validateStatus(op string, status models.Status) error {
	if status == "" || status.IsValid() {
		return nil
	}

	return NewValidationError(op, "invalid_status", fmt.Sprintf("unknown status %q", status), ErrInvalidStatus)
}

// Storage reports whether actors can create their databases.
type Storage struct {
	dataDir string
}

// NewStorage creates a health checker for dataDir.
func NewStorage(dataDir string) *Storage {
	return &Storage{dataDir: dataDir}
}

// HealthCheck verifies the data directory is writable.
func (s *Storage) HealthCheck(_ context.Context) (string, bool) {
	err := os.MkdirAll(s.dataDir, 0o750)
	if err != nil {
		return "Data directory is unavailable: " + err.Error(), false
	}

	scratch, err := os.CreateTemp(s.dataDir, ".health-*")
	if err != nil {
		return "Data directory is not writable: " + err.Error(), false
	}

	_ = scratch.Close()
	_ = os.Remove(scratch.Name())

	return "Data directory is writable", true
}
