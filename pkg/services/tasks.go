package services

import (
	"context"

	"github.com/dukex/pulse/pkg/actor"
	"github.com/dukex/pulse/pkg/models"
	"github.com/dukex/pulse/pkg/task"
)

// Tasks routes task operations to task actors.
type Tasks struct {
	host *actor.Host[*task.Actor]
}

// NewTasks creates a new task service.
func NewTasks(host *actor.Host[*task.Actor]) *Tasks {
	return &Tasks{host: host}
}

// Host returns the host owning task actors.
func (s *Tasks) Host() *actor.Host[*task.Actor] {
	return s.host
}

func (s *Tasks) Initialize(ctx context.Context, id string, req task.InitializeRequest) (*task.Result, error) {
	err := validateStatus("Initialize", req.Status)
	if err != nil {
		return nil, err
	}

	return call(ctx, s.host, id, func(ctx context.Context, a *task.Actor) (*task.Result, error) {
		return a.Initialize(ctx, req)
	})
}

func (s *Tasks) Get(ctx context.Context, id string) (*models.Task, error) {
	return call(ctx, s.host, id, func(ctx context.Context, a *task.Actor) (*models.Task, error) {
		return a.Task(ctx)
	})
}

// History returns up to limit of the latest history rows. Zero selects the
// default limit.
func (s *Tasks) History(ctx context.Context, id string, limit int) ([]models.HistoryEvent, error) {
	limit, err := historyLimit("History", limit)
	if err != nil {
		return nil, err
	}

	return call(ctx, s.host, id, func(ctx context.Context, a *task.Actor) ([]models.HistoryEvent, error) {
		_, err := a.Task(ctx)
		if err != nil {
			return nil, err
		}

		return a.History(ctx, limit)
	})
}

func (s *Tasks) UpdateProgress(ctx context.Context, id string, progress int, metadata models.Metadata) (*task.Result, error) {
	return call(ctx, s.host, id, func(ctx context.Context, a *task.Actor) (*task.Result, error) {
		return a.UpdateProgress(ctx, progress, metadata)
	})
}

func (s *Tasks) LogEvent(ctx context.Context, id string, req task.LogRequest) (*task.Result, error) {
	return call(ctx, s.host, id, func(ctx context.Context, a *task.Actor) (*task.Result, error) {
		return a.LogEvent(ctx, req)
	})
}

func (s *Tasks) Complete(ctx context.Context, id string, metadata models.Metadata) (*task.Result, error) {
	return call(ctx, s.host, id, func(ctx context.Context, a *task.Actor) (*task.Result, error) {
		return a.Complete(ctx, metadata)
	})
}

func (s *Tasks) Fail(ctx context.Context, id, errMessage string, metadata models.Metadata) (*task.Result, error) {
	return call(ctx, s.host, id, func(ctx context.Context, a *task.Actor) (*task.Result, error) {
		return a.Fail(ctx, errMessage, metadata)
	})
}

func (s *Tasks) Cancel(ctx context.Context, id string, metadata models.Metadata) (*task.Result, error) {
	return call(ctx, s.host, id, func(ctx context.Context, a *task.Actor) (*task.Result, error) {
		return a.Cancel(ctx, metadata)
	})
}

func (s *Tasks) Delete(ctx context.Context, id string) error {
	_, err := call(ctx, s.host, id, func(ctx context.Context, a *task.Actor) (struct{}, error) {
		return struct{}{}, a.Delete(ctx)
	})

	return err
}
