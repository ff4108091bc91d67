package services

import (
	"context"

	"github.com/dukex/pulse/pkg/actor"
	"github.com/dukex/pulse/pkg/models"
	"github.com/dukex/pulse/pkg/workflow"
)

// Workflows routes workflow operations to workflow actors.
type Workflows struct {
	host *actor.Host[*workflow.Actor]
}

// NewWorkflows creates a new workflow service.
func NewWorkflows(host *actor.Host[*workflow.Actor]) *Workflows {
	return &Workflows{host: host}
}

// Host returns the host owning workflow actors.
func (s *Workflows) Host() *actor.Host[*workflow.Actor] {
	return s.host
}

func (s *Workflows) Initialize(ctx context.Context, id string, req workflow.InitializeRequest) (*workflow.Result, error) {
	err := validateStatus("Initialize", req.Status)
	if err != nil {
		return nil, err
	}

	return call(ctx, s.host, id, func(ctx context.Context, a *workflow.Actor) (*workflow.Result, error) {
		return a.Initialize(ctx, req)
	})
}

func (s *Workflows) Get(ctx context.Context, id string) (*models.Workflow, error) {
	return call(ctx, s.host, id, func(ctx context.Context, a *workflow.Actor) (*models.Workflow, error) {
		return a.Workflow(ctx)
	})
}

func (s *Workflows) Phases(ctx context.Context, id string) ([]models.Phase, error) {
	return call(ctx, s.host, id, func(ctx context.Context, a *workflow.Actor) ([]models.Phase, error) {
		return a.Phases(ctx)
	})
}

// History returns up to limit of the latest history rows. Zero selects the
// default limit.
func (s *Workflows) History(ctx context.Context, id string, limit int) ([]models.HistoryEvent, error) {
	limit, err := historyLimit("History", limit)
	if err != nil {
		return nil, err
	}

	return call(ctx, s.host, id, func(ctx context.Context, a *workflow.Actor) ([]models.HistoryEvent, error) {
		_, err := a.Workflow(ctx)
		if err != nil {
			return nil, err
		}

		return a.History(ctx, limit)
	})
}

func (s *Workflows) UpdatePhaseProgress(
	ctx context.Context,
	id, phaseKey string,
	progress int,
	metadata models.Metadata,
) (*workflow.Result, error) {
	return call(ctx, s.host, id, func(ctx context.Context, a *workflow.Actor) (*workflow.Result, error) {
		return a.UpdatePhaseProgress(ctx, phaseKey, progress, metadata)
	})
}

func (s *Workflows) CompletePhase(ctx context.Context, id, phaseKey string, metadata models.Metadata) (*workflow.Result, error) {
	return call(ctx, s.host, id, func(ctx context.Context, a *workflow.Actor) (*workflow.Result, error) {
		return a.CompletePhase(ctx, phaseKey, metadata)
	})
}

func (s *Workflows) LogEvent(ctx context.Context, id string, req workflow.LogRequest) (*workflow.Result, error) {
	return call(ctx, s.host, id, func(ctx context.Context, a *workflow.Actor) (*workflow.Result, error) {
		return a.LogEvent(ctx, req)
	})
}

func (s *Workflows) Complete(ctx context.Context, id string, metadata models.Metadata) (*workflow.Result, error) {
	return call(ctx, s.host, id, func(ctx context.Context, a *workflow.Actor) (*workflow.Result, error) {
		return a.Complete(ctx, metadata)
	})
}

func (s *Workflows) Fail(ctx context.Context, id, errMessage string, metadata models.Metadata) (*workflow.Result, error) {
	return call(ctx, s.host, id, func(ctx context.Context, a *workflow.Actor) (*workflow.Result, error) {
		return a.Fail(ctx, errMessage, metadata)
	})
}

func (s *Workflows) Cancel(ctx context.Context, id string, metadata models.Metadata) (*workflow.Result, error) {
	return call(ctx, s.host, id, func(ctx context.Context, a *workflow.Actor) (*workflow.Result, error) {
		return a.Cancel(ctx, metadata)
	})
}

func (s *Workflows) Delete(ctx context.Context, id string) error {
	_, err := call(ctx, s.host, id, func(ctx context.Context, a *workflow.Actor) (struct{}, error) {
		return struct{}{}, a.Delete(ctx)
	})

	return err
}
