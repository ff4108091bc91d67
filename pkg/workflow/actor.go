// Package workflow implements the actor that owns one multi-phase pipeline
// and derives its overall progress from a weighted phase tree.
package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukex/pulse/pkg/actor"
	"github.com/dukex/pulse/pkg/entity"
	"github.com/dukex/pulse/pkg/events"
	"github.com/dukex/pulse/pkg/models"
	"github.com/dukex/pulse/pkg/otelhelper"
	"github.com/dukex/pulse/pkg/persistence"
	"github.com/dukex/pulse/pkg/persistence/sqlite"
	"github.com/dukex/pulse/pkg/progress"
	"go.opentelemetry.io/otel/attribute"
)

// Namespace is the actor namespace and data subdirectory of workflows.
const Namespace = "workflows"

// ResultHistoryLimit is how many history rows a mutation result carries.
const ResultHistoryLimit = 10

// Result is returned by every mutation.
type Result struct {
	Workflow *models.Workflow      `json:"workflow"`
	Phases   []models.Phase        `json:"phases"`
	History  []models.HistoryEvent `json:"history"`
}

// InitializeRequest describes a workflow and its phases. Phase order is the
// slice order.
type InitializeRequest struct {
	Status   models.Status
	Phases   []models.PhaseDefinition
	Metadata models.Metadata
}

// LogRequest appends a free-form history row.
type LogRequest struct {
	Type     models.HistoryType
	PhaseKey *string
	Message  string
	Metadata models.Metadata
}

// Actor owns one workflow.
type Actor struct {
	*entity.Base
}

var _ actor.SocketHandler = (*Actor)(nil)

// New creates the actor for id.
func New(id string, key actor.Key, deps entity.Deps) *Actor {
	return &Actor{Base: entity.NewBase(Namespace, id, key, sqlite.WorkflowMigrations(), deps)}
}

// Factory builds workflow actors for a host.
func Factory(deps entity.Deps) actor.Factory[*Actor] {
	return func(_ context.Context, id string, key actor.Key) (*Actor, error) {
		return New(id, key, deps), nil
	}
}

// Initialize creates the workflow and its phases unless it already exists.
func (a *Actor) Initialize(ctx context.Context, req InitializeRequest) (*Result, error) {
	ctx, span := a.StartSpan(ctx, "Initialize", attribute.Int(otelhelper.PhaseCountKey, len(req.Phases)))
	defer span.End()

	_, err := a.Create(ctx)
	if err != nil {
		return nil, entity.Fail(span, fmt.Errorf("%w: %w", persistence.ErrNotInitializable, err))
	}

	var (
		created  *models.HistoryEvent
		workflow *models.Workflow
	)

	err = a.Mutate(ctx, "Initialize", func(tx *sql.Tx) error {
		repo := sqlite.NewWorkflowRepository(tx)

		existing, err := repo.Get(ctx)
		if err != nil || existing != nil {
			return err
		}

		now := a.Now()
		phases := models.BuildPhases(req.Phases, now)

		workflow = &models.Workflow{
			ID:                 a.ID,
			Status:             models.StatusPending,
			ExpectedPhaseCount: len(phases),
			Metadata:           req.Metadata,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		derive(workflow, phases)

		switch {
		case req.Status.IsTerminal():
			workflow.Terminate(req.Status, now)
		case req.Status != "":
			workflow.Status = req.Status
		}

		err = repo.Insert(ctx, workflow)
		if err != nil {
			return err
		}

		phaseRepo := sqlite.NewPhaseRepository(tx)

		for i := range phases {
			err = phaseRepo.Insert(ctx, &phases[i])
			if err != nil {
				return err
			}
		}

		created = &models.HistoryEvent{
			EntityID:  a.ID,
			Type:      models.HistoryLog,
			Message:   fmt.Sprintf("Workflow created with %d phases", len(phases)),
			Timestamp: now,
			Metadata:  req.Metadata,
		}

		return sqlite.NewHistoryRepository(tx).Append(ctx, created)
	})
	if err != nil {
		return nil, entity.Fail(span, err)
	}

	if created != nil {
		a.Logger().InfoContext(ctx, "workflow initialized", "status", workflow.Status, "phases", workflow.ExpectedPhaseCount)

		a.Broadcast(ctx, events.WorkflowEventMessage{
			Type:       events.MessageEvent,
			WorkflowID: a.ID,
			Event:      *created,
			Workflow:   workflow,
			Timestamp:  created.Timestamp,
		})
		a.Publish(ctx, events.NewWorkflowLifecycle(events.WorkflowInitializedEvent, a.ID, workflow, nil, created.Message))
	}

	return a.result(ctx)
}

// Workflow returns the workflow row.
func (a *Actor) Workflow(ctx context.Context) (*models.Workflow, error) {
	var workflow *models.Workflow

	err := a.Read(ctx, "Workflow", func(q sqlite.Querier) error {
		var err error

		workflow, err = load(ctx, q)

		return err
	})
	if err != nil {
		return nil, err
	}

	return workflow, nil
}

// Phases returns every phase in declared order.
func (a *Actor) Phases(ctx context.Context) ([]models.Phase, error) {
	var phases []models.Phase

	err := a.Read(ctx, "Phases", func(q sqlite.Querier) error {
		_, err := load(ctx, q)
		if err != nil {
			return err
		}

		phases, err = sqlite.NewPhaseRepository(q).List(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return phases, nil
}

// History returns the latest limit history rows in insertion order.
func (a *Actor) History(ctx context.Context, limit int) ([]models.HistoryEvent, error) {
	var history []models.HistoryEvent

	err := a.Read(ctx, "History", func(q sqlite.Querier) error {
		var err error

		history, err = sqlite.NewHistoryRepository(q).Recent(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return history, nil
}

// UpdatePhaseProgress records a raw progress value on one phase and
// recomputes the workflow's derived progress from the whole tree.
func (a *Actor) UpdatePhaseProgress(ctx context.Context, phaseKey string, value int, metadata models.Metadata) (*Result, error) {
	return a.updatePhase(ctx, "UpdatePhaseProgress", phaseKey, value, metadata)
}

// CompletePhase sets a phase to 100.
func (a *Actor) CompletePhase(ctx context.Context, phaseKey string, metadata models.Metadata) (*Result, error) {
	return a.updatePhase(ctx, "CompletePhase", phaseKey, 100, metadata)
}

func (a *Actor) updatePhase(ctx context.Context, op, phaseKey string, value int, metadata models.Metadata) (*Result, error) {
	ctx, span := a.StartSpan(ctx, op,
		attribute.String(otelhelper.PhaseKeyKey, phaseKey),
		attribute.Int(otelhelper.ProgressKey, value),
	)
	defer span.End()

	err := entity.ValidateProgress(value)
	if err != nil {
		return nil, entity.Fail(span, err)
	}

	var phase *models.Phase

	workflow, phases, _, err := a.apply(ctx, op, func(tx *sql.Tx, workflow *models.Workflow, now time.Time) (*models.HistoryEvent, error) {
		repo := sqlite.NewPhaseRepository(tx)

		var err error

		phase, err = repo.Get(ctx, phaseKey)
		if err != nil {
			return nil, err
		}

		if phase == nil {
			return nil, &persistence.PhaseError{
				Op:         op,
				WorkflowID: a.ID,
				PhaseKey:   phaseKey,
				Err:        persistence.ErrPhaseNotFound,
			}
		}

		phase.ApplyProgress(value, now)

		err = repo.Update(ctx, phase)
		if err != nil {
			return nil, err
		}

		all, err := repo.List(ctx)
		if err != nil {
			return nil, err
		}

		derive(workflow, all)

		if workflow.Status == models.StatusPending {
			workflow.Status = models.StatusInProgress
		}

		workflow.UpdatedAt = now

		return &models.HistoryEvent{
			Type:     models.HistoryPhaseProgress,
			PhaseKey: &phase.Key,
			Message:  fmt.Sprintf("Phase %s progress updated to %d%%", phaseKey, value),
			Progress: &value,
			Metadata: metadata,
		}, nil
	})
	if err != nil {
		return nil, entity.Fail(span, err)
	}

	span.SetAttributes(attribute.Int(otelhelper.OverallProgressKey, workflow.OverallProgress))

	a.Broadcast(ctx, events.PhaseProgressMessage{
		Type:            events.MessagePhaseProgress,
		WorkflowID:      a.ID,
		Phase:           phaseKey,
		Progress:        value,
		OverallProgress: workflow.OverallProgress,
		Workflow:        workflow,
		Phases:          phases,
		Timestamp:       workflow.UpdatedAt,
	})
	a.Publish(ctx, events.NewWorkflowLifecycle(events.WorkflowPhaseProgressedEvent, a.ID, workflow, phase, ""))

	return a.result(ctx)
}

// LogEvent appends a history row without touching the workflow status.
func (a *Actor) LogEvent(ctx context.Context, req LogRequest) (*Result, error) {
	ctx, span := a.StartSpan(ctx, "LogEvent")
	defer span.End()

	kind, err := entity.HistoryType(req.Type)
	if err != nil {
		return nil, entity.Fail(span, err)
	}

	workflow, _, event, err := a.apply(ctx, "LogEvent", func(_ *sql.Tx, workflow *models.Workflow, now time.Time) (*models.HistoryEvent, error) {
		workflow.UpdatedAt = now

		return &models.HistoryEvent{
			Type:     kind,
			PhaseKey: req.PhaseKey,
			Message:  req.Message,
			Metadata: req.Metadata,
		}, nil
	})
	if err != nil {
		return nil, entity.Fail(span, err)
	}

	a.Broadcast(ctx, events.WorkflowEventMessage{
		Type:       events.MessageEvent,
		WorkflowID: a.ID,
		Event:      *event,
		Workflow:   workflow,
		Timestamp:  event.Timestamp,
	})
	a.Publish(ctx, events.NewWorkflowLifecycle(events.WorkflowLoggedEvent, a.ID, workflow, nil, req.Message))

	return a.result(ctx)
}

// Complete marks the workflow successful with overall progress 100. Phases
// keep their own values.
func (a *Actor) Complete(ctx context.Context, metadata models.Metadata) (*Result, error) {
	return a.terminate(ctx, "Complete", models.StatusSuccess, "", metadata)
}

// Fail marks the workflow failed.
func (a *Actor) Fail(ctx context.Context, errMessage string, metadata models.Metadata) (*Result, error) {
	return a.terminate(ctx, "Fail", models.StatusFailed, errMessage, metadata)
}

// Cancel marks the workflow canceled.
func (a *Actor) Cancel(ctx context.Context, metadata models.Metadata) (*Result, error) {
	return a.terminate(ctx, "Cancel", models.StatusCanceled, "", metadata)
}

// Delete erases the workflow, its phases and its history.
func (a *Actor) Delete(ctx context.Context) error {
	ctx, span := a.StartSpan(ctx, "Delete")
	defer span.End()

	existed, err := a.Destroy(ctx)
	if err != nil {
		return entity.Fail(span, err)
	}

	if !existed {
		return nil
	}

	a.Logger().InfoContext(ctx, "workflow deleted")
	a.Publish(ctx, events.NewWorkflowLifecycle(events.WorkflowDeletedEvent, a.ID, nil, nil, ""))

	return nil
}

type terminal struct {
	historyType models.HistoryType
	message     string
	messageType events.MessageType
	eventType   events.EventType
}

var terminals = map[models.Status]terminal{
	models.StatusSuccess: {
		historyType: models.HistorySuccess,
		message:     "Workflow completed",
		messageType: events.MessageComplete,
		eventType:   events.WorkflowCompletedEvent,
	},
	models.StatusFailed: {
		historyType: models.HistoryError,
		messageType: events.MessageFail,
		eventType:   events.WorkflowFailedEvent,
	},
	models.StatusCanceled: {
		historyType: models.HistoryCancel,
		message:     "Workflow canceled",
		messageType: events.MessageCancel,
		eventType:   events.WorkflowCanceledEvent,
	},
}

func (a *Actor) terminate(ctx context.Context, op string, status models.Status, errMessage string, metadata models.Metadata) (*Result, error) {
	ctx, span := a.StartSpan(ctx, op)
	defer span.End()

	outcome := terminals[status]

	message := outcome.message
	if status == models.StatusFailed {
		message = errMessage
	}

	workflow, phases, _, err := a.apply(ctx, op, func(_ *sql.Tx, workflow *models.Workflow, now time.Time) (*models.HistoryEvent, error) {
		// A failed or canceled workflow keeps the progress it stopped at.
		if status == models.StatusSuccess && !workflow.Status.IsTerminal() {
			workflow.OverallProgress = 100
		}

		workflow.Terminate(status, now)

		return &models.HistoryEvent{
			Type:     outcome.historyType,
			Message:  message,
			Metadata: metadata,
		}, nil
	})
	if err != nil {
		return nil, entity.Fail(span, err)
	}

	a.Logger().InfoContext(ctx, "workflow terminated", "requested", status, "status", workflow.Status)

	a.Broadcast(ctx, events.WorkflowStatusMessage{
		Type:       outcome.messageType,
		WorkflowID: a.ID,
		Workflow:   workflow,
		Phases:     phases,
		Error:      errMessage,
		Timestamp:  workflow.UpdatedAt,
	})
	a.Publish(ctx, events.NewWorkflowLifecycle(outcome.eventType, a.ID, workflow, nil, message))

	return a.result(ctx)
}

// apply loads the workflow, lets mutate change it and describe the history
// row, then persists both in one transaction. The returned phases are read
// after mutate ran.
func (a *Actor) apply(
	ctx context.Context,
	op string,
	mutate func(tx *sql.Tx, workflow *models.Workflow, now time.Time) (*models.HistoryEvent, error),
) (*models.Workflow, []models.Phase, *models.HistoryEvent, error) {
	var (
		workflow *models.Workflow
		phases   []models.Phase
		event    *models.HistoryEvent
	)

	err := a.Mutate(ctx, op, func(tx *sql.Tx) error {
		var err error

		workflow, err = load(ctx, tx)
		if err != nil {
			return err
		}

		now := a.Now()

		event, err = mutate(tx, workflow, now)
		if err != nil {
			return err
		}

		event.EntityID = a.ID
		event.Timestamp = now

		err = sqlite.NewWorkflowRepository(tx).Update(ctx, workflow)
		if err != nil {
			return err
		}

		err = sqlite.NewHistoryRepository(tx).Append(ctx, event)
		if err != nil {
			return err
		}

		phases, err = sqlite.NewPhaseRepository(tx).List(ctx)

		return err
	})
	if err != nil {
		return nil, nil, nil, err
	}

	return workflow, phases, event, nil
}

// derive recomputes the values of workflow that follow from its phases.
func derive(workflow *models.Workflow, phases []models.Phase) {
	workflow.OverallProgress = progress.Overall(phases)
	workflow.CompletedPhaseCount = progress.CompletedCount(phases)
	workflow.ActivePhaseKey = progress.ActivePhaseKey(phases)
}

func (a *Actor) result(ctx context.Context) (*Result, error) {
	var result Result

	err := a.Read(ctx, "Result", func(q sqlite.Querier) error {
		var err error

		result.Workflow, err = load(ctx, q)
		if err != nil {
			return err
		}

		result.Phases, err = sqlite.NewPhaseRepository(q).List(ctx)
		if err != nil {
			return err
		}

		result.History, err = sqlite.NewHistoryRepository(q).Recent(ctx, ResultHistoryLimit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return &result, nil
}

func load(ctx context.Context, q sqlite.Querier) (*models.Workflow, error) {
	workflow, err := sqlite.NewWorkflowRepository(q).Get(ctx)
	if err != nil {
		return nil, err
	}

	if workflow == nil {
		return nil, persistence.ErrNotInitialized
	}

	return workflow, nil
}
