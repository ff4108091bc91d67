// Package task implements the actor that owns the state of one long-running
// external job.
package task

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
	"go.opentelemetry.io/otel/attribute"
)

// Namespace is the actor namespace and data subdirectory of tasks.
const Namespace = "tasks"

// ResultHistoryLimit is how many history rows a mutation result carries.
const ResultHistoryLimit = 5

// Result is returned by every mutation: the reloaded task and its latest history.
type Result struct {
	Task    *models.Task          `json:"task"`
	History []models.HistoryEvent `json:"history"`
}

// InitializeRequest describes a task to create.
type InitializeRequest struct {
	Status   models.Status
	Metadata models.Metadata
}

// LogRequest appends a free-form history row.
type LogRequest struct {
	Type     models.HistoryType
	Message  string
	Metadata models.Metadata
}

// Actor owns one task.
type Actor struct {
	*entity.Base
}

var _ actor.SocketHandler = (*Actor)(nil)

// New creates the actor for id.
func New(id string, key actor.Key, deps entity.Deps) *Actor {
	return &Actor{Base: entity.NewBase(Namespace, id, key, sqlite.TaskMigrations(), deps)}
}

// Factory builds task actors for a host.
func Factory(deps entity.Deps) actor.Factory[*Actor] {
	return func(_ context.Context, id string, key actor.Key) (*Actor, error) {
		return New(id, key, deps), nil
	}
}

// Initialize creates the task unless it already exists, in which case the
// existing task is returned untouched.
func (a *Actor) Initialize(ctx context.Context, req InitializeRequest) (*Result, error) {
	ctx, span := a.StartSpan(ctx, "Initialize")
	defer span.End()

	_, err := a.Create(ctx)
	if err != nil {
		return nil, entity.Fail(span, fmt.Errorf("%w: %w", persistence.ErrNotInitializable, err))
	}

	var (
		created *models.HistoryEvent
		task    *models.Task
	)

	err = a.Mutate(ctx, "Initialize", func(tx *sql.Tx) error {
		repo := sqlite.NewTaskRepository(tx)

		existing, err := repo.Get(ctx)
		if err != nil || existing != nil {
			return err
		}

		now := a.Now()
		task = &models.Task{
			ID:        a.ID,
			Status:    models.StatusPending,
			Metadata:  req.Metadata,
			CreatedAt: now,
			UpdatedAt: now,
		}

		switch {
		case req.Status.IsTerminal():
			task.Terminate(req.Status, now)
		case req.Status != "":
			task.Status = req.Status
		}

		err = repo.Insert(ctx, task)
		if err != nil {
			return err
		}

		created = &models.HistoryEvent{
			EntityID:  a.ID,
			Type:      models.HistoryLog,
			Message:   "Task created",
			Timestamp: now,
			Metadata:  req.Metadata,
		}

		return sqlite.NewHistoryRepository(tx).Append(ctx, created)
	})
	if err != nil {
		return nil, entity.Fail(span, err)
	}

	if created != nil {
		a.Logger().InfoContext(ctx, "task initialized", "status", task.Status)

		a.Broadcast(ctx, events.TaskEventMessage{
			Type:      events.MessageEvent,
			TaskID:    a.ID,
			Event:     *created,
			Task:      task,
			Timestamp: created.Timestamp,
		})
		a.Publish(ctx, events.NewTaskLifecycle(events.TaskInitializedEvent, a.ID, task, created.Message))
	}

	return a.result(ctx)
}

// Task returns the task row.
func (a *Actor) Task(ctx context.Context) (*models.Task, error) {
	var task *models.Task

	err := a.Read(ctx, "Task", func(q sqlite.Querier) error {
		var err error

		task, err = load(ctx, q)

		return err
	})
	if err != nil {
		return nil, err
	}

	return task, nil
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

// UpdateProgress records a raw progress value. Reaching 100 completes the
// task unless it is already terminal.
func (a *Actor) UpdateProgress(ctx context.Context, progress int, metadata models.Metadata) (*Result, error) {
	ctx, span := a.StartSpan(ctx, "UpdateProgress", attribute.Int(otelhelper.ProgressKey, progress))
	defer span.End()

	err := entity.ValidateProgress(progress)
	if err != nil {
		return nil, entity.Fail(span, err)
	}

	task, _, err := a.apply(ctx, "UpdateProgress", func(task *models.Task, now time.Time) *models.HistoryEvent {
		task.Progress = progress
		task.UpdatedAt = now

		if !task.Status.IsTerminal() {
			if progress >= 100 {
				task.Terminate(models.StatusSuccess, now)
			} else {
				task.Status = models.StatusInProgress
			}
		}

		return &models.HistoryEvent{
			Type:     models.HistoryProgress,
			Message:  fmt.Sprintf("Progress updated to %d%%", progress),
			Progress: &progress,
			Metadata: metadata,
		}
	})
	if err != nil {
		return nil, entity.Fail(span, err)
	}

	a.Broadcast(ctx, events.TaskProgressMessage{
		Type:      events.MessageProgress,
		TaskID:    a.ID,
		Progress:  progress,
		Task:      task,
		Timestamp: task.UpdatedAt,
	})
	a.Publish(ctx, events.NewTaskLifecycle(events.TaskProgressedEvent, a.ID, task, ""))

	return a.result(ctx)
}

// LogEvent appends a history row without touching the task status.
func (a *Actor) LogEvent(ctx context.Context, req LogRequest) (*Result, error) {
	ctx, span := a.StartSpan(ctx, "LogEvent")
	defer span.End()

	kind, err := entity.HistoryType(req.Type)
	if err != nil {
		return nil, entity.Fail(span, err)
	}

	task, event, err := a.apply(ctx, "LogEvent", func(task *models.Task, now time.Time) *models.HistoryEvent {
		task.UpdatedAt = now

		return &models.HistoryEvent{
			Type:     kind,
			Message:  req.Message,
			Metadata: req.Metadata,
		}
	})
	if err != nil {
		return nil, entity.Fail(span, err)
	}

	a.Broadcast(ctx, events.TaskEventMessage{
		Type:      events.MessageEvent,
		TaskID:    a.ID,
		Event:     *event,
		Task:      task,
		Timestamp: event.Timestamp,
	})
	a.Publish(ctx, events.NewTaskLifecycle(events.TaskLoggedEvent, a.ID, task, req.Message))

	return a.result(ctx)
}

// Complete marks the task successful with progress 100.
func (a *Actor) Complete(ctx context.Context, metadata models.Metadata) (*Result, error) {
	return a.terminate(ctx, "Complete", models.StatusSuccess, "", metadata)
}

// Fail marks the task failed. Progress is left as it was.
func (a *Actor) Fail(ctx context.Context, errMessage string, metadata models.Metadata) (*Result, error) {
	return a.terminate(ctx, "Fail", models.StatusFailed, errMessage, metadata)
}

// Cancel marks the task canceled.
func (a *Actor) Cancel(ctx context.Context, metadata models.Metadata) (*Result, error) {
	return a.terminate(ctx, "Cancel", models.StatusCanceled, "", metadata)
}

// Delete erases every row of the task, history included.
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

	a.Logger().InfoContext(ctx, "task deleted")
	a.Publish(ctx, events.NewTaskLifecycle(events.TaskDeletedEvent, a.ID, nil, ""))

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
		message:     "Task completed",
		messageType: events.MessageComplete,
		eventType:   events.TaskCompletedEvent,
	},
	models.StatusFailed: {
		historyType: models.HistoryError,
		messageType: events.MessageFail,
		eventType:   events.TaskFailedEvent,
	},
	models.StatusCanceled: {
		historyType: models.HistoryCancel,
		message:     "Task canceled",
		messageType: events.MessageCancel,
		eventType:   events.TaskCanceledEvent,
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

	task, _, err := a.apply(ctx, op, func(task *models.Task, now time.Time) *models.HistoryEvent {
		// A failed or canceled task keeps the progress it stopped at.
		if status == models.StatusSuccess && !task.Status.IsTerminal() {
			task.Progress = 100
		}

		task.Terminate(status, now)

		return &models.HistoryEvent{
			Type:     outcome.historyType,
			Message:  message,
			Metadata: metadata,
		}
	})
	if err != nil {
		return nil, entity.Fail(span, err)
	}

	a.Logger().InfoContext(ctx, "task terminated", "requested", status, "status", task.Status)

	a.Broadcast(ctx, events.TaskStatusMessage{
		Type:      outcome.messageType,
		TaskID:    a.ID,
		Task:      task,
		Error:     errMessage,
		Timestamp: task.UpdatedAt,
	})
	a.Publish(ctx, events.NewTaskLifecycle(outcome.eventType, a.ID, task, message))

	return a.result(ctx)
}

// apply loads the task, lets mutate change it and describe the history row,
// then persists both in one transaction.
func (a *Actor) apply(
	ctx context.Context,
	op string,
	mutate func(task *models.Task, now time.Time) *models.HistoryEvent,
) (*models.Task, *models.HistoryEvent, error) {
	var (
		task  *models.Task
		event *models.HistoryEvent
	)

	err := a.Mutate(ctx, op, func(tx *sql.Tx) error {
		var err error

		task, err = load(ctx, tx)
		if err != nil {
			return err
		}

		now := a.Now()

		event = mutate(task, now)
		event.EntityID = a.ID
		event.Timestamp = now

		err = sqlite.NewTaskRepository(tx).Update(ctx, task)
		if err != nil {
			return err
		}

		return sqlite.NewHistoryRepository(tx).Append(ctx, event)
	})
	if err != nil {
		return nil, nil, err
	}

	return task, event, nil
}

func (a *Actor) result(ctx context.Context) (*Result, error) {
	var result Result

	err := a.Read(ctx, "Result", func(q sqlite.Querier) error {
		var err error

		result.Task, err = load(ctx, q)
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

func load(ctx context.Context, q sqlite.Querier) (*models.Task, error) {
	task, err := sqlite.NewTaskRepository(q).Get(ctx)
	if err != nil {
		return nil, err
	}

	if task == nil {
		return nil, persistence.ErrNotInitialized
	}

	return task, nil
}
