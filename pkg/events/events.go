// Package events defines the lifecycle events published when a task or
// workflow changes, and the frames exchanged with connected observers.
package events

import (
	"time"

	"github.com/dukex/pulse/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Lifecycle events are split into one topic per entity kind so consumers
// interested in a single kind never decode the other.
const (
	TaskTopic     = "pulse.tasks"
	WorkflowTopic = "pulse.workflows"
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Task lifecycle events.
	TaskInitializedEvent EventType = "task.initialized"
	TaskProgressedEvent  EventType = "task.progressed"
	TaskLoggedEvent      EventType = "task.logged"
	TaskCompletedEvent   EventType = "task.completed"
	TaskFailedEvent      EventType = "task.failed"
	TaskCanceledEvent    EventType = "task.canceled"
	TaskDeletedEvent     EventType = "task.deleted"

	// Workflow lifecycle events.
	WorkflowInitializedEvent     EventType = "workflow.initialized"
	WorkflowPhaseProgressedEvent EventType = "workflow.phase.progressed"
	WorkflowLoggedEvent          EventType = "workflow.logged"
	WorkflowCompletedEvent       EventType = "workflow.completed"
	WorkflowFailedEvent          EventType = "workflow.failed"
	WorkflowCanceledEvent        EventType = "workflow.canceled"
	WorkflowDeletedEvent         EventType = "workflow.deleted"
)

// Topic returns the topic t is published on, or "" for unknown types.
func (t EventType) Topic() string {
	switch {
	case t.IsTaskEvent():
		return TaskTopic
	case t.IsWorkflowEvent():
		return WorkflowTopic
	default:
		return ""
	}
}

// IsTaskEvent reports whether t belongs to the task lifecycle.
func (t EventType) IsTaskEvent() bool {
	switch t {
	case TaskInitializedEvent, TaskProgressedEvent, TaskLoggedEvent, TaskCompletedEvent,
		TaskFailedEvent, TaskCanceledEvent, TaskDeletedEvent:
		return true
	default:
		return false
	}
}

// IsWorkflowEvent reports whether t belongs to the workflow lifecycle.
func (t EventType) IsWorkflowEvent() bool {
	switch t {
	case WorkflowInitializedEvent, WorkflowPhaseProgressedEvent, WorkflowLoggedEvent, WorkflowCompletedEvent,
		WorkflowFailedEvent, WorkflowCanceledEvent, WorkflowDeletedEvent:
		return true
	default:
		return false
	}
}

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	EntityID  string    `json:"entity_id"`
}

func NewBaseEvent(eventType EventType, entityID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		EntityID:  entityID,
	}
}

// TaskLifecycle reports a committed task change. Task is nil for deletions.
type TaskLifecycle struct {
	BaseEvent

	Task    *models.Task `json:"task,omitempty"`
	Message string       `json:"message,omitempty"`
}

func (e TaskLifecycle) GetType() EventType {
	return e.Type
}

// NewTaskLifecycle creates a task lifecycle event.
func NewTaskLifecycle(eventType EventType, taskID string, task *models.Task, message string) TaskLifecycle {
	return TaskLifecycle{
		BaseEvent: NewBaseEvent(eventType, taskID),
		Task:      task,
		Message:   message,
	}
}

// WorkflowLifecycle reports a committed workflow change. Phase is set for
// phase progress; Workflow is nil for deletions.
type WorkflowLifecycle struct {
	BaseEvent

	Workflow *models.Workflow `json:"workflow,omitempty"`
	Phase    *models.Phase    `json:"phase,omitempty"`
	Message  string           `json:"message,omitempty"`
}

func (e WorkflowLifecycle) GetType() EventType {
	return e.Type
}

// NewWorkflowLifecycle creates a workflow lifecycle event.
func NewWorkflowLifecycle(eventType EventType, workflowID string, workflow *models.Workflow, phase *models.Phase, message string) WorkflowLifecycle {
	return WorkflowLifecycle{
		BaseEvent: NewBaseEvent(eventType, workflowID),
		Workflow:  workflow,
		Phase:     phase,
		Message:   message,
	}
}
