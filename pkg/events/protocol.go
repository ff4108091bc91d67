package events

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/dukex/pulse/pkg/models"
)

// MessageType is the "type" field of a frame exchanged with an observer.
type MessageType string

const (
	MessagePing          MessageType = "ping"
	MessagePong          MessageType = "pong"
	MessageError         MessageType = "error"
	MessageProgress      MessageType = "progress"
	MessagePhaseProgress MessageType = "phase-progress"
	MessageEvent         MessageType = "event"
	MessageComplete      MessageType = "complete"
	MessageFail          MessageType = "fail"
	MessageCancel        MessageType = "cancel"
)

// InvalidMessageFormat is the reply to any frame that is not a known client message.
const InvalidMessageFormat = "Invalid message format"

// ErrInvalidMessage is returned when a client frame cannot be understood.
var ErrInvalidMessage = errors.New("invalid client message")

// ClientMessage is a frame sent by an observer. Ping is the only one.
type ClientMessage struct {
	Type MessageType `json:"type"`
}

// ParseClientMessage decodes data and accepts only known client messages.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var message ClientMessage

	err := json.Unmarshal(data, &message)
	if err != nil {
		return ClientMessage{}, errors.Join(ErrInvalidMessage, err)
	}

	if message.Type != MessagePing {
		return ClientMessage{}, ErrInvalidMessage
	}

	return message, nil
}

// PongMessage answers a ping with the server time in unix milliseconds.
type PongMessage struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
}

func NewPong(now time.Time) PongMessage {
	return PongMessage{Type: MessagePong, Timestamp: now.UnixMilli()}
}

type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

func NewErrorMessage(message string) ErrorMessage {
	return ErrorMessage{Type: MessageError, Message: message}
}

// TaskProgressMessage is broadcast after a task progress update.
type TaskProgressMessage struct {
	Type      MessageType  `json:"type"`
	TaskID    string       `json:"taskId"`
	Progress  int          `json:"progress"`
	Task      *models.Task `json:"task"`
	Timestamp time.Time    `json:"timestamp"`
}

// TaskEventMessage is broadcast after a history row is appended to a task.
type TaskEventMessage struct {
	Type      MessageType         `json:"type"`
	TaskID    string              `json:"taskId"`
	Event     models.HistoryEvent `json:"event"`
	Task      *models.Task        `json:"task"`
	Timestamp time.Time           `json:"timestamp"`
}

// TaskStatusMessage is broadcast when a task completes, fails or is canceled.
type TaskStatusMessage struct {
	Type      MessageType  `json:"type"`
	TaskID    string       `json:"taskId"`
	Task      *models.Task `json:"task"`
	Error     string       `json:"error,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// PhaseProgressMessage is broadcast after a phase progress update. Progress
// is the raw phase value; OverallProgress is the recomputed workflow value.
type PhaseProgressMessage struct {
	Type            MessageType      `json:"type"`
	WorkflowID      string           `json:"workflowId"`
	Phase           string           `json:"phase"`
	Progress        int              `json:"progress"`
	OverallProgress int              `json:"overallProgress"`
	Workflow        *models.Workflow `json:"workflow"`
	Phases          []models.Phase   `json:"phases"`
	Timestamp       time.Time        `json:"timestamp"`
}

// WorkflowEventMessage is broadcast after a history row is appended to a workflow.
type WorkflowEventMessage struct {
	Type       MessageType         `json:"type"`
	WorkflowID string              `json:"workflowId"`
	Event      models.HistoryEvent `json:"event"`
	Workflow   *models.Workflow    `json:"workflow"`
	Timestamp  time.Time           `json:"timestamp"`
}

// WorkflowStatusMessage is broadcast when a workflow completes, fails or is canceled.
type WorkflowStatusMessage struct {
	Type       MessageType      `json:"type"`
	WorkflowID string           `json:"workflowId"`
	Workflow   *models.Workflow `json:"workflow"`
	Phases     []models.Phase   `json:"phases"`
	Error      string           `json:"error,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}
