// Package web provides HTTP request and response types for the progress API.
package web

import (
	"github.com/dukex/pulse/pkg/models"
)

// InitializeTaskRequest represents the request body for creating a task.
type InitializeTaskRequest struct {
	Status   models.Status   `json:"status,omitempty"   validate:"omitempty,oneof=pending in-progress success failed canceled"`
	Metadata models.Metadata `json:"metadata,omitempty"`
}

// InitializeWorkflowRequest represents the request body for creating a
// workflow. Phase order is the array order.
type InitializeWorkflowRequest struct {
	Status   models.Status            `json:"status,omitempty"   validate:"omitempty,oneof=pending in-progress success failed canceled"`
	Phases   []models.PhaseDefinition `json:"phases"             validate:"unique=Key,dive"`
	Metadata models.Metadata          `json:"metadata,omitempty"`
}

// ProgressRequest represents a progress update.
type ProgressRequest struct {
	Progress *int            `json:"progress"           validate:"required,gte=0,lte=100"`
	Metadata models.Metadata `json:"metadata,omitempty"`
}

// LogEventRequest represents a free-form history entry.
type LogEventRequest struct {
	Type     models.HistoryType `json:"type,omitempty"     validate:"omitempty,oneof=log progress phase-progress workflow-progress error success cancel"`
	PhaseKey *string            `json:"phaseKey,omitempty"`
	Message  string             `json:"message"            validate:"required"`
	Metadata models.Metadata    `json:"metadata,omitempty"`
}

// FailRequest represents the request body for failing an entity.
type FailRequest struct {
	Error    string          `json:"error"              validate:"required"`
	Metadata models.Metadata `json:"metadata,omitempty"`
}

// MetadataRequest carries only the optional metadata bag.
type MetadataRequest struct {
	Metadata models.Metadata `json:"metadata,omitempty"`
}

// HistoryResponse lists history rows in insertion order.
type HistoryResponse struct {
	History []models.HistoryEvent `json:"history"`
	Limit   int                   `json:"limit"`
}

// PhasesResponse lists the phases of a workflow in declared order. Progress
// holds the aggregated progress of every reachable phase, so a parent shows
// the weighted progress of its children.
type PhasesResponse struct {
	Phases   []models.Phase     `json:"phases"`
	Progress map[string]float64 `json:"progress"`
}
