// Package web provides HTTP handlers and the WebSocket gateway through which
// collaborators drive task and workflow actors.
package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/pulse/pkg/progress"
	"github.com/dukex/pulse/pkg/services"
	"github.com/dukex/pulse/pkg/task"
	"github.com/dukex/pulse/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	taskService     *services.Tasks
	workflowService *services.Workflows
	storage         *services.Storage
	validator       *validator.Validate
}

func NewAPIHandlers(
	taskService *services.Tasks,
	workflowService *services.Workflows,
	storage *services.Storage,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		taskService:     taskService,
		workflowService: workflowService,
		storage:         storage,
		validator:       validator,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	storageCheck, ok := h.storage.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Pulse API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "Pulse API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"storage": storageCheck,
		},
		"actors": fiber.Map{
			"tasks":     h.taskService.Host().Len(),
			"workflows": h.workflowService.Host().Len(),
		},
		"timestamp": time.Now().UTC(),
	})
}

var errInvalidJSON = errors.New("invalid JSON format")

// bind decodes and validates the JSON body into req. An empty body is
// accepted for requests whose fields are all optional.
func (h *APIHandlers) bind(c fiber.Ctx, req any) error {
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(req); err != nil {
			return errInvalidJSON
		}
	}

	return h.validator.Struct(req)
}

// param copies a route parameter out of the request buffer, which fasthttp
// reuses once the handler returns. Actors keep IDs for their whole lifetime.
func param(c fiber.Ctx, name string) string {
	return strings.Clone(c.Params(name))
}

func parseLimit(c fiber.Ctx) (int, error) {
	limitStr := c.Query("limit")
	if limitStr == "" {
		return 0, nil
	}

	return strconv.Atoi(limitStr)
}

func (h *APIHandlers) InitializeTask(c fiber.Ctx) error {
	var req InitializeTaskRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.taskService.Initialize(c.Context(), param(c, "id"), task.InitializeRequest{
		Status:   req.Status,
		Metadata: req.Metadata,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *APIHandlers) GetTask(c fiber.Ctx) error {
	result, err := h.taskService.Get(c.Context(), param(c, "id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) GetTaskHistory(c fiber.Ctx) error {
	limit, err := parseLimit(c)
	if err != nil {
		return badRequest(c, "Invalid limit: "+err.Error())
	}

	history, err := h.taskService.History(c.Context(), param(c, "id"), limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(HistoryResponse{History: history, Limit: services.EffectiveHistoryLimit(limit)})
}

func (h *APIHandlers) UpdateTaskProgress(c fiber.Ctx) error {
	var req ProgressRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.taskService.UpdateProgress(c.Context(), param(c, "id"), *req.Progress, req.Metadata)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) LogTaskEvent(c fiber.Ctx) error {
	var req LogEventRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.taskService.LogEvent(c.Context(), param(c, "id"), task.LogRequest{
		Type:     req.Type,
		Message:  req.Message,
		Metadata: req.Metadata,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) CompleteTask(c fiber.Ctx) error {
	var req MetadataRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.taskService.Complete(c.Context(), param(c, "id"), req.Metadata)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) FailTask(c fiber.Ctx) error {
	var req FailRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.taskService.Fail(c.Context(), param(c, "id"), req.Error, req.Metadata)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) CancelTask(c fiber.Ctx) error {
	var req MetadataRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.taskService.Cancel(c.Context(), param(c, "id"), req.Metadata)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) DeleteTask(c fiber.Ctx) error {
	err := h.taskService.Delete(c.Context(), param(c, "id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) InitializeWorkflow(c fiber.Ctx) error {
	var req InitializeWorkflowRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.workflowService.Initialize(c.Context(), param(c, "id"), workflow.InitializeRequest{
		Status:   req.Status,
		Phases:   req.Phases,
		Metadata: req.Metadata,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	result, err := h.workflowService.Get(c.Context(), param(c, "id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) GetWorkflowPhases(c fiber.Ctx) error {
	phases, err := h.workflowService.Phases(c.Context(), param(c, "id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(PhasesResponse{
		Phases:   phases,
		Progress: progress.PhaseProgress(phases),
	})
}

func (h *APIHandlers) GetWorkflowHistory(c fiber.Ctx) error {
	limit, err := parseLimit(c)
	if err != nil {
		return badRequest(c, "Invalid limit: "+err.Error())
	}

	history, err := h.workflowService.History(c.Context(), param(c, "id"), limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(HistoryResponse{History: history, Limit: services.EffectiveHistoryLimit(limit)})
}

func (h *APIHandlers) UpdatePhaseProgress(c fiber.Ctx) error {
	var req ProgressRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.workflowService.UpdatePhaseProgress(c.Context(), param(c, "id"), param(c, "key"), *req.Progress, req.Metadata)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) CompletePhase(c fiber.Ctx) error {
	var req MetadataRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.workflowService.CompletePhase(c.Context(), param(c, "id"), param(c, "key"), req.Metadata)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) LogWorkflowEvent(c fiber.Ctx) error {
	var req LogEventRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.workflowService.LogEvent(c.Context(), param(c, "id"), workflow.LogRequest{
		Type:     req.Type,
		PhaseKey: req.PhaseKey,
		Message:  req.Message,
		Metadata: req.Metadata,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) CompleteWorkflow(c fiber.Ctx) error {
	var req MetadataRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.workflowService.Complete(c.Context(), param(c, "id"), req.Metadata)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) FailWorkflow(c fiber.Ctx) error {
	var req FailRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.workflowService.Fail(c.Context(), param(c, "id"), req.Error, req.Metadata)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) CancelWorkflow(c fiber.Ctx) error {
	var req MetadataRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.workflowService.Cancel(c.Context(), param(c, "id"), req.Metadata)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	err := h.workflowService.Delete(c.Context(), param(c, "id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
