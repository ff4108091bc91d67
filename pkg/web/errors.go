package web

import (
	"github.com/dukex/pulse/pkg/persistence"
	"github.com/dukex/pulse/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func upgradeRequired(c fiber.Ctx) error {
	problem := problems.NewStatusProblem(426).
		WithInstance(c.Path()).
		WithType("upgrade_required").
		WithDetail("Expected a WebSocket upgrade request")

	c.Set(fiber.HeaderUpgrade, "websocket")

	return c.Status(fiber.StatusUpgradeRequired).JSON(problem)
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err):
		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("validation_error").
			WithDetail(err.Error())

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	case persistence.IsPhaseNotFound(err):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("phase_not_found").
			WithDetail("phase not found")

		return c.Status(fiber.StatusNotFound).JSON(problem)

	case persistence.IsNotInitialized(err):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("not_found").
			WithDetail("entity not found")

		return c.Status(fiber.StatusNotFound).JSON(problem)

	case persistence.IsNotInitializable(err):
		problem := problems.NewStatusProblem(503).
			WithInstance(c.Path()).
			WithType("storage_unavailable").
			WithDetail("entity storage is unavailable")

		return c.Status(fiber.StatusServiceUnavailable).JSON(problem)

	default:
		problem := problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(problem)
	}
}
