package web

import (
	"errors"

	"github.com/dukex/flowline/pkg/graph"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

var errInvalidJSON = errors.New("Invalid JSON format")

func problem(c fiber.Ctx, status int, kind, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func internalError(c fiber.Ctx, err error) error {
	p := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(p)
}

// handleEngineError maps engine and persistence errors onto problem responses.
func handleEngineError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, graph.ErrTypeNotFound):
		return problem(c, fiber.StatusNotFound, "workflow_type_not_found", err.Error())

	case errors.Is(err, graph.ErrNodeNotFound):
		return problem(c, fiber.StatusNotFound, "node_not_found", err.Error())

	case persistence.IsWorkflowNotFound(err):
		return problem(c, fiber.StatusNotFound, "workflow_not_found", "workflow not found")

	case persistence.IsTaskNotFound(err):
		return problem(c, fiber.StatusNotFound, "task_not_found", "task not found")

	case errors.Is(err, workflow.ErrNotAssigned):
		return problem(c, fiber.StatusForbidden, "not_assigned", err.Error())

	case workflow.IsLockUnavailable(err):
		c.Set(fiber.HeaderRetryAfter, "1")

		return problem(c, fiber.StatusConflict, "workflow_locked", err.Error())

	case errors.Is(err, workflow.ErrTaskCompleted):
		return problem(c, fiber.StatusConflict, "task_completed", err.Error())

	case errors.Is(err, workflow.ErrFieldNotAllowed),
		errors.Is(err, workflow.ErrNotHumanNode),
		errors.Is(err, workflow.ErrNotStartNode),
		errors.Is(err, graph.ErrInvalidState):
		return badRequest(c, err.Error())

	default:
		return internalError(c, err)
	}
}
