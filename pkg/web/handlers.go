// Package web provides the HTTP API: human task completion, workflow starts, admin actions and diagrams.
package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/dukex/flowline/pkg/graph"
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	engine    *workflow.Engine
	store     persistence.Store
	validator *validator.Validate
}

func NewAPIHandlers(engine *workflow.Engine, store persistence.Store, validator *validator.Validate) *APIHandlers {
	return &APIHandlers{
		engine:    engine,
		store:     store,
		validator: validator,
	}
}

// Register mounts every API route on router.
func (h *APIHandlers) Register(router fiber.Router) {
	w := router.Group("/workflows")
	w.Get("/:id", h.GetWorkflow)
	w.Get("/:id/graph", h.GetWorkflowGraph)
	w.Post("/:id/cancel", h.CancelWorkflow)
	w.Post("/:id/override", h.OverrideWorkflow)

	t := router.Group("/types")
	t.Get("/", h.GetTypes)
	t.Get("/:type", h.GetType)
	t.Get("/:type/graph", h.GetTypeGraph)
	t.Post("/:type/start", h.StartWorkflow)

	tasks := router.Group("/tasks")
	tasks.Post("/rerun", h.RerunTasks)
	tasks.Post("/cancel", h.CancelTasks)
	tasks.Post("/:id/complete", h.CompleteTask)

	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) user(c fiber.Ctx) *models.User {
	id := c.Get(UserHeader)
	if id == "" {
		return &models.User{Anonymous: true}
	}

	return models.NewUser(id)
}

// bind decodes the JSON body into req and validates it. An empty body decodes as an empty request.
// The returned error is the detail of the 400 response; bind itself writes nothing.
func (h *APIHandlers) bind(c fiber.Ctx, req any) error {
	if len(c.Body()) > 0 {
		err := c.Bind().JSON(req)
		if err != nil {
			return errInvalidJSON
		}
	}

	return h.validator.Struct(req)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	detail, err := h.engine.Describe(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(detail)
}

func (h *APIHandlers) GetWorkflowGraph(c fiber.Ctx) error {
	diagram, err := h.engine.Mermaid(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.SendString(diagram)
}

func (h *APIHandlers) GetTypes(c fiber.Ctx) error {
	types := h.engine.Registry().Types()

	response := make([]TypeResponse, 0, len(types))
	for _, t := range types {
		response = append(response, TransformTypeResponse(t))
	}

	return c.JSON(response)
}

func (h *APIHandlers) GetType(c fiber.Ctx) error {
	t, err := h.engine.Registry().Type(c.Params("type"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(TransformTypeResponse(t))
}

func (h *APIHandlers) GetTypeGraph(c fiber.Ctx) error {
	t, err := h.engine.Registry().Type(c.Params("type"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.SendString(graph.Mermaid(t))
}

func (h *APIHandlers) StartWorkflow(c fiber.Ctx) error {
	var req StartRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.engine.CompleteHumanTask(c.Context(), workflow.Completion{
		WorkflowType: c.Params("type"),
		Node:         req.Node,
		User:         h.user(c),
		State:        req.State,
	})
	if err == nil {
		return c.Status(fiber.StatusCreated).JSON(NewCompletionResponse(result))
	}

	if !errors.Is(err, workflow.ErrNotHumanNode) {
		return handleEngineError(c, err)
	}

	wf, err := h.engine.Start(c.Context(), c.Params("type"), req.Node, req.State, h.user(c))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(CompletionResponse{Workflow: wf, Next: []*models.Task{}})
}

func (h *APIHandlers) CompleteTask(c fiber.Ctx) error {
	var req CompleteRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.engine.CompleteHumanTask(c.Context(), workflow.Completion{
		TaskID: c.Params("id"),
		User:   h.user(c),
		State:  req.State,
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(NewCompletionResponse(result))
}

func (h *APIHandlers) CancelWorkflow(c fiber.Ctx) error {
	canceled, err := h.engine.CancelWorkflow(c.Context(), c.Params("id"), h.user(c))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{"canceled": canceled})
}

func (h *APIHandlers) OverrideWorkflow(c fiber.Ctx) error {
	var req OverrideRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.engine.Override(c.Context(), c.Params("id"), req.Next, req.State, h.user(c))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(NewCompletionResponse(result))
}

func (h *APIHandlers) RerunTasks(c fiber.Ctx) error {
	var req TaskIDsRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	report, err := h.engine.Rerun(c.Context(), req.TaskIDs)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(report)
}

func (h *APIHandlers) CancelTasks(c fiber.Ctx) error {
	var req TaskIDsRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	report, err := h.engine.CancelTasks(c.Context(), req.TaskIDs, h.user(c))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(report)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Flowline API is healthy"
	httpStatus := http.StatusOK
	check := "ok"

	err := h.store.HealthCheck(c.Context())
	if err != nil {
		status = "unhealthy"
		message = "Flowline API is unhealthy"
		httpStatus = http.StatusInternalServerError
		check = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"store": check,
			"types": len(h.engine.Registry().Types()),
		},
		"timestamp": time.Now().UTC(),
	})
}
