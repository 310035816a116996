// Package web provides HTTP handlers and REST API endpoints for workflow
// definitions and their running instances.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/opsdesk/stepflow/pkg/persistence"
	"github.com/opsdesk/stepflow/pkg/registry"
	"github.com/opsdesk/stepflow/pkg/workflow"
)

type APIHandlers struct {
	definitions *workflow.DefinitionService
	engine      *workflow.Engine
	store       persistence.Persistence
	registry    *registry.Registry
	validator   *validator.Validate
}

func NewAPIHandlers(
	definitions *workflow.DefinitionService,
	engine *workflow.Engine,
	store persistence.Persistence,
	registry *registry.Registry,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		definitions: definitions,
		engine:      engine,
		store:       store,
		registry:    registry,
		validator:   validator,
	}
}

// Routes mounts every endpoint on app.
func (h *APIHandlers) Routes(app *fiber.App) {
	w := app.Group("/workflows")
	w.Get("/", h.ListWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.UpdateWorkflow)
	w.Post("/:id/activate", h.ActivateWorkflow)
	w.Post("/:id/deactivate", h.DeactivateWorkflow)
	w.Post("/:id/instances", h.CreateInstance)

	i := app.Group("/instances")
	i.Get("/:id", h.GetInstance)
	i.Post("/:id/steps/:stepId/execute", h.ExecuteStep)
	i.Post("/:id/cancel", h.CancelInstance)

	app.Get("/users/:userId/instances", h.ListUserInstances)
	app.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) ListWorkflows(c fiber.Ctx) error {
	organizationID := c.Query("organization_id", c.Get(OrganizationHeader))

	definitions, err := h.definitions.List(c.Context(), organizationID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   definitions,
		"total_count": len(definitions),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")

	if raw := c.Query("version"); raw != "" {
		version, err := strconv.Atoi(raw)
		if err != nil || version < 1 {
			return badRequest(c, "version must be a positive integer")
		}

		definition, err := h.definitions.FetchVersion(c.Context(), id, version)
		if err != nil {
			return handleServiceError(c, err)
		}

		return c.JSON(definition)
	}

	definition, err := h.definitions.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req DefinitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.definitions.Create(c.Context(), req.ToDefinition(c.Get(OrganizationHeader), c.Get(ActorHeader)))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	var req DefinitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.definitions.Update(c.Context(), c.Params("id"), req.ToDefinition("", c.Get(ActorHeader)))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	return h.setActive(c, true)
}

func (h *APIHandlers) DeactivateWorkflow(c fiber.Ctx) error {
	return h.setActive(c, false)
}

func (h *APIHandlers) setActive(c fiber.Ctx, active bool) error {
	id := c.Params("id")

	if err := h.definitions.SetActive(c.Context(), id, active); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"id": id, "is_active": active})
}

func (h *APIHandlers) CreateInstance(c fiber.Ctx) error {
	var req CreateInstanceRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	result, err := h.engine.CreateInstance(c.Context(), workflow.CreateInstanceRequest{
		WorkflowID:     c.Params("id"),
		InitiatorID:    c.Get(ActorHeader),
		OrganizationID: c.Get(OrganizationHeader),
		InitialContext: req.InitialContext,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	details, err := h.engine.FetchInstance(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(details)
}

func (h *APIHandlers) ListUserInstances(c fiber.Ctx) error {
	organizationID := c.Query("organization_id", c.Get(OrganizationHeader))

	instances, err := h.engine.FetchUserInstances(c.Context(), c.Params("userId"), organizationID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"instances":   instances,
		"total_count": len(instances),
	})
}

func (h *APIHandlers) ExecuteStep(c fiber.Ctx) error {
	var req ExecuteStepRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	result, err := h.engine.ExecuteStep(c.Context(), workflow.ExecuteStepRequest{
		InstanceID: c.Params("id"),
		StepID:     c.Params("stepId"),
		InputData:  req.InputData,
		ActorID:    c.Get(ActorHeader),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) CancelInstance(c fiber.Ctx) error {
	actorID := c.Get(ActorHeader)
	if actorID == "" {
		return badRequest(c, ActorHeader+" header is required")
	}

	instance, err := h.engine.CancelWorkflow(c.Context(), c.Params("id"), actorID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, registryOk := h.registry.HealthCheck()

	storeCheck, storeOk := "store is reachable", true
	if err := h.store.HealthCheck(c.Context()); err != nil {
		storeCheck, storeOk = err.Error(), false
	}

	status := "unhealthy"
	message := "stepflow API is unhealthy"
	httpStatus := http.StatusServiceUnavailable

	if registryOk && storeOk {
		status = "healthy"
		message = "stepflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry": registryCheck,
			"store":    storeCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

// Ready reports whether the store answers; used by the readiness probe.
func (h *APIHandlers) Ready(c fiber.Ctx) bool {
	return h.store.HealthCheck(c.Context()) == nil
}
