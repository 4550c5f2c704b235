// Package web provides the HTTP handlers of the automation REST API.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/praxishq/automation/pkg/engine"
	"github.com/praxishq/automation/pkg/models"
	"github.com/praxishq/automation/pkg/persistence"
	"github.com/praxishq/automation/pkg/publish"
	"github.com/praxishq/automation/pkg/registry"
	"github.com/praxishq/automation/pkg/trigger"
)

const (
	defaultRunPageSize = 50
	maxRunPageSize     = 200
)

type APIHandlers struct {
	persistence    persistence.Persistence
	publishService *publish.Service
	triggerService *trigger.Service
	engine         *engine.Engine
	registry       *registry.Registry
	validator      *validator.Validate
}

func NewAPIHandlers(
	store persistence.Persistence,
	publishService *publish.Service,
	triggerService *trigger.Service,
	eng *engine.Engine,
	reg *registry.Registry,
	validate *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		persistence:    store,
		publishService: publishService,
		triggerService: triggerService,
		engine:         eng,
		registry:       reg,
		validator:      validate,
	}
}

func (h *APIHandlers) GetAutomations(c fiber.Ctx) error {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		return badRequest(c, "tenant_id query parameter is required")
	}

	automations, err := h.persistence.AutomationRepository().List(c.Context(), tenantID)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"automations": automations})
}

func (h *APIHandlers) CreateAutomation(c fiber.Ctx) error {
	var req CreateAutomationRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	automation := &models.Automation{
		TenantID:  req.TenantID,
		Name:      req.Name,
		CreatedBy: req.CreatedBy,
	}

	if err := h.persistence.AutomationRepository().Save(c.Context(), automation); err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(automation)
}

func (h *APIHandlers) GetAutomation(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	automation, err := h.persistence.AutomationRepository().GetByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(automation)
}

func (h *APIHandlers) UpdateAutomation(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	var req UpdateAutomationRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	automation, err := h.persistence.AutomationRepository().GetByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	if req.Name != nil {
		automation.Name = *req.Name
	}

	if err := h.persistence.AutomationRepository().Save(c.Context(), automation); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(automation)
}

func (h *APIHandlers) DeleteAutomation(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	if err := h.persistence.AutomationRepository().Delete(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) SetAutomationActive(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	var req SetActiveRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.persistence.AutomationRepository().SetActive(c.Context(), id, req.Active); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) SaveDraft(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	var req SaveVersionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	version, err := h.publishService.SaveDraft(c.Context(), id, req.Graph, req.CreatedBy)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(version)
}

func (h *APIHandlers) PublishAutomation(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	var req SaveVersionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	version, err := h.publishService.Publish(c.Context(), id, req.Graph, req.CreatedBy)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(version)
}

func (h *APIHandlers) GetTriggers(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	triggers, err := h.persistence.TriggerRepository().ListByAutomation(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"triggers": triggers})
}

func (h *APIHandlers) CreateTrigger(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	var req CreateTriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if _, err := h.persistence.AutomationRepository().GetByID(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	trg := &models.AutomationTrigger{
		AutomationID: id,
		EventKey:     req.EventKey,
		WorkflowID:   req.WorkflowID,
		StageID:      req.StageID,
		Active:       active,
	}

	if err := h.persistence.TriggerRepository().Save(c.Context(), trg); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(trg)
}

func (h *APIHandlers) DeleteTrigger(c fiber.Ctx) error {
	id := c.Params("triggerId")
	if id == "" {
		return badRequest(c, "Trigger ID is required")
	}

	if err := h.persistence.TriggerRepository().Delete(c.Context(), id); err != nil {
		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetRuns(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	limit := defaultRunPageSize
	offset := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			return badRequest(c, "Invalid limit parameter")
		}

		limit = min(parsed, maxRunPageSize)
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		parsed, err := strconv.Atoi(offsetStr)
		if err != nil || parsed < 0 {
			return badRequest(c, "Invalid offset parameter")
		}

		offset = parsed
	}

	runs, err := h.persistence.RunRepository().ListByAutomation(c.Context(), id, limit, offset)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"runs": runs,
		"pagination": fiber.Map{
			"limit":  limit,
			"offset": offset,
		},
	})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	run, err := h.persistence.RunRepository().GetByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	nodeRuns, err := h.persistence.NodeRunRepository().ListByRun(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"run":       run,
		"node_runs": nodeRuns,
	})
}

// TestAutomation runs the published version synchronously in dry-run mode and
// returns the per-node outcomes.
func (h *APIHandlers) TestAutomation(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	var req TestRunRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	run, results, err := h.engine.RunTest(c.Context(), id, req.Subject, req.TriggerData)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"run":     run,
		"results": results,
	})
}

// RaiseEvent is the host application's entry point for business events.
func (h *APIHandlers) RaiseEvent(c fiber.Ctx) error {
	var req RaiseEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	runs, err := h.triggerService.Raise(c.Context(), req.EventKey, req.Subject, req.Scope, req.Payload)
	if err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"runs": runs})
}

func (h *APIHandlers) GetNodeTypes(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"node_types": h.registry.Palette()})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	storeErr := h.persistence.HealthCheck(c.Context())

	repositoryCheck := "ok"
	if storeErr != nil {
		repositoryCheck = storeErr.Error()
	}

	status := "unhealthy"
	message := "Automation API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && storeErr == nil {
		status = "healthy"
		message = "Automation API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
