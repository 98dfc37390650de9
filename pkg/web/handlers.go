// Package web provides HTTP handlers and REST API endpoints for workflow management.
package web

import (
	"net/http"
	"time"

	"github.com/dukex/stepflow/pkg/broadcast"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/registry"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	workflowService   *services.Workflow
	executionService  *services.Execution
	triggerService    *services.Trigger
	credentialService *services.Credential
	subscriber        broadcast.Subscriber
	validator         *validator.Validate
	registry          *registry.Registry
	keepAlive         time.Duration
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	executionService *services.Execution,
	triggerService *services.Trigger,
	credentialService *services.Credential,
	subscriber broadcast.Subscriber,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		workflowService:   workflowService,
		executionService:  executionService,
		triggerService:    triggerService,
		credentialService: credentialService,
		subscriber:        subscriber,
		validator:         validator,
		registry:          registry,
		keepAlive:         15 * time.Second,
	}
}

// Routes registers every endpoint on app.
func (h *APIHandlers) Routes(app fiber.Router) {
	w := app.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Get("/:id/versions", h.GetVersions)
	w.Post("/:id/versions", h.PublishVersion)
	w.Post("/:id/versions/:versionId/activate", h.ActivateVersion)
	w.Post("/:id/execute", h.ExecuteWorkflow)
	w.Get("/:id/executions", h.GetWorkflowExecutions)
	w.Post("/:id/triggers", h.CreateTrigger)

	app.Get("/triggers", h.GetTriggers)
	app.Get("/triggers/:id", h.GetTrigger)
	app.Post("/webhooks/:triggerId", h.Webhook)

	e := app.Group("/executions")
	e.Get("/:id", h.GetExecution)
	e.Post("/:id/cancel", h.CancelExecution)
	e.Get("/:id/stream", h.StreamExecution)

	app.Post("/credentials", h.CreateCredential)
	app.Get("/credentials/:id", h.GetCredential)

	app.Get("/step-types", h.GetStepTypes)
	app.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflowService.List(c.Context(), c.Query("owner_id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")

	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.workflowService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow := &models.Workflow{
		Name:        req.Name,
		Description: req.Description,
		Owner:       req.Owner,
		Settings:    req.Settings,
		Metadata:    req.Metadata,
	}

	created, err := h.workflowService.Create(c.Context(), workflow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	err := h.workflowService.Delete(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetVersions(c fiber.Ctx) error {
	versions, err := h.workflowService.Versions(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"versions": versions})
}

// PublishVersion stores a new immutable version and makes it the active one.
func (h *APIHandlers) PublishVersion(c fiber.Ctx) error {
	var req PublishVersionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	version, err := h.workflowService.Publish(c.Context(), c.Params("id"), req.Steps)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(version)
}

func (h *APIHandlers) ActivateVersion(c fiber.Ctx) error {
	version, err := h.workflowService.Rollback(c.Context(), c.Params("id"), c.Params("versionId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(version)
}

// ExecuteWorkflow queues a manual run and answers before it starts.
func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	var req ExecuteRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	executionID, err := h.workflowService.Execute(c.Context(), c.Params("id"), req.Input)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(AcceptedResponse{
		ExecutionID: executionID,
		Status:      string(models.ExecutionStatusPending),
	})
}

func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	executions, err := h.executionService.List(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	out := make([]ExecutionResponse, 0, len(executions))
	for _, execution := range executions {
		out = append(out, NewExecutionResponse(execution))
	}

	return c.JSON(fiber.Map{"executions": out})
}

func (h *APIHandlers) CreateTrigger(c fiber.Ctx) error {
	var req CreateTriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	trigger, err := h.triggerService.Create(c.Context(), &models.Trigger{
		WorkflowID:  c.Params("id"),
		Type:        req.Type,
		Schedule:    req.Schedule,
		Enabled:     enabled,
		InputSchema: req.InputSchema,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(trigger)
}

func (h *APIHandlers) GetTriggers(c fiber.Ctx) error {
	triggers, err := h.triggerService.List(c.Context(), models.TriggerType(c.Query("type")))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"triggers": triggers})
}

func (h *APIHandlers) GetTrigger(c fiber.Ctx) error {
	trigger, err := h.triggerService.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(trigger)
}

// Webhook accepts a JSON object payload and queues a run of the trigger's workflow.
func (h *APIHandlers) Webhook(c fiber.Ctx) error {
	payload := map[string]any{}

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&payload); err != nil {
			return badRequest(c, "Webhook payload must be a JSON object")
		}
	}

	executionID, err := h.triggerService.Webhook(c.Context(), c.Params("triggerId"), payload)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(AcceptedResponse{
		ExecutionID: executionID,
		Status:      string(models.ExecutionStatusPending),
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.executionService.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(NewExecutionResponse(execution))
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	execution, err := h.executionService.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(NewExecutionResponse(execution))
}

func (h *APIHandlers) CreateCredential(c fiber.Ctx) error {
	var req CreateCredentialRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	credential, err := h.credentialService.Create(c.Context(), req.Name, req.Type, req.Owner, req.Data)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(NewCredentialResponse(credential))
}

func (h *APIHandlers) GetCredential(c fiber.Ctx) error {
	credential, err := h.credentialService.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(NewCredentialResponse(credential))
}

// GetStepTypes lists the registered step types with their configuration schemas.
func (h *APIHandlers) GetStepTypes(c fiber.Ctx) error {
	runners := h.registry.Runners()
	out := make([]fiber.Map, 0, len(runners))

	for _, runner := range runners {
		out = append(out, fiber.Map{
			"type":        runner.Type(),
			"name":        runner.Name(),
			"description": runner.Description(),
			"schema":      runner.Schema(),
		})
	}

	return c.JSON(fiber.Map{"stepTypes": out})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := "No step types registered", false
	if types := h.registry.Types(); len(types) > 0 {
		registryCheck, regOk = "Step registry loaded", true
	}

	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Stepflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Stepflow API is healthy"
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
