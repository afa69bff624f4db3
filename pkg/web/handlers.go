// Package web provides HTTP handlers and REST API endpoints for workflow management.
package web

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/registry"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/dukex/stepflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

var errInvalidJSON = errors.New("invalid JSON format")

type APIHandlers struct {
	workflowService  *services.Workflow
	executionService *services.Execution
	validator        *validator.Validate
	registry         *registry.Registry
	eventBus         eventbus.EventBus
	observer         events.Sink
	logger           *slog.Logger
}

// NewAPIHandlers wires the handlers. eventBus may be nil, in which case
// queued executions are refused and lifecycle events are not forwarded.
func NewAPIHandlers(
	logger *slog.Logger,
	workflowService *services.Workflow,
	executionService *services.Execution,
	validator *validator.Validate,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
) *APIHandlers {
	h := &APIHandlers{
		workflowService:  workflowService,
		executionService: executionService,
		validator:        validator,
		registry:         registry,
		eventBus:         eventBus,
		observer:         events.Discard,
		logger:           logger.With("module", "api"),
	}

	if eventBus != nil {
		h.observer = eventbus.NewLifecycleForwarder(eventBus, logger, "api")
	}

	return h
}

// Routes registers every endpoint on router.
func (h *APIHandlers) Routes(router fiber.Router) {
	router.Get("/health", h.HealthCheck)
	router.Get("/connectors", h.GetConnectors)

	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/compile", h.CompileWorkflow)
	w.Get("/:id/code", h.GetWorkflowCode)
	w.Post("/:id/execute", h.ExecuteWorkflow)
	w.Post("/:id/execute/stream", h.StreamExecution)
	w.Get("/:id/executions", h.GetExecutions)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Stepflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Stepflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetConnectors(c fiber.Ctx) error {
	return c.JSON(ConnectorsResponse{
		StepTypes: h.registry.StepTypes(),
		Toolkits:  h.registry.Toolkits(),
		Actions:   h.registry.Catalog().Entries(),
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	definitions, err := h.workflowService.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   definitions,
		"total_count": len(definitions),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	definition, err := h.workflowService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.workflowService.Create(c.Context(), req.Definition())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.workflowService.Update(c.Context(), c.Params("id"), req.Definition())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.workflowService.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) CompileWorkflow(c fiber.Ctx) error {
	pipeline, err := h.workflowService.Compile(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(newCompileResponse(pipeline))
}

func (h *APIHandlers) GetWorkflowCode(c fiber.Ctx) error {
	code, err := h.workflowService.Code(c.Context(), c.Params("id"), time.Now())
	if err != nil {
		return handleServiceError(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/x-go; charset=utf-8")

	return c.SendString(code)
}

// ExecuteWorkflow runs a workflow and responds with its result. With
// ?async=true the request is queued on the event bus for a worker instead.
func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	req, err := h.parseExecuteRequest(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	if fiber.Query[bool](c, "async") {
		return h.enqueue(c, req)
	}

	result, err := h.executionService.Execute(c.Context(), req, workflow.WithSink(h.observer))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	records, err := h.executionService.History(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions":  records,
		"total_count": len(records),
	})
}

func (h *APIHandlers) parseExecuteRequest(c fiber.Ctx) (models.ExecutionRequest, error) {
	var body ExecuteRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&body); err != nil {
			return models.ExecutionRequest{}, errInvalidJSON
		}
	}

	if err := h.validator.Struct(body); err != nil {
		return models.ExecutionRequest{}, err
	}

	return body.executionRequest(c.Params("id")), nil
}

func (h *APIHandlers) enqueue(c fiber.Ctx, req models.ExecutionRequest) error {
	if h.eventBus == nil {
		return serviceUnavailable(c, "no event bus configured for queued executions")
	}

	// Reject what a worker would reject before queuing it.
	if _, err := h.executionService.Prepare(c.Context(), req); err != nil {
		return handleServiceError(c, err)
	}

	event := events.ExecutionRequested{
		BaseEvent: events.NewBaseEvent(events.ExecutionRequestedEvent, req.WorkflowID),
		Request:   req,
	}

	if err := h.eventBus.Publish(c.Context(), req.WorkflowID, event); err != nil {
		return internalError(c, err)
	}

	h.logger.InfoContext(c.Context(), "Execution queued", "workflow_id", req.WorkflowID, "request_id", event.ID)

	return c.Status(fiber.StatusAccepted).JSON(ExecutionAccepted{
		RequestID:  event.ID,
		WorkflowID: req.WorkflowID,
	})
}
