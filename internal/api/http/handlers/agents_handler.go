package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/chat-dispatch-service/internal/api/dto"
	"github.com/spec-kit/chat-dispatch-service/internal/auth"
	"github.com/spec-kit/chat-dispatch-service/internal/domain"
	"github.com/spec-kit/chat-dispatch-service/internal/service"
	apperrors "github.com/spec-kit/chat-dispatch-service/pkg/util"
)

// AgentsHandler manages agent status endpoints.
type AgentsHandler struct {
	queues *service.QueueService
}

// NewAgentsHandler constructs handler.
func NewAgentsHandler(queues *service.QueueService) *AgentsHandler {
	return &AgentsHandler{queues: queues}
}

// Register POST /agents/status. Creates or refreshes the caller's status
// record with its declared capacity.
func (h *AgentsHandler) Register(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.RegisterAgentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	status, err := h.queues.RegisterAgent(c.Context(), principal.TenantID, principal.UserID, req.MaxConcurrentChats)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": agentResponse(status)})
}

// ReportAvailability PUT /agents/status. Self-reports away/offline/available.
func (h *AgentsHandler) ReportAvailability(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.AvailabilityRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	status, err := h.queues.ReportAvailability(c.Context(), principal.TenantID, principal.UserID, req.Status)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": agentResponse(status)})
}

// ListAgents GET /agents.
func (h *AgentsHandler) ListAgents(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var status *domain.AgentAvailability
	if raw := c.Query("status"); raw != "" {
		st := domain.AgentAvailability(raw)
		status = &st
	}
	agents, err := h.queues.ListAgents(c.Context(), principal.TenantID, status)
	if err != nil {
		return err
	}
	items := make([]dto.AgentStatusResponse, 0, len(agents))
	for i := range agents {
		items = append(items, agentResponse(&agents[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}
