package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/chat-dispatch-service/internal/api/dto"
	"github.com/spec-kit/chat-dispatch-service/internal/auth"
	"github.com/spec-kit/chat-dispatch-service/internal/observability"
	"github.com/spec-kit/chat-dispatch-service/internal/service"
	apperrors "github.com/spec-kit/chat-dispatch-service/pkg/util"
)

// DispatchHandler exposes assignment and chat lifecycle endpoints.
type DispatchHandler struct {
	dispatch  *service.DispatchService
	lifecycle *service.ChatLifecycleService
	metrics   *observability.Metrics
}

// NewDispatchHandler constructs handler.
func NewDispatchHandler(dispatch *service.DispatchService, lifecycle *service.ChatLifecycleService, metrics *observability.Metrics) *DispatchHandler {
	return &DispatchHandler{dispatch: dispatch, lifecycle: lifecycle, metrics: metrics}
}

// Assign POST /dispatch/assign. Runs one distribution attempt for a waiting
// entry.
func (h *DispatchHandler) Assign(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.AssignRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.EntryID == "" {
		return apperrors.NewValidationError("entry_id required", nil)
	}
	result, err := h.dispatch.AssignAgentToChat(c.Context(), principal.TenantID, req.EntryID)
	if err != nil {
		return err
	}
	if h.metrics != nil {
		if result.Assigned {
			h.metrics.RecordAssignment()
		}
		if result.TimedOut {
			h.metrics.RecordTimeout()
		}
	}
	resp := dto.AssignmentResponse{
		Assigned: result.Assigned,
		TimedOut: result.TimedOut,
		Reason:   result.Reason,
	}
	if result.Entry != nil {
		entry := entryResponse(result.Entry)
		resp.Entry = &entry
	}
	if result.Chat != nil {
		chat := chatResponse(result.Chat)
		resp.Chat = &chat
	}
	return c.JSON(fiber.Map{"data": resp})
}

// GetChat GET /chats/:id.
func (h *DispatchHandler) GetChat(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	chat, err := h.lifecycle.GetChat(c.Context(), principal.TenantID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": chatResponse(chat)})
}

// ListMyChats GET /chats. Lists the caller's chats; ?active=true narrows to
// open ones.
func (h *DispatchHandler) ListMyChats(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	activeOnly := c.Query("active") == "true"
	chats, err := h.lifecycle.ListAgentChats(c.Context(), principal.TenantID, principal.UserID, activeOnly)
	if err != nil {
		return err
	}
	items := make([]dto.ChatResponse, 0, len(chats))
	for i := range chats {
		items = append(items, chatResponse(&chats[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// ConversationHistory GET /conversations/:id/history. Returns every queue
// entry and chat a conversation produced, for customer-history views.
func (h *DispatchHandler) ConversationHistory(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	history, err := h.lifecycle.GetConversationHistory(c.Context(), principal.TenantID, c.Params("id"))
	if err != nil {
		return err
	}
	resp := dto.ConversationHistoryResponse{
		Entries: make([]dto.QueueEntryResponse, 0, len(history.Entries)),
		Chats:   make([]dto.ChatResponse, 0, len(history.Chats)),
	}
	for i := range history.Entries {
		resp.Entries = append(resp.Entries, entryResponse(&history.Entries[i]))
	}
	for i := range history.Chats {
		resp.Chats = append(resp.Chats, chatResponse(&history.Chats[i]))
	}
	return c.JSON(fiber.Map{"data": resp})
}

// ListParticipants GET /chats/:id/participants.
func (h *DispatchHandler) ListParticipants(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	participants, err := h.lifecycle.ListParticipants(c.Context(), principal.TenantID, c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.ParticipantResponse, 0, len(participants))
	for i := range participants {
		items = append(items, participantResponse(&participants[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Transfer POST /chats/:id/transfer.
func (h *DispatchHandler) Transfer(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.TransferRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	result, err := h.lifecycle.TransferChat(c.Context(), principal.TenantID, service.TransferInput{
		ChatID:        c.Params("id"),
		ToAgentID:     req.ToAgentID,
		ToQueueID:     req.ToQueueID,
		Reason:        req.Reason,
		InitiatedByID: principal.UserID,
	})
	if err != nil {
		return err
	}
	if h.metrics != nil && result.Success {
		h.metrics.RecordTransfer()
	}
	resp := dto.TransferResponse{
		Success: result.Success,
		Message: result.Message,
	}
	if result.Chat != nil {
		chat := chatResponse(result.Chat)
		resp.Chat = &chat
	}
	if result.NewEntry != nil {
		entry := entryResponse(result.NewEntry)
		resp.NewEntry = &entry
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	return c.Status(status).JSON(fiber.Map{"data": resp})
}

// Close POST /chats/:id/close.
func (h *DispatchHandler) Close(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	chat, err := h.lifecycle.CloseChat(c.Context(), principal.TenantID, c.Params("id"), principal.UserID)
	if err != nil {
		return err
	}
	if h.metrics != nil {
		h.metrics.RecordClose()
	}
	return c.JSON(fiber.Map{"data": chatResponse(chat)})
}
