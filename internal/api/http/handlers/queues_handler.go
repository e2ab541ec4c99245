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

// QueuesHandler manages queue, membership and entry endpoints.
type QueuesHandler struct {
	queues   *service.QueueService
	dispatch *service.DispatchService
}

// NewQueuesHandler constructs handler.
func NewQueuesHandler(queues *service.QueueService, dispatch *service.DispatchService) *QueuesHandler {
	return &QueuesHandler{queues: queues, dispatch: dispatch}
}

// CreateQueue POST /queues.
func (h *QueuesHandler) CreateQueue(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.CreateQueueRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	queue, err := h.queues.CreateQueue(c.Context(), principal.TenantID, service.QueueCreateInput{
		Name:               req.Name,
		Description:        req.Description,
		Strategy:           req.Strategy,
		MaxConcurrentChats: req.MaxConcurrentChats,
		MaxWaitTimeSeconds: req.MaxWaitTimeSeconds,
		Skills:             req.Skills,
		AutoAssign:         req.AutoAssign,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": queueResponse(queue)})
}

// ListQueues GET /queues.
func (h *QueuesHandler) ListQueues(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	queues, err := h.queues.ListQueues(c.Context(), principal.TenantID)
	if err != nil {
		return err
	}
	items := make([]dto.QueueResponse, 0, len(queues))
	for i := range queues {
		items = append(items, queueResponse(&queues[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetQueue GET /queues/:id.
func (h *QueuesHandler) GetQueue(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	queue, err := h.queues.GetQueue(c.Context(), principal.TenantID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": queueResponse(queue)})
}

// UpdateQueue PATCH /queues/:id.
func (h *QueuesHandler) UpdateQueue(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.UpdateQueueRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	queue, err := h.queues.UpdateQueue(c.Context(), principal.TenantID, c.Params("id"), service.QueueUpdateInput{
		Name:               req.Name,
		Description:        req.Description,
		Strategy:           req.Strategy,
		MaxConcurrentChats: req.MaxConcurrentChats,
		MaxWaitTimeSeconds: req.MaxWaitTimeSeconds,
		Skills:             req.Skills,
		AutoAssign:         req.AutoAssign,
		IsActive:           req.IsActive,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": queueResponse(queue)})
}

// DeleteQueue DELETE /queues/:id.
func (h *QueuesHandler) DeleteQueue(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	if err := h.queues.DeleteQueue(c.Context(), principal.TenantID, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// AddMember POST /queues/:id/members.
func (h *QueuesHandler) AddMember(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.MemberRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.UserID == "" {
		return apperrors.NewValidationError("user_id required", nil)
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	member, err := h.queues.AddMember(c.Context(), principal.TenantID, c.Params("id"), service.MemberInput{
		UserID:   req.UserID,
		Skills:   req.Skills,
		Priority: req.Priority,
		IsActive: active,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": memberResponse(member)})
}

// UpdateMember PATCH /queues/:id/members/:userId.
func (h *QueuesHandler) UpdateMember(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.MemberRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	member, err := h.queues.UpdateMember(c.Context(), principal.TenantID, c.Params("id"), service.MemberInput{
		UserID:   c.Params("userId"),
		Skills:   req.Skills,
		Priority: req.Priority,
		IsActive: active,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": memberResponse(member)})
}

// RemoveMember DELETE /queues/:id/members/:userId.
func (h *QueuesHandler) RemoveMember(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	if err := h.queues.RemoveMember(c.Context(), principal.TenantID, c.Params("id"), c.Params("userId")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// ListMembers GET /queues/:id/members.
func (h *QueuesHandler) ListMembers(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	members, err := h.queues.ListMembers(c.Context(), principal.TenantID, c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.MemberResponse, 0, len(members))
	for i := range members {
		items = append(items, memberResponse(&members[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// ListEntries GET /queues/:id/entries.
func (h *QueuesHandler) ListEntries(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var status *domain.QueueEntryStatus
	if raw := c.Query("status"); raw != "" {
		st := domain.QueueEntryStatus(raw)
		status = &st
	}
	entries, err := h.queues.ListEntries(c.Context(), principal.TenantID, c.Params("id"), status)
	if err != nil {
		return err
	}
	items := make([]dto.QueueEntryResponse, 0, len(entries))
	for i := range entries {
		items = append(items, entryResponse(&entries[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Enqueue POST /queues/:id/entries.
func (h *QueuesHandler) Enqueue(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.EnqueueRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.ConversationID == "" {
		return apperrors.NewValidationError("conversation_id required", nil)
	}
	entry, err := h.dispatch.AddToQueue(c.Context(), principal.TenantID, service.EnqueueInput{
		QueueID:        c.Params("id"),
		ConversationID: req.ConversationID,
		CustomerID:     req.CustomerID,
		CustomerName:   req.CustomerName,
		Priority:       req.Priority,
		Metadata:       req.Metadata,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": entryResponse(entry)})
}
