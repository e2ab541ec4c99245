package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/chat-dispatch-service/internal/auth"
	"github.com/spec-kit/chat-dispatch-service/internal/observability"
	"github.com/spec-kit/chat-dispatch-service/internal/service"
	apperrors "github.com/spec-kit/chat-dispatch-service/pkg/util"
)

// MonitoringHandler exposes SLA dashboards and dispatch counters.
type MonitoringHandler struct {
	sla     *service.SLAService
	metrics *observability.Metrics
}

// NewMonitoringHandler constructs handler.
func NewMonitoringHandler(sla *service.SLAService, metrics *observability.Metrics) *MonitoringHandler {
	return &MonitoringHandler{sla: sla, metrics: metrics}
}

// TenantSLA GET /monitoring/sla.
func (h *MonitoringHandler) TenantSLA(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	report, err := h.sla.TenantReport(c.Context(), principal.TenantID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": report})
}

// QueueSLA GET /monitoring/sla/:queueId.
func (h *MonitoringHandler) QueueSLA(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	report, err := h.sla.QueueReport(c.Context(), principal.TenantID, c.Params("queueId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": report})
}

// DispatchCounters GET /monitoring/dispatch.
func (h *MonitoringHandler) DispatchCounters(c *fiber.Ctx) error {
	if _, ok := auth.PrincipalFromContext(c); !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	return c.JSON(fiber.Map{"data": h.metrics.DispatchSnapshot()})
}
