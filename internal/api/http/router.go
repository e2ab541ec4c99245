package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/chat-dispatch-service/internal/api/http/handlers"
	"github.com/spec-kit/chat-dispatch-service/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Queues         *handlers.QueuesHandler
	Agents         *handlers.AgentsHandler
	Dispatch       *handlers.DispatchHandler
	Monitoring     *handlers.MonitoringHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	api := app.Group("/api/v1", cfg.AuthMiddleware.Handle)

	manage := api.Group("", auth.RequireRole(auth.RoleSupervisor, auth.RoleAdmin))
	manage.Post("/queues", cfg.Queues.CreateQueue)
	manage.Patch("/queues/:id", cfg.Queues.UpdateQueue)
	manage.Delete("/queues/:id", cfg.Queues.DeleteQueue)
	manage.Post("/queues/:id/members", cfg.Queues.AddMember)
	manage.Patch("/queues/:id/members/:userId", cfg.Queues.UpdateMember)
	manage.Delete("/queues/:id/members/:userId", cfg.Queues.RemoveMember)

	api.Get("/queues", cfg.Queues.ListQueues)
	api.Get("/queues/:id", cfg.Queues.GetQueue)
	api.Get("/queues/:id/members", cfg.Queues.ListMembers)
	api.Get("/queues/:id/entries", cfg.Queues.ListEntries)
	api.Post("/queues/:id/entries", cfg.Queues.Enqueue)

	api.Post("/agents/status", cfg.Agents.Register)
	api.Put("/agents/status", cfg.Agents.ReportAvailability)
	api.Get("/agents", cfg.Agents.ListAgents)

	api.Post("/dispatch/assign", cfg.Dispatch.Assign)
	api.Get("/chats", cfg.Dispatch.ListMyChats)
	api.Get("/chats/:id", cfg.Dispatch.GetChat)
	api.Get("/chats/:id/participants", cfg.Dispatch.ListParticipants)
	api.Get("/conversations/:id/history", cfg.Dispatch.ConversationHistory)
	api.Post("/chats/:id/transfer", cfg.Dispatch.Transfer)
	api.Post("/chats/:id/close", cfg.Dispatch.Close)

	monitoring := api.Group("/monitoring", auth.RequireRole(auth.RoleSupervisor, auth.RoleAdmin))
	monitoring.Get("/sla", cfg.Monitoring.TenantSLA)
	monitoring.Get("/sla/:queueId", cfg.Monitoring.QueueSLA)
	monitoring.Get("/dispatch", cfg.Monitoring.DispatchCounters)
}
