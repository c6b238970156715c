package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/orkdesk/ticket-resolver/internal/api/http/handlers"
	"github.com/orkdesk/ticket-resolver/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Tickets        *handlers.TicketsHandler
	AuthMiddleware *auth.Middleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	app.Post("/auth/token", cfg.Auth.Token)

	protected := app.Group("/tickets", cfg.AuthMiddleware.Handle)
	protected.Post("", cfg.Tickets.CreateTicket)
	protected.Get("/:id", cfg.Tickets.GetTicket)
	protected.Post("/:id/messages", cfg.Tickets.AddMessage)
}
