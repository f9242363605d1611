package crm

import (
	"github.com/labstack/echo/v4"

	"github.com/giftwell/giftwell/pkg/auth"
)

// RegisterRoutes wires the CRM integration routes. The OAuth callback
// and webhook receiver are public by necessity: the provider, not a
// logged-in browser, calls them.
func RegisterRoutes(e *echo.Echo, h *Handler, orgMiddleware *auth.Middleware) {
	api := e.Group("/api/crm")
	api.Use(orgMiddleware.RequireOrganization())

	api.GET("/integration", h.GetStatus)
	api.DELETE("/integration", h.Disconnect)
	api.POST("/integrations/:provider/connect", h.Connect)
	api.POST("/integrations/sync", h.TriggerSync)
	api.POST("/integrations/sync/incremental", h.TriggerIncrementalSync)
	api.POST("/integrations/push", h.Push)
	api.GET("/integrations/sync-logs", h.ListSyncLogs)

	e.GET("/integrations/:provider/callback", h.Callback)
	e.POST("/webhooks/:provider/:organizationId", h.Webhook)
}
