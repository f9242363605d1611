package crm

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/giftwell/giftwell/domain/crm/adapter"
	"github.com/giftwell/giftwell/internal/config"
	"github.com/giftwell/giftwell/pkg/apperror"
	"github.com/giftwell/giftwell/pkg/auth"
	"github.com/giftwell/giftwell/pkg/logger"
)

// signatureHeaders names the request header each provider signs its
// deliveries with.
var signatureHeaders = map[adapter.Provider]string{
	adapter.ProviderHubSpot:    "X-HubSpot-Signature",
	adapter.ProviderSalesforce: "X-Salesforce-Signature",
	adapter.ProviderAttio:      "X-Attio-Signature",
}

// Handler exposes the CRM integration HTTP surface.
type Handler struct {
	service      *Service
	orchestrator *Orchestrator
	webhooks     *WebhookService
	demo         *DemoService
	cfg          *config.Config
	log          *slog.Logger
}

func NewHandler(service *Service, orchestrator *Orchestrator, webhooks *WebhookService, demo *DemoService, cfg *config.Config, log *slog.Logger) *Handler {
	return &Handler{
		service:      service,
		orchestrator: orchestrator,
		webhooks:     webhooks,
		demo:         demo,
		cfg:          cfg,
		log:          log.With(logger.Scope("crm.handler")),
	}
}

// GetStatus handles GET /api/crm/integration
func (h *Handler) GetStatus(c echo.Context) error {
	orgID := auth.GetOrganizationID(c)
	integration, err := h.service.Status(c.Request().Context(), orgID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, statusDTO(integration))
}

// Connect handles POST /api/crm/integrations/:provider/connect. In demo
// mode the integration is created and seeded immediately; otherwise the
// response carries the provider authorization URL.
func (h *Handler) Connect(c echo.Context) error {
	orgID := auth.GetOrganizationID(c)
	provider := adapter.Provider(c.Param("provider"))

	if h.cfg.CRM.DemoMode {
		integration, err := h.demo.CreateDemoIntegration(c.Request().Context(), orgID, provider)
		if err != nil {
			return err
		}
		dto := statusDTO(integration)
		return c.JSON(http.StatusOK, ConnectResponseDTO{Demo: true, Integration: &dto})
	}

	url, err := h.service.StartConnect(c.Request().Context(), orgID, provider)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ConnectResponseDTO{URL: url})
}

// Callback handles GET /integrations/:provider/callback. The
// organization is carried inside the signed state, not the session, so
// this route is public. The browser lands back in the settings UI
// either way.
func (h *Handler) Callback(c echo.Context) error {
	code := c.QueryParam("code")
	state := c.QueryParam("state")
	settingsURL := h.cfg.AppBaseURL + "/settings/integrations"

	if code == "" || state == "" {
		return c.Redirect(http.StatusFound, settingsURL+"?error=missing_parameters")
	}

	integration, err := h.service.HandleCallback(c.Request().Context(), code, state)
	if err != nil {
		h.log.Warn("oauth callback failed", logger.Error(err))
		return c.Redirect(http.StatusFound, settingsURL+"?error=connection_failed")
	}
	return c.Redirect(http.StatusFound, fmt.Sprintf("%s?connected=%s", settingsURL, integration.Provider))
}

// TriggerSync handles POST /api/crm/integrations/sync. The run is
// synchronous; the server's write timeout is generous enough for a full
// drain, and callers get real counts back.
func (h *Handler) TriggerSync(c echo.Context) error {
	orgID := auth.GetOrganizationID(c)

	if h.cfg.CRM.DemoMode {
		result, err := h.demo.SimulateDemoSync(c.Request().Context(), orgID)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, result)
	}

	result, err := h.orchestrator.FullSync(c.Request().Context(), orgID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// TriggerIncrementalSync handles POST /api/crm/integrations/sync/incremental
func (h *Handler) TriggerIncrementalSync(c echo.Context) error {
	orgID := auth.GetOrganizationID(c)

	if h.cfg.CRM.DemoMode {
		result, err := h.demo.SimulateDemoSync(c.Request().Context(), orgID)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, result)
	}

	result, err := h.orchestrator.IncrementalSync(c.Request().Context(), orgID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// Push handles POST /api/crm/integrations/push
func (h *Handler) Push(c echo.Context) error {
	orgID := auth.GetOrganizationID(c)

	var req PushRequestDTO
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithInternal(err)
	}
	if !req.EntityType.Valid() {
		return apperror.ErrBadRequest.WithMessage(fmt.Sprintf("unknown entity type %q", req.EntityType))
	}
	if req.ExternalID == "" {
		return apperror.ErrBadRequest.WithMessage("externalId is required")
	}
	if len(req.Fields) == 0 {
		return apperror.ErrBadRequest.WithMessage("fields must not be empty")
	}

	rec, err := h.orchestrator.PushToCRM(c.Request().Context(), orgID, req.EntityType, req.ExternalID, req.Fields)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

// ListSyncLogs handles GET /api/crm/integrations/sync-logs
func (h *Handler) ListSyncLogs(c echo.Context) error {
	orgID := auth.GetOrganizationID(c)
	logs, err := h.service.SyncLogs(c.Request().Context(), orgID, 20)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, logs)
}

// Disconnect handles DELETE /api/crm/integration
func (h *Handler) Disconnect(c echo.Context) error {
	orgID := auth.GetOrganizationID(c)
	if err := h.service.Disconnect(c.Request().Context(), orgID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Webhook handles POST /webhooks/:provider/:organizationId. The raw
// body is verified before any parsing; a bad signature is a 401.
func (h *Handler) Webhook(c echo.Context) error {
	provider := adapter.Provider(c.Param("provider"))
	orgID := c.Param("organizationId")
	if !provider.Valid() || orgID == "" {
		return apperror.ErrBadRequest
	}

	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return apperror.ErrBadRequest.WithInternal(err)
	}

	signature := c.Request().Header.Get(signatureHeaders[provider])
	if signature == "" {
		signature = c.Request().Header.Get("X-Webhook-Signature")
	}

	refreshed, err := h.webhooks.Ingest(c.Request().Context(), orgID, provider, payload, signature)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, WebhookResponseDTO{Received: 1, Refreshed: refreshed})
}
