package crm

import (
	"context"
	"log/slog"

	"github.com/giftwell/giftwell/domain/crm/adapter"
	"github.com/giftwell/giftwell/pkg/apperror"
	"github.com/giftwell/giftwell/pkg/encryption"
	"github.com/giftwell/giftwell/pkg/logger"
)

// WebhookService ingests provider change notifications: verify the
// signature over the raw body first, only then parse, then refresh each
// referenced record. A bad signature rejects the request before any
// byte of the payload is interpreted.
type WebhookService struct {
	integrations integrationStore
	orchestrator *Orchestrator
	registry     *adapter.Registry
	enc          *encryption.Service
	metrics      *Metrics
	log          *slog.Logger
}

func NewWebhookService(repo *Repository, orchestrator *Orchestrator, registry *adapter.Registry, enc *encryption.Service, metrics *Metrics, log *slog.Logger) *WebhookService {
	return &WebhookService{
		integrations: repo,
		orchestrator: orchestrator,
		registry:     registry,
		enc:          enc,
		metrics:      metrics,
		log:          log.With(logger.Scope("crm.webhook")),
	}
}

// Ingest processes one webhook delivery for an organization. The number
// of refreshed records is returned for the handler's response body.
func (s *WebhookService) Ingest(ctx context.Context, orgID string, provider adapter.Provider, payload []byte, signature string) (int, error) {
	integration, err := s.integrations.GetByOrganization(ctx, orgID)
	if err != nil {
		return 0, err
	}
	if integration == nil || integration.Provider != provider || integration.Status == StatusDisconnected {
		return 0, apperror.ErrNotConnected
	}

	prov, ok := s.registry.Get(provider)
	if !ok {
		return 0, apperror.ErrConfiguration
	}

	secret := ""
	if integration.WebhookSecret != nil {
		secret, err = s.enc.Decrypt(*integration.WebhookSecret)
		if err != nil {
			return 0, err
		}
	}

	if !prov.VerifyWebhookSignature(payload, signature, secret) {
		s.metrics.RecordWebhook(provider, "rejected")
		s.log.Warn("webhook signature verification failed",
			slog.String("organizationId", orgID),
			slog.String("provider", string(provider)))
		return 0, apperror.ErrBadSignature
	}

	events, err := prov.ParseWebhookPayload(payload)
	if err != nil {
		s.metrics.RecordWebhook(provider, "unparseable")
		return 0, apperror.ErrBadRequest.WithInternal(err)
	}

	refreshed := 0
	for _, event := range events {
		if event.Action == adapter.ActionDelete {
			// Deletions are left to the next full sync; the local record
			// keeps its last known state.
			continue
		}
		if err := s.orchestrator.RefreshRecord(ctx, orgID, event.EntityType, event.ExternalID); err != nil {
			s.log.Warn("webhook-triggered refresh failed",
				logger.Error(err),
				slog.String("entityType", string(event.EntityType)),
				slog.String("externalId", event.ExternalID))
			continue
		}
		refreshed++
	}

	s.metrics.RecordWebhook(provider, "processed")
	return refreshed, nil
}
