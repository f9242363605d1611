package crm

import (
	"fmt"
	"log/slog"

	"go.uber.org/fx"

	"github.com/giftwell/giftwell/domain/crm/adapter"
	"github.com/giftwell/giftwell/domain/crm/providers/attio"
	"github.com/giftwell/giftwell/domain/crm/providers/hubspot"
	"github.com/giftwell/giftwell/domain/crm/providers/salesforce"
	"github.com/giftwell/giftwell/internal/config"
	"github.com/giftwell/giftwell/pkg/encryption"
	"github.com/giftwell/giftwell/pkg/logger"
)

// Module provides the CRM sync engine.
var Module = fx.Module("crm",
	fx.Provide(
		newEncryptionService,
		newStateService,
		newRegistry,
		NewRepository,
		NewTokenService,
		NewMetrics,
		NewOrchestrator,
		NewWebhookService,
		NewDemoService,
		NewService,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)

func newEncryptionService(cfg *config.Config, log *slog.Logger) (*encryption.Service, error) {
	return encryption.NewService(cfg.CRM.EncryptionKey, cfg.IsProduction(), log)
}

func newStateService(cfg *config.Config, log *slog.Logger) (*StateService, error) {
	secret := cfg.CRM.StateSecret
	if secret == "" {
		secret = cfg.CRM.EncryptionKey
	}
	if secret == "" {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("OAUTH_STATE_SECRET (or TOKEN_ENCRYPTION_KEY) must be set in production")
		}
		log.Warn("using built-in oauth state secret; set OAUTH_STATE_SECRET for real deployments",
			logger.Scope("crm"))
		secret = "giftwell-demo-state-secret"
	}
	return NewStateService(secret, log)
}

// newRegistry registers an adapter for every provider whose OAuth app
// is configured. The registry is the single dispatch point from
// provider enum to implementation.
func newRegistry(cfg *config.Config, log *slog.Logger) *adapter.Registry {
	registry := adapter.NewRegistry()
	timeout := cfg.CRM.HTTPTimeout

	if cfg.CRM.HubSpot.IsConfigured() {
		registry.Register(hubspot.New(cfg.CRM.HubSpot.ClientID, cfg.CRM.HubSpot.ClientSecret, timeout, log))
	}
	if cfg.CRM.Salesforce.IsConfigured() {
		registry.Register(salesforce.New(cfg.CRM.Salesforce.ClientID, cfg.CRM.Salesforce.ClientSecret, timeout, log))
	}
	if cfg.CRM.Attio.IsConfigured() {
		registry.Register(attio.New(cfg.CRM.Attio.ClientID, cfg.CRM.Attio.ClientSecret, timeout, log))
	}

	log.Info("crm provider registry initialized",
		logger.Scope("crm"),
		slog.Int("providers", len(registry.Providers())))
	return registry
}
