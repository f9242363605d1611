package crm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/giftwell/giftwell/domain/crm/adapter"
	"github.com/giftwell/giftwell/domain/pipeline"
	"github.com/giftwell/giftwell/internal/config"
	"github.com/giftwell/giftwell/pkg/apperror"
	"github.com/giftwell/giftwell/pkg/encryption"
	"github.com/giftwell/giftwell/pkg/logger"
)

// lifecycleStore is the integration-lifecycle surface of the
// repository.
type lifecycleStore interface {
	GetByOrganization(ctx context.Context, orgID string) (*Integration, error)
	Create(ctx context.Context, integration *Integration) error
	Update(ctx context.Context, integration *Integration) error
	Delete(ctx context.Context, id string) error
	ListSyncLogs(ctx context.Context, integrationID string, limit int) ([]SyncLog, error)
}

// externalRefStore detaches synced records from their provider
// counterparts on disconnect.
type externalRefStore interface {
	ClearExternalRefs(ctx context.Context, orgID, externalSource string) error
}

// Service owns the integration lifecycle: connect, OAuth callback,
// status and disconnect.
type Service struct {
	repo     lifecycleStore
	pipeline externalRefStore
	tokens   *TokenService
	state    *StateService
	registry *adapter.Registry
	enc      *encryption.Service
	cfg      *config.Config
	log      *slog.Logger
}

func NewService(repo *Repository, pipelineRepo *pipeline.Repository, tokens *TokenService, state *StateService, registry *adapter.Registry, enc *encryption.Service, cfg *config.Config, log *slog.Logger) *Service {
	return newService(repo, pipelineRepo, tokens, state, registry, enc, cfg, log)
}

func newService(repo lifecycleStore, pipelineRepo externalRefStore, tokens *TokenService, state *StateService, registry *adapter.Registry, enc *encryption.Service, cfg *config.Config, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		pipeline: pipelineRepo,
		tokens:   tokens,
		state:    state,
		registry: registry,
		enc:      enc,
		cfg:      cfg,
		log:      log.With(logger.Scope("crm.service")),
	}
}

func (s *Service) redirectURI(provider adapter.Provider) string {
	return fmt.Sprintf("%s/integrations/%s/callback", s.cfg.AppBaseURL, provider)
}

func (s *Service) webhookCallbackURL(provider adapter.Provider, orgID string) string {
	return fmt.Sprintf("%s/webhooks/%s/%s", s.cfg.AppBaseURL, provider, orgID)
}

// StartConnect begins the authorization-code flow, returning the
// provider URL to redirect the user to.
func (s *Service) StartConnect(ctx context.Context, orgID string, provider adapter.Provider) (string, error) {
	if !provider.Valid() {
		return "", apperror.ErrBadRequest.WithMessage(fmt.Sprintf("unknown provider %q", provider))
	}
	if creds := s.cfg.CRM.Credentials(string(provider)); !creds.IsConfigured() {
		return "", apperror.ErrConfiguration.WithMessage(fmt.Sprintf("%s credentials are not configured on this server", provider))
	}

	prov, ok := s.registry.Get(provider)
	if !ok {
		return "", apperror.ErrConfiguration
	}

	existing, err := s.repo.GetByOrganization(ctx, orgID)
	if err != nil {
		return "", err
	}
	if existing != nil && existing.Status != StatusDisconnected {
		return "", apperror.ErrConflict.WithMessage("an integration is already connected for this organization")
	}

	state, err := s.state.Generate(orgID, provider)
	if err != nil {
		return "", err
	}
	return prov.AuthURL(state, s.redirectURI(provider)), nil
}

// HandleCallback completes the flow: verify state, exchange the code,
// store encrypted tokens, then register the provider webhook
// best-effort. It returns the connected integration.
func (s *Service) HandleCallback(ctx context.Context, code, state string) (*Integration, error) {
	claims, err := s.state.Verify(state)
	if err != nil {
		return nil, apperror.ErrAuthFlow.WithInternal(err)
	}

	prov, ok := s.registry.Get(claims.Provider)
	if !ok {
		return nil, apperror.ErrConfiguration
	}

	tokens, err := prov.ExchangeCode(ctx, code, s.redirectURI(claims.Provider))
	if err != nil {
		return nil, apperror.ErrAuthFlow.WithInternal(err)
	}

	integration, err := s.storeIntegrationTokens(ctx, claims.OrganizationID, claims.Provider, tokens)
	if err != nil {
		return nil, err
	}

	s.registerWebhook(ctx, integration, tokens)

	s.log.Info("integration connected",
		slog.String("organizationId", claims.OrganizationID),
		slog.String("provider", string(claims.Provider)))
	return integration, nil
}

// storeIntegrationTokens creates the organization's integration row, or
// revives a previous one, with encrypted tokens and CONNECTED status.
func (s *Service) storeIntegrationTokens(ctx context.Context, orgID string, provider adapter.Provider, tokens *adapter.TokenSet) (*Integration, error) {
	encAccess, encRefresh, expiresAt, err := s.tokens.EncryptTokenSet(tokens)
	if err != nil {
		return nil, err
	}

	var instanceURL *string
	if tokens.InstanceURL != "" {
		instanceURL = &tokens.InstanceURL
	}

	integration, err := s.repo.GetByOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if integration == nil {
		integration = &Integration{
			OrganizationID: orgID,
			Provider:       provider,
			AccessToken:    encAccess,
			RefreshToken:   encRefresh,
			TokenExpiresAt: expiresAt,
			InstanceURL:    instanceURL,
			Status:         StatusConnected,
		}
		if err := s.repo.Create(ctx, integration); err != nil {
			return nil, err
		}
		return integration, nil
	}

	integration.Provider = provider
	integration.AccessToken = encAccess
	integration.RefreshToken = encRefresh
	integration.TokenExpiresAt = expiresAt
	integration.InstanceURL = instanceURL
	integration.Status = StatusConnected
	integration.LastSyncError = nil
	if err := s.repo.Update(ctx, integration); err != nil {
		return nil, err
	}
	return integration, nil
}

// registerWebhook is best-effort: webhook availability is optional and
// a registration failure must not fail the connect.
func (s *Service) registerWebhook(ctx context.Context, integration *Integration, tokens *adapter.TokenSet) {
	prov, ok := s.registry.Get(integration.Provider)
	if !ok {
		return
	}

	secret := uuid.NewString()
	creds := adapter.Credentials{AccessToken: tokens.AccessToken, InstanceURL: tokens.InstanceURL}

	webhookID, err := prov.RegisterWebhook(ctx, creds, s.webhookCallbackURL(integration.Provider, integration.OrganizationID), secret)
	if err != nil {
		s.log.Warn("webhook registration failed", logger.Error(err),
			slog.String("provider", string(integration.Provider)))
		return
	}

	encSecret, err := s.enc.Encrypt(secret)
	if err != nil {
		s.log.Warn("failed to encrypt webhook secret", logger.Error(err))
		return
	}

	integration.WebhookID = &webhookID
	integration.WebhookSecret = &encSecret
	if err := s.repo.Update(ctx, integration); err != nil {
		s.log.Warn("failed to store webhook registration", logger.Error(err))
	}
}

// Status returns the organization's integration, or nil when none.
func (s *Service) Status(ctx context.Context, orgID string) (*Integration, error) {
	return s.repo.GetByOrganization(ctx, orgID)
}

// SyncLogs returns recent sync history.
func (s *Service) SyncLogs(ctx context.Context, orgID string, limit int) ([]SyncLog, error) {
	integration, err := s.repo.GetByOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if integration == nil {
		return nil, apperror.ErrNotConnected
	}
	return s.repo.ListSyncLogs(ctx, integration.ID, limit)
}

// Disconnect deletes the integration and clears external references on
// synced records. Remote webhook deletion is attempted first and its
// failure swallowed: local disconnection is never blocked by a remote
// side-effect.
func (s *Service) Disconnect(ctx context.Context, orgID string) error {
	integration, err := s.repo.GetByOrganization(ctx, orgID)
	if err != nil {
		return err
	}
	if integration == nil {
		return apperror.ErrNotConnected
	}

	if integration.WebhookID != nil && *integration.WebhookID != adapter.ManualWebhookID {
		s.deleteRemoteWebhook(ctx, integration)
	}

	if err := s.repo.Delete(ctx, integration.ID); err != nil {
		return err
	}
	if err := s.pipeline.ClearExternalRefs(ctx, orgID, string(integration.Provider)); err != nil {
		return err
	}

	s.log.Info("integration disconnected",
		slog.String("organizationId", orgID),
		slog.String("provider", string(integration.Provider)))
	return nil
}

func (s *Service) deleteRemoteWebhook(ctx context.Context, integration *Integration) {
	prov, ok := s.registry.Get(integration.Provider)
	if !ok {
		return
	}
	accessToken, err := s.enc.Decrypt(integration.AccessToken)
	if err != nil {
		s.log.Warn("could not decrypt token for webhook cleanup", logger.Error(err))
		return
	}
	creds := adapter.Credentials{AccessToken: accessToken}
	if integration.InstanceURL != nil {
		creds.InstanceURL = *integration.InstanceURL
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := prov.DeleteWebhook(ctx, creds, *integration.WebhookID); err != nil {
		s.log.Warn("remote webhook deletion failed", logger.Error(err),
			slog.String("provider", string(integration.Provider)))
	}
}
