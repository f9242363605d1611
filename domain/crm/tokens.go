package crm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/giftwell/giftwell/domain/crm/adapter"
	"github.com/giftwell/giftwell/pkg/apperror"
	"github.com/giftwell/giftwell/pkg/encryption"
	"github.com/giftwell/giftwell/pkg/logger"
)

const (
	// refreshBuffer refreshes tokens this long before their recorded
	// expiry so an in-flight sync never races token death.
	refreshBuffer = 5 * time.Minute

	// defaultTokenLifetime is assumed when a provider hands out a
	// refreshable token without reporting its lifetime.
	defaultTokenLifetime = 2 * time.Hour
)

// tokenStore is the slice of the repository the token manager needs.
type tokenStore interface {
	GetByOrganization(ctx context.Context, orgID string) (*Integration, error)
	UpdateTokens(ctx context.Context, id, encAccess string, encRefresh *string, expiresAt *time.Time, instanceURL *string) error
	SetError(ctx context.Context, id, reason string) error
}

// TokenService owns token storage and refresh. All access tokens leave
// this package encrypted; callers only ever see plaintext through
// GetValidAccessToken.
type TokenService struct {
	store    tokenStore
	registry *adapter.Registry
	enc      *encryption.Service
	log      *slog.Logger

	// refreshMu single-flights refreshes per integration so two
	// concurrent callers cannot race to persist stale tokens.
	mu        sync.Mutex
	refreshMu map[string]*sync.Mutex
}

func NewTokenService(repo *Repository, registry *adapter.Registry, enc *encryption.Service, log *slog.Logger) *TokenService {
	return newTokenService(repo, registry, enc, log)
}

func newTokenService(store tokenStore, registry *adapter.Registry, enc *encryption.Service, log *slog.Logger) *TokenService {
	return &TokenService{
		store:     store,
		registry:  registry,
		enc:       enc,
		log:       log.With(logger.Scope("crm.tokens")),
		refreshMu: make(map[string]*sync.Mutex),
	}
}

// EncryptTokenSet converts a plaintext token set into the encrypted
// column values an Integration row stores.
func (s *TokenService) EncryptTokenSet(tokens *adapter.TokenSet) (encAccess string, encRefresh *string, expiresAt *time.Time, err error) {
	encAccess, err = s.enc.Encrypt(tokens.AccessToken)
	if err != nil {
		return "", nil, nil, fmt.Errorf("encrypt access token: %w", err)
	}
	if tokens.RefreshToken != "" {
		blob, err := s.enc.Encrypt(tokens.RefreshToken)
		if err != nil {
			return "", nil, nil, fmt.Errorf("encrypt refresh token: %w", err)
		}
		encRefresh = &blob
	}

	switch {
	case !tokens.ExpiresAt.IsZero():
		t := tokens.ExpiresAt
		expiresAt = &t
	case tokens.RefreshToken != "":
		// Refreshable token with no reported lifetime: assume a short
		// one and let the refresh path sort it out.
		t := time.Now().Add(defaultTokenLifetime)
		expiresAt = &t
	}
	// No expiry and no refresh token (Attio) means a long-lived token;
	// expiresAt stays nil and the refresh path never triggers.
	return encAccess, encRefresh, expiresAt, nil
}

// GetValidAccessToken returns credentials guaranteed fresh for at least
// the refresh buffer, transparently refreshing when needed. A refresh
// failure transitions the integration to ERROR and propagates: nothing
// downstream can work without a token.
func (s *TokenService) GetValidAccessToken(ctx context.Context, orgID string) (adapter.Credentials, error) {
	integration, err := s.store.GetByOrganization(ctx, orgID)
	if err != nil {
		return adapter.Credentials{}, err
	}
	if integration == nil {
		return adapter.Credentials{}, apperror.ErrNotConnected
	}
	if integration.Status != StatusConnected && integration.Status != StatusSyncing {
		return adapter.Credentials{}, apperror.ErrNotConnected
	}

	if s.needsRefresh(integration) {
		return s.refresh(ctx, integration)
	}
	return s.credentials(integration)
}

func (s *TokenService) needsRefresh(integration *Integration) bool {
	if integration.TokenExpiresAt == nil || integration.RefreshToken == nil {
		return false
	}
	return time.Until(*integration.TokenExpiresAt) <= refreshBuffer
}

func (s *TokenService) credentials(integration *Integration) (adapter.Credentials, error) {
	accessToken, err := s.enc.Decrypt(integration.AccessToken)
	if err != nil {
		return adapter.Credentials{}, fmt.Errorf("decrypt access token: %w", err)
	}
	creds := adapter.Credentials{AccessToken: accessToken}
	if integration.InstanceURL != nil {
		creds.InstanceURL = *integration.InstanceURL
	}
	return creds, nil
}

func (s *TokenService) lockFor(integrationID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.refreshMu[integrationID]
	if !ok {
		mu = &sync.Mutex{}
		s.refreshMu[integrationID] = mu
	}
	return mu
}

func (s *TokenService) refresh(ctx context.Context, integration *Integration) (adapter.Credentials, error) {
	mu := s.lockFor(integration.ID)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the lock: a concurrent caller may have refreshed
	// while this one waited.
	current, err := s.store.GetByOrganization(ctx, integration.OrganizationID)
	if err != nil {
		return adapter.Credentials{}, err
	}
	if current == nil {
		return adapter.Credentials{}, apperror.ErrNotConnected
	}
	if !s.needsRefresh(current) {
		return s.credentials(current)
	}

	prov, ok := s.registry.Get(current.Provider)
	if !ok {
		return adapter.Credentials{}, apperror.ErrConfiguration.WithMessage(fmt.Sprintf("provider %s is not configured", current.Provider))
	}

	refreshToken, err := s.enc.Decrypt(*current.RefreshToken)
	if err != nil {
		return adapter.Credentials{}, fmt.Errorf("decrypt refresh token: %w", err)
	}

	tokens, err := prov.RefreshToken(ctx, refreshToken)
	if err != nil {
		s.log.Error("token refresh failed",
			logger.Error(err),
			slog.String("organizationId", current.OrganizationID),
			slog.String("provider", string(current.Provider)))
		if storeErr := s.store.SetError(ctx, current.ID, fmt.Sprintf("token refresh failed: %v", err)); storeErr != nil {
			s.log.Error("failed to record refresh failure", logger.Error(storeErr))
		}
		return adapter.Credentials{}, apperror.ErrTokenRefresh.WithInternal(err)
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	if tokens.InstanceURL == "" && current.InstanceURL != nil {
		tokens.InstanceURL = *current.InstanceURL
	}

	encAccess, encRefresh, expiresAt, err := s.EncryptTokenSet(tokens)
	if err != nil {
		return adapter.Credentials{}, err
	}
	var instanceURL *string
	if tokens.InstanceURL != "" {
		instanceURL = &tokens.InstanceURL
	}
	if err := s.store.UpdateTokens(ctx, current.ID, encAccess, encRefresh, expiresAt, instanceURL); err != nil {
		return adapter.Credentials{}, err
	}

	s.log.Info("refreshed provider tokens",
		slog.String("organizationId", current.OrganizationID),
		slog.String("provider", string(current.Provider)))

	return adapter.Credentials{
		AccessToken: tokens.AccessToken,
		InstanceURL: tokens.InstanceURL,
	}, nil
}
