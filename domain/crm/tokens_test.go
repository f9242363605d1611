package crm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giftwell/giftwell/domain/crm/adapter"
	"github.com/giftwell/giftwell/pkg/apperror"
	"github.com/giftwell/giftwell/pkg/encryption"
)

func testEncryption(t *testing.T) *encryption.Service {
	t.Helper()
	enc, err := encryption.NewService("", false, slog.Default())
	require.NoError(t, err)
	return enc
}

func newTestTokenService(t *testing.T, store *fakeIntegrationStore, fake *fakeAdapter) (*TokenService, *encryption.Service) {
	t.Helper()
	registry := adapter.NewRegistry()
	registry.Register(fake)
	enc := testEncryption(t)
	return newTokenService(store, registry, enc, slog.Default()), enc
}

func encrypted(t *testing.T, enc *encryption.Service, plaintext string) string {
	t.Helper()
	blob, err := enc.Encrypt(plaintext)
	require.NoError(t, err)
	return blob
}

func TestGetValidAccessTokenFreshTokenNoRefresh(t *testing.T) {
	store := newFakeIntegrationStore(testIntegration())
	fake := newFakeAdapter()
	svc, enc := newTestTokenService(t, store, fake)

	expiry := time.Now().Add(time.Hour)
	refresh := encrypted(t, enc, "refresh-1")
	store.integration.AccessToken = encrypted(t, enc, "access-1")
	store.integration.RefreshToken = &refresh
	store.integration.TokenExpiresAt = &expiry

	creds, err := svc.GetValidAccessToken(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", creds.AccessToken)
	assert.Zero(t, fake.refreshCalls.Load())
}

func TestGetValidAccessTokenRefreshesNearExpiry(t *testing.T) {
	store := newFakeIntegrationStore(testIntegration())
	fake := newFakeAdapter()
	svc, enc := newTestTokenService(t, store, fake)

	// Expires inside the refresh buffer.
	expiry := time.Now().Add(time.Minute)
	refresh := encrypted(t, enc, "refresh-1")
	store.integration.AccessToken = encrypted(t, enc, "stale-access")
	store.integration.RefreshToken = &refresh
	store.integration.TokenExpiresAt = &expiry

	creds, err := svc.GetValidAccessToken(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", creds.AccessToken)
	assert.Equal(t, int32(1), fake.refreshCalls.Load())

	// New tokens were persisted encrypted, not in plaintext.
	assert.NotEqual(t, "refreshed-access", store.integration.AccessToken)
	plaintext, err := enc.Decrypt(store.integration.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", plaintext)
	assert.True(t, store.integration.TokenExpiresAt.After(time.Now().Add(30*time.Minute)))
}

func TestGetValidAccessTokenRefreshSingleFlight(t *testing.T) {
	store := newFakeIntegrationStore(testIntegration())
	fake := newFakeAdapter()
	svc, enc := newTestTokenService(t, store, fake)

	expiry := time.Now().Add(time.Minute)
	refresh := encrypted(t, enc, "refresh-1")
	store.integration.AccessToken = encrypted(t, enc, "stale-access")
	store.integration.RefreshToken = &refresh
	store.integration.TokenExpiresAt = &expiry

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			creds, err := svc.GetValidAccessToken(context.Background(), "org-1")
			assert.NoError(t, err)
			assert.Equal(t, "refreshed-access", creds.AccessToken)
		}()
	}
	wg.Wait()

	// The winner refreshes; everyone else re-reads the fresh row.
	assert.Equal(t, int32(1), fake.refreshCalls.Load())
}

func TestGetValidAccessTokenRefreshFailureSetsError(t *testing.T) {
	store := newFakeIntegrationStore(testIntegration())
	fake := newFakeAdapter()
	fake.refreshErr = errors.New("invalid_grant")
	svc, enc := newTestTokenService(t, store, fake)

	expiry := time.Now().Add(time.Minute)
	refresh := encrypted(t, enc, "refresh-1")
	store.integration.AccessToken = encrypted(t, enc, "stale-access")
	store.integration.RefreshToken = &refresh
	store.integration.TokenExpiresAt = &expiry

	_, err := svc.GetValidAccessToken(context.Background(), "org-1")
	require.ErrorIs(t, err, apperror.ErrTokenRefresh)

	assert.Equal(t, StatusError, store.integration.Status)
	require.NotNil(t, store.integration.LastSyncError)
	assert.Contains(t, *store.integration.LastSyncError, "invalid_grant")
}

func TestGetValidAccessTokenLongLivedTokenNeverRefreshes(t *testing.T) {
	integration := testIntegration()
	integration.Provider = adapter.ProviderAttio
	store := newFakeIntegrationStore(integration)
	fake := newFakeAdapter()
	fake.provider = adapter.ProviderAttio
	svc, enc := newTestTokenService(t, store, fake)

	// No expiry and no refresh token: the long-lived shape.
	store.integration.AccessToken = encrypted(t, enc, "long-lived-access")

	creds, err := svc.GetValidAccessToken(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, "long-lived-access", creds.AccessToken)
	assert.Zero(t, fake.refreshCalls.Load())
}

func TestGetValidAccessTokenNotConnected(t *testing.T) {
	t.Run("no integration", func(t *testing.T) {
		store := newFakeIntegrationStore(nil)
		svc, _ := newTestTokenService(t, store, newFakeAdapter())
		_, err := svc.GetValidAccessToken(context.Background(), "org-1")
		assert.ErrorIs(t, err, apperror.ErrNotConnected)
	})

	t.Run("disconnected", func(t *testing.T) {
		integration := testIntegration()
		integration.Status = StatusDisconnected
		store := newFakeIntegrationStore(integration)
		svc, _ := newTestTokenService(t, store, newFakeAdapter())
		_, err := svc.GetValidAccessToken(context.Background(), "org-1")
		assert.ErrorIs(t, err, apperror.ErrNotConnected)
	})
}

func TestEncryptTokenSetDefaults(t *testing.T) {
	svc, enc := newTestTokenService(t, newFakeIntegrationStore(nil), newFakeAdapter())

	t.Run("refreshable without expiry assumes a lifetime", func(t *testing.T) {
		encAccess, encRefresh, expiresAt, err := svc.EncryptTokenSet(&adapter.TokenSet{
			AccessToken:  "a",
			RefreshToken: "r",
		})
		require.NoError(t, err)
		require.NotNil(t, encRefresh)
		require.NotNil(t, expiresAt)
		assert.True(t, expiresAt.After(time.Now().Add(time.Hour)))

		plaintext, err := enc.Decrypt(encAccess)
		require.NoError(t, err)
		assert.Equal(t, "a", plaintext)
	})

	t.Run("no refresh token and no expiry stays open-ended", func(t *testing.T) {
		_, encRefresh, expiresAt, err := svc.EncryptTokenSet(&adapter.TokenSet{AccessToken: "a"})
		require.NoError(t, err)
		assert.Nil(t, encRefresh)
		assert.Nil(t, expiresAt)
	})

	t.Run("reported expiry wins", func(t *testing.T) {
		reported := time.Now().Add(45 * time.Minute)
		_, _, expiresAt, err := svc.EncryptTokenSet(&adapter.TokenSet{
			AccessToken:  "a",
			RefreshToken: "r",
			ExpiresAt:    reported,
		})
		require.NoError(t, err)
		require.NotNil(t, expiresAt)
		assert.Equal(t, reported, *expiresAt)
	})
}
