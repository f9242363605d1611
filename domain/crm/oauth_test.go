package crm

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giftwell/giftwell/domain/crm/adapter"
)

func newTestStateService(t *testing.T) *StateService {
	t.Helper()
	svc, err := NewStateService("test-state-secret", slog.Default())
	require.NoError(t, err)
	return svc
}

func TestStateRoundTrip(t *testing.T) {
	svc := newTestStateService(t)

	state, err := svc.Generate("org-1", adapter.ProviderHubSpot)
	require.NoError(t, err)
	require.NotEmpty(t, state)

	claims, err := svc.Verify(state)
	require.NoError(t, err)
	assert.Equal(t, "org-1", claims.OrganizationID)
	assert.Equal(t, adapter.ProviderHubSpot, claims.Provider)
	assert.NotEmpty(t, claims.Nonce)
}

func TestStateNoncesDiffer(t *testing.T) {
	svc := newTestStateService(t)

	a, err := svc.Generate("org-1", adapter.ProviderAttio)
	require.NoError(t, err)
	b, err := svc.Generate("org-1", adapter.ProviderAttio)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestStateExpired(t *testing.T) {
	svc := newTestStateService(t)

	// Sign an already-expired token with the service's own secret.
	now := time.Now()
	claims := StateClaims{
		OrganizationID: "org-1",
		Provider:       adapter.ProviderHubSpot,
		Nonce:          "n",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-30 * time.Minute)),
		},
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-state-secret"))
	require.NoError(t, err)

	_, err = svc.Verify(expired)
	assert.ErrorIs(t, err, ErrStateExpired)
}

func TestStateWrongSecret(t *testing.T) {
	svc := newTestStateService(t)

	other, err := NewStateService("a-different-secret", slog.Default())
	require.NoError(t, err)
	forged, err := other.Generate("org-1", adapter.ProviderHubSpot)
	require.NoError(t, err)

	_, err = svc.Verify(forged)
	assert.ErrorIs(t, err, ErrStateSignature)
}

func TestStateTamperedPayload(t *testing.T) {
	svc := newTestStateService(t)

	state, err := svc.Generate("org-1", adapter.ProviderHubSpot)
	require.NoError(t, err)

	parts := strings.Split(state, ".")
	require.Len(t, parts, 3)
	// Swap in a different payload while keeping the original signature.
	other, err := svc.Generate("org-2", adapter.ProviderSalesforce)
	require.NoError(t, err)
	tampered := parts[0] + "." + strings.Split(other, ".")[1] + "." + parts[2]

	_, err = svc.Verify(tampered)
	assert.ErrorIs(t, err, ErrStateSignature)
}

func TestStateMalformed(t *testing.T) {
	svc := newTestStateService(t)

	for _, state := range []string{"", "garbage", "a.b", "a.b.c.d", "not.a.jwt"} {
		_, err := svc.Verify(state)
		assert.ErrorIs(t, err, ErrStateMalformed, "state %q", state)
	}
}

func TestStateRequiresSecret(t *testing.T) {
	_, err := NewStateService("", slog.Default())
	assert.Error(t, err)
}
