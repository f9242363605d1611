package crm

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/giftwell/giftwell/domain/crm/adapter"
	"github.com/giftwell/giftwell/pkg/logger"
)

// stateTTL is the validity window of an OAuth state token. A callback
// arriving later than this is rejected as expired.
const stateTTL = 10 * time.Minute

// State verification failures are distinguished for diagnostics: a
// malformed token is a client bug, a bad signature is tampering, an
// expired token is a user who walked away mid-flow.
var (
	ErrStateMalformed = errors.New("oauth state token is malformed")
	ErrStateSignature = errors.New("oauth state token signature is invalid")
	ErrStateExpired   = errors.New("oauth state token has expired")
)

// StateClaims is the payload carried through the authorization-code
// round trip, correlating the callback to the organization and provider
// that initiated it without server-side session storage.
type StateClaims struct {
	OrganizationID string           `json:"org"`
	Provider       adapter.Provider `json:"provider"`
	Nonce          string           `json:"nonce"`
	jwt.RegisteredClaims
}

// StateService signs and verifies OAuth state tokens with an HMAC
// server secret.
type StateService struct {
	secret []byte
	log    *slog.Logger
}

func NewStateService(secret string, log *slog.Logger) (*StateService, error) {
	if secret == "" {
		return nil, fmt.Errorf("oauth state secret is not configured")
	}
	return &StateService{
		secret: []byte(secret),
		log:    log.With(logger.Scope("crm.oauth")),
	}, nil
}

// Generate produces a signed state token for the given organization and
// provider.
func (s *StateService) Generate(orgID string, provider adapter.Provider) (string, error) {
	now := time.Now()
	claims := StateClaims{
		OrganizationID: orgID,
		Provider:       provider,
		Nonce:          uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign oauth state: %w", err)
	}
	return signed, nil
}

// Verify checks signature and window, returning the embedded claims.
func (s *StateService) Verify(state string) (*StateClaims, error) {
	claims := &StateClaims{}
	_, err := jwt.ParseWithClaims(state, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrStateExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, ErrStateSignature
	default:
		return nil, ErrStateMalformed
	}

	if claims.OrganizationID == "" || !claims.Provider.Valid() {
		return nil, ErrStateMalformed
	}
	return claims, nil
}
