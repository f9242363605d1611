package adapter

import (
	"errors"
	"fmt"
)

// APIError is any non-2xx response from a CRM call, annotated with enough
// context to diagnose it without re-running the sync.
type APIError struct {
	Provider  Provider
	Operation string
	Status    int
	Body      string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Provider, e.Operation, e.Status, e.Body)
}

// TokenExchangeError is a failed authorization-code exchange or refresh,
// surfacing the provider's own error body.
type TokenExchangeError struct {
	Provider Provider
	Status   int
	Body     string
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("%s token exchange failed: HTTP %d: %s", e.Provider, e.Status, e.Body)
}

// IsAPIError reports whether err is (or wraps) an APIError.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
