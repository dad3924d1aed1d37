package auth

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMalformedCallback is returned for a redirect carrying neither a code nor an error.
	ErrMalformedCallback = errors.New("authorization callback carried neither code nor error")

	// ErrStateMismatch is returned when the callback state is missing, altered or expired.
	ErrStateMismatch = errors.New("authorization state mismatch")
)

// ConfigurationError reports missing client credentials. It is fatal to the flow and never retried.
type ConfigurationError struct {
	Field string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("oauth client not configured: missing %s", e.Field)
}

// AuthorizationDeniedError carries the provider's reason for refusing authorization.
type AuthorizationDeniedError struct {
	Code        string
	Description string
}

func (e *AuthorizationDeniedError) Error() string {
	if e.Description == "" {
		return "authorization denied: " + e.Code
	}
	return fmt.Sprintf("authorization denied: %s: %s", e.Code, e.Description)
}

// ProviderError is a failed token request at the identity provider.
type ProviderError struct {
	Status      int
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("token endpoint returned %d", e.Status)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	return msg
}

// HTTPStatus is the status to propagate to the caller of the backend. Transport
// failures that never reached the provider map to 502.
func (e *ProviderError) HTTPStatus() int {
	if e.Status == 0 {
		return http.StatusBadGateway
	}
	return e.Status
}
