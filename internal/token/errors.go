package token

import (
	"fmt"
)

// ExchangeError is a non-success response from the backend token endpoints.
// ProviderError and Description carry the identity provider's reason when the
// backend propagated one.
type ExchangeError struct {
	Status        int
	ProviderError string
	Description   string
}

func (e *ExchangeError) Error() string {
	msg := fmt.Sprintf("token exchange failed with status %d", e.Status)
	if e.ProviderError != "" {
		msg += ": " + e.ProviderError
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	return msg
}
