package adapter

import (
	"context"
)

// TokenSource supplies bearer tokens to tree clients.
type TokenSource interface {
	// ValidAccessToken returns an access token that is not about to expire,
	// or ErrNotConnected when there is no usable session.
	ValidAccessToken(ctx context.Context) (string, error)

	// Invalidate drops the stored session after the provider rejected its token.
	Invalidate(ctx context.Context) error
}
