// Package lock provides short leases that keep two processes sharing one state
// store from refreshing the same token at the same time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/jun/gophsync/internal/model"
)

const DefaultTTL = 30 * time.Second

// ErrLocked is returned when the lease is held by another owner.
var ErrLocked = errors.New("lease is held by another owner")

// Locker grants and releases leases by key.
type Locker interface {
	// Acquire takes the lease for owner. It succeeds when no lease exists,
	// the existing lease has expired, or owner already holds it.
	Acquire(ctx context.Context, key, owner string) (*model.Lease, error)

	// Release drops the lease if owner holds it.
	Release(ctx context.Context, key, owner string) error
}

// AcquireWait retries Acquire with exponential backoff while the lease is held elsewhere,
// giving up after maxAttempts tries (at least one).
func AcquireWait(ctx context.Context, l Locker, key, owner string, base time.Duration, maxAttempts uint64) (*model.Lease, error) {
	if maxAttempts == 0 {
		maxAttempts = 1
	}
	var lease *model.Lease
	backoff := retry.WithMaxRetries(maxAttempts-1, retry.NewExponential(base))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		lease, err = l.Acquire(ctx, key, owner)
		if errors.Is(err, ErrLocked) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	return lease, nil
}
