package lock

import (
	"context"
	"sync"
	"time"

	"github.com/jun/gophsync/internal/model"
)

// MemoryLocker implements Locker with an in-process map.
type MemoryLocker struct {
	leases      map[string]*model.Lease
	mu          sync.Mutex
	ttlDuration time.Duration
	now         func() time.Time
}

// NewMemoryLocker creates a MemoryLocker with the default TTL.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		leases:      make(map[string]*model.Lease),
		ttlDuration: DefaultTTL,
		now:         time.Now,
	}
}

func (m *MemoryLocker) Acquire(ctx context.Context, key, owner string) (*model.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().Unix()
	if existing, ok := m.leases[key]; ok {
		if existing.ExpiresAt >= now && existing.Owner != owner {
			return nil, ErrLocked
		}
	}

	lease := &model.Lease{
		Key:       key,
		Owner:     owner,
		ExpiresAt: now + int64(m.ttlDuration.Seconds()),
	}
	m.leases[key] = lease
	copied := *lease
	return &copied, nil
}

func (m *MemoryLocker) Release(ctx context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.leases[key]
	if !ok {
		return nil
	}
	if existing.Owner != owner {
		return ErrLocked
	}
	delete(m.leases, key)
	return nil
}
