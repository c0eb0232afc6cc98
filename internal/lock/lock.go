// Package lock keeps periodic sweeps single-instance across replicas.
package lock

import (
	"context"
	"time"
)

// Locker hands out short leases keyed by name. TryLock never blocks.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
	Close() error
}

// NopLock always grants the lease. Used when no Redis is configured and the
// process is the only sweeper.
type NopLock struct{}

func NewNopLock() *NopLock { return &NopLock{} }

func (NopLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (NopLock) Unlock(ctx context.Context, key string) error { return nil }

func (NopLock) Close() error { return nil }
