package domain

import (
	"context"
	"time"
)

// CurrencyPriceCache caches oracle quotes per (currency, timestamp bucket) so
// repeated fills in one block range don't refetch the same rate.
type CurrencyPriceCache interface {
	SetRate(ctx context.Context, currency string, bucket int64, nativeRate string, usdRate string) error
	GetRate(ctx context.Context, currency string, bucket int64) (nativeRate string, usdRate string, err error)
}

// LockManager provides distributed locking. Cross-process floor recomputes
// take a per-token-set lock so two indexer instances never interleave a
// read-recompute-write cycle.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter bounds request rates per key, used to protect the public API
// surface.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// SignalBus provides pub/sub fan-out of change notifications.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
