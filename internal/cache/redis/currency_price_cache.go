package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

// rateTTL bounds how long a cached oracle quote lives. Buckets are hour
// granularity, so anything older than a day is of no use to the pipeline.
const rateTTL = 24 * time.Hour

// CurrencyPriceCache implements domain.CurrencyPriceCache using Redis hashes.
// Each (currency, bucket) pair is a hash at "rate:{currency}:{bucket}" with
// fields "native" and "usd", both decimal strings.
type CurrencyPriceCache struct {
	rdb *redis.Client
}

// NewCurrencyPriceCache creates a CurrencyPriceCache backed by the Client.
func NewCurrencyPriceCache(c *Client) *CurrencyPriceCache {
	return &CurrencyPriceCache{rdb: c.Underlying()}
}

func rateKey(currency string, bucket int64) string {
	return fmt.Sprintf("rate:%s:%d", currency, bucket)
}

// SetRate caches the conversion rates for a currency at a timestamp bucket.
func (pc *CurrencyPriceCache) SetRate(ctx context.Context, currency string, bucket int64, nativeRate, usdRate string) error {
	key := rateKey(currency, bucket)
	fields := map[string]interface{}{
		"native": nativeRate,
		"usd":    usdRate,
	}
	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, rateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set rate %s: %w", currency, err)
	}
	return nil
}

// GetRate returns the cached rates or domain.ErrNotFound.
func (pc *CurrencyPriceCache) GetRate(ctx context.Context, currency string, bucket int64) (string, string, error) {
	vals, err := pc.rdb.HGetAll(ctx, rateKey(currency, bucket)).Result()
	if err != nil {
		return "", "", fmt.Errorf("redis: get rate %s: %w", currency, err)
	}
	if len(vals) == 0 {
		return "", "", domain.ErrNotFound
	}
	native, ok := vals["native"]
	if !ok {
		return "", "", domain.ErrNotFound
	}
	return native, vals["usd"], nil
}

// Compile-time interface check.
var _ domain.CurrencyPriceCache = (*CurrencyPriceCache)(nil)
