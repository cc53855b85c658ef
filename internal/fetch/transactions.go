// Package fetch implements the cache-or-fetch pattern for transactions and
// call traces: check the persisted cache, on miss fetch from the RPC provider
// and persist the result.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

// RPC is the raw transaction/trace provider behind the cache.
type RPC interface {
	Transaction(ctx context.Context, hash string) (domain.Transaction, error)
	TransactionTrace(ctx context.Context, hash string) (domain.CallTrace, error)
}

// Transactions implements domain.TxReader with a persisted transaction cache
// and bounded retry on transient provider failures.
type Transactions struct {
	cache      domain.TxCacheStore
	rpc        RPC
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// NewTransactions creates a Transactions reader.
func NewTransactions(cache domain.TxCacheStore, rpc RPC, logger *slog.Logger) *Transactions {
	return &Transactions{
		cache:      cache,
		rpc:        rpc,
		maxRetries: 3,
		backoff:    200 * time.Millisecond,
		logger:     logger,
	}
}

// FetchTransaction returns the transaction for hash, serving from the cache
// when possible.
func (t *Transactions) FetchTransaction(ctx context.Context, hash string) (domain.Transaction, error) {
	hash = strings.ToLower(hash)

	cached, err := t.cache.GetTransaction(ctx, hash)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		t.logger.Warn("tx cache read failed, falling through to rpc",
			slog.String("tx_hash", hash),
			slog.String("error", err.Error()),
		)
	}

	var tx domain.Transaction
	err = t.withRetry(ctx, func() error {
		var fErr error
		tx, fErr = t.rpc.Transaction(ctx, hash)
		return fErr
	})
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("fetch: transaction %s: %w", hash, err)
	}

	if sErr := t.cache.SaveTransaction(ctx, tx); sErr != nil {
		t.logger.Warn("tx cache write failed",
			slog.String("tx_hash", hash),
			slog.String("error", sErr.Error()),
		)
	}
	return tx, nil
}

// FetchTransactionTrace returns the call tree for hash. Traces are not
// persisted: they are large and only consulted during attribution.
func (t *Transactions) FetchTransactionTrace(ctx context.Context, hash string) (domain.CallTrace, error) {
	var trace domain.CallTrace
	err := t.withRetry(ctx, func() error {
		var fErr error
		trace, fErr = t.rpc.TransactionTrace(ctx, strings.ToLower(hash))
		return fErr
	})
	if err != nil {
		return domain.CallTrace{}, fmt.Errorf("fetch: trace %s: %w", hash, err)
	}
	return trace, nil
}

// withRetry runs fn up to maxRetries+1 times with linear backoff. Throttled
// errors are propagated immediately so the caller can reschedule with the
// provider-supplied delay.
func (t *Transactions) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * t.backoff):
			}
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if _, throttled := domain.IsThrottled(lastErr); throttled {
			return lastErr
		}
	}
	return lastErr
}
