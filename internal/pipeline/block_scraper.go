// Package pipeline wires the chain-facing loops together: block scraping and
// decoding, order expiry sweeps, and cold-storage archival.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/nftindexer/internal/decoder"
	"github.com/alanyoungcy/nftindexer/internal/domain"
	"github.com/alanyoungcy/nftindexer/internal/reconciler"
)

// CursorStore persists the scraper's resume point across restarts.
type CursorStore interface {
	Get(ctx context.Context) (uint64, error)
	Set(ctx context.Context, block uint64) error
}

// BlockScraper walks the chain in contiguous block ranges, decodes each
// range's logs into canonical events, and hands them to the reconciler. The
// cursor only advances after a range has been fully reconciled, so a crash
// replays the range; every downstream write is idempotent.
type BlockScraper struct {
	source        domain.LogSource
	registry      *decoder.Registry
	rec           *reconciler.Reconciler
	cursor        CursorStore
	batchSize     uint64
	confirmations uint64
	logger        *slog.Logger
}

// NewBlockScraper creates a BlockScraper. batchSize is the maximum block span
// fetched per iteration; confirmations is how far behind head the scraper
// stays to avoid reorgs.
func NewBlockScraper(
	source domain.LogSource,
	registry *decoder.Registry,
	rec *reconciler.Reconciler,
	cursor CursorStore,
	batchSize, confirmations uint64,
	logger *slog.Logger,
) *BlockScraper {
	if batchSize == 0 {
		batchSize = 10
	}
	return &BlockScraper{
		source:        source,
		registry:      registry,
		rec:           rec,
		cursor:        cursor,
		batchSize:     batchSize,
		confirmations: confirmations,
		logger:        logger,
	}
}

// Run executes a single catch-up pass: it processes ranges from the cursor up
// to the confirmed head and returns the number of blocks processed.
func (s *BlockScraper) Run(ctx context.Context) (uint64, error) {
	head, err := s.source.HeadBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("pipeline: head block: %w", err)
	}
	if head <= s.confirmations {
		return 0, nil
	}
	target := head - s.confirmations

	last, err := s.cursor.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("pipeline: read cursor: %w", err)
	}
	if last == 0 {
		// Fresh deployment: start at the confirmed head instead of genesis.
		last = target - 1
	}
	if last >= target {
		return 0, nil
	}

	var processed uint64
	for from := last + 1; from <= target; from += s.batchSize {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		to := from + s.batchSize - 1
		if to > target {
			to = target
		}

		if err := s.processRange(ctx, from, to); err != nil {
			return processed, err
		}

		if err := s.cursor.Set(ctx, to); err != nil {
			return processed, fmt.Errorf("pipeline: advance cursor: %w", err)
		}
		processed += to - from + 1
	}
	return processed, nil
}

func (s *BlockScraper) processRange(ctx context.Context, from, to uint64) error {
	logs, err := s.source.FetchLogs(ctx, from, to)
	if err != nil {
		return fmt.Errorf("pipeline: fetch logs [%d,%d]: %w", from, to, err)
	}

	data, err := s.registry.DecodeBatch(ctx, logs)
	if err != nil {
		return fmt.Errorf("pipeline: decode [%d,%d]: %w", from, to, err)
	}
	if data.Empty() {
		return nil
	}

	if err := s.rec.Process(ctx, data); err != nil {
		return fmt.Errorf("pipeline: reconcile [%d,%d]: %w", from, to, err)
	}

	s.logger.Info("processed block range",
		slog.Uint64("from", from),
		slog.Uint64("to", to),
		slog.Int("logs", len(logs)),
		slog.Int("fills", len(data.Fills)),
		slog.Int("orders", len(data.Orders)),
		slog.Int("transfers", len(data.Transfers)),
	)
	return nil
}

// RunLoop repeatedly catches up to the confirmed head on a ticker until the
// context is cancelled. Throttled-provider errors pause the loop for the
// provider-requested delay instead of hammering the endpoint.
func (s *BlockScraper) RunLoop(ctx context.Context, interval time.Duration) error {
	// Run immediately on start.
	if _, err := s.Run(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("block scrape failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("block scraper loop stopped")
			return ctx.Err()
		case <-ticker.C:
			_, err := s.Run(ctx)
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if delay, throttled := domain.IsThrottled(err); throttled {
				s.logger.Warn("provider throttled, backing off", slog.Duration("retry_after", delay))
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(delay):
				}
				continue
			}
			s.logger.Error("block scrape failed", slog.String("error", err.Error()))
		}
	}
}
