package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/nftindexer/internal/reconciler"
)

// ExpirySweeper periodically transitions orders whose validity window has
// closed. Wall-clock expiry is the one transition that does not originate
// from a chain event.
type ExpirySweeper struct {
	rec    *reconciler.Reconciler
	logger *slog.Logger
}

// NewExpirySweeper creates an ExpirySweeper.
func NewExpirySweeper(rec *reconciler.Reconciler, logger *slog.Logger) *ExpirySweeper {
	return &ExpirySweeper{rec: rec, logger: logger}
}

// RunLoop sweeps on the given interval until the context is cancelled.
func (e *ExpirySweeper) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("expiry sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			count, err := e.rec.ExpireDue(ctx, time.Now().Unix())
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				e.logger.Error("expiry sweep failed", slog.String("error", err.Error()))
				continue
			}
			if count > 0 {
				e.logger.Info("expired orders", slog.Int("count", count))
			}
		}
	}
}
