// Package floor maintains the materialized floor-ask / top-bid view per token
// set. Recomputation always re-runs the selection queries against the live
// order set; the cached state is never patched incrementally, which keeps it
// correct under any interleaving of order mutations.
package floor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

// saveAttempts bounds the optimistic-save retry loop. Concurrent recomputes
// of one token set converge because each retry re-reads fresh state.
const saveAttempts = 3

// Updater recomputes cached floor state after order mutations.
type Updater struct {
	orders domain.OrderStore
	tokens domain.TokenStore
	em     domain.Emitter

	// normalizedExclude lists order kinds that carry no royalty-normalized
	// value and therefore never participate in the normalized floor.
	normalizedExclude []domain.OrderKind

	logger *slog.Logger
}

func NewUpdater(orders domain.OrderStore, tokens domain.TokenStore, em domain.Emitter, normalizedExclude []domain.OrderKind, logger *slog.Logger) *Updater {
	return &Updater{
		orders:            orders,
		tokens:            tokens,
		em:                em,
		normalizedExclude: normalizedExclude,
		logger:            logger,
	}
}

// Recompute refreshes the floor-ask, normalized floor-ask, and top-bid for
// one token set at time now, emitting a FloorChange for every price that
// actually moved. Saves are optimistic: a concurrent update forces a re-read
// and a fresh selection.
func (u *Updater) Recompute(ctx context.Context, tokenSetID string, now int64) error {
	var lastErr error
	for attempt := 0; attempt < saveAttempts; attempt++ {
		changes, err := u.recomputeOnce(ctx, tokenSetID, now)
		if err == nil {
			for _, ch := range changes {
				if emitErr := u.em.EmitFloorChange(ctx, ch); emitErr != nil {
					u.logger.Warn("floor change emit failed",
						slog.String("token_set", tokenSetID),
						slog.String("kind", string(ch.Kind)),
						slog.String("error", emitErr.Error()),
					)
				}
			}
			return nil
		}
		if !errors.Is(err, domain.ErrRedundantEvent) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("floor: token set %s: save contention: %w", tokenSetID, lastErr)
}

func (u *Updater) recomputeOnce(ctx context.Context, tokenSetID string, now int64) ([]domain.FloorChange, error) {
	state, err := u.tokens.FloorState(ctx, tokenSetID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("floor: load state: %w", err)
		}
		state = domain.FloorState{TokenSetID: tokenSetID}
	}

	ask, err := u.orders.BestAsk(ctx, tokenSetID, false, nil, now)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("floor: best ask: %w", err)
	}
	normAsk, err := u.orders.BestAsk(ctx, tokenSetID, true, u.normalizedExclude, now)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("floor: normalized best ask: %w", err)
	}
	bid, err := u.orders.TopBid(ctx, tokenSetID, now)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("floor: top bid: %w", err)
	}

	at := time.Now().UTC()
	var changes []domain.FloorChange

	if pickChanged(state.FloorAskID, state.FloorAskValue, ask) {
		changes = append(changes, domain.FloorChange{
			TokenSetID:    tokenSetID,
			Kind:          domain.FloorAsk,
			PreviousID:    state.FloorAskID,
			PreviousValue: state.FloorAskValue,
			NewID:         ask.OrderID,
			NewValue:      ask.Value,
			At:            at,
		})
	}
	if pickChanged(state.NormalizedFloorAskID, state.NormalizedFloorAskValue, normAsk) {
		changes = append(changes, domain.FloorChange{
			TokenSetID:    tokenSetID,
			Kind:          domain.FloorAskNormalized,
			PreviousID:    state.NormalizedFloorAskID,
			PreviousValue: state.NormalizedFloorAskValue,
			NewID:         normAsk.OrderID,
			NewValue:      normAsk.Value,
			At:            at,
		})
	}
	if pickChanged(state.TopBidID, state.TopBidValue, bid) {
		changes = append(changes, domain.FloorChange{
			TokenSetID:    tokenSetID,
			Kind:          domain.FloorTopBid,
			PreviousID:    state.TopBidID,
			PreviousValue: state.TopBidValue,
			NewID:         bid.OrderID,
			NewValue:      bid.Value,
			At:            at,
		})
	}

	if len(changes) == 0 {
		return nil, nil
	}

	next := domain.FloorState{
		TokenSetID: tokenSetID,

		FloorAskID:        ask.OrderID,
		FloorAskValue:     ask.Value,
		FloorAskMaker:     ask.Maker,
		FloorAskValidFrom: ask.ValidFrom,
		FloorAskValidTo:   ask.ValidTo,

		NormalizedFloorAskID:    normAsk.OrderID,
		NormalizedFloorAskValue: normAsk.Value,

		TopBidID:    bid.OrderID,
		TopBidValue: bid.Value,
		TopBidMaker: bid.Maker,

		UpdatedAt: state.UpdatedAt,
	}
	if err := u.tokens.SaveFloorState(ctx, next); err != nil {
		return nil, err
	}
	return changes, nil
}

// pickChanged compares the cached (id, value) pair against a fresh selection.
func pickChanged(cachedID string, cachedValue *big.Int, pick domain.OrderPick) bool {
	if cachedID != pick.OrderID {
		return true
	}
	switch {
	case cachedValue == nil && pick.Value == nil:
		return false
	case cachedValue == nil || pick.Value == nil:
		return true
	default:
		return cachedValue.Cmp(pick.Value) != 0
	}
}
