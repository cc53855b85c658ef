// Package reconciler applies decoded on-chain batches to the canonical order
// state. Every transition is guarded by the event ordinal already recorded on
// the order: replays and out-of-order deliveries reduce to no-ops, so the
// whole pipeline stays idempotent end to end.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"time"

	"github.com/alanyoungcy/nftindexer/internal/crypto"
	"github.com/alanyoungcy/nftindexer/internal/domain"
	"github.com/alanyoungcy/nftindexer/internal/floor"
)

// RejectionFeesTooHigh marks orders whose fee breakdown exceeds MaxFeeBps.
const RejectionFeesTooHigh = "fees-too-high"

// RejectionInvalidSignature marks soft cancels whose maker signature failed
// verification.
const RejectionInvalidSignature = "invalid-signature"

// Reconciler consumes OnChainData batches and keeps order state, event logs,
// and cached floors consistent.
type Reconciler struct {
	orders   domain.OrderStore
	events   domain.EventStore
	activity domain.ActivityStore
	floors   *floor.Updater
	em       domain.Emitter
	locks    *keyedMutex
	logger   *slog.Logger
}

func New(orders domain.OrderStore, events domain.EventStore, activity domain.ActivityStore, floors *floor.Updater, em domain.Emitter, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		orders:   orders,
		events:   events,
		activity: activity,
		floors:   floors,
		em:       em,
		locks:    newKeyedMutex(),
		logger:   logger,
	}
}

// batchState accumulates the side effects of one Process call: durable order
// event rows and the token sets whose floors need recomputing.
type batchState struct {
	orderEvents []domain.OrderEvent
	touched     map[string]bool
}

func (b *batchState) touch(tokenSetID string) {
	if tokenSetID == "" {
		return
	}
	b.touched[tokenSetID] = true
}

func (b *batchState) record(order domain.Order, trigger domain.TriggerKind, base domain.BaseEventParams) {
	b.orderEvents = append(b.orderEvents, domain.OrderEvent{
		OrderID:     order.ID,
		OrderKind:   order.Kind,
		Trigger:     trigger,
		Fillability: order.Fillability,
		Approval:    order.Approval,
		Contract:    order.Contract,
		TokenSetID:  order.TokenSetID,
		Maker:       order.Maker,
		Price:       order.Price,
		ValidFrom:   order.ValidFrom,
		ValidUntil:  order.ValidUntil,
		TxHash:      base.TxHash,
		BlockNumber: base.BlockNumber,
		LogIndex:    base.LogIndex,
		CreatedAt:   time.Now().UTC(),
	})
	b.touch(order.TokenSetID)
}

// Process applies one decoded batch. The append-only event tables are written
// first (their inserts are idempotent), then order state transitions run in
// discovery order, then floors are recomputed once per touched token set.
func (r *Reconciler) Process(ctx context.Context, data *domain.OnChainData) error {
	if data == nil || data.Empty() {
		return nil
	}

	if err := r.persistEvents(ctx, data); err != nil {
		return err
	}

	batch := &batchState{touched: make(map[string]bool)}

	for _, t := range data.Transfers {
		r.applyTransfer(ctx, t, batch)
	}
	for _, nc := range data.NonceCancels {
		r.applyNonceCancel(ctx, nc, batch)
	}
	for _, bc := range data.BulkCancels {
		r.applyBulkCancel(ctx, bc, batch)
	}
	for _, trig := range data.Orders {
		r.applyTrigger(ctx, trig, batch)
	}

	if err := r.flush(ctx, data, batch); err != nil {
		return err
	}
	return nil
}

func (r *Reconciler) persistEvents(ctx context.Context, data *domain.OnChainData) error {
	if err := r.events.InsertFills(ctx, data.Fills); err != nil {
		return fmt.Errorf("reconciler: insert fills: %w", err)
	}
	if err := r.events.InsertCancels(ctx, data.Cancels); err != nil {
		return fmt.Errorf("reconciler: insert cancels: %w", err)
	}
	if err := r.events.InsertNonceCancels(ctx, data.NonceCancels); err != nil {
		return fmt.Errorf("reconciler: insert nonce cancels: %w", err)
	}
	if err := r.events.InsertBulkCancels(ctx, data.BulkCancels); err != nil {
		return fmt.Errorf("reconciler: insert bulk cancels: %w", err)
	}
	if err := r.events.InsertTransfers(ctx, data.Transfers); err != nil {
		return fmt.Errorf("reconciler: insert transfers: %w", err)
	}
	if err := r.events.InsertMints(ctx, data.Mints); err != nil {
		return fmt.Errorf("reconciler: insert mints: %w", err)
	}
	return nil
}

func (r *Reconciler) flush(ctx context.Context, data *domain.OnChainData, batch *batchState) error {
	if err := r.activity.InsertOrderEvents(ctx, batch.orderEvents); err != nil {
		return fmt.Errorf("reconciler: insert order events: %w", err)
	}
	if len(data.Fills) > 0 {
		if err := r.em.EmitSales(ctx, data.Fills); err != nil {
			r.logger.Warn("sales emit failed", slog.String("error", err.Error()))
		}
	}
	if len(data.Transfers) > 0 {
		if err := r.em.EmitTransfers(ctx, data.Transfers); err != nil {
			r.logger.Warn("transfers emit failed", slog.String("error", err.Error()))
		}
	}

	tokenSets := make([]string, 0, len(batch.touched))
	for ts := range batch.touched {
		tokenSets = append(tokenSets, ts)
	}
	sort.Strings(tokenSets)

	now := time.Now().Unix()
	for _, ts := range tokenSets {
		if err := r.floors.Recompute(ctx, ts, now); err != nil {
			return fmt.Errorf("reconciler: recompute floor: %w", err)
		}
	}
	return nil
}

// applyTransfer flips the balance axis: the old owner's asks on the token
// lose their backing, the new owner's parked asks regain it.
func (r *Reconciler) applyTransfer(ctx context.Context, t domain.TransferEvent, batch *batchState) {
	ord := t.Base.Ordinal()

	if t.From != zeroAddress {
		lost, err := r.orders.UpdateFillabilityByMakerToken(ctx, t.From, t.Contract, t.TokenID, domain.FillabilityFillable, domain.FillabilityNoBalance, ord)
		if err != nil {
			r.logger.Warn("balance-change downgrade failed",
				slog.String("maker", t.From),
				slog.String("contract", t.Contract),
				slog.String("token_id", t.TokenID),
				slog.String("error", err.Error()),
			)
		}
		for _, o := range lost {
			batch.record(o, domain.TriggerBalanceChange, t.Base)
			r.emitOrder(ctx, o, domain.TriggerBalanceChange)
		}
	}

	if t.To != zeroAddress {
		regained, err := r.orders.UpdateFillabilityByMakerToken(ctx, t.To, t.Contract, t.TokenID, domain.FillabilityNoBalance, domain.FillabilityFillable, ord)
		if err != nil {
			r.logger.Warn("balance-change upgrade failed",
				slog.String("maker", t.To),
				slog.String("contract", t.Contract),
				slog.String("token_id", t.TokenID),
				slog.String("error", err.Error()),
			)
		}
		for _, o := range regained {
			batch.record(o, domain.TriggerBalanceChange, t.Base)
			r.emitOrder(ctx, o, domain.TriggerBalanceChange)
		}
	}
}

func (r *Reconciler) applyNonceCancel(ctx context.Context, nc domain.NonceCancelEvent, batch *batchState) {
	cancelled, err := r.orders.CancelByNonces(ctx, nc.OrderKind, nc.Maker, nc.Nonces, nc.Base.Ordinal())
	if err != nil {
		r.logger.Warn("nonce cancel failed",
			slog.String("kind", string(nc.OrderKind)),
			slog.String("maker", nc.Maker),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, o := range cancelled {
		batch.record(o, domain.TriggerNonceCancel, nc.Base)
		r.emitOrder(ctx, o, domain.TriggerNonceCancel)
	}
}

func (r *Reconciler) applyBulkCancel(ctx context.Context, bc domain.BulkCancelEvent, batch *batchState) {
	cancelled, err := r.orders.CancelByNonceBelow(ctx, bc.OrderKind, bc.Maker, bc.MinNonce, bc.Base.Ordinal())
	if err != nil {
		r.logger.Warn("bulk cancel failed",
			slog.String("kind", string(bc.OrderKind)),
			slog.String("maker", bc.Maker),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, o := range cancelled {
		batch.record(o, domain.TriggerNonceCancel, bc.Base)
		r.emitOrder(ctx, o, domain.TriggerNonceCancel)
	}
}

func (r *Reconciler) applyTrigger(ctx context.Context, trig domain.OrderTrigger, batch *batchState) {
	switch trig.Kind {
	case domain.TriggerNewOrder, domain.TriggerReprice, domain.TriggerBootstrap:
		if trig.Order == nil {
			return
		}
		r.applyUpsert(ctx, trig, batch)
	case domain.TriggerSale:
		r.applySale(ctx, trig, batch)
	case domain.TriggerCancel:
		r.applyCancel(ctx, trig, batch)
	case domain.TriggerApprovalChange:
		r.applyApprovalChange(ctx, trig, batch)
	}
}

func (r *Reconciler) applyUpsert(ctx context.Context, trig domain.OrderTrigger, batch *batchState) {
	order := *trig.Order
	r.locks.lock(order.ID)
	defer r.locks.unlock(order.ID)

	existing, err := r.orders.GetByID(ctx, order.ID)
	switch {
	case err == nil:
		// Newer-wins: an already-applied later event makes this one redundant.
		if !order.LastEvent.After(existing.LastEvent) {
			return
		}
		order.CreatedAt = existing.CreatedAt
	case !errors.Is(err, domain.ErrNotFound):
		r.logger.Warn("order load failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	validate(&order, trig.Base.Timestamp)

	if err := r.orders.Upsert(ctx, order); err != nil {
		r.logger.Warn("order upsert failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	batch.record(order, trig.Kind, trig.Base)
	r.emitOrder(ctx, order, trig.Kind)
}

// validate applies the recording-time checks. Invalid orders are still
// persisted (terminal, with a rejection reason) so history queries see them.
func validate(order *domain.Order, now int64) {
	if order.TotalFeeBps() > domain.MaxFeeBps {
		order.Fillability = domain.FillabilityCancelled
		order.RejectionReason = RejectionFeesTooHigh
		return
	}
	if order.IsExpiredAt(now) {
		order.Fillability = domain.FillabilityExpired
	}
}

func (r *Reconciler) applySale(ctx context.Context, trig domain.OrderTrigger, batch *batchState) {
	r.locks.lock(trig.OrderID)
	defer r.locks.unlock(trig.OrderID)

	order, err := r.orders.GetByID(ctx, trig.OrderID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("order load failed",
				slog.String("order_id", trig.OrderID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	ord := trig.Base.Ordinal()
	if !ord.After(order.LastEvent) {
		return
	}

	filled := big.NewInt(1)
	if trig.Amount != nil && trig.Amount.Sign() > 0 {
		filled = trig.Amount
	}
	if order.QuantityRemaining != nil && order.QuantityRemaining.Cmp(filled) > 0 {
		order.QuantityRemaining = new(big.Int).Sub(order.QuantityRemaining, filled)
	} else {
		order.QuantityRemaining = big.NewInt(0)
		order.Fillability = domain.FillabilityFilled
	}
	order.LastEvent = ord

	if err := r.orders.Upsert(ctx, order); err != nil {
		r.logger.Warn("order upsert failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	batch.record(order, domain.TriggerSale, trig.Base)
	r.emitOrder(ctx, order, domain.TriggerSale)
}

func (r *Reconciler) applyCancel(ctx context.Context, trig domain.OrderTrigger, batch *batchState) {
	r.locks.lock(trig.OrderID)
	defer r.locks.unlock(trig.OrderID)

	order, err := r.orders.GetByID(ctx, trig.OrderID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("order load failed",
				slog.String("order_id", trig.OrderID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	ord := trig.Base.Ordinal()
	if !ord.After(order.LastEvent) {
		return
	}
	// Terminal states are not resurrected by late cancels.
	if !order.IsActive() {
		return
	}

	order.Fillability = domain.FillabilityCancelled
	order.LastEvent = ord

	if err := r.orders.Upsert(ctx, order); err != nil {
		r.logger.Warn("order upsert failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	batch.record(order, domain.TriggerCancel, trig.Base)
	r.emitOrder(ctx, order, domain.TriggerCancel)
}

func (r *Reconciler) applyApprovalChange(ctx context.Context, trig domain.OrderTrigger, batch *batchState) {
	status := domain.ApprovalNoApproval
	if trig.Approved {
		status = domain.ApprovalApproved
	}
	changed, err := r.orders.UpdateApproval(ctx, trig.Maker, trig.Contract, status, trig.Base.Ordinal())
	if err != nil {
		r.logger.Warn("approval change failed",
			slog.String("maker", trig.Maker),
			slog.String("contract", trig.Contract),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, o := range changed {
		batch.record(o, domain.TriggerApprovalChange, trig.Base)
		r.emitOrder(ctx, o, domain.TriggerApprovalChange)
	}
}

// SoftCancel cancels an order off-chain on the maker's signed request. The
// signature must recover to the order's maker; failures return an error and
// leave the order untouched.
func (r *Reconciler) SoftCancel(ctx context.Context, orderID, signature string) error {
	r.locks.lock(orderID)
	defer r.locks.unlock(orderID)

	order, err := r.orders.GetByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("reconciler: soft cancel: %w", err)
	}
	if !order.IsActive() {
		return fmt.Errorf("reconciler: soft cancel %s: %w", orderID, domain.ErrRedundantEvent)
	}
	if err := crypto.VerifySoftCancel(orderID, order.Maker, signature); err != nil {
		return fmt.Errorf("reconciler: soft cancel %s: %s: %w", orderID, RejectionInvalidSignature, err)
	}

	now := time.Now().Unix()
	order.Fillability = domain.FillabilityCancelled
	order.LastEvent = domain.EventOrdinal{Timestamp: now}

	if err := r.orders.Upsert(ctx, order); err != nil {
		return fmt.Errorf("reconciler: soft cancel %s: %w", orderID, err)
	}

	if err := r.activity.InsertOrderEvents(ctx, []domain.OrderEvent{{
		OrderID:     order.ID,
		OrderKind:   order.Kind,
		Trigger:     domain.TriggerCancel,
		Fillability: order.Fillability,
		Approval:    order.Approval,
		Contract:    order.Contract,
		TokenSetID:  order.TokenSetID,
		Maker:       order.Maker,
		Price:       order.Price,
		ValidFrom:   order.ValidFrom,
		ValidUntil:  order.ValidUntil,
		CreatedAt:   time.Now().UTC(),
	}}); err != nil {
		return fmt.Errorf("reconciler: soft cancel %s: %w", orderID, err)
	}

	r.emitOrder(ctx, order, domain.TriggerCancel)
	if order.TokenSetID != "" {
		if err := r.floors.Recompute(ctx, order.TokenSetID, now); err != nil {
			return fmt.Errorf("reconciler: soft cancel %s: %w", orderID, err)
		}
	}
	return nil
}

// ExpireDue transitions every order whose validity window has passed and
// refreshes the floors they backed. It is run periodically by the pipeline.
func (r *Reconciler) ExpireDue(ctx context.Context, now int64) (int, error) {
	expired, err := r.orders.ExpireDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("reconciler: expire due: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	batch := &batchState{touched: make(map[string]bool)}
	for _, o := range expired {
		batch.record(o, domain.TriggerExpiry, domain.BaseEventParams{Timestamp: now})
		r.emitOrder(ctx, o, domain.TriggerExpiry)
	}
	if err := r.activity.InsertOrderEvents(ctx, batch.orderEvents); err != nil {
		return 0, fmt.Errorf("reconciler: expire due: %w", err)
	}

	tokenSets := make([]string, 0, len(batch.touched))
	for ts := range batch.touched {
		tokenSets = append(tokenSets, ts)
	}
	sort.Strings(tokenSets)
	for _, ts := range tokenSets {
		if err := r.floors.Recompute(ctx, ts, now); err != nil {
			return 0, fmt.Errorf("reconciler: expire due: %w", err)
		}
	}
	return len(expired), nil
}

func (r *Reconciler) emitOrder(ctx context.Context, order domain.Order, trigger domain.TriggerKind) {
	if err := r.em.EmitOrder(ctx, order, trigger); err != nil {
		r.logger.Warn("order emit failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}
}

const zeroAddress = "0x0000000000000000000000000000000000000000"
