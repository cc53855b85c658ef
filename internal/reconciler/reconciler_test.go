package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/nftindexer/internal/domain"
	"github.com/alanyoungcy/nftindexer/internal/floor"
)

type fakeOrderStore struct {
	orders map[string]domain.Order

	expireDue []domain.Order
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: make(map[string]domain.Order)}
}

func (s *fakeOrderStore) GetByID(_ context.Context, id string) (domain.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *fakeOrderStore) Upsert(_ context.Context, order domain.Order) error {
	s.orders[order.ID] = order
	return nil
}

func (s *fakeOrderStore) CancelByNonceBelow(_ context.Context, kind domain.OrderKind, maker string, minNonce *big.Int, ord domain.EventOrdinal) ([]domain.Order, error) {
	var out []domain.Order
	for id, o := range s.orders {
		if o.Kind != kind || o.Maker != maker || !o.IsActive() || o.Nonce == nil {
			continue
		}
		if o.Nonce.Cmp(minNonce) >= 0 || !ord.After(o.LastEvent) {
			continue
		}
		o.Fillability = domain.FillabilityCancelled
		o.LastEvent = ord
		s.orders[id] = o
		out = append(out, o)
	}
	return out, nil
}

func (s *fakeOrderStore) CancelByNonces(_ context.Context, kind domain.OrderKind, maker string, nonces []*big.Int, ord domain.EventOrdinal) ([]domain.Order, error) {
	var out []domain.Order
	for id, o := range s.orders {
		if o.Kind != kind || o.Maker != maker || !o.IsActive() || o.Nonce == nil {
			continue
		}
		hit := false
		for _, n := range nonces {
			if o.Nonce.Cmp(n) == 0 {
				hit = true
				break
			}
		}
		if !hit || !ord.After(o.LastEvent) {
			continue
		}
		o.Fillability = domain.FillabilityCancelled
		o.LastEvent = ord
		s.orders[id] = o
		out = append(out, o)
	}
	return out, nil
}

func (s *fakeOrderStore) UpdateApproval(_ context.Context, maker, contract string, status domain.ApprovalStatus, ord domain.EventOrdinal) ([]domain.Order, error) {
	var out []domain.Order
	for id, o := range s.orders {
		if o.Maker != maker || o.Contract != contract || !o.IsActive() || !ord.After(o.LastEvent) {
			continue
		}
		o.Approval = status
		o.LastEvent = ord
		s.orders[id] = o
		out = append(out, o)
	}
	return out, nil
}

func (s *fakeOrderStore) UpdateFillabilityByMakerToken(_ context.Context, maker, contract, tokenID string, from, to domain.FillabilityStatus, ord domain.EventOrdinal) ([]domain.Order, error) {
	var out []domain.Order
	for id, o := range s.orders {
		if o.Maker != maker || o.Contract != contract || o.TokenID != tokenID || o.Side != domain.SideSell {
			continue
		}
		if o.Fillability != from || !ord.After(o.LastEvent) {
			continue
		}
		o.Fillability = to
		o.LastEvent = ord
		s.orders[id] = o
		out = append(out, o)
	}
	return out, nil
}

func (s *fakeOrderStore) ExpireDue(context.Context, int64) ([]domain.Order, error) {
	out := s.expireDue
	s.expireDue = nil
	return out, nil
}

func (s *fakeOrderStore) BestAsk(context.Context, string, bool, []domain.OrderKind, int64) (domain.OrderPick, error) {
	return domain.OrderPick{}, domain.ErrNotFound
}

func (s *fakeOrderStore) TopBid(context.Context, string, int64) (domain.OrderPick, error) {
	return domain.OrderPick{}, domain.ErrNotFound
}

// fakeEventStore counts append-only inserts; the archival listing and delete
// methods are never reached by Process.
type fakeEventStore struct {
	fills     int
	transfers int
}

func (s *fakeEventStore) InsertFills(_ context.Context, fills []domain.FillEvent) error {
	s.fills += len(fills)
	return nil
}
func (s *fakeEventStore) InsertCancels(context.Context, []domain.CancelEvent) error { return nil }
func (s *fakeEventStore) InsertNonceCancels(context.Context, []domain.NonceCancelEvent) error {
	return nil
}
func (s *fakeEventStore) InsertBulkCancels(context.Context, []domain.BulkCancelEvent) error {
	return nil
}
func (s *fakeEventStore) InsertTransfers(_ context.Context, transfers []domain.TransferEvent) error {
	s.transfers += len(transfers)
	return nil
}
func (s *fakeEventStore) InsertMints(context.Context, []domain.MintInfo) error { return nil }
func (s *fakeEventStore) ListFillsBefore(context.Context, time.Time, int) ([]domain.FillEvent, error) {
	return nil, nil
}
func (s *fakeEventStore) DeleteFillsBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}
func (s *fakeEventStore) ListTransfersBefore(context.Context, time.Time, int) ([]domain.TransferEvent, error) {
	return nil, nil
}
func (s *fakeEventStore) DeleteTransfersBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type fakeActivityStore struct {
	events []domain.OrderEvent
}

func (s *fakeActivityStore) InsertOrderEvents(_ context.Context, events []domain.OrderEvent) error {
	s.events = append(s.events, events...)
	return nil
}

type fakeTokenStore struct {
	states map[string]domain.FloorState
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{states: make(map[string]domain.FloorState)}
}

func (s *fakeTokenStore) FloorState(_ context.Context, tokenSetID string) (domain.FloorState, error) {
	st, ok := s.states[tokenSetID]
	if !ok {
		return domain.FloorState{}, domain.ErrNotFound
	}
	return st, nil
}

func (s *fakeTokenStore) SaveFloorState(_ context.Context, state domain.FloorState) error {
	s.states[state.TokenSetID] = state
	return nil
}

type fakeEmitter struct {
	orders    []domain.TriggerKind
	saleLists int
}

func (e *fakeEmitter) EmitSales(context.Context, []domain.FillEvent) error {
	e.saleLists++
	return nil
}
func (e *fakeEmitter) EmitOrder(_ context.Context, _ domain.Order, trigger domain.TriggerKind) error {
	e.orders = append(e.orders, trigger)
	return nil
}
func (e *fakeEmitter) EmitTransfers(context.Context, []domain.TransferEvent) error { return nil }
func (e *fakeEmitter) EmitFloorChange(context.Context, domain.FloorChange) error   { return nil }

type harness struct {
	orders   *fakeOrderStore
	events   *fakeEventStore
	activity *fakeActivityStore
	em       *fakeEmitter
	rec      *Reconciler
}

func newHarness() *harness {
	orders := newFakeOrderStore()
	tokens := newFakeTokenStore()
	em := &fakeEmitter{}
	logger := slog.New(slog.DiscardHandler)
	floors := floor.NewUpdater(orders, tokens, em, nil, logger)
	events := &fakeEventStore{}
	activity := &fakeActivityStore{}
	return &harness{
		orders:   orders,
		events:   events,
		activity: activity,
		em:       em,
		rec:      New(orders, events, activity, floors, em, logger),
	}
}

func baseAt(ts int64) domain.BaseEventParams {
	return domain.BaseEventParams{
		TxHash:      "0xtx",
		BlockNumber: uint64(ts),
		LogIndex:    1,
		Timestamp:   ts,
	}
}

func sellOrder(id string, ts int64) domain.Order {
	return domain.Order{
		ID:                id,
		Kind:              domain.OrderKindSeaport,
		Side:              domain.SideSell,
		Maker:             "0xmaker",
		Price:             big.NewInt(1000),
		QuantityRemaining: big.NewInt(1),
		Fillability:       domain.FillabilityFillable,
		Approval:          domain.ApprovalApproved,
		TokenSetID:        "token:0xc:1",
		Contract:          "0xc",
		TokenID:           "1",
		LastEvent:         domain.EventOrdinal{Timestamp: ts},
	}
}

func TestUpsertNewerWins(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	first := sellOrder("0xorder", 100)
	if err := h.rec.Process(ctx, &domain.OnChainData{Orders: []domain.OrderTrigger{{
		OrderID: first.ID,
		Kind:    domain.TriggerNewOrder,
		Order:   &first,
		Base:    baseAt(100),
	}}}); err != nil {
		t.Fatalf("first process: %v", err)
	}

	// Replay with an older ordinal must not regress the stored price.
	stale := sellOrder("0xorder", 50)
	stale.Price = big.NewInt(1)
	if err := h.rec.Process(ctx, &domain.OnChainData{Orders: []domain.OrderTrigger{{
		OrderID: stale.ID,
		Kind:    domain.TriggerReprice,
		Order:   &stale,
		Base:    baseAt(50),
	}}}); err != nil {
		t.Fatalf("stale process: %v", err)
	}

	got, err := h.orders.GetByID(ctx, "0xorder")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Price.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("stale replay overwrote price: %s", got.Price)
	}
	if got.LastEvent.Timestamp != 100 {
		t.Fatalf("last event regressed to %d", got.LastEvent.Timestamp)
	}
}

func TestUpsertPreservesCreatedAt(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	first := sellOrder("0xorder", 100)
	if err := h.rec.Process(ctx, &domain.OnChainData{Orders: []domain.OrderTrigger{{
		OrderID: first.ID, Kind: domain.TriggerNewOrder, Order: &first, Base: baseAt(100),
	}}}); err != nil {
		t.Fatalf("first process: %v", err)
	}
	stored, _ := h.orders.GetByID(ctx, "0xorder")
	created := stored.CreatedAt

	reprice := sellOrder("0xorder", 200)
	reprice.Price = big.NewInt(900)
	if err := h.rec.Process(ctx, &domain.OnChainData{Orders: []domain.OrderTrigger{{
		OrderID: reprice.ID, Kind: domain.TriggerReprice, Order: &reprice, Base: baseAt(200),
	}}}); err != nil {
		t.Fatalf("reprice process: %v", err)
	}

	got, _ := h.orders.GetByID(ctx, "0xorder")
	if got.Price.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("reprice not applied: %s", got.Price)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("reprice changed CreatedAt: %v != %v", got.CreatedAt, created)
	}
}

func TestUpsertRejectsExcessiveFees(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	order := sellOrder("0xfees", 100)
	order.FeeBreakdown = []domain.FeeEntry{
		{Kind: domain.FeeKindMarketplace, Recipient: "0xa", Bps: 6000},
		{Kind: domain.FeeKindRoyalty, Recipient: "0xb", Bps: 6000},
	}
	if err := h.rec.Process(ctx, &domain.OnChainData{Orders: []domain.OrderTrigger{{
		OrderID: order.ID, Kind: domain.TriggerNewOrder, Order: &order, Base: baseAt(100),
	}}}); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := h.orders.GetByID(ctx, "0xfees")
	if err != nil {
		t.Fatalf("rejected order must still be persisted: %v", err)
	}
	if got.Fillability != domain.FillabilityCancelled {
		t.Fatalf("fillability = %s", got.Fillability)
	}
	if got.RejectionReason != RejectionFeesTooHigh {
		t.Fatalf("rejection reason = %q", got.RejectionReason)
	}
}

func TestUpsertMarksExpired(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	order := sellOrder("0xold", 100)
	order.ValidUntil = 90
	if err := h.rec.Process(ctx, &domain.OnChainData{Orders: []domain.OrderTrigger{{
		OrderID: order.ID, Kind: domain.TriggerNewOrder, Order: &order, Base: baseAt(100),
	}}}); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, _ := h.orders.GetByID(ctx, "0xold")
	if got.Fillability != domain.FillabilityExpired {
		t.Fatalf("fillability = %s, want expired", got.Fillability)
	}
}

func TestSaleDecrementsThenFills(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	order := sellOrder("0xmulti", 100)
	order.QuantityRemaining = big.NewInt(2)
	h.orders.orders[order.ID] = order

	if err := h.rec.Process(ctx, &domain.OnChainData{Orders: []domain.OrderTrigger{{
		OrderID: order.ID, Kind: domain.TriggerSale, Base: baseAt(200),
	}}}); err != nil {
		t.Fatalf("first sale: %v", err)
	}
	got, _ := h.orders.GetByID(ctx, order.ID)
	if got.QuantityRemaining.Cmp(big.NewInt(1)) != 0 || got.Fillability != domain.FillabilityFillable {
		t.Fatalf("after first sale: qty=%s fillability=%s", got.QuantityRemaining, got.Fillability)
	}

	if err := h.rec.Process(ctx, &domain.OnChainData{Orders: []domain.OrderTrigger{{
		OrderID: order.ID, Kind: domain.TriggerSale, Base: baseAt(300),
	}}}); err != nil {
		t.Fatalf("second sale: %v", err)
	}
	got, _ = h.orders.GetByID(ctx, order.ID)
	if got.QuantityRemaining.Sign() != 0 || got.Fillability != domain.FillabilityFilled {
		t.Fatalf("after last sale: qty=%s fillability=%s", got.QuantityRemaining, got.Fillability)
	}
}

func TestSaleConsumesFilledAmount(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	order := sellOrder("0xbulk", 100)
	order.QuantityRemaining = big.NewInt(5)
	h.orders.orders[order.ID] = order

	// A single ERC1155 fill of 5 units must terminate the order, not leave
	// 4 phantom units behind.
	if err := h.rec.Process(ctx, &domain.OnChainData{Orders: []domain.OrderTrigger{{
		OrderID: order.ID, Kind: domain.TriggerSale, Amount: big.NewInt(5), Base: baseAt(200),
	}}}); err != nil {
		t.Fatalf("process: %v", err)
	}
	got, _ := h.orders.GetByID(ctx, order.ID)
	if got.QuantityRemaining.Sign() != 0 || got.Fillability != domain.FillabilityFilled {
		t.Fatalf("after 5-unit fill: qty=%s fillability=%s", got.QuantityRemaining, got.Fillability)
	}
}

func TestSalePartialAmountKeepsOrderFillable(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	order := sellOrder("0xpart", 100)
	order.QuantityRemaining = big.NewInt(5)
	h.orders.orders[order.ID] = order

	if err := h.rec.Process(ctx, &domain.OnChainData{Orders: []domain.OrderTrigger{{
		OrderID: order.ID, Kind: domain.TriggerSale, Amount: big.NewInt(3), Base: baseAt(200),
	}}}); err != nil {
		t.Fatalf("process: %v", err)
	}
	got, _ := h.orders.GetByID(ctx, order.ID)
	if got.QuantityRemaining.Cmp(big.NewInt(2)) != 0 || got.Fillability != domain.FillabilityFillable {
		t.Fatalf("after 3-unit fill: qty=%s fillability=%s", got.QuantityRemaining, got.Fillability)
	}
}

func TestSaleReplayIsNoOp(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	order := sellOrder("0xsold", 300)
	h.orders.orders[order.ID] = order

	if err := h.rec.Process(ctx, &domain.OnChainData{Orders: []domain.OrderTrigger{{
		OrderID: order.ID, Kind: domain.TriggerSale, Base: baseAt(200),
	}}}); err != nil {
		t.Fatalf("process: %v", err)
	}
	got, _ := h.orders.GetByID(ctx, order.ID)
	if got.Fillability != domain.FillabilityFillable {
		t.Fatalf("stale sale transitioned the order: %s", got.Fillability)
	}
	if len(h.em.orders) != 0 {
		t.Fatalf("stale sale emitted %d order events", len(h.em.orders))
	}
}

func TestCancelSkipsTerminalOrders(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	order := sellOrder("0xdone", 100)
	order.Fillability = domain.FillabilityFilled
	h.orders.orders[order.ID] = order

	if err := h.rec.Process(ctx, &domain.OnChainData{Orders: []domain.OrderTrigger{{
		OrderID: order.ID, Kind: domain.TriggerCancel, Base: baseAt(200),
	}}}); err != nil {
		t.Fatalf("process: %v", err)
	}
	got, _ := h.orders.GetByID(ctx, order.ID)
	if got.Fillability != domain.FillabilityFilled {
		t.Fatalf("late cancel resurrected a filled order: %s", got.Fillability)
	}
}

func TestTransferFlipsBalanceAxis(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	lost := sellOrder("0xlost", 100)
	lost.Maker = "0xalice"
	h.orders.orders[lost.ID] = lost

	parked := sellOrder("0xparked", 100)
	parked.Maker = "0xbob"
	parked.Fillability = domain.FillabilityNoBalance
	h.orders.orders[parked.ID] = parked

	if err := h.rec.Process(ctx, &domain.OnChainData{Transfers: []domain.TransferEvent{{
		Kind:     domain.TransferERC721,
		From:     "0xalice",
		To:       "0xbob",
		Contract: "0xc",
		TokenID:  "1",
		Amount:   big.NewInt(1),
		Base:     baseAt(200),
	}}}); err != nil {
		t.Fatalf("process: %v", err)
	}

	gotLost, _ := h.orders.GetByID(ctx, "0xlost")
	if gotLost.Fillability != domain.FillabilityNoBalance {
		t.Fatalf("sender's ask = %s, want no-balance", gotLost.Fillability)
	}
	gotParked, _ := h.orders.GetByID(ctx, "0xparked")
	if gotParked.Fillability != domain.FillabilityFillable {
		t.Fatalf("receiver's ask = %s, want fillable", gotParked.Fillability)
	}
	if h.events.transfers != 1 {
		t.Fatalf("transfer rows = %d", h.events.transfers)
	}
}

func TestBulkCancelBelowMinNonce(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	old := sellOrder("0xnonce3", 100)
	old.Nonce = big.NewInt(3)
	h.orders.orders[old.ID] = old

	fresh := sellOrder("0xnonce9", 100)
	fresh.Nonce = big.NewInt(9)
	h.orders.orders[fresh.ID] = fresh

	if err := h.rec.Process(ctx, &domain.OnChainData{BulkCancels: []domain.BulkCancelEvent{{
		OrderKind: domain.OrderKindSeaport,
		Maker:     "0xmaker",
		MinNonce:  big.NewInt(5),
		Base:      baseAt(200),
	}}}); err != nil {
		t.Fatalf("process: %v", err)
	}

	gotOld, _ := h.orders.GetByID(ctx, "0xnonce3")
	if gotOld.Fillability != domain.FillabilityCancelled {
		t.Fatalf("nonce 3 = %s, want cancelled", gotOld.Fillability)
	}
	gotFresh, _ := h.orders.GetByID(ctx, "0xnonce9")
	if gotFresh.Fillability != domain.FillabilityFillable {
		t.Fatalf("nonce 9 = %s, want fillable", gotFresh.Fillability)
	}
}

// signCancel produces the maker signature SoftCancel expects: a personal-message
// signature over the raw order id.
func signCancel(t *testing.T, orderID string) (maker, signature string) {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	msg := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(orderID), orderID)
	sig, err := ethcrypto.Sign(ethcrypto.Keccak256([]byte(msg)), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	addr := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
	return strings.ToLower(addr), hexutil.Encode(sig)
}

func TestSoftCancel(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	order := sellOrder("0xsoft", 100)
	maker, sig := signCancel(t, order.ID)
	order.Maker = maker
	h.orders.orders[order.ID] = order

	if err := h.rec.SoftCancel(ctx, order.ID, sig); err != nil {
		t.Fatalf("SoftCancel: %v", err)
	}

	got, _ := h.orders.GetByID(ctx, order.ID)
	if got.Fillability != domain.FillabilityCancelled {
		t.Fatalf("fillability = %s", got.Fillability)
	}
	if len(h.activity.events) != 1 || h.activity.events[0].Trigger != domain.TriggerCancel {
		t.Fatalf("activity rows = %+v", h.activity.events)
	}
}

func TestSoftCancelRejectsForeignSignature(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	order := sellOrder("0xsoft", 100)
	order.Maker = "0x1111111111111111111111111111111111111111"
	h.orders.orders[order.ID] = order

	_, sig := signCancel(t, order.ID)
	if err := h.rec.SoftCancel(ctx, order.ID, sig); err == nil {
		t.Fatalf("signature from a different key must be rejected")
	}
	got, _ := h.orders.GetByID(ctx, order.ID)
	if got.Fillability != domain.FillabilityFillable {
		t.Fatalf("rejected cancel mutated the order: %s", got.Fillability)
	}
}

func TestSoftCancelInactiveOrderIsRedundant(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	order := sellOrder("0xsoft", 100)
	maker, sig := signCancel(t, order.ID)
	order.Maker = maker
	order.Fillability = domain.FillabilityFilled
	h.orders.orders[order.ID] = order

	err := h.rec.SoftCancel(ctx, order.ID, sig)
	if !errors.Is(err, domain.ErrRedundantEvent) {
		t.Fatalf("err = %v, want ErrRedundantEvent", err)
	}
}

func TestExpireDue(t *testing.T) {
	h := newHarness()

	a := sellOrder("0xa", 100)
	a.Fillability = domain.FillabilityExpired
	b := sellOrder("0xb", 100)
	b.Fillability = domain.FillabilityExpired
	b.TokenSetID = "token:0xc:2"
	h.orders.expireDue = []domain.Order{a, b}

	n, err := h.rec.ExpireDue(context.Background(), 1000)
	if err != nil {
		t.Fatalf("ExpireDue: %v", err)
	}
	if n != 2 {
		t.Fatalf("expired = %d, want 2", n)
	}
	if len(h.activity.events) != 2 {
		t.Fatalf("activity rows = %d, want 2", len(h.activity.events))
	}
	for _, ev := range h.activity.events {
		if ev.Trigger != domain.TriggerExpiry {
			t.Fatalf("trigger = %s", ev.Trigger)
		}
	}
}
