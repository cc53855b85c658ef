package floor

import (
	"context"
	"log/slog"
	"math/big"
	"testing"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

// pickOrderStore serves canned floor/top-bid selections; the mutation methods
// are never reached by the updater.
type pickOrderStore struct {
	ask     domain.OrderPick
	normAsk domain.OrderPick
	bid     domain.OrderPick
}

func (s *pickOrderStore) GetByID(context.Context, string) (domain.Order, error) {
	return domain.Order{}, domain.ErrNotFound
}
func (s *pickOrderStore) Upsert(context.Context, domain.Order) error { return nil }
func (s *pickOrderStore) CancelByNonceBelow(context.Context, domain.OrderKind, string, *big.Int, domain.EventOrdinal) ([]domain.Order, error) {
	return nil, nil
}
func (s *pickOrderStore) CancelByNonces(context.Context, domain.OrderKind, string, []*big.Int, domain.EventOrdinal) ([]domain.Order, error) {
	return nil, nil
}
func (s *pickOrderStore) UpdateApproval(context.Context, string, string, domain.ApprovalStatus, domain.EventOrdinal) ([]domain.Order, error) {
	return nil, nil
}
func (s *pickOrderStore) UpdateFillabilityByMakerToken(context.Context, string, string, string, domain.FillabilityStatus, domain.FillabilityStatus, domain.EventOrdinal) ([]domain.Order, error) {
	return nil, nil
}
func (s *pickOrderStore) ExpireDue(context.Context, int64) ([]domain.Order, error) {
	return nil, nil
}

func (s *pickOrderStore) BestAsk(_ context.Context, _ string, normalized bool, _ []domain.OrderKind, _ int64) (domain.OrderPick, error) {
	if normalized {
		if s.normAsk.OrderID == "" {
			return domain.OrderPick{}, domain.ErrNotFound
		}
		return s.normAsk, nil
	}
	if s.ask.OrderID == "" {
		return domain.OrderPick{}, domain.ErrNotFound
	}
	return s.ask, nil
}

func (s *pickOrderStore) TopBid(context.Context, string, int64) (domain.OrderPick, error) {
	if s.bid.OrderID == "" {
		return domain.OrderPick{}, domain.ErrNotFound
	}
	return s.bid, nil
}

type memTokenStore struct {
	states map[string]domain.FloorState
	saves  int
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{states: make(map[string]domain.FloorState)}
}

func (s *memTokenStore) FloorState(_ context.Context, tokenSetID string) (domain.FloorState, error) {
	st, ok := s.states[tokenSetID]
	if !ok {
		return domain.FloorState{}, domain.ErrNotFound
	}
	return st, nil
}

func (s *memTokenStore) SaveFloorState(_ context.Context, state domain.FloorState) error {
	s.states[state.TokenSetID] = state
	s.saves++
	return nil
}

type changeEmitter struct {
	changes []domain.FloorChange
}

func (e *changeEmitter) EmitSales(context.Context, []domain.FillEvent) error { return nil }
func (e *changeEmitter) EmitOrder(context.Context, domain.Order, domain.TriggerKind) error {
	return nil
}
func (e *changeEmitter) EmitTransfers(context.Context, []domain.TransferEvent) error { return nil }
func (e *changeEmitter) EmitFloorChange(_ context.Context, ch domain.FloorChange) error {
	e.changes = append(e.changes, ch)
	return nil
}

var discard = slog.New(slog.DiscardHandler)

func TestRecomputeDetectsNewFloor(t *testing.T) {
	orders := &pickOrderStore{
		ask: domain.OrderPick{OrderID: "0xask", Value: big.NewInt(100), Maker: "0xm"},
		bid: domain.OrderPick{OrderID: "0xbid", Value: big.NewInt(80), Maker: "0xb"},
	}
	tokens := newMemTokenStore()
	em := &changeEmitter{}
	u := NewUpdater(orders, tokens, em, nil, discard)

	if err := u.Recompute(context.Background(), "token:0xabc:1", 1700000000); err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	// Floor ask and top bid moved; the normalized ask stayed empty.
	if len(em.changes) != 2 {
		t.Fatalf("changes = %d (%+v), want 2", len(em.changes), em.changes)
	}

	state := tokens.states["token:0xabc:1"]
	if state.FloorAskID != "0xask" || state.FloorAskValue.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("saved state = %+v", state)
	}
	if state.TopBidID != "0xbid" {
		t.Fatalf("top bid = %s", state.TopBidID)
	}
}

func TestRecomputeNoChangeNoSave(t *testing.T) {
	orders := &pickOrderStore{
		ask: domain.OrderPick{OrderID: "0xask", Value: big.NewInt(100)},
	}
	tokens := newMemTokenStore()
	em := &changeEmitter{}
	u := NewUpdater(orders, tokens, em, nil, discard)

	ctx := context.Background()
	if err := u.Recompute(ctx, "ts", 0); err != nil {
		t.Fatalf("first recompute: %v", err)
	}
	savesAfterFirst := tokens.saves
	em.changes = nil

	if err := u.Recompute(ctx, "ts", 0); err != nil {
		t.Fatalf("second recompute: %v", err)
	}
	if len(em.changes) != 0 {
		t.Fatalf("unchanged floor emitted %d changes", len(em.changes))
	}
	if tokens.saves != savesAfterFirst {
		t.Fatalf("unchanged floor was re-saved")
	}
}

func TestRecomputeFloorCleared(t *testing.T) {
	orders := &pickOrderStore{
		ask: domain.OrderPick{OrderID: "0xask", Value: big.NewInt(100)},
	}
	tokens := newMemTokenStore()
	em := &changeEmitter{}
	u := NewUpdater(orders, tokens, em, nil, discard)

	ctx := context.Background()
	if err := u.Recompute(ctx, "ts", 0); err != nil {
		t.Fatalf("seed recompute: %v", err)
	}

	// The only ask disappears: the cached floor must clear, not linger.
	orders.ask = domain.OrderPick{}
	em.changes = nil
	if err := u.Recompute(ctx, "ts", 0); err != nil {
		t.Fatalf("clearing recompute: %v", err)
	}
	if len(em.changes) != 1 || em.changes[0].NewID != "" || em.changes[0].PreviousID != "0xask" {
		t.Fatalf("changes = %+v", em.changes)
	}
	if got := tokens.states["ts"].FloorAskID; got != "" {
		t.Fatalf("floor ask should be cleared, got %s", got)
	}
}

func TestPickChanged(t *testing.T) {
	tests := []struct {
		name     string
		cachedID string
		cachedV  *big.Int
		pick     domain.OrderPick
		want     bool
	}{
		{"both empty", "", nil, domain.OrderPick{}, false},
		{"new pick", "", nil, domain.OrderPick{OrderID: "a", Value: big.NewInt(1)}, true},
		{"cleared pick", "a", big.NewInt(1), domain.OrderPick{}, true},
		{"same id same value", "a", big.NewInt(1), domain.OrderPick{OrderID: "a", Value: big.NewInt(1)}, false},
		{"same id repriced", "a", big.NewInt(1), domain.OrderPick{OrderID: "a", Value: big.NewInt(2)}, true},
		{"different id", "a", big.NewInt(1), domain.OrderPick{OrderID: "b", Value: big.NewInt(1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pickChanged(tt.cachedID, tt.cachedV, tt.pick); got != tt.want {
				t.Fatalf("pickChanged = %v, want %v", got, tt.want)
			}
		})
	}
}
