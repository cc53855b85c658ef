package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

type fakeOrderStore struct {
	orders map[string]domain.Order
}

func (f *fakeOrderStore) GetByID(_ context.Context, id string) (domain.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrderStore) Upsert(context.Context, domain.Order) error { return nil }

func (f *fakeOrderStore) CancelByNonceBelow(context.Context, domain.OrderKind, string, *big.Int, domain.EventOrdinal) ([]domain.Order, error) {
	return nil, nil
}

func (f *fakeOrderStore) CancelByNonces(context.Context, domain.OrderKind, string, []*big.Int, domain.EventOrdinal) ([]domain.Order, error) {
	return nil, nil
}

func (f *fakeOrderStore) UpdateApproval(context.Context, string, string, domain.ApprovalStatus, domain.EventOrdinal) ([]domain.Order, error) {
	return nil, nil
}

func (f *fakeOrderStore) UpdateFillabilityByMakerToken(context.Context, string, string, string, domain.FillabilityStatus, domain.FillabilityStatus, domain.EventOrdinal) ([]domain.Order, error) {
	return nil, nil
}

func (f *fakeOrderStore) ExpireDue(context.Context, int64) ([]domain.Order, error) {
	return nil, nil
}

func (f *fakeOrderStore) BestAsk(context.Context, string, bool, []domain.OrderKind, int64) (domain.OrderPick, error) {
	return domain.OrderPick{}, domain.ErrNotFound
}

func (f *fakeOrderStore) TopBid(context.Context, string, int64) (domain.OrderPick, error) {
	return domain.OrderPick{}, domain.ErrNotFound
}

type fakeCanceller struct {
	gotOrderID   string
	gotSignature string
	err          error
}

func (f *fakeCanceller) SoftCancel(_ context.Context, orderID, signature string) error {
	f.gotOrderID = orderID
	f.gotSignature = signature
	return f.err
}

func newOrderRequest(method, target, id, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	req.SetPathValue("id", id)
	return req
}

func TestGetOrder(t *testing.T) {
	store := &fakeOrderStore{orders: map[string]domain.Order{
		"0xdeadbeef": {
			ID:          "0xdeadbeef",
			Kind:        domain.OrderKindSeaport,
			Side:        domain.SideSell,
			Maker:       "0xmaker",
			Price:       big.NewInt(1000),
			Value:       big.NewInt(950),
			Currency:    "eth",
			Fillability: domain.FillabilityFillable,
			Approval:    domain.ApprovalApproved,
			TokenSetID:  "token:0xabc:1",
			Contract:    "0xabc",
			TokenID:     "1",
		},
	}}
	h := NewOrderHandler(store, &fakeCanceller{}, slog.New(slog.DiscardHandler))

	rr := httptest.NewRecorder()
	h.GetOrder(rr, newOrderRequest(http.MethodGet, "/api/orders/0xdeadbeef", "0xdeadbeef", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["id"] != "0xdeadbeef" || resp["price"] != "1000" || resp["value"] != "950" {
		t.Fatalf("unexpected response: %v", resp)
	}
	if _, present := resp["nonce"]; present {
		t.Fatalf("nil nonce must be omitted, got %v", resp["nonce"])
	}
}

func TestGetOrderNotFound(t *testing.T) {
	h := NewOrderHandler(&fakeOrderStore{}, &fakeCanceller{}, slog.New(slog.DiscardHandler))

	rr := httptest.NewRecorder()
	h.GetOrder(rr, newOrderRequest(http.MethodGet, "/api/orders/0xmissing", "0xmissing", ""))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestSoftCancel(t *testing.T) {
	canceller := &fakeCanceller{}
	h := NewOrderHandler(&fakeOrderStore{}, canceller, slog.New(slog.DiscardHandler))

	rr := httptest.NewRecorder()
	h.SoftCancel(rr, newOrderRequest(http.MethodPost, "/api/orders/0xid/cancel", "0xid", `{"signature":"0xsig"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if canceller.gotOrderID != "0xid" || canceller.gotSignature != "0xsig" {
		t.Fatalf("canceller got (%s, %s)", canceller.gotOrderID, canceller.gotSignature)
	}
}

func TestSoftCancelRequiresSignature(t *testing.T) {
	h := NewOrderHandler(&fakeOrderStore{}, &fakeCanceller{}, slog.New(slog.DiscardHandler))

	rr := httptest.NewRecorder()
	h.SoftCancel(rr, newOrderRequest(http.MethodPost, "/api/orders/0xid/cancel", "0xid", `{}`))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestSoftCancelUnknownOrder(t *testing.T) {
	h := NewOrderHandler(&fakeOrderStore{}, &fakeCanceller{err: domain.ErrNotFound}, slog.New(slog.DiscardHandler))

	rr := httptest.NewRecorder()
	h.SoftCancel(rr, newOrderRequest(http.MethodPost, "/api/orders/0xid/cancel", "0xid", `{"signature":"0xsig"}`))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

type fakeSourceStore struct {
	sources []domain.Source
	dup     bool
}

func (f *fakeSourceStore) List(context.Context) ([]domain.Source, error) {
	return f.sources, nil
}

func (f *fakeSourceStore) GetByDomain(_ context.Context, d string) (domain.Source, error) {
	for _, s := range f.sources {
		if s.Domain == d {
			return s, nil
		}
	}
	return domain.Source{}, domain.ErrNotFound
}

func (f *fakeSourceStore) Insert(_ context.Context, s domain.Source) (domain.Source, error) {
	if f.dup {
		return domain.Source{}, domain.ErrAlreadyExists
	}
	s.ID = int64(len(f.sources) + 1)
	f.sources = append(f.sources, s)
	return s, nil
}

func (f *fakeSourceStore) ListRouters(context.Context) ([]domain.Source, error) {
	return nil, nil
}

func TestCreateSource(t *testing.T) {
	store := &fakeSourceStore{}
	h := NewSourceHandler(store, slog.New(slog.DiscardHandler))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/sources",
		strings.NewReader(`{"domain":" OpenSea.io ","name":"OpenSea","address":"0xABC"}`))
	h.CreateSource(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp sourceResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Domain != "opensea.io" || resp.Address != "0xabc" || resp.ID != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestCreateSourceRejectsEmptyDomain(t *testing.T) {
	h := NewSourceHandler(&fakeSourceStore{}, slog.New(slog.DiscardHandler))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/sources", strings.NewReader(`{"name":"x"}`))
	h.CreateSource(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestCreateSourceConflict(t *testing.T) {
	h := NewSourceHandler(&fakeSourceStore{dup: true}, slog.New(slog.DiscardHandler))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/sources", strings.NewReader(`{"domain":"opensea.io"}`))
	h.CreateSource(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
}
