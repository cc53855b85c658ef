package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

// OrderCanceller verifies a maker signature and soft-cancels the order.
type OrderCanceller interface {
	SoftCancel(ctx context.Context, orderID, signature string) error
}

// OrderHandler serves order lookup and off-chain cancellation endpoints.
type OrderHandler struct {
	orders    domain.OrderStore
	canceller OrderCanceller
	logger    *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(orders domain.OrderStore, canceller OrderCanceller, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders:    orders,
		canceller: canceller,
		logger:    logger,
	}
}

// orderResponse is the JSON projection of a canonical order. Wei amounts are
// decimal strings.
type orderResponse struct {
	ID                string             `json:"id"`
	Kind              domain.OrderKind   `json:"kind"`
	Side              domain.Side        `json:"side"`
	Maker             string             `json:"maker"`
	Taker             string             `json:"taker,omitempty"`
	Price             string             `json:"price,omitempty"`
	Value             string             `json:"value,omitempty"`
	NormalizedValue   string             `json:"normalizedValue,omitempty"`
	Currency          string             `json:"currency"`
	FeeBps            int64              `json:"feeBps"`
	FeeBreakdown      []domain.FeeEntry  `json:"feeBreakdown,omitempty"`
	Nonce             string             `json:"nonce,omitempty"`
	QuantityRemaining string             `json:"quantityRemaining,omitempty"`
	ValidFrom         int64              `json:"validFrom"`
	ValidUntil        int64              `json:"validUntil"`
	Fillability       string             `json:"fillability"`
	Approval          string             `json:"approval"`
	RejectionReason   string             `json:"rejectionReason,omitempty"`
	TokenSetID        string             `json:"tokenSetId"`
	Contract          string             `json:"contract"`
	TokenID           string             `json:"tokenId"`
	SourceID          int64              `json:"sourceId,omitempty"`
}

func toOrderResponse(o domain.Order) orderResponse {
	return orderResponse{
		ID:                o.ID,
		Kind:              o.Kind,
		Side:              o.Side,
		Maker:             o.Maker,
		Taker:             o.Taker,
		Price:             bigString(o.Price),
		Value:             bigString(o.Value),
		NormalizedValue:   bigString(o.NormalizedValue),
		Currency:          o.Currency,
		FeeBps:            o.FeeBps,
		FeeBreakdown:      o.FeeBreakdown,
		Nonce:             bigString(o.Nonce),
		QuantityRemaining: bigString(o.QuantityRemaining),
		ValidFrom:         o.ValidFrom,
		ValidUntil:        o.ValidUntil,
		Fillability:       string(o.Fillability),
		Approval:          string(o.Approval),
		RejectionReason:   o.RejectionReason,
		TokenSetID:        o.TokenSetID,
		Contract:          o.Contract,
		TokenID:           o.TokenID,
		SourceID:          o.SourceID,
	}
}

// GetOrder returns one order by its deterministic id.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get order failed",
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load order")
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// softCancelRequest carries the maker's signature over the cancellation
// intent.
type softCancelRequest struct {
	Signature string `json:"signature"`
}

// SoftCancel marks an order cancelled off-chain after verifying the maker's
// signature.
// POST /api/orders/{id}/cancel
func (h *OrderHandler) SoftCancel(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req softCancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Signature == "" {
		writeError(w, http.StatusBadRequest, "signature is required")
		return
	}

	if err := h.canceller.SoftCancel(r.Context(), id, req.Signature); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: soft cancel failed",
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to cancel order")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "cancelled",
		"order_id": id,
	})
}
