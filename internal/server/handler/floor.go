package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

// FloorHandler serves the cached floor/top-bid view per token set.
type FloorHandler struct {
	tokens domain.TokenStore
	logger *slog.Logger
}

// NewFloorHandler creates a FloorHandler.
func NewFloorHandler(tokens domain.TokenStore, logger *slog.Logger) *FloorHandler {
	return &FloorHandler{tokens: tokens, logger: logger}
}

type floorResponse struct {
	TokenSetID string `json:"tokenSetId"`

	FloorAskID    string `json:"floorAskId,omitempty"`
	FloorAskValue string `json:"floorAskValue,omitempty"`
	FloorAskMaker string `json:"floorAskMaker,omitempty"`

	NormalizedFloorAskID    string `json:"normalizedFloorAskId,omitempty"`
	NormalizedFloorAskValue string `json:"normalizedFloorAskValue,omitempty"`

	TopBidID    string `json:"topBidId,omitempty"`
	TopBidValue string `json:"topBidValue,omitempty"`
	TopBidMaker string `json:"topBidMaker,omitempty"`

	UpdatedAt string `json:"updatedAt"`
}

// GetFloor returns the cached floor state of a token set.
// GET /api/tokensets/{id}/floor
func (h *FloorHandler) GetFloor(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing token set id")
		return
	}

	state, err := h.tokens.FloorState(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "token set not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get floor failed",
			slog.String("token_set_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load floor state")
		return
	}

	writeJSON(w, http.StatusOK, floorResponse{
		TokenSetID:              state.TokenSetID,
		FloorAskID:              state.FloorAskID,
		FloorAskValue:           bigString(state.FloorAskValue),
		FloorAskMaker:           state.FloorAskMaker,
		NormalizedFloorAskID:    state.NormalizedFloorAskID,
		NormalizedFloorAskValue: bigString(state.NormalizedFloorAskValue),
		TopBidID:                state.TopBidID,
		TopBidValue:             bigString(state.TopBidValue),
		TopBidMaker:             state.TopBidMaker,
		UpdatedAt:               state.UpdatedAt.UTC().Format(time.RFC3339),
	})
}
