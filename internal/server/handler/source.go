package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

// SourceHandler serves the attribution source registry endpoints.
type SourceHandler struct {
	sources domain.SourceStore
	logger  *slog.Logger
}

// NewSourceHandler creates a SourceHandler.
func NewSourceHandler(sources domain.SourceStore, logger *slog.Logger) *SourceHandler {
	return &SourceHandler{sources: sources, logger: logger}
}

type sourceResponse struct {
	ID      int64  `json:"id"`
	Domain  string `json:"domain"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

// ListSources returns every registered source.
// GET /api/sources
func (h *SourceHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.sources.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list sources failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list sources")
		return
	}

	out := make([]sourceResponse, 0, len(sources))
	for _, s := range sources {
		out = append(out, sourceResponse{
			ID:      s.ID,
			Domain:  s.Domain,
			Name:    s.Name,
			Address: s.Address,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

type createSourceRequest struct {
	Domain  string `json:"domain"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// CreateSource registers a new marketplace or aggregator source.
// POST /api/sources
func (h *SourceHandler) CreateSource(w http.ResponseWriter, r *http.Request) {
	var req createSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.Domain = strings.TrimSpace(strings.ToLower(req.Domain))
	if req.Domain == "" {
		writeError(w, http.StatusBadRequest, "domain is required")
		return
	}

	created, err := h.sources.Insert(r.Context(), domain.Source{
		Domain:  req.Domain,
		Name:    req.Name,
		Address: strings.ToLower(req.Address),
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "source already registered")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: create source failed",
			slog.String("domain", req.Domain),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create source")
		return
	}

	writeJSON(w, http.StatusCreated, sourceResponse{
		ID:      created.ID,
		Domain:  created.Domain,
		Name:    created.Name,
		Address: created.Address,
	})
}
