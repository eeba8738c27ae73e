package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eargollo/sumcheck/internal/history"
)

// RunsHandler serves run history.
type RunsHandler struct {
	History *history.Store
}

// List handles GET /api/runs, newest first.
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	items, total, err := h.History.List(r.Context(), limit, offset)
	if err != nil {
		slog.Error("runs list", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if items == nil {
		items = []history.Run{}
	}
	writeJSON(w, http.StatusOK, ListResponse[history.Run]{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// Get handles GET /api/runs/{id}.
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, err := h.History.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}
