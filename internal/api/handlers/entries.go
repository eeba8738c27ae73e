package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/eargollo/sumcheck/internal/scan"
	"github.com/eargollo/sumcheck/internal/store"
)

// EntriesHandler exposes the per-file rows of the current or last run.
type EntriesHandler struct {
	Manager *scan.Manager
}

type entryView struct {
	Index         int    `json:"index"`
	Path          string `json:"path"`
	BaseDirectory string `json:"base_directory,omitempty"`
	Status        string `json:"status"`
	Expected      string `json:"expected,omitempty"`
	Digest        string `json:"digest,omitempty"`
	Elapsed       string `json:"elapsed,omitempty"`
}

// statusFilter reads ?status=. ok is false when the value is not a status.
func statusFilter(r *http.Request) (st store.Status, set, ok bool) {
	v := r.URL.Query().Get("status")
	if v == "" {
		return 0, false, true
	}
	st, ok = store.ParseStatus(v)
	return st, true, ok
}

// List handles GET /api/run/entries?limit=N&offset=M[&status=bad].
func (h *EntriesHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	want, filtered, ok := statusFilter(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_STATUS", "unknown entry status")
		return
	}
	st := h.Manager.Engine().Store()

	var total int
	var page []int
	if !filtered {
		total = st.Len()
		for i := offset; i < total && len(page) < limit; i++ {
			page = append(page, i)
		}
	} else {
		st.Each(func(e store.Entry) bool {
			if e.Status != want {
				return true
			}
			if total >= offset && len(page) < limit {
				page = append(page, e.Index)
			}
			total++
			return true
		})
	}

	items := make([]entryView, 0, len(page))
	for _, i := range page {
		e, ok := st.Snapshot(i)
		if !ok {
			continue
		}
		items = append(items, entryView{
			Index:         e.Index,
			Path:          e.RelativePath,
			BaseDirectory: e.BaseDirectory,
			Status:        e.Status.String(),
			Expected:      st.Format(e.Expected),
			Digest:        st.DigestHex(i),
			Elapsed:       e.ElapsedText(),
		})
	}
	writeJSON(w, http.StatusOK, ListResponse[entryView]{Items: items, Total: total, Limit: limit, Offset: offset})
}

// Prune handles DELETE /api/run/entries?status=ok, dropping every row with
// that status from the last run.
func (h *EntriesHandler) Prune(w http.ResponseWriter, r *http.Request) {
	want, filtered, ok := statusFilter(r)
	if !ok || !filtered {
		writeError(w, http.StatusBadRequest, "INVALID_STATUS", "status query parameter is required")
		return
	}
	n, err := h.Manager.Prune(func(e store.Entry) bool { return e.Status == want })
	if errors.Is(err, scan.ErrAlreadyRunning) {
		writeError(w, http.StatusConflict, "RUN_ACTIVE", "Entries cannot be removed while a run is active")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// Delete handles DELETE /api/run/entries/{index}.
func (h *EntriesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	i, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || i < 0 {
		writeError(w, http.StatusBadRequest, "INVALID_INDEX", "index must be a non-negative integer")
		return
	}
	ok, err := h.Manager.RemoveEntry(i)
	switch {
	case errors.Is(err, scan.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "RUN_ACTIVE", "Entries cannot be removed while a run is active")
	case !ok:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Entry not found")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
