package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/eargollo/sumcheck/internal/jobs"
	"github.com/eargollo/sumcheck/internal/scan"
)

// RunHandler controls the active run, whichever front end started it.
type RunHandler struct {
	Manager *scan.Manager
	Jobs    *jobs.Runner // optional
}

func (h *RunHandler) fromJob() bool {
	return h.Jobs != nil && h.Jobs.Current() != ""
}

// Pause handles POST /api/run/pause.
func (h *RunHandler) Pause(w http.ResponseWriter, r *http.Request) {
	var err error
	if h.fromJob() {
		err = h.Jobs.Pause(r.Context())
	} else {
		err = h.Manager.Pause()
	}
	h.reply(w, err, "paused")
}

// Resume handles POST /api/run/resume.
func (h *RunHandler) Resume(w http.ResponseWriter, r *http.Request) {
	var err error
	if h.fromJob() {
		err = h.Jobs.Resume(r.Context())
	} else {
		err = h.Manager.Resume()
	}
	h.reply(w, err, "running")
}

// Cancel handles DELETE /api/run/current.
func (h *RunHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Manager.Cancel()
	if err != nil {
		h.reply(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          snap.ID,
		"label":       snap.Label,
		"status":      "cancelled",
		"started_at":  snap.StartedAt.UTC().Format(time.RFC3339),
		"finished_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *RunHandler) reply(w http.ResponseWriter, err error, state string) {
	switch {
	case errors.Is(err, scan.ErrNoActiveRun):
		writeError(w, http.StatusNotFound, "NO_ACTIVE_RUN", "No run is currently active")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": state})
	}
}
