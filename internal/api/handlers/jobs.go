package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eargollo/sumcheck/internal/digest"
	"github.com/eargollo/sumcheck/internal/jobs"
)

// JobsHandler serves the batch job queue.
type JobsHandler struct {
	Runner *jobs.Runner
}

type createJobRequest struct {
	Name       string   `json:"name"`
	RootPath   string   `json:"root_path"`
	Inputs     []string `json:"inputs"`
	Algorithm  string   `json:"algorithm"`
	Mode       string   `json:"mode"`
	OutputPath string   `json:"output_path"`
}

// List handles GET /api/jobs in queue order.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.Runner.Queue().List(r.Context())
	if err != nil {
		slog.Error("jobs list", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[jobs.Job]{
		Items: list,
		Total: len(list),
		Limit: len(list),
	})
}

// Create handles POST /api/jobs.
func (h *JobsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Request body must be a JSON object")
		return
	}
	j := jobs.Job{
		Name:       req.Name,
		RootPath:   req.RootPath,
		Inputs:     req.Inputs,
		Mode:       jobs.Mode(req.Mode),
		OutputPath: req.OutputPath,
	}
	if req.Algorithm != "" {
		a, err := digest.Parse(req.Algorithm)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_JOB", err.Error())
			return
		}
		j.Algorithm = a
	}
	out, err := h.Runner.Submit(r.Context(), j)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JOB", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// Get handles GET /api/jobs/{id}.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	j, err := h.Runner.Queue().Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// Delete handles DELETE /api/jobs/{id}. Running jobs cannot be removed.
func (h *JobsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.Runner.Queue().Remove(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Job not found")
	case errors.Is(err, jobs.ErrRunning):
		writeError(w, http.StatusConflict, "JOB_RUNNING", "Job is running; cancel the current run first")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
