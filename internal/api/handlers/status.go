package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/eargollo/sumcheck/internal/jobs"
	"github.com/eargollo/sumcheck/internal/scan"
	"github.com/eargollo/sumcheck/internal/scheduler"
)

// StatusHandler handles GET /api/status.
type StatusHandler struct {
	Manager *scan.Manager
	Jobs    *jobs.Runner
	Sched   *scheduler.Scheduler // optional
	Version string
}

type statusResponse struct {
	Version    string         `json:"version"`
	ActiveRun  *activeRunInfo `json:"active_run"`
	CurrentJob string         `json:"current_job,omitempty"`
	Queue      map[string]int `json:"queue"`
	Schedule   *scheduleInfo  `json:"schedule"`
	LastRun    *scan.Snapshot `json:"last_run,omitempty"`
}

type activeRunInfo struct {
	*scan.ActiveRun
	Paused      bool                `json:"paused"`
	Percent     float64             `json:"percent"`
	Progress    scan.Snapshot       `json:"progress"`
	ActiveFiles []scan.FileProgress `json:"active_files"`
}

type scheduleInfo struct {
	Cron      string     `json:"cron"`
	NextRunAt *time.Time `json:"next_run_at"`
}

// ServeHTTP returns the system status as JSON.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	eng := h.Manager.Engine()
	resp := statusResponse{
		Version: h.Version,
		Queue:   map[string]int{},
	}
	if act := h.Manager.Active(); act != nil {
		p := eng.Progress()
		resp.ActiveRun = &activeRunInfo{
			ActiveRun:   act,
			Paused:      eng.Paused(),
			Percent:     p.Percent(),
			Progress:    p,
			ActiveFiles: h.Manager.ActiveFiles(),
		}
	} else if eng.State() != scan.Idle {
		p := eng.Progress()
		resp.LastRun = &p
	}
	if h.Jobs != nil {
		resp.CurrentJob = h.Jobs.Current()
		list, err := h.Jobs.Queue().List(r.Context())
		if err != nil {
			slog.Error("status: list jobs", "error", err)
		}
		for _, j := range list {
			resp.Queue[string(j.Status)]++
		}
	}
	if h.Sched != nil && h.Sched.CronExpr() != "" {
		resp.Schedule = &scheduleInfo{Cron: h.Sched.CronExpr(), NextRunAt: h.Sched.NextRunAt()}
	}
	writeJSON(w, http.StatusOK, resp)
}
