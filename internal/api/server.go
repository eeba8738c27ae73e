// Package api exposes run control, the job queue and run history over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/eargollo/sumcheck/internal/api/handlers"
	"github.com/eargollo/sumcheck/internal/history"
	"github.com/eargollo/sumcheck/internal/jobs"
	"github.com/eargollo/sumcheck/internal/scan"
	"github.com/eargollo/sumcheck/internal/scheduler"
)

// Deps are the services the handlers call into. Sched may be nil.
type Deps struct {
	Manager *scan.Manager
	Jobs    *jobs.Runner
	History *history.Store
	Sched   *scheduler.Scheduler
	Version string
}

// Server holds the HTTP server and all handler dependencies.
type Server struct {
	addr   string
	srv    *http.Server
	logger *slog.Logger
}

// New wires all routes and returns a Server ready to Run.
func New(addr string, d Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:   addr,
		srv:    &http.Server{Addr: addr, Handler: Router(d), ReadHeaderTimeout: 10 * time.Second},
		logger: logger.With("component", "http"),
	}
}

// Router builds the route tree.
func Router(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	statusH := &handlers.StatusHandler{Manager: d.Manager, Jobs: d.Jobs, Sched: d.Sched, Version: d.Version}
	jobsH := &handlers.JobsHandler{Runner: d.Jobs}
	runH := &handlers.RunHandler{Manager: d.Manager, Jobs: d.Jobs}
	runsH := &handlers.RunsHandler{History: d.History}
	entriesH := &handlers.EntriesHandler{Manager: d.Manager}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", statusH.ServeHTTP)

		r.Get("/jobs", jobsH.List)
		r.Post("/jobs", jobsH.Create)
		r.Get("/jobs/{id}", jobsH.Get)
		r.Delete("/jobs/{id}", jobsH.Delete)

		r.Post("/run/pause", runH.Pause)
		r.Post("/run/resume", runH.Resume)
		r.Delete("/run/current", runH.Cancel)
		r.Get("/run/entries", entriesH.List)
		r.Delete("/run/entries", entriesH.Prune)
		r.Delete("/run/entries/{index}", entriesH.Delete)

		r.Get("/runs", runsH.List)
		r.Get("/runs/{id}", runsH.Get)
	})
	return r
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}
