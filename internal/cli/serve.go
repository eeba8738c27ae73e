package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/eargollo/sumcheck/internal/api"
	"github.com/eargollo/sumcheck/internal/inbox"
	"github.com/eargollo/sumcheck/internal/scheduler"
)

func newServeCmd(g *globalOptions, version string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, scheduler, inbox watcher and job runner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := openEnv(ctx, g, nil)
			if err != nil {
				return err
			}
			defer e.Close()
			if addr != "" {
				e.cfg.HTTPAddr = addr
			}
			return serve(ctx, e, version)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http_addr)")
	return cmd
}

func serve(ctx context.Context, e *env, version string) error {
	log := e.logger
	log.Info("sumcheck starting",
		"version", version,
		"http_addr", e.cfg.HTTPAddr,
		"db_path", e.cfg.DBPath,
		"io_mode", e.mode)

	if n, err := e.runner.Queue().RequeueInterrupted(ctx); err != nil {
		log.Warn("requeue interrupted jobs", "error", err)
	} else if n > 0 {
		log.Info("requeued interrupted jobs", "count", n)
	}

	sched := scheduler.New(log)
	if e.cfg.Schedule != "" && len(e.cfg.ChecksumFiles) > 0 {
		if err := sched.ScheduleVerify(e.cfg.Schedule, e.cfg.ChecksumFiles, e.runner); err != nil {
			log.Warn("invalid cron expression", "expr", e.cfg.Schedule, "error", err)
		}
	}
	sched.Start()
	defer sched.Stop()

	srv := api.New(e.cfg.HTTPAddr, api.Deps{
		Manager: e.manager,
		Jobs:    e.runner,
		History: e.history,
		Sched:   sched,
		Version: version,
	}, log)

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return srv.Run(gctx) })
	grp.Go(func() error { return e.runner.Loop(gctx) })
	if e.cfg.InboxDir != "" {
		w := inbox.NewService(e.cfg.InboxDir, e.runner, log)
		grp.Go(func() error { return w.Start(gctx) })
	}
	err := grp.Wait()
	log.Info("sumcheck stopped")
	return err
}
