package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/eargollo/sumcheck/internal/config"
	"github.com/eargollo/sumcheck/internal/db"
	"github.com/eargollo/sumcheck/internal/digest"
	"github.com/eargollo/sumcheck/internal/history"
	"github.com/eargollo/sumcheck/internal/jobs"
	"github.com/eargollo/sumcheck/internal/logging"
	"github.com/eargollo/sumcheck/internal/progress"
	"github.com/eargollo/sumcheck/internal/scan"
	"github.com/eargollo/sumcheck/internal/store"
	"github.com/eargollo/sumcheck/internal/topology"
)

type globalOptions struct {
	configPath string
	logLevel   string
}

// runOptions are the per-run overrides shared by create, verify and jobs.
type runOptions struct {
	algo       string
	mode       string
	include    string
	exclude    string
	noRecurse  bool
	noProgress bool
}

// env is everything a command needs, built from the config file.
type env struct {
	cfg     *config.Config
	logs    *logging.Manager
	logger  *slog.Logger
	db      *sql.DB
	history *history.Store
	engine  *scan.Engine
	manager *scan.Manager
	runner  *jobs.Runner
	mode    scan.Mode
}

func openEnv(ctx context.Context, g *globalOptions, ro *runOptions) (*env, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	logs, logger := logging.New(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	if ro != nil {
		applyRunOptions(cfg, ro)
	}
	mode, err := scan.ParseMode(cfg.IOMode)
	if err != nil {
		logs.Close()
		return nil, err
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.RunMigrations(database); err != nil {
		database.Close()
		logs.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	hist := history.New(database)
	if err := hist.MarkStaleRunsFailed(ctx); err != nil {
		logger.Warn("mark stale runs", "error", err)
	}
	eng := scan.NewEngine(cfg.ScanConfig(), store.New(nil), topology.NewCache(topology.SysfsProber{}), logger)
	mgr := scan.NewManager(eng, hist, logger)
	e := &env{
		cfg:     cfg,
		logs:    logs,
		logger:  logger,
		db:      database,
		history: hist,
		engine:  eng,
		manager: mgr,
		runner:  jobs.NewRunner(jobs.NewQueue(database), mgr, mode, logger),
		mode:    mode,
	}
	return e, nil
}

func applyRunOptions(cfg *config.Config, ro *runOptions) {
	if ro.algo != "" {
		cfg.Algorithm = ro.algo
	}
	if ro.mode != "" {
		cfg.IOMode = ro.mode
	}
	if ro.include != "" {
		cfg.Include = ro.include
	}
	if ro.exclude != "" {
		cfg.Exclude = ro.exclude
	}
	if ro.noRecurse {
		f := false
		cfg.Recursive = &f
	}
}

func (e *env) Close() error {
	return errors.Join(e.db.Close(), e.logs.Close())
}

// algorithm returns the configured algorithm. explicit reports whether the
// user chose it rather than the default.
func (e *env) algorithm(ro *runOptions) (digest.Algorithm, bool, error) {
	a, err := digest.Parse(e.cfg.Algorithm)
	return a, ro.algo != "", err
}

// progressSink returns a console bar when stderr is a terminal.
func progressSink(ro *runOptions, label string) (*progress.Bar, scan.Sink) {
	if ro.noProgress || !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil, nil
	}
	b := progress.New(os.Stderr, label, 120*time.Millisecond)
	return b, b
}

func closeBar(b *progress.Bar, w io.Writer) {
	if b == nil {
		return
	}
	_ = b.Close()
	fmt.Fprintln(w)
}

func addRunFlags(cmd *cobra.Command, ro *runOptions) {
	cmd.Flags().StringVarP(&ro.algo, "algo", "a", "", "digest algorithm: crc32, md5, sha1, sha256, xxh3")
	cmd.Flags().StringVarP(&ro.mode, "mode", "m", "", "I/O mode: auto, sequential (hdd) or parallel (ssd)")
	cmd.Flags().BoolVar(&ro.noProgress, "no-progress", false, "do not draw a progress bar")
}
