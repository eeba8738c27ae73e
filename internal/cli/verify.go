package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eargollo/sumcheck/internal/digest"
	"github.com/eargollo/sumcheck/internal/gate"
	"github.com/eargollo/sumcheck/internal/scan"
	"github.com/eargollo/sumcheck/internal/sumfile"
)

// errVerifyFailed is returned when any entry is bad, missing or unreadable.
var errVerifyFailed = errors.New("verification failed")

func newVerifyCmd(g *globalOptions) *cobra.Command {
	var ro runOptions
	cmd := &cobra.Command{
		Use:   "verify SUMFILE",
		Short: "Check files against a checksum file",
		Long: `Verify every entry of a checksum file. Entry paths are relative to the
checksum file's directory. The command exits non-zero when any file is
bad, missing or unreadable.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, g, &ro, args[0])
		},
	}
	addRunFlags(cmd, &ro)
	return cmd
}

func runVerify(cmd *cobra.Command, g *globalOptions, ro *runOptions, path string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := openEnv(ctx, g, ro)
	if err != nil {
		return err
	}
	defer e.Close()

	var algo digest.Algorithm
	if ro.algo != "" {
		if algo, _, err = e.algorithm(ro); err != nil {
			return err
		}
	}
	sf, err := sumfile.Load(path, algo)
	if err != nil {
		return err
	}
	if n := len(sf.Invalid); n > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d malformed lines skipped\n", n)
	}

	bar, sink := progressSink(ro, "verify")
	sum, err := e.manager.Run(ctx, "cli:verify", scan.Request{
		Sums:    sf,
		SumPath: path,
		Mode:    e.mode,
		Sink:    sink,
	})
	closeBar(bar, cmd.ErrOrStderr())
	if err != nil && !errors.Is(err, gate.ErrCancelled) {
		return err
	}

	printProblems(cmd.OutOrStdout(), e.engine.Store())
	printSummary(cmd.OutOrStdout(), sum)
	if errors.Is(err, gate.ErrCancelled) {
		return fmt.Errorf("interrupted after %d of %d files", sum.Completed, sum.Discovered)
	}
	if !sum.Clean() {
		return errVerifyFailed
	}
	return nil
}
