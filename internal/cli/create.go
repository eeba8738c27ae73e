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

func newCreateCmd(g *globalOptions) *cobra.Command {
	var (
		ro     runOptions
		output string
	)
	cmd := &cobra.Command{
		Use:   "create PATH... -o OUTPUT",
		Short: "Hash files and directories into a checksum file",
		Long: `Hash every regular file under the given paths and write a checksum file.

The algorithm is taken from --algo, then from the output extension, then
from the config file. Paths below the output file's directory are written
relative to it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd, g, &ro, args, output)
		},
	}
	addRunFlags(cmd, &ro)
	cmd.Flags().StringVarP(&output, "output", "o", "", "checksum file to write (required)")
	cmd.Flags().StringVar(&ro.include, "include", "", "only hash files matching these patterns (separated by ';')")
	cmd.Flags().StringVar(&ro.exclude, "exclude", "", "skip files matching these patterns (separated by ';')")
	cmd.Flags().BoolVar(&ro.noRecurse, "no-recurse", false, "do not descend into subdirectories")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func runCreate(cmd *cobra.Command, g *globalOptions, ro *runOptions, inputs []string, output string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := openEnv(ctx, g, ro)
	if err != nil {
		return err
	}
	defer e.Close()

	algo, explicit, err := e.algorithm(ro)
	if err != nil {
		return err
	}
	if !explicit {
		if a, ok := digest.FromPath(output); ok {
			algo = a
		}
	}

	bar, sink := progressSink(ro, "create")
	sum, err := e.manager.Run(ctx, "cli:create", scan.Request{
		Inputs:    inputs,
		Algorithm: algo,
		Mode:      e.mode,
		Sink:      sink,
	})
	closeBar(bar, cmd.ErrOrStderr())
	if errors.Is(err, gate.ErrCancelled) {
		return fmt.Errorf("interrupted after %d of %d files; %s not written", sum.Completed, sum.Discovered, output)
	}
	if err != nil {
		return err
	}

	f := scan.SumFile(e.engine.Store(), algo, output)
	if err := sumfile.Save(output, f); err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), sum)
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d entries to %s\n", len(f.Entries), output)
	if sum.Errors > 0 {
		printProblems(cmd.OutOrStdout(), e.engine.Store())
		return fmt.Errorf("%d files could not be read", sum.Errors)
	}
	return nil
}
