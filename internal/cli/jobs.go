package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/eargollo/sumcheck/internal/digest"
	"github.com/eargollo/sumcheck/internal/jobs"
)

func newJobsCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage the persistent job queue",
	}
	cmd.AddCommand(newJobsAddCmd(g), newJobsListCmd(g), newJobsRunCmd(g), newJobsRmCmd(g))
	return cmd
}

func newJobsAddCmd(g *globalOptions) *cobra.Command {
	var (
		ro     runOptions
		output string
		name   string
	)
	cmd := &cobra.Command{
		Use:   "add (SUMFILE | PATH... -o OUTPUT)",
		Short: "Queue a verify job, or a create job when --output is set",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), g, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			j := jobs.Job{Name: name, Inputs: make([]string, 0, len(args)), Mode: jobs.ModeVerify}
			for _, a := range args {
				abs, err := filepath.Abs(a)
				if err != nil {
					return err
				}
				j.Inputs = append(j.Inputs, abs)
			}
			if output != "" {
				j.Mode = jobs.ModeCreate
				if j.OutputPath, err = filepath.Abs(output); err != nil {
					return err
				}
			} else if len(args) != 1 {
				return fmt.Errorf("a verify job takes exactly one checksum file")
			}
			if ro.algo != "" {
				if j.Algorithm, err = digest.Parse(ro.algo); err != nil {
					return err
				}
			} else if j.Mode == jobs.ModeCreate {
				if _, ok := digest.FromPath(output); !ok {
					j.Algorithm, _ = digest.Parse(e.cfg.Algorithm)
				}
			}

			out, err := e.runner.Submit(cmd.Context(), j)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s job %s (%s)\n", out.Mode, out.ID, out.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&ro.algo, "algo", "a", "", "digest algorithm")
	cmd.Flags().StringVarP(&output, "output", "o", "", "checksum file to write; makes this a create job")
	cmd.Flags().StringVarP(&name, "name", "n", "", "job name")
	return cmd
}

func newJobsListCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show queued and finished jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd.Context(), g, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			list, err := e.runner.Queue().List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tMODE\tSTATUS\tPROGRESS\tCREATED\tERROR")
			for _, j := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.0f%%\t%s\t%s\n",
					j.ID, j.Name, j.Mode, j.Status, j.Progress, humanize.Time(j.CreatedAt), j.Error)
			}
			return tw.Flush()
		},
	}
}

func newJobsRunCmd(g *globalOptions) *cobra.Command {
	var ro runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process queued jobs in order, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := openEnv(ctx, g, &ro)
			if err != nil {
				return err
			}
			defer e.Close()
			if _, err := e.runner.Queue().RequeueInterrupted(ctx); err != nil {
				return err
			}

			bar, sink := progressSink(&ro, "jobs")
			e.runner.SetSink(sink)
			start := time.Now()
			n, err := e.runner.RunPending(ctx)
			closeBar(bar, cmd.ErrOrStderr())
			fmt.Fprintf(cmd.OutOrStdout(), "%d jobs processed in %s\n", n, time.Since(start).Round(time.Millisecond))
			if ctx.Err() != nil {
				return fmt.Errorf("interrupted; the current job was requeued")
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&ro.mode, "mode", "m", "", "I/O mode: auto, sequential (hdd) or parallel (ssd)")
	cmd.Flags().BoolVar(&ro.noProgress, "no-progress", false, "do not draw a progress bar")
	return cmd
}

func newJobsRmCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm ID...",
		Short: "Remove jobs that are not running",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), g, nil)
			if err != nil {
				return err
			}
			defer e.Close()
			for _, id := range args {
				if err := e.runner.Queue().Remove(cmd.Context(), id); err != nil {
					return fmt.Errorf("remove %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", id)
			}
			return nil
		},
	}
}
