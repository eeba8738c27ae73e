// Package cli implements the sumcheck command line.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command and every subcommand.
func NewRootCmd(version string) *cobra.Command {
	var opts globalOptions

	rootCmd := &cobra.Command{
		Use:   "sumcheck",
		Short: "sumcheck - create and verify checksum files",
		Long: `sumcheck hashes files and verifies them against checksum files
(.sfv, .md5, .sha1, .sha256, .xxh3).

Reads are sequential on rotational disks and parallel elsewhere unless
--mode says otherwise. Use subcommands to:
  - create: hash files and directories into a checksum file
  - verify: check files against a checksum file
  - jobs:   manage the persistent job queue
  - serve:  run the HTTP API, scheduler, inbox watcher and job runner`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "sumcheck.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	groupRun := "run"
	groupService := "service"
	rootCmd.AddGroup(&cobra.Group{ID: groupRun, Title: "Hashing Commands"})
	rootCmd.AddGroup(&cobra.Group{ID: groupService, Title: "Service Commands"})

	createCmd := newCreateCmd(&opts)
	verifyCmd := newVerifyCmd(&opts)
	jobsCmd := newJobsCmd(&opts)
	serveCmd := newServeCmd(&opts, version)

	createCmd.GroupID = groupRun
	verifyCmd.GroupID = groupRun
	jobsCmd.GroupID = groupService
	serveCmd.GroupID = groupService

	rootCmd.AddCommand(createCmd, verifyCmd, jobsCmd, serveCmd)
	return rootCmd
}
