// Package cmd holds the permspy command tree.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	envFile string
	dataDir string
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "permspy",
		Short:         "Snowflake access-control change monitor",
		Long:          "Polls Snowflake for roles, users and grants, records every change and serves the monitor status.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "settings.env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "directory for snapshots and notifications (overrides DATA_DIR)")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newFetchCmd(opts),
		newWatchCmd(opts),
		newPruneCmd(opts),
	)
	return rootCmd
}

// resolveDataDir applies flag > DATA_DIR > current directory.
func (o *rootOptions) resolveDataDir(fromConfig string) string {
	if o.dataDir != "" {
		return o.dataDir
	}
	if fromConfig != "" {
		return fromConfig
	}
	return "."
}
