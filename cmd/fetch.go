package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"f0oster/permspy/config"
	"f0oster/permspy/logger"
	"f0oster/permspy/versioning"
	"f0oster/permspy/warehouse"

	"github.com/spf13/cobra"
)

func newFetchCmd(opts *rootOptions) *cobra.Command {
	var (
		toStdout bool
		from     string
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch one snapshot and write it to the canonical file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				src     warehouse.Source
				dataDir string
			)
			log, closeLog, err := logger.New("info", "", cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeLog()

			if from != "" {
				if err := config.LoadEnvFile(opts.envFile); err != nil {
					return err
				}
				src = warehouse.NewFileSource(from)
				dataDir = opts.resolveDataDir(config.DataDir())
			} else {
				cfg, err := config.LoadEnvConfig(opts.envFile)
				if err != nil {
					return err
				}
				src = warehouse.NewSnowflakeSource(cfg.Snowflake, cfg.Limits, log)
				dataDir = opts.resolveDataDir(cfg.DataDir)
			}
			defer src.Close()

			snap, err := src.Fetch(cmd.Context())
			if err != nil {
				return err
			}

			if toStdout {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}

			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
			path, err := versioning.NewStore(dataDir, log).WriteCanonical(snap)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Permissions data saved to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&toStdout, "stdout", false, "print the snapshot instead of writing it")
	cmd.Flags().StringVar(&from, "from", "", "read the snapshot from a JSON file instead of Snowflake")
	return cmd
}
