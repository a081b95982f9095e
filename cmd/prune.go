package cmd

import (
	"fmt"

	"f0oster/permspy/config"
	"f0oster/permspy/logger"
	"f0oster/permspy/versioning"

	"github.com/spf13/cobra"
)

func newPruneCmd(opts *rootOptions) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete the oldest backup snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if keep < 1 {
				return fmt.Errorf("--keep must be at least 1")
			}
			if err := config.LoadEnvFile(opts.envFile); err != nil {
				return err
			}
			log, closeLog, err := logger.New("info", "", cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeLog()

			store := versioning.NewStore(opts.resolveDataDir(config.DataDir()), log)
			removed, err := store.Prune(keep)
			if err != nil {
				return err
			}
			for _, path := range removed {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 10, "number of newest backups to keep")
	return cmd
}
