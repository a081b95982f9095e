package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"f0oster/permspy/config"
	"f0oster/permspy/notify"

	"github.com/spf13/cobra"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print update notifications as the monitor raises them",
		Long:  "Prints the update notification from the data directory as a JSON line each time a new one appears. The notification is left in place for the status service.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadEnvFile(opts.envFile); err != nil {
				return err
			}
			ch := notify.NewFileChannel(opts.resolveDataDir(config.DataDir()))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			enc := json.NewEncoder(cmd.OutOrStdout())
			var last *notify.Payload
			for {
				p, err := notify.Watch(ctx, ch, last)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				if err != nil {
					return err
				}
				if err := enc.Encode(p); err != nil {
					return err
				}
				if once {
					return nil
				}
				last = p
			}
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "exit after the first notification")
	return cmd
}
