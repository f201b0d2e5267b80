package cli

import (
	"github.com/dmitrijs2005/motiumsync/internal/client/app"
	"github.com/spf13/cobra"
)

func newDrainCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Run one drain cycle now and print its summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app.App) error {
				n, err := a.Core.Recover(cmd.Context())
				if err != nil {
					return err
				}
				if n > 0 {
					printf(cmd.OutOrStdout(), "requeued %d orphaned records\n", n)
				}
				r, err := a.Core.ForceDrainNow(cmd.Context())
				if err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "attempted %d: %d succeeded, %d deferred, %d conflicts, %d transient, %d failed",
					r.Attempted, r.Succeeded, r.Deferred, r.Conflicts, r.Transient, r.Failed)
				if r.Offline {
					printf(cmd.OutOrStdout(), " (offline)")
				}
				printf(cmd.OutOrStdout(), "\n")
				return nil
			})
		},
	}
}
