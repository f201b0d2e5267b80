package cli

import (
	"github.com/dmitrijs2005/motiumsync/internal/client/app"
	"github.com/spf13/cobra"
)

func newRetryCommand(opts *RootOptions) *cobra.Command {
	var now bool
	cmd := &cobra.Command{
		Use:   "retry <kind> <id>",
		Short: "Queue a failed record again",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, id, err := parseKey(args)
			if err != nil {
				return err
			}
			return opts.withApp(cmd.Context(), func(a *app.App) error {
				if err := a.Core.Retry(cmd.Context(), kind, id); err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "%s/%s queued for retry\n", kind, id)
				if !now {
					return nil
				}
				_, err := a.Core.ForceDrainNow(cmd.Context())
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&now, "now", false, "drain right away")
	return cmd
}

func newDiscardCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discard <kind> <id>",
		Short: "Drop the local change of a failed record",
		Long: `Drop the local change of a failed record. A record the server never
saw is deleted; otherwise the server copy is fetched and restored.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, id, err := parseKey(args)
			if err != nil {
				return err
			}
			return opts.withApp(cmd.Context(), func(a *app.App) error {
				if err := a.Core.Discard(cmd.Context(), kind, id); err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "%s/%s discarded\n", kind, id)
				return nil
			})
		},
	}
}
