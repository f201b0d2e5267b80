package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync client until interrupted",
		Long: `Start the sync core, watch connectivity and drain the queue on
startup, reconnect and every periodic interval. SIGINT or SIGTERM stops it
after in-flight answers are committed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := opts.NewApp(ctx, opts.Config)
			if err != nil {
				return err
			}
			a.Logger().Info(ctx, "client started", "server", opts.Config.ServerAddr, "db", opts.Config.DatabasePath)
			return a.Run(ctx)
		},
	}
}
