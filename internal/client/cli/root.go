// Package cli implements the motiumsync client command line.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/dmitrijs2005/motiumsync/internal/client/app"
	"github.com/dmitrijs2005/motiumsync/internal/client/config"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
	"github.com/spf13/cobra"
)

// AppFactory builds the client app for a resolved config.
type AppFactory func(ctx context.Context, cfg *config.Config) (*app.App, error)

// RootOptions holds state shared by all commands.
type RootOptions struct {
	NewApp AppFactory
	Config *config.Config
}

// NewRootCommand creates the root command. A nil factory uses app.New.
func NewRootCommand(newApp AppFactory) *cobra.Command {
	if newApp == nil {
		newApp = app.New
	}
	opts := &RootOptions{NewApp: newApp}

	cmd := &cobra.Command{
		Use:           "motiumsync",
		Short:         "Offline-first record sync client",
		Long:          "Keeps trips, expenses, licenses and consents in a local store and replays local changes against the sync server.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := config.BindFlags(cmd.PersistentFlags())
	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := flags.Resolve()
		if err != nil {
			return err
		}
		opts.Config = cfg
		return nil
	}

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newDrainCommand(opts))
	cmd.AddCommand(newRetryCommand(opts))
	cmd.AddCommand(newDiscardCommand(opts))
	cmd.AddCommand(newReceiptCommand(opts))
	return cmd
}

// withApp opens the app, runs fn and closes the app again.
func (o *RootOptions) withApp(ctx context.Context, fn func(a *app.App) error) (err error) {
	a, err := o.NewApp(ctx, o.Config)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.WithoutCancel(ctx)); err == nil {
			err = cerr
		}
	}()
	return fn(a)
}

func parseKey(args []string) (domain.EntityKind, string, error) {
	kind, err := domain.ParseEntityKind(args[0])
	if err != nil {
		return "", "", err
	}
	return kind, args[1], nil
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
