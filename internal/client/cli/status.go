package cli

import (
	"context"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/dmitrijs2005/motiumsync/internal/client/app"
	"github.com/dmitrijs2005/motiumsync/internal/client/models"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
	"github.com/spf13/cobra"
)

func newStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [kind]",
		Short: "List records not yet confirmed by the server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := domain.Kinds()
			if len(args) == 1 {
				k, err := domain.ParseEntityKind(args[0])
				if err != nil {
					return err
				}
				kinds = []domain.EntityKind{k}
			}
			return opts.withApp(cmd.Context(), func(a *app.App) error {
				return printStatus(cmd.Context(), cmd.OutOrStdout(), a, kinds)
			})
		},
	}
}

func printStatus(ctx context.Context, w io.Writer, a *app.App, kinds []domain.EntityKind) error {
	ops, err := a.Core.PendingOperations(ctx)
	if err != nil {
		return err
	}
	attempts := make(map[models.Key]int, len(ops))
	for _, op := range ops {
		attempts[op.Key()] = op.Attempts
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	printf(tw, "KIND\tID\tSTATUS\tVERSION\tATTEMPTS\tERROR\n")

	pending, failed := 0, 0
	for _, kind := range kinds {
		recs, err := a.Core.GetPendingSync(ctx, kind)
		if err != nil {
			return err
		}
		sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })

		for _, rec := range recs {
			if rec.Status == models.StatusFailed {
				failed++
			} else {
				pending++
			}
			tries := "-"
			if n, ok := attempts[rec.Key()]; ok {
				tries = strconv.Itoa(n)
			}
			printf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", kind, rec.ID, rec.Status, rec.Version, tries, orDash(rec.LastError))
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	printf(w, "%d pending, %d failed\n", pending, failed)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
