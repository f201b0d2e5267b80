package cli

import (
	"github.com/dmitrijs2005/motiumsync/internal/client/app"
	"github.com/dmitrijs2005/motiumsync/internal/filex"
	"github.com/spf13/cobra"
)

const maxReceiptSize = 10 << 20

func newReceiptCommand(opts *RootOptions) *cobra.Command {
	var contentType string
	cmd := &cobra.Command{
		Use:   "receipt <expense-id> <file>",
		Short: "Upload a receipt image and link it to an expense",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, sniffed, err := filex.ReadLimited(args[1], maxReceiptSize)
			if err != nil {
				return err
			}
			if contentType == "" {
				contentType = sniffed
			}
			return opts.withApp(cmd.Context(), func(a *app.App) error {
				key, err := a.Services.Expenses.UploadReceipt(cmd.Context(), args[0], contentType, body)
				if err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "receipt stored as %s\n", key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "", "override the detected content type")
	return cmd
}
