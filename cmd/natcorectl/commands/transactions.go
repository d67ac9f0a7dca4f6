package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func transactionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transactions",
		Short: "List live STUN client and server transactions",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			v, err := api.Transactions(context.Background())
			if err != nil {
				return fmt.Errorf("list transactions: %w", err)
			}

			out, err := formatTransactions(v, outputFormat)
			if err != nil {
				return fmt.Errorf("format transactions: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}
