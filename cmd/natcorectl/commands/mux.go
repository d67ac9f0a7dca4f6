package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func muxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mux",
		Short: "Inspect shared-listener mux state",
	}
	cmd.AddCommand(muxListenersCmd())
	return cmd
}

func muxListenersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listeners",
		Short: "List bound mux listeners and their registered acceptors",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			v, err := api.MuxListeners(context.Background())
			if err != nil {
				return fmt.Errorf("list mux listeners: %w", err)
			}

			out, err := formatListeners(v, outputFormat)
			if err != nil {
				return fmt.Errorf("format mux listeners: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}
