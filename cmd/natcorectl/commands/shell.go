package commands

import (
	"fmt"

	"github.com/reeflective/console"
	"github.com/spf13/cobra"
)

// shellCmd launches an interactive natcorectl shell backed by
// reeflective/console, which gives line editing, history, and completion
// on top of the same cobra command tree the one-shot CLI uses — richer
// than a bare bufio.Scanner loop for a REPL meant to be typed in
// interactively rather than scripted.
func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive natcorectl shell",
		Long:  "Launches a line-editing REPL over the same commands natcorectl exposes on the command line.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			app := console.New("natcorectl")

			menu := app.ActiveMenu()
			menu.SetCommands(func() *cobra.Command {
				return shellRootCmd()
			})

			if err := app.Start(); err != nil {
				return fmt.Errorf("start shell: %w", err)
			}
			return nil
		},
	}
}

// shellRootCmd builds a fresh copy of the non-interactive command tree for
// the shell to dispatch into, minus the shell command itself (a shell
// cannot sensibly spawn another shell).
func shellRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "natcorectl",
		Short:         rootCmd.Short,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(transactionsCmd())
	root.AddCommand(ptcpCmd())
	root.AddCommand(muxCmd())
	root.AddCommand(versionCmd())
	return root
}
