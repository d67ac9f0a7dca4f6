// Package commands implements the natcorectl CLI commands.
package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// api is the admin HTTP API client, initialized in PersistentPreRunE.
	api *apiClient

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the daemon's admin HTTP API address (host:port).
	serverAddr string
)

// rootCmd is the top-level cobra command for natcorectl.
var rootCmd = &cobra.Command{
	Use:   "natcorectl",
	Short: "CLI client for the natcored daemon",
	Long:  "natcorectl talks to the natcored admin HTTP API to inspect STUN transactions, pseudo-TCP conversations, and mux listeners.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		api = newAPIClient("http://"+serverAddr, 10*time.Second)
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:8443",
		"natcored admin API address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(transactionsCmd())
	rootCmd.AddCommand(ptcpCmd())
	rootCmd.AddCommand(muxCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
