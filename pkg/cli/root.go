// Package cli implements the duckpool command-line client for the query
// service HTTP API.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var host string

	rootCmd := &cobra.Command{
		Use:           "duckpool",
		Short:         "Query service CLI",
		Long:          "Command-line client for the pooled DuckDB query service API.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			// Precedence: flag > env > default.
			if !cmd.Flags().Changed("host") {
				if v := os.Getenv("DUCKPOOL_HOST"); v != "" {
					host = v
				}
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&host, "host", "http://localhost:8080", "server base URL")

	client := func() *Client { return NewClient(host) }
	rootCmd.AddCommand(
		newQueryCmd(client),
		newRegisterCmd(client),
		newStatsCmd(client),
		newHistoryCmd(client),
		newCacheCmd(client),
		newCancelCmd(client),
	)
	return rootCmd
}
