package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

func newStatsCmd(client func() *Client) *cobra.Command {
	var slow, recent bool
	var limit int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show pool, cache, and query statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/v1/statistics"
			if slow {
				path = fmt.Sprintf("/v1/queries/slow?limit=%d", limit)
			} else if recent {
				path = fmt.Sprintf("/v1/queries/recent?limit=%d", limit)
			}
			var out json.RawMessage
			if err := client().do(cmd.Context(), "GET", path, nil, &out); err != nil {
				return err
			}
			return printIndented(out)
		},
	}

	cmd.Flags().BoolVar(&slow, "slow", false, "list the slowest queries instead")
	cmd.Flags().BoolVar(&recent, "recent", false, "list the most recent queries instead")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum queries to list")
	return cmd
}

func newHistoryCmd(client func() *Client) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent queries from the durable history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out json.RawMessage
			path := fmt.Sprintf("/v1/history?limit=%d", limit)
			if err := client().do(cmd.Context(), "GET", path, nil, &out); err != nil {
				return err
			}
			return printIndented(out)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to list")
	return cmd
}

func newCacheCmd(client func() *Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Result cache operations",
	}

	var pattern string
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Invalidate cached results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out map[string]interface{}
			path := "/v1/cache"
			if pattern != "" {
				path += "?pattern=" + url.QueryEscape(pattern)
			}
			if err := client().do(cmd.Context(), "DELETE", path, nil, &out); err != nil {
				return err
			}
			fmt.Printf("removed %v entries\n", out["removed"])
			return nil
		},
	}
	clearCmd.Flags().StringVar(&pattern, "pattern", "", "only invalidate entries whose query text contains this substring")

	cmd.AddCommand(clearCmd)
	return cmd
}

func printIndented(raw json.RawMessage) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return enc.Encode(v)
}
