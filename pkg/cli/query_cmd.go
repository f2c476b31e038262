package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type queryPayload struct {
	SQL       string        `json:"sql"`
	Params    []interface{} `json:"params,omitempty"`
	NoCache   bool          `json:"no_cache,omitempty"`
	TimeoutMs int64         `json:"timeout_ms,omitempty"`
}

type queryResult struct {
	QueryID    string          `json:"query_id"`
	CacheHit   bool            `json:"cache_hit"`
	DurationMs int64           `json:"duration_ms"`
	Columns    []string        `json:"columns"`
	Rows       [][]interface{} `json:"rows"`
	RowCount   int             `json:"row_count"`
}

func newQueryCmd(client func() *Client) *cobra.Command {
	var (
		noCache   bool
		timeoutMs int64
		stream    bool
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Execute a SQL statement",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := queryPayload{
				SQL:       strings.Join(args, " "),
				NoCache:   noCache,
				TimeoutMs: timeoutMs,
			}
			if stream {
				return client().Stream(cmd.Context(), "/v1/query/stream", payload,
					func(line json.RawMessage) error {
						fmt.Println(string(line))
						return nil
					})
			}

			var result queryResult
			if err := client().do(cmd.Context(), "POST", "/v1/query", payload, &result); err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(result)
			}
			printTable(&result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the result cache")
	cmd.Flags().Int64Var(&timeoutMs, "timeout-ms", 0, "execution timeout in milliseconds")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream results as NDJSON")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON response")
	return cmd
}

func printTable(r *queryResult) {
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(r.Columns, "\t"))
	for _, row := range r.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = fmt.Sprint(v)
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	_ = w.Flush()

	source := "engine"
	if r.CacheHit {
		source = "cache"
	}
	fmt.Printf("(%d rows, %dms, %s, query %s)\n", r.RowCount, r.DurationMs, source, r.QueryID)
}

func newRegisterCmd(client func() *Client) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "register <path> <table>",
		Short: "Register a CSV or Parquet file as a queryable view",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]string{
				"path":  args[0],
				"table": args[1],
			}
			if format != "" {
				payload["format"] = format
			}
			var out map[string]interface{}
			if err := client().do(cmd.Context(), "POST", "/v1/register", payload, &out); err != nil {
				return err
			}
			fmt.Printf("registered %s as %s\n", args[0], out["table"])
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "file format (csv or parquet); inferred from the extension when empty")
	return cmd
}

func newCancelCmd(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <query-id>",
		Short: "Cancel a running streaming query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]interface{}
			if err := client().do(cmd.Context(), "POST", "/v1/query/"+args[0]+"/cancel", nil, &out); err != nil {
				return err
			}
			fmt.Printf("cancelled %s\n", args[0])
			return nil
		},
	}
}
