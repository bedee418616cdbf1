package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/malcolmiscalm/tubequery/internal/config"
	"github.com/malcolmiscalm/tubequery/internal/pipeline"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question over the corpus",
	Long: `Ask a natural-language question over the corpus.

By default the full pipeline runs in-process against the configured corpus
database. Use --remote to send the question to a running tubequery server
instead, and --sql to skip generation and run a query directly (it is still
validated).

Examples:
  tubequery ask "how many comments mention hidden fees?"
  tubequery ask --sql "SELECT title, views FROM videos ORDER BY views DESC LIMIT 5" "top videos"
  tubequery ask --remote "what do people complain about the most?"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := args[0]
		manualSQL, _ := cmd.Flags().GetString("sql")
		remote, _ := cmd.Flags().GetBool("remote")
		showRows, _ := cmd.Flags().GetBool("rows")

		var resp *pipeline.Response
		if remote {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			httpResp, err := client.post(cmd.Context(), "/ask", map[string]any{
				"question": question,
				"sql":      manualSQL,
			})
			if err != nil {
				return err
			}
			resp, err = decodeAskResponse(httpResp)
			if err != nil {
				return err
			}
		} else {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			setupLogging(cfg.Log.Level)

			// Standalone mode runs without the query log to avoid
			// contending with a running server over the history database.
			comps, err := buildComponents(cfg, nil)
			if err != nil {
				return err
			}
			defer comps.Close()

			resp = comps.pipe.Ask(cmd.Context(), pipeline.Request{Question: question, SQL: manualSQL})
		}

		return printAskResponse(resp, showRows)
	},
}

func init() {
	askCmd.Flags().String("sql", "", "run this SQL directly instead of generating it")
	askCmd.Flags().Bool("remote", false, "send the question to a running tubequery server")
	askCmd.Flags().Bool("rows", false, "print the raw result rows as well as the answer")
}

// decodeAskResponse reads an /ask reply. Failed runs come back with a
// non-2xx status but still carry a full response body; anything that does
// not decode as one (auth errors, bad requests) surfaces as a plain error.
func decodeAskResponse(httpResp *http.Response) (*pipeline.Response, error) {
	defer httpResp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading server response: %w", err)
	}

	var resp pipeline.Response
	if err := json.Unmarshal(body, &resp); err != nil || (httpResp.StatusCode >= 400 && resp.ErrorKind == pipeline.KindNone) {
		return nil, fmt.Errorf("server returned %d: %s", httpResp.StatusCode, strings.TrimSpace(string(body)))
	}
	return &resp, nil
}

func printAskResponse(resp *pipeline.Response, showRows bool) error {
	if resp.SQL != "" {
		printStatus("SQL", "%s", resp.SQL)
	}

	if resp.Failed() {
		for _, v := range resp.Violations {
			printWarning("%s", v)
		}
		printError("%s: %s", resp.ErrorKind, resp.ErrorMsg)
		return fmt.Errorf("query failed (%s)", resp.ErrorKind)
	}

	// Manual SQL runs have no prose answer; the table is the output.
	if resp.Answer == "" {
		showRows = true
	}

	if showRows && len(resp.Columns) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, strings.Join(resp.Columns, "\t"))
		for _, row := range resp.Rows {
			cells := make([]string, len(row))
			for i, v := range row {
				if v == nil {
					cells[i] = "NULL"
					continue
				}
				cells[i] = fmt.Sprintf("%v", v)
			}
			fmt.Fprintln(w, strings.Join(cells, "\t"))
		}
		w.Flush()
		if resp.Truncated {
			printWarning("result truncated to %d rows", resp.RowCount)
		}
	}

	if resp.Answer != "" {
		fmt.Println(resp.Answer)
	}
	return nil
}
