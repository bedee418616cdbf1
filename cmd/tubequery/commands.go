package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/malcolmiscalm/tubequery/internal/config"
	"github.com/malcolmiscalm/tubequery/internal/corpus"
	"github.com/malcolmiscalm/tubequery/internal/storage"
)

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect the corpus schema",
}

var schemaShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the tables and columns of the corpus database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		db, err := corpus.Open(cfg.Corpus.Path, 1)
		if err != nil {
			return fmt.Errorf("opening corpus: %w", err)
		}
		defer db.Close()

		desc, err := db.Describe(cmd.Context(), 0)
		if err != nil {
			return fmt.Errorf("describing corpus: %w", err)
		}

		for _, table := range desc.Tables {
			fmt.Println(colorize(colorBold, table.Name))
			for _, col := range table.Columns {
				constraint := ""
				if !col.Nullable {
					constraint = "NOT NULL"
				}
				fmt.Printf("  %-24s %-10s %s\n", col.Name, col.Type, constraint)
			}
			fmt.Println()
		}
		return nil
	},
}

var schemaReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Ask a running server to refresh its schema snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/schema/reload", nil)
		if err != nil {
			return err
		}

		var result struct {
			Status string `json:"status"`
			Tables int    `json:"tables"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Schema reloaded (%d tables)", result.Tables)
		return nil
	},
}

func init() {
	schemaCmd.AddCommand(schemaShowCmd)
	schemaCmd.AddCommand(schemaReloadCmd)
}

// --- queries ---

var queriesCmd = &cobra.Command{
	Use:   "queries",
	Short: "Browse the query history of a running server",
}

var queriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent queries",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/queries?limit=%d", limit))
		if err != nil {
			return err
		}

		var records []storage.QueryRecord
		if err := decodeJSON(resp, &records); err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Println("No queries recorded.")
			return nil
		}

		for _, rec := range records {
			status := colorize(colorGreen, rec.Status)
			if rec.Status != "answered" {
				status = colorize(colorRed, rec.ErrorKind)
			}
			fmt.Printf("%s  %s  [%s]  %s\n",
				rec.ID,
				rec.CreatedAt.Format("2006-01-02 15:04"),
				status,
				truncateString(rec.Question, 60))
		}
		return nil
	},
}

var queriesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one query in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/queries/"+args[0])
		if err != nil {
			return err
		}

		var rec storage.QueryRecord
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}

		printStatus("Question", "%s", rec.Question)
		if rec.SQL != "" {
			printStatus("SQL", "%s", rec.SQL)
		}
		printStatus("Status", "%s", rec.Status)
		if rec.ErrorKind != "" {
			printStatus("Error", "%s", rec.ErrorKind)
		}
		printStatus("Attempts", "%d", rec.Attempts)
		printStatus("Duration", "%dms", rec.DurationMs)
		if rec.Truncated {
			printStatus("Rows", "%d (truncated)", rec.RowCount)
		} else {
			printStatus("Rows", "%d", rec.RowCount)
		}
		if rec.Answer != "" {
			fmt.Println(rec.Answer)
		}
		return nil
	},
}

var queriesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a query from the history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/queries/"+args[0])
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		printSuccess("Deleted query %s", args[0])
		return nil
	},
}

func init() {
	queriesListCmd.Flags().Int("limit", 20, "maximum number of queries to list")
	queriesCmd.AddCommand(queriesListCmd)
	queriesCmd.AddCommand(queriesShowCmd)
	queriesCmd.AddCommand(queriesDeleteCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage tubequery configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration key",
	Long: `Set a configuration key in the config file.

Valid keys:
  ` + strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Set %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func truncateString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
