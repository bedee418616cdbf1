package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/malcolmiscalm/tubequery/internal/pipeline"
	"github.com/malcolmiscalm/tubequery/internal/schema"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Asker   Asker
	Catalog *schema.Catalog
}

// NewMCPServer creates an MCP server exposing the corpus to agent clients:
// an ask_database tool over the full pipeline, a list_tables tool, and the
// schema as a resource.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"tubequery",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("tubequery: ask natural-language questions over a scraped YouTube comment corpus; answers are grounded in validated read-only SQL."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_database",
			mcp.WithDescription("Answer a natural-language question by generating, validating and executing a read-only SQL query over the corpus."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("sql", mcp.Description("Optional SQL to run directly instead of generating it; still validated")),
		),
		mcpAskDatabase(deps),
	)

	s.AddTool(
		mcp.NewTool("list_tables",
			mcp.WithDescription("List the corpus tables and their columns."),
		),
		mcpListTables(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"corpus://schema",
			"Corpus Schema",
			mcp.WithResourceDescription("Tables and columns of the corpus database as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSchema(deps),
	)

	return s
}

func mcpAskDatabase(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		sql := req.GetString("sql", "")

		resp := deps.Asker.Ask(ctx, pipeline.Request{Question: question, SQL: sql})
		if resp.Failed() {
			return mcpError(fmt.Sprintf("%s: %s", resp.ErrorKind, resp.ErrorMsg)), nil
		}

		payload := map[string]any{
			"answer":    resp.Answer,
			"sql":       resp.SQL,
			"row_count": resp.RowCount,
			"truncated": resp.Truncated,
		}
		// Manual SQL runs carry no prose answer; return the rows instead.
		if resp.Answer == "" {
			payload["columns"] = resp.Columns
			payload["rows"] = resp.Rows
		}

		b, err := json.Marshal(payload)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListTables(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		desc, err := deps.Catalog.Get(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("schema unavailable: %v", err)), nil
		}

		type tableSummary struct {
			Name    string   `json:"name"`
			Columns []string `json:"columns"`
		}
		summaries := make([]tableSummary, len(desc.Tables))
		for i, t := range desc.Tables {
			summaries[i] = tableSummary{Name: t.Name, Columns: t.ColumnNames()}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal tables: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceSchema(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		desc, err := deps.Catalog.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("schema unavailable: %w", err)
		}

		b, err := json.Marshal(renderDescriptor(desc))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal schema: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
