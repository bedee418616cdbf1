package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/malcolmiscalm/tubequery/internal/pipeline"
	"github.com/malcolmiscalm/tubequery/internal/schema"
)

func toolRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func textContent(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", res.Content[0])
	}
	return tc.Text
}

func TestMCPAskDatabase(t *testing.T) {
	asker := &fakeAsker{resp: answeredResponse()}
	handler := mcpAskDatabase(MCPDeps{Asker: asker, Catalog: schema.NewCatalog(testSource(), 0)})

	res, err := handler(context.Background(), toolRequest("ask_database", map[string]any{
		"question": "how many comments?",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", textContent(t, res))
	}

	var out struct {
		Answer   string `json:"answer"`
		SQL      string `json:"sql"`
		RowCount int    `json:"row_count"`
	}
	if err := json.Unmarshal([]byte(textContent(t, res)), &out); err != nil {
		t.Fatalf("decoding tool result: %v", err)
	}
	if out.Answer != "There are 42 comments." || out.RowCount != 1 {
		t.Errorf("result = %+v", out)
	}
	if asker.last.Question != "how many comments?" {
		t.Errorf("pipeline request = %+v", asker.last)
	}
}

func TestMCPAskDatabase_ManualSQL(t *testing.T) {
	asker := &fakeAsker{resp: answeredResponse()}
	handler := mcpAskDatabase(MCPDeps{Asker: asker, Catalog: schema.NewCatalog(testSource(), 0)})

	_, err := handler(context.Background(), toolRequest("ask_database", map[string]any{
		"question": "q",
		"sql":      "SELECT COUNT(*) FROM comments",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if asker.last.SQL != "SELECT COUNT(*) FROM comments" {
		t.Errorf("manual SQL not forwarded: %+v", asker.last)
	}
}

func TestMCPAskDatabase_MissingQuestion(t *testing.T) {
	handler := mcpAskDatabase(MCPDeps{Asker: &fakeAsker{}, Catalog: schema.NewCatalog(testSource(), 0)})

	res, err := handler(context.Background(), toolRequest("ask_database", map[string]any{}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !res.IsError {
		t.Error("expected tool error for missing question")
	}
}

func TestMCPAskDatabase_PipelineFailure(t *testing.T) {
	asker := &fakeAsker{resp: &pipeline.Response{
		Question:  "q",
		ErrorKind: pipeline.KindValidationExhausted,
		ErrorMsg:  "candidate SQL rejected",
	}}
	handler := mcpAskDatabase(MCPDeps{Asker: asker, Catalog: schema.NewCatalog(testSource(), 0)})

	res, err := handler(context.Background(), toolRequest("ask_database", map[string]any{"question": "q"}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected tool error")
	}
	if !strings.Contains(textContent(t, res), "validation_exhausted") {
		t.Errorf("error text = %q", textContent(t, res))
	}
}

func TestMCPListTables(t *testing.T) {
	handler := mcpListTables(MCPDeps{Asker: &fakeAsker{}, Catalog: schema.NewCatalog(testSource(), 0)})

	res, err := handler(context.Background(), toolRequest("list_tables", nil))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", textContent(t, res))
	}

	var tables []struct {
		Name    string   `json:"name"`
		Columns []string `json:"columns"`
	}
	if err := json.Unmarshal([]byte(textContent(t, res)), &tables); err != nil {
		t.Fatalf("decoding tool result: %v", err)
	}
	if len(tables) != 1 || tables[0].Name != "comments" || len(tables[0].Columns) != 2 {
		t.Errorf("tables = %+v", tables)
	}
}

func TestMCPResourceSchema(t *testing.T) {
	handler := mcpResourceSchema(MCPDeps{Asker: &fakeAsker{}, Catalog: schema.NewCatalog(testSource(), 0)})

	req := mcp.ReadResourceRequest{}
	req.Params.URI = "corpus://schema"
	contents, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %d", len(contents))
	}
	trc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("unexpected contents type %T", contents[0])
	}
	if !strings.Contains(trc.Text, "comments") {
		t.Errorf("schema resource missing table name: %s", trc.Text)
	}
}
