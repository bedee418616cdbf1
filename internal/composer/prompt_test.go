package composer

import (
	"strings"
	"testing"

	"github.com/malcolmiscalm/tubequery/internal/schema"
	"github.com/malcolmiscalm/tubequery/internal/validator"
)

func testDescriptor() *schema.Descriptor {
	return &schema.Descriptor{
		Tables: []schema.TableInfo{
			{
				Name: "comments",
				Columns: []schema.ColumnInfo{
					{Name: "id", Type: "INTEGER"},
					{Name: "text", Type: "TEXT", Nullable: true},
					{Name: "posted_at", Type: "TEXT"},
				},
				SampleRows: [][]string{
					{"1", "great video", "2023-01-02"},
					{"2", "terrible fees", "2023-01-05"},
				},
			},
			{
				Name: "authors",
				Columns: []schema.ColumnInfo{
					{Name: "id", Type: "INTEGER"},
					{Name: "handle", Type: "TEXT"},
				},
				SampleRows: [][]string{{"7", "@someone"}},
			},
		},
	}
}

func TestBuild_ContainsEveryTableAndColumn(t *testing.T) {
	c := New(3, nil)
	prompt := c.Build("how many comments?", testDescriptor(), nil, "", nil)

	for _, want := range []string{"comments", "authors", "id", "text", "posted_at", "handle"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing identifier %q", want)
		}
	}
	if !strings.Contains(prompt, "great video") {
		t.Errorf("prompt missing sample row content")
	}
	if !strings.Contains(prompt, "Question: how many comments?") {
		t.Errorf("prompt missing question")
	}
}

func TestBuild_Deterministic(t *testing.T) {
	c := New(3, nil)
	desc := testDescriptor()
	a := c.Build("q", desc, nil, "", nil)
	b := c.Build("q", desc, nil, "", nil)
	if a != b {
		t.Error("same inputs must yield the same prompt")
	}
}

func TestBuild_AllowListExcludesTables(t *testing.T) {
	c := New(3, []string{"comments"})
	prompt := c.Build("q", testDescriptor(), nil, "", nil)

	if strings.Contains(prompt, "authors") || strings.Contains(prompt, "@someone") {
		t.Error("prompt must not leak tables outside the allow-list")
	}
	if !strings.Contains(prompt, "comments") {
		t.Error("allowed table missing from prompt")
	}
}

func TestBuild_SampleRowsBounded(t *testing.T) {
	c := New(1, nil)
	prompt := c.Build("q", testDescriptor(), nil, "", nil)

	if strings.Contains(prompt, "terrible fees") {
		t.Error("sample rows must be bounded to the configured size")
	}
	if !strings.Contains(prompt, "great video") {
		t.Error("first sample row should still be present")
	}
}

func TestBuild_ViolationFeedback(t *testing.T) {
	c := New(3, nil)
	violations := []validator.Violation{
		{Kind: validator.ViolationUnknownColumn, Detail: `column "views" does not exist in table "comments"`},
	}
	prompt := c.Build("q", testDescriptor(), nil, "SELECT views FROM comments", violations)

	if !strings.Contains(prompt, "rejected") {
		t.Error("re-prompt must mention the rejection")
	}
	if !strings.Contains(prompt, "SELECT views FROM comments") {
		t.Error("re-prompt must include the rejected SQL")
	}
	if !strings.Contains(prompt, "unknown_column") {
		t.Error("re-prompt must include the violation kinds")
	}
}

func TestBuild_HistoryIncluded(t *testing.T) {
	c := New(3, nil)
	history := []Turn{{Question: "how many videos?", SQL: "SELECT COUNT(*) FROM videos"}}
	prompt := c.Build("and comments?", testDescriptor(), history, "", nil)

	if !strings.Contains(prompt, "how many videos?") {
		t.Error("prompt missing prior question")
	}
	if !strings.Contains(prompt, "SELECT COUNT(*) FROM videos") {
		t.Error("prompt missing prior SQL")
	}
}
