package composer

import (
	"fmt"
	"strings"

	"github.com/malcolmiscalm/tubequery/internal/schema"
	"github.com/malcolmiscalm/tubequery/internal/validator"
)

const defaultSampleRows = 3

const querySystemPrompt = `You are a SQL generation engine for a SQLite database of scraped YouTube videos and comments.
Given the schema and a question, write ONE read-only SQL query that answers it.

Rules:
- Return only the SQL query. No markdown fences, no prose, no explanations.
- Write exactly one SELECT statement. Never write INSERT, UPDATE, DELETE, DROP or any other modifying statement.
- Reference only the tables and columns shown in the schema below.`

// Turn is one prior exchange in the conversation, used to ground follow-up
// questions.
type Turn struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`
}

// Composer renders grounded prompts for SQL generation. Build is a pure
// function: identical inputs always produce identical prompt text.
type Composer struct {
	sampleRows int
	allowed    map[string]bool // lowercased table names; empty means all
}

// New creates a Composer. sampleRows bounds how many example rows are
// rendered per table (default 3 if <= 0); allowTables restricts which
// tables appear in the prompt at all; tables outside the allow-list are
// never shown to the generator.
func New(sampleRows int, allowTables []string) *Composer {
	if sampleRows <= 0 {
		sampleRows = defaultSampleRows
	}
	allowed := make(map[string]bool, len(allowTables))
	for _, t := range allowTables {
		allowed[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return &Composer{sampleRows: sampleRows, allowed: allowed}
}

// Build renders the SQL-generation prompt: schema with sample rows, prior
// turns, the question, and (on a re-prompt) the rejected SQL with its
// violation list as corrective context.
func (c *Composer) Build(question string, desc *schema.Descriptor, history []Turn, rejectedSQL string, violations []validator.Violation) string {
	var sb strings.Builder

	sb.WriteString(querySystemPrompt)
	sb.WriteString("\n\nBased on the table schema below, write a SQL query that would answer the user's question:\n\n")
	sb.WriteString(c.RenderSchema(desc))

	for _, turn := range history {
		fmt.Fprintf(&sb, "\nPrevious question: %s\nPrevious SQL: %s\n", turn.Question, turn.SQL)
	}

	if len(violations) > 0 {
		sb.WriteString("\nYour previous attempt was rejected.\n")
		if rejectedSQL != "" {
			fmt.Fprintf(&sb, "Rejected SQL: %s\n", rejectedSQL)
		}
		sb.WriteString("Problems:\n")
		for _, v := range violations {
			fmt.Fprintf(&sb, "- %s\n", v.String())
		}
		sb.WriteString("Write a corrected query that avoids every problem above.\n")
	}

	fmt.Fprintf(&sb, "\nQuestion: %s\nSQL Query:", question)
	return sb.String()
}

// RenderSchema renders every allowed table as a CREATE TABLE statement
// followed by a comment block of example rows, the shape SQL generators are
// commonly trained on. Table and column names appear verbatim.
func (c *Composer) RenderSchema(desc *schema.Descriptor) string {
	var sb strings.Builder
	for _, table := range desc.Tables {
		if len(c.allowed) > 0 && !c.allowed[strings.ToLower(table.Name)] {
			continue
		}
		c.renderTable(&sb, table)
	}
	return sb.String()
}

func (c *Composer) renderTable(sb *strings.Builder, table schema.TableInfo) {
	fmt.Fprintf(sb, "CREATE TABLE %s (\n", table.Name)
	for i, col := range table.Columns {
		sb.WriteString("\t")
		sb.WriteString(col.Name)
		if col.Type != "" {
			sb.WriteString(" ")
			sb.WriteString(col.Type)
		}
		if !col.Nullable {
			sb.WriteString(" NOT NULL")
		}
		if i < len(table.Columns)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString(");\n")

	rows := table.SampleRows
	if len(rows) > c.sampleRows {
		rows = rows[:c.sampleRows]
	}
	if len(rows) > 0 {
		fmt.Fprintf(sb, "/*\n%d rows from %s:\n", len(rows), table.Name)
		sb.WriteString(strings.Join(table.ColumnNames(), "\t"))
		sb.WriteString("\n")
		for _, row := range rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteString("\n")
		}
		sb.WriteString("*/\n")
	}
	sb.WriteString("\n")
}
