package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/malcolmiscalm/tubequery/internal/executor"
	"github.com/malcolmiscalm/tubequery/internal/llm"
)

// NoDataAnswer is returned verbatim for empty result sets, with no
// generator call.
const NoDataAnswer = "The query ran successfully but returned no matching data."

const maxRenderedRows = 20

const answerPrompt = `Based on the question, the SQL query and the query result below, write a concise natural-language answer.
State only what the result shows. Do not mention SQL or the query itself.%s

Question: %s
SQL Query: %s
SQL Result:
%s
Answer:`

// Synthesizer turns an executed result into a natural-language answer with
// at most one generator call.
type Synthesizer struct {
	gen       llm.Generator
	maxTokens int
}

// New creates an answer Synthesizer backed by the given generator.
func New(gen llm.Generator, maxTokens int) *Synthesizer {
	return &Synthesizer{gen: gen, maxTokens: maxTokens}
}

// Answer produces the final answer text for a result. Empty results short-
// circuit to NoDataAnswer without touching the generator; otherwise the
// result is rendered as a compact table and summarized in one call.
func (s *Synthesizer) Answer(ctx context.Context, question, sql string, res *executor.Result) (string, error) {
	if res == nil || len(res.Rows) == 0 {
		return NoDataAnswer, nil
	}

	truncNote := ""
	if res.Truncated {
		truncNote = "\nThe result was truncated to a row cap; mention that more rows exist."
	}

	prompt := fmt.Sprintf(answerPrompt, truncNote, question, sql, RenderResult(res))
	out, err := s.gen.Generate(ctx, prompt, s.maxTokens)
	if err != nil {
		return "", fmt.Errorf("synthesizing answer: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// RenderResult renders columns and up to maxRenderedRows rows as a
// tab-separated block for the answer prompt.
func RenderResult(res *executor.Result) string {
	var sb strings.Builder
	sb.WriteString(strings.Join(res.Columns, "\t"))
	sb.WriteString("\n")

	rows := res.Rows
	omitted := 0
	if len(rows) > maxRenderedRows {
		omitted = len(rows) - maxRenderedRows
		rows = rows[:maxRenderedRows]
	}
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = fmt.Sprintf("%v", v)
		}
		sb.WriteString(strings.Join(cells, "\t"))
		sb.WriteString("\n")
	}
	if omitted > 0 {
		fmt.Fprintf(&sb, "(%d more rows omitted)\n", omitted)
	}
	return sb.String()
}
