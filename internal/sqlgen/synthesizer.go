package sqlgen

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/malcolmiscalm/tubequery/internal/llm"
)

// CandidateQuery is the outcome of one synthesis attempt. RawText is the
// verbatim generator output; SQL is the extracted statement, empty when the
// output contained nothing SQL-looking.
type CandidateQuery struct {
	RawText string
	SQL     string
}

// Synthesizer turns a grounded prompt into a candidate SQL query with a
// single generator call per attempt.
type Synthesizer struct {
	gen       llm.Generator
	maxTokens int
}

// New creates a Synthesizer backed by the given generator.
func New(gen llm.Generator, maxTokens int) *Synthesizer {
	return &Synthesizer{gen: gen, maxTokens: maxTokens}
}

// Synthesize makes one generation call and extracts the SQL from the raw
// output. A generator failure is returned as-is; an output with no
// recognizable SQL yields a candidate with an empty SQL field, which the
// caller treats as a failed attempt.
func (s *Synthesizer) Synthesize(ctx context.Context, prompt string) (CandidateQuery, error) {
	raw, err := s.gen.Generate(ctx, prompt, s.maxTokens)
	if err != nil {
		return CandidateQuery{}, fmt.Errorf("synthesizing query: %w", err)
	}

	cand := CandidateQuery{RawText: raw}
	if sql, ok := ExtractSQL(raw); ok {
		cand.SQL = sql
	}
	return cand, nil
}

var (
	labelRe      = regexp.MustCompile(`(?i)^\s*sql\s*(query)?\s*:`)
	readStartRe  = regexp.MustCompile(`(?i)\b(select|with)\b`)
	writeStartRe = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|create|alter|truncate|replace)\b`)
)

// ExtractSQL pulls the first SQL statement out of free-form generator
// output. It prefers a fenced code block, strips "SQL Query:" style labels,
// and otherwise scans for the first SQL verb. Write statements are extracted
// too: the validator must see them to reject them with a violation, rather
// than the run ending as if no SQL was produced. The second return is false
// when the text contains nothing SQL-looking.
func ExtractSQL(raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", false
	}

	if block, ok := firstFencedBlock(text); ok {
		text = block
	}
	text = strings.TrimSpace(labelRe.ReplaceAllString(text, ""))

	if !startsWithSQL(text) {
		// Prefer a readable statement; fall back to a write verb so the
		// candidate is still surfaced for rejection.
		loc := readStartRe.FindStringIndex(text)
		if loc == nil {
			loc = writeStartRe.FindStringIndex(text)
		}
		if loc == nil {
			return "", false
		}
		text = text[loc[0]:]
	}

	// Models sometimes follow the query with prose after a closing fence.
	if i := strings.Index(text, "```"); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	return text, true
}

// firstFencedBlock returns the contents of the first ``` fenced block,
// skipping a language tag on the opening line.
func firstFencedBlock(text string) (string, bool) {
	start := strings.Index(text, "```")
	if start < 0 {
		return "", false
	}
	rest := text[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		firstLine := strings.TrimSpace(rest[:nl])
		// A bare tag like "sql" or "sqlite" is not part of the query.
		if firstLine == "" || (len(firstLine) <= 10 && !strings.ContainsAny(firstLine, " \t")) {
			rest = rest[nl+1:]
		}
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", false
	}
	return rest, true
}

// statementVerbs are keywords that can open a SQL statement. Write verbs
// are included so dangerous candidates reach the validator.
var statementVerbs = map[string]bool{
	"SELECT": true, "WITH": true,
	"INSERT": true, "UPDATE": true, "DELETE": true, "DROP": true,
	"CREATE": true, "ALTER": true, "TRUNCATE": true, "REPLACE": true,
}

func startsWithSQL(text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	return statementVerbs[strings.ToUpper(strings.TrimLeft(fields[0], "("))]
}
