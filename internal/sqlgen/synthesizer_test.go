package sqlgen

import (
	"context"
	"errors"
	"testing"
)

func TestExtractSQL(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{
			"bare statement",
			"SELECT COUNT(*) FROM comments",
			"SELECT COUNT(*) FROM comments",
			true,
		},
		{
			"fenced with sql tag",
			"Here you go:\n```sql\nSELECT id FROM videos\n```\nLet me know if you need more.",
			"SELECT id FROM videos",
			true,
		},
		{
			"fenced without tag",
			"```\nSELECT 1\n```",
			"SELECT 1",
			true,
		},
		{
			"sql query label",
			"SQL Query: SELECT handle FROM authors",
			"SELECT handle FROM authors",
			true,
		},
		{
			"label then fenced",
			"SQLQuery:\n```sql\nSELECT 1\n```",
			"SELECT 1",
			true,
		},
		{
			"prose before select",
			"The query you want is SELECT title FROM videos ORDER BY views DESC",
			"SELECT title FROM videos ORDER BY views DESC",
			true,
		},
		{
			"with cte",
			"WITH t AS (SELECT 1) SELECT * FROM t",
			"WITH t AS (SELECT 1) SELECT * FROM t",
			true,
		},
		{
			"bare write statement",
			"DROP TABLE comments;",
			"DROP TABLE comments;",
			true,
		},
		{
			"fenced write statement",
			"```sql\nDELETE FROM comments WHERE id = 1\n```",
			"DELETE FROM comments WHERE id = 1",
			true,
		},
		{
			"prose before write verb",
			"Sure, run this: UPDATE comments SET text = ''",
			"UPDATE comments SET text = ''",
			true,
		},
		{
			"select preferred over earlier write verb in prose",
			"Rather than update anything, use SELECT id FROM comments",
			"SELECT id FROM comments",
			true,
		},
		{
			"no sql at all",
			"I cannot answer that question from this database.",
			"",
			false,
		},
		{
			"empty",
			"   \n\t",
			"",
			false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractSQL(tc.raw)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v (got %q)", ok, tc.ok, got)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

type fakeGenerator struct {
	out   string
	err   error
	calls int
}

func (f *fakeGenerator) Generate(_ context.Context, _ string, _ int) (string, error) {
	f.calls++
	return f.out, f.err
}

func TestSynthesize_OneCallPerAttempt(t *testing.T) {
	gen := &fakeGenerator{out: "```sql\nSELECT id FROM comments\n```"}
	s := New(gen, 512)

	cand, err := s.Synthesize(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gen.calls != 1 {
		t.Errorf("expected one generator call, got %d", gen.calls)
	}
	if cand.SQL != "SELECT id FROM comments" {
		t.Errorf("SQL = %q", cand.SQL)
	}
	if cand.RawText != gen.out {
		t.Errorf("RawText should preserve the verbatim output")
	}
}

func TestSynthesize_GeneratorError(t *testing.T) {
	boom := errors.New("upstream down")
	s := New(&fakeGenerator{err: boom}, 512)

	if _, err := s.Synthesize(context.Background(), "prompt"); !errors.Is(err, boom) {
		t.Errorf("expected wrapped generator error, got %v", err)
	}
}

func TestSynthesize_NoSQLInOutput(t *testing.T) {
	s := New(&fakeGenerator{out: "Sorry, that is not something I can query."}, 512)

	cand, err := s.Synthesize(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if cand.SQL != "" {
		t.Errorf("expected empty SQL, got %q", cand.SQL)
	}
}
