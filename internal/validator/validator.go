package validator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/malcolmiscalm/tubequery/internal/schema"
)

// ViolationKind classifies a single validation failure.
type ViolationKind string

const (
	ViolationEmptyStatement     ViolationKind = "empty_statement"
	ViolationMultipleStatements ViolationKind = "multiple_statements"
	ViolationNotReadOnly        ViolationKind = "not_read_only"
	ViolationWriteOperation     ViolationKind = "write_operation"
	ViolationUnknownTable       ViolationKind = "unknown_table"
	ViolationUnknownColumn      ViolationKind = "unknown_column"
	ViolationTableNotAllowed    ViolationKind = "table_not_allowed"
)

// Violation is one failed check with a human-readable detail for the
// corrective re-prompt.
type Violation struct {
	Kind   ViolationKind `json:"kind"`
	Detail string        `json:"detail"`
}

func (v Violation) String() string {
	if v.Detail == "" {
		return string(v.Kind)
	}
	return string(v.Kind) + ": " + v.Detail
}

// Result is the outcome of validating one candidate statement. OK is true
// only when the violation set is empty; NormalizedSQL is then the single
// read-only statement with the row cap enforced.
type Result struct {
	OK            bool        `json:"ok"`
	NormalizedSQL string      `json:"normalized_sql,omitempty"`
	Violations    []Violation `json:"violations,omitempty"`
}

// writeVerbs are keywords that make a statement (or any part of it) a write,
// DDL, or administrative operation. Their presence anywhere in the token
// stream is rejected outright.
var writeVerbs = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "DROP": true,
	"CREATE": true, "ALTER": true, "TRUNCATE": true, "REPLACE": true,
	"MERGE": true, "GRANT": true, "REVOKE": true, "ATTACH": true,
	"DETACH": true, "PRAGMA": true, "VACUUM": true, "REINDEX": true,
	"EXEC": true, "EXECUTE": true, "CALL": true, "COPY": true,
	"UPSERT": true, "INTO": true,
}

// keywords covers the read-only SQL surface the validator accepts, so that
// the column-reference pass can tell identifiers from syntax.
var keywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "AND": true, "OR": true,
	"NOT": true, "NULL": true, "IS": true, "IN": true, "LIKE": true,
	"GLOB": true, "REGEXP": true, "MATCH": true, "ESCAPE": true,
	"BETWEEN": true, "AS": true, "ON": true, "JOIN": true, "INNER": true,
	"LEFT": true, "RIGHT": true, "FULL": true, "OUTER": true, "CROSS": true,
	"NATURAL": true, "USING": true, "GROUP": true, "BY": true, "ORDER": true,
	"HAVING": true, "LIMIT": true, "OFFSET": true, "UNION": true,
	"ALL": true, "EXCEPT": true, "INTERSECT": true, "DISTINCT": true,
	"CASE": true, "WHEN": true, "THEN": true, "ELSE": true, "END": true,
	"CAST": true, "ASC": true, "DESC": true, "WITH": true,
	"RECURSIVE": true, "EXISTS": true, "COLLATE": true, "VALUES": true,
	"FILTER": true, "OVER": true, "PARTITION": true, "ROWS": true,
	"RANGE": true, "GROUPS": true, "PRECEDING": true, "FOLLOWING": true,
	"UNBOUNDED": true, "CURRENT": true, "ROW": true, "NULLS": true,
	"FIRST": true, "LAST": true, "WINDOW": true, "ISNULL": true,
	"NOTNULL": true, "TRUE": true, "FALSE": true,
	"CURRENT_DATE": true, "CURRENT_TIME": true, "CURRENT_TIMESTAMP": true,
}

// Validator statically checks candidate SQL against the allow-list grammar:
// exactly one read-only statement, known identifiers only, bounded rows.
type Validator struct {
	rowCap  int
	allowed map[string]bool // lowercased table names; empty means all
}

// New creates a Validator. rowCap is the limit injected into every accepted
// statement; allowTables restricts which schema tables may be referenced
// (nil or empty allows every table in the descriptor).
func New(rowCap int, allowTables []string) *Validator {
	if rowCap <= 0 {
		rowCap = 200
	}
	allowed := make(map[string]bool, len(allowTables))
	for _, t := range allowTables {
		allowed[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return &Validator{rowCap: rowCap, allowed: allowed}
}

// RowCap returns the configured row cap.
func (v *Validator) RowCap() int {
	return v.rowCap
}

// Validate checks candidate SQL against the descriptor. Violations are
// accumulated, not short-circuited, so one pass reports every problem.
func (v *Validator) Validate(candidate string, desc *schema.Descriptor) Result {
	var res Result

	cleaned := stripComments(candidate)
	stmts := splitStatements(cleaned)

	switch {
	case len(stmts) == 0:
		res.Violations = append(res.Violations, Violation{
			Kind:   ViolationEmptyStatement,
			Detail: "no SQL statement found",
		})
		return res
	case len(stmts) > 1:
		res.Violations = append(res.Violations, Violation{
			Kind:   ViolationMultipleStatements,
			Detail: fmt.Sprintf("%d statements found, exactly one is allowed", len(stmts)),
		})
	}

	// Further checks run on the first statement only.
	stmt := stmts[0]
	toks := tokenize(stmt)
	if len(toks) == 0 {
		res.Violations = append(res.Violations, Violation{
			Kind:   ViolationEmptyStatement,
			Detail: "statement contains no tokens",
		})
		return res
	}

	if kw := toks[0].upper(); kw != "SELECT" && kw != "WITH" {
		res.Violations = append(res.Violations, Violation{
			Kind:   ViolationNotReadOnly,
			Detail: fmt.Sprintf("statement must start with SELECT or WITH, got %q", toks[0].text),
		})
	}

	for _, t := range toks {
		if verb := t.upper(); writeVerbs[verb] {
			res.Violations = append(res.Violations, Violation{
				Kind:   ViolationWriteOperation,
				Detail: fmt.Sprintf("write or administrative keyword %s is not allowed", verb),
			})
		}
	}

	refs := collectTableRefs(toks)
	v.checkTables(refs, desc, &res)
	checkColumns(toks, refs, desc, &res)

	res.Violations = dedupe(res.Violations)
	if len(res.Violations) > 0 {
		return res
	}

	res.OK = true
	res.NormalizedSQL = v.enforceLimit(stmt, toks)
	return res
}

// tableRefs tracks every table mentioned in FROM/JOIN position plus the
// aliases that resolve to them. CTE names and derived-table aliases are
// recorded as opaque: their column sets are unknown to the descriptor, so
// column checks against them are skipped.
type tableRefs struct {
	tables     []string          // schema tables referenced, in order of appearance
	aliases    map[string]string // alias (lowercased) -> table name
	opaque     map[string]bool   // lowercased CTE / derived-table names
	opaqueFrom map[string]bool   // opaque names actually used as a FROM/JOIN source
	hasDerived bool              // a derived-table subquery appears in source position
}

func (r *tableRefs) known(name string) bool {
	low := strings.ToLower(name)
	if r.opaque[low] {
		return true
	}
	if _, ok := r.aliases[low]; ok {
		return true
	}
	for _, t := range r.tables {
		if strings.EqualFold(t, name) {
			return true
		}
	}
	return false
}

func collectTableRefs(toks []token) *tableRefs {
	refs := &tableRefs{
		aliases:    make(map[string]string),
		opaque:     make(map[string]bool),
		opaqueFrom: make(map[string]bool),
	}

	// CTE names come first: WITH [RECURSIVE] name [(cols)] AS (...), name AS (...)
	// The main pass still scans from the start so that tables referenced
	// inside CTE bodies are collected and checked too.
	if len(toks) > 0 && toks[0].upper() == "WITH" {
		collectCTENames(toks, refs)
	}
	i := 0

	const (
		stateNone = iota
		stateExpectTable // just saw FROM, JOIN, or a comma in a FROM list
		stateExpectAlias // just saw a table reference
		stateDerived     // just closed a derived-table subquery
	)
	state := stateNone
	depthAtFrom := -1
	depth := 0
	// Depths at which a derived-table subquery was opened. The body is
	// scanned like any other tokens so its table references are checked too;
	// the matching close paren re-arms alias capture.
	var derivedDepths []int

	for ; i < len(toks); i++ {
		t := toks[i]
		if t.kind == tokPunct {
			switch t.text {
			case "(":
				depth++
				if state == stateExpectTable {
					derivedDepths = append(derivedDepths, depth)
					state = stateNone
				}
			case ")":
				if n := len(derivedDepths); n > 0 && derivedDepths[n-1] == depth {
					derivedDepths = derivedDepths[:n-1]
					state = stateDerived
					refs.hasDerived = true
				} else if state == stateExpectAlias || state == stateExpectTable {
					state = stateNone
				}
				if depth > 0 {
					depth--
				}
			case ",":
				if (state == stateExpectAlias || state == stateDerived) && depth == depthAtFrom {
					state = stateExpectTable
				}
			}
			continue
		}

		switch kw := t.upper(); {
		case kw == "FROM" || kw == "JOIN":
			state = stateExpectTable
			depthAtFrom = depth
		case kw == "INNER" || kw == "LEFT" || kw == "RIGHT" || kw == "FULL" ||
			kw == "OUTER" || kw == "CROSS" || kw == "NATURAL":
			// Join qualifiers; the JOIN keyword follows.
		case kw == "AS" && (state == stateExpectAlias || state == stateDerived):
			// Alias follows; keep state.
		case kw == "ON" || kw == "USING" || kw == "WHERE" || kw == "GROUP" ||
			kw == "ORDER" || kw == "HAVING" || kw == "LIMIT" || kw == "UNION" ||
			kw == "EXCEPT" || kw == "INTERSECT" || kw == "WINDOW":
			state = stateNone
		default:
			switch state {
			case stateExpectTable:
				if t.kind == tokWord || t.kind == tokQuoted {
					refs.tables = append(refs.tables, t.text)
					if refs.opaque[strings.ToLower(t.text)] {
						refs.opaqueFrom[strings.ToLower(t.text)] = true
					}
					state = stateExpectAlias
				}
			case stateExpectAlias:
				if (t.kind == tokWord && !keywords[t.upper()]) || t.kind == tokQuoted {
					last := refs.tables[len(refs.tables)-1]
					refs.aliases[strings.ToLower(t.text)] = last
					state = stateNone
				} else {
					state = stateNone
				}
			case stateDerived:
				if (t.kind == tokWord && !keywords[t.upper()]) || t.kind == tokQuoted {
					refs.opaque[strings.ToLower(t.text)] = true
					refs.opaqueFrom[strings.ToLower(t.text)] = true
				}
				state = stateNone
			}
		}
	}
	return refs
}

// collectCTENames registers WITH-clause names as opaque tables.
func collectCTENames(toks []token, refs *tableRefs) {
	i := 1
	if i < len(toks) && toks[i].upper() == "RECURSIVE" {
		i++
	}
	for i < len(toks) {
		// CTE name.
		if toks[i].kind != tokWord && toks[i].kind != tokQuoted {
			break
		}
		refs.opaque[strings.ToLower(toks[i].text)] = true
		i++
		// Optional column list.
		if i < len(toks) && toks[i].kind == tokPunct && toks[i].text == "(" {
			i = matchParen(toks, i) + 1
		}
		// AS (subquery): the subquery body is scanned by the main pass.
		if i < len(toks) && toks[i].upper() == "AS" {
			i++
		}
		if i < len(toks) && toks[i].kind == tokPunct && toks[i].text == "(" {
			i = matchParen(toks, i) + 1
		}
		// Another CTE, or the main statement.
		if i < len(toks) && toks[i].kind == tokPunct && toks[i].text == "," {
			i++
			continue
		}
		break
	}
}

func matchParen(toks []token, open int) int {
	depth := 0
	for i := open; i < len(toks); i++ {
		if toks[i].kind != tokPunct {
			continue
		}
		switch toks[i].text {
		case "(":
			depth++
		case ")":
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return len(toks) - 1
}

func (v *Validator) checkTables(refs *tableRefs, desc *schema.Descriptor, res *Result) {
	for _, name := range refs.tables {
		if refs.opaque[strings.ToLower(name)] {
			continue
		}
		if _, ok := desc.Table(name); !ok {
			res.Violations = append(res.Violations, Violation{
				Kind:   ViolationUnknownTable,
				Detail: fmt.Sprintf("table %q does not exist in the schema", name),
			})
			continue
		}
		if len(v.allowed) > 0 && !v.allowed[strings.ToLower(name)] {
			res.Violations = append(res.Violations, Violation{
				Kind:   ViolationTableNotAllowed,
				Detail: fmt.Sprintf("table %q is outside the allowed set", name),
			})
		}
	}
}

// checkColumns verifies that every identifier in column position resolves
// against a referenced table. Unknown identifiers are violations, never
// silently dropped.
func checkColumns(toks []token, refs *tableRefs, desc *schema.Descriptor, res *Result) {
	// Select-list and expression aliases (x AS total) are legal references
	// later in the statement.
	exprAliases := make(map[string]bool)
	for i := 1; i < len(toks); i++ {
		if toks[i-1].upper() == "AS" && (toks[i].kind == tokWord || toks[i].kind == tokQuoted) {
			exprAliases[strings.ToLower(toks[i].text)] = true
		}
	}

	// Column checks are relaxed only when the statement actually selects
	// FROM a CTE or derived table, whose column sets the descriptor cannot
	// see. A CTE that is defined but never used as a source does not widen
	// what the outer query may reference.
	opaqueInScope := refs.hasDerived || len(refs.opaqueFrom) > 0

	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.kind != tokWord && t.kind != tokQuoted {
			continue
		}
		if t.kind == tokWord && (keywords[t.upper()] || writeVerbs[t.upper()]) {
			continue
		}
		// Function call.
		if i+1 < len(toks) && toks[i+1].kind == tokPunct && toks[i+1].text == "(" {
			continue
		}
		// Table position or alias definition: handled by collectTableRefs.
		if i > 0 {
			prev := toks[i-1].upper()
			if prev == "FROM" || prev == "JOIN" || prev == "AS" {
				continue
			}
		}

		// Qualified reference: qualifier.column
		if i+2 < len(toks) && toks[i+1].kind == tokPunct && toks[i+1].text == "." {
			qualifier := t.text
			col := toks[i+2]
			i += 2

			table, resolved := resolveQualifier(qualifier, refs, desc)
			if !resolved {
				if !refs.known(qualifier) {
					res.Violations = append(res.Violations, Violation{
						Kind:   ViolationUnknownTable,
						Detail: fmt.Sprintf("qualifier %q does not match any referenced table", qualifier),
					})
				}
				continue
			}
			if col.kind == tokPunct && col.text == "*" {
				continue
			}
			if (col.kind == tokWord || col.kind == tokQuoted) && !table.HasColumn(col.text) {
				res.Violations = append(res.Violations, Violation{
					Kind:   ViolationUnknownColumn,
					Detail: fmt.Sprintf("column %q does not exist in table %q", col.text, table.Name),
				})
			}
			continue
		}
		// Skip the column part of a qualified reference already consumed.
		if i > 0 && toks[i-1].kind == tokPunct && toks[i-1].text == "." {
			continue
		}

		name := strings.ToLower(t.text)
		if refs.known(t.text) || exprAliases[name] {
			continue
		}
		if columnOfAny(t.text, refs, desc) {
			continue
		}
		if opaqueInScope {
			continue
		}
		res.Violations = append(res.Violations, Violation{
			Kind:   ViolationUnknownColumn,
			Detail: fmt.Sprintf("identifier %q does not match any column of the referenced tables", t.text),
		})
	}
}

func resolveQualifier(qualifier string, refs *tableRefs, desc *schema.Descriptor) (schema.TableInfo, bool) {
	low := strings.ToLower(qualifier)
	if refs.opaque[low] {
		return schema.TableInfo{}, false
	}
	if target, ok := refs.aliases[low]; ok {
		if refs.opaque[strings.ToLower(target)] {
			return schema.TableInfo{}, false
		}
		return desc.Table(target)
	}
	for _, t := range refs.tables {
		if strings.EqualFold(t, qualifier) {
			return desc.Table(t)
		}
	}
	return schema.TableInfo{}, false
}

func columnOfAny(name string, refs *tableRefs, desc *schema.Descriptor) bool {
	for _, t := range refs.tables {
		table, ok := desc.Table(t)
		if !ok {
			continue
		}
		if table.HasColumn(name) {
			return true
		}
	}
	return false
}

// enforceLimit rewrites the statement so the row cap holds regardless of
// what the generator produced: a missing LIMIT is appended, an oversized
// one is clamped. Only a top-level LIMIT counts; subquery limits are left
// alone.
func (v *Validator) enforceLimit(stmt string, toks []token) string {
	depth := 0
	for i, t := range toks {
		if t.kind == tokPunct {
			switch t.text {
			case "(":
				depth++
			case ")":
				depth--
			}
			continue
		}
		if depth != 0 || t.upper() != "LIMIT" {
			continue
		}
		if i+1 >= len(toks) || toks[i+1].kind != tokNumber {
			// LIMIT with a non-literal operand: wrap instead of trusting it.
			return fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", stmt, v.rowCap)
		}
		num := toks[i+1]
		// SQLite also accepts "LIMIT offset, count"; the count is the
		// second operand, so that is the one the cap applies to.
		if i+2 < len(toks) && toks[i+2].kind == tokPunct && toks[i+2].text == "," {
			if i+3 >= len(toks) || toks[i+3].kind != tokNumber {
				return fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", stmt, v.rowCap)
			}
			num = toks[i+3]
		}
		n, err := strconv.Atoi(num.text)
		if err != nil || n > v.rowCap || n < 0 {
			return stmt[:num.pos] + strconv.Itoa(v.rowCap) + stmt[num.end:]
		}
		return stmt
	}
	return stmt + " LIMIT " + strconv.Itoa(v.rowCap)
}

func dedupe(violations []Violation) []Violation {
	seen := make(map[Violation]bool, len(violations))
	out := violations[:0]
	for _, v := range violations {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
