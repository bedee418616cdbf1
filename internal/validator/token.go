package validator

import (
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokWord   tokenKind = iota // bare identifier or keyword
	tokQuoted                  // quoted identifier: "x", [x], `x`
	tokString                  // string literal: 'x'
	tokNumber
	tokPunct
)

type token struct {
	kind tokenKind
	text string // unquoted text for identifiers, raw text otherwise
	pos  int    // byte offset into the scanned statement
	end  int    // byte offset one past the token
}

// upper returns the uppercased text of a bare word token, or "" for any
// other kind. Quoted identifiers are deliberately excluded so that a column
// named "update" never trips the keyword checks.
func (t token) upper() string {
	if t.kind != tokWord {
		return ""
	}
	return strings.ToUpper(t.text)
}

// stripComments removes -- line comments and /* */ block comments while
// leaving string literals and quoted identifiers intact. Generated SQL can
// hide write verbs inside comment obfuscation; stripping first means the
// later keyword scan sees the statement the database would see.
func stripComments(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))

	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '-' && i+1 < len(s) && s[i+1] == '-':
			for i < len(s) && s[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			i += 2
			for i < len(s) {
				if s[i] == '*' && i+1 < len(s) && s[i+1] == '/' {
					i += 2
					break
				}
				i++
			}
			// A comment is whitespace to the parser.
			sb.WriteByte(' ')
		case c == '\'' || c == '"' || c == '`':
			j := skipQuoted(s, i, c)
			sb.WriteString(s[i:j])
			i = j
		case c == '[':
			j := i + 1
			for j < len(s) && s[j] != ']' {
				j++
			}
			if j < len(s) {
				j++
			}
			sb.WriteString(s[i:j])
			i = j
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String()
}

// skipQuoted returns the offset one past the closing quote, honouring the
// SQL doubled-quote escape ('' inside '...', "" inside "...").
func skipQuoted(s string, start int, quote byte) int {
	i := start + 1
	for i < len(s) {
		if s[i] == quote {
			if i+1 < len(s) && s[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return i
}

// splitStatements splits on semicolons that sit outside string literals and
// quoted identifiers, returning the non-empty trimmed statements.
func splitStatements(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(s, i, c)
		case c == '[':
			for i < len(s) && s[i] != ']' {
				i++
			}
			if i < len(s) {
				i++
			}
		case c == ';':
			if stmt := strings.TrimSpace(s[start:i]); stmt != "" {
				out = append(out, stmt)
			}
			i++
			start = i
		default:
			i++
		}
	}
	if stmt := strings.TrimSpace(s[start:]); stmt != "" {
		out = append(out, stmt)
	}
	return out
}

func isWordStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isWordPart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '$'
}

// tokenize scans a comment-free statement into tokens.
func tokenize(s string) []token {
	var toks []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '\'':
			j := skipQuoted(s, i, '\'')
			toks = append(toks, token{kind: tokString, text: s[i:j], pos: i, end: j})
			i = j
		case c == '"' || c == '`':
			j := skipQuoted(s, i, c)
			text := s[i:j]
			text = strings.Trim(text, string(c))
			text = strings.ReplaceAll(text, string(c)+string(c), string(c))
			toks = append(toks, token{kind: tokQuoted, text: text, pos: i, end: j})
			i = j
		case c == '[':
			j := i + 1
			for j < len(s) && s[j] != ']' {
				j++
			}
			end := j
			if end < len(s) {
				end++
			}
			toks = append(toks, token{kind: tokQuoted, text: s[i+1 : j], pos: i, end: end})
			i = end
		case c >= '0' && c <= '9':
			j := i
			for j < len(s) && (s[j] >= '0' && s[j] <= '9' || s[j] == '.' || s[j] == 'e' || s[j] == 'E' ||
				((s[j] == '+' || s[j] == '-') && j > i && (s[j-1] == 'e' || s[j-1] == 'E'))) {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: s[i:j], pos: i, end: j})
			i = j
		case isWordStart(rune(c)):
			j := i
			for j < len(s) && isWordPart(rune(s[j])) {
				j++
			}
			toks = append(toks, token{kind: tokWord, text: s[i:j], pos: i, end: j})
			i = j
		default:
			toks = append(toks, token{kind: tokPunct, text: string(c), pos: i, end: i + 1})
			i++
		}
	}
	return toks
}
