package translate

// This file is the "small hand-written tokenizer (not regex)" spec.md §9's
// Design Notes calls for: "Multi-statement parsing with comment/quote
// awareness ... implement as a small hand-written tokenizer ... this is the
// only tokenizer the translator needs." It is deliberately not built on
// github.com/pganalyze/pg_query_go (used elsewhere in this package only for
// statement *classification*, see translate.go) because a parse/unparse
// round trip cannot preserve the byte-offset spans TranslationResult.mappings
// requires (spec.md §3).

type tokenState int

const (
	stateNormal tokenState = iota
	stateSingleQuote
	stateDoubleQuote
	stateLineComment
	stateBlockComment
)

// SplitStatements splits sql on top-level ';' characters, leaving quoted
// strings, quoted identifiers, and comments untouched. The returned spans
// exclude the separating ';' and any leading/trailing whitespace is kept
// (callers that need trimmed text call strings.TrimSpace themselves) so
// byte offsets stay valid for mapping records.
func SplitStatements(sql string) []Span {
	var spans []Span
	start := 0
	state := stateNormal

	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch state {
		case stateNormal:
			switch c {
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			case '-':
				if i+1 < len(sql) && sql[i+1] == '-' {
					state = stateLineComment
				}
			case '/':
				if i+1 < len(sql) && sql[i+1] == '*' {
					state = stateBlockComment
				}
			case ';':
				spans = append(spans, Span{Start: start, End: i, Text: sql[start:i]})
				start = i + 1
			}
		case stateSingleQuote:
			if c == '\'' {
				// '' is an escaped quote inside a string literal; a lone
				// '\'' not immediately re-doubled ends the literal.
				if i+1 < len(sql) && sql[i+1] == '\'' {
					i++
					continue
				}
				state = stateNormal
			}
		case stateDoubleQuote:
			if c == '"' {
				if i+1 < len(sql) && sql[i+1] == '"' {
					i++
					continue
				}
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
			}
		case stateBlockComment:
			if c == '*' && i+1 < len(sql) && sql[i+1] == '/' {
				i++
				state = stateNormal
			}
		}
	}

	if start < len(sql) {
		tail := sql[start:]
		if hasNonBlank(tail) {
			spans = append(spans, Span{Start: start, End: len(sql), Text: tail})
		}
	}
	return spans
}

// Span is a byte-offset range into the original SQL text, the currency
// TranslationResult.mappings are denominated in (spec.md §3: "mappings
// reference the original SQL by byte offsets, not by pointer").
type Span struct {
	Start, End int
	Text       string
}

func hasNonBlank(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return true
		}
	}
	return false
}

// StripTrailingSemicolon removes exactly one trailing ';' (after trailing
// whitespace) from sql, per spec.md §4.3 rule 9: "if the execution path uses
// parameter substitution ... strip a single trailing ';'."
func StripTrailingSemicolon(sql string) string {
	end := len(sql)
	for end > 0 && isSpace(sql[end-1]) {
		end--
	}
	if end > 0 && sql[end-1] == ';' {
		return sql[:end-1]
	}
	return sql
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// literalMask reports, for a rewrite rule operating over raw text, whether
// each byte position i in sql falls inside a single-quoted
// string, a double-quoted identifier, or a comment — the spans rules 3-8
// must never touch (spec.md §4.3 tokenization constraints: "never
// substitute inside string literals or comments").
func literalMask(sql string) []bool {
	mask := make([]bool, len(sql))
	state := stateNormal
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch state {
		case stateNormal:
			switch c {
			case '\'':
				state = stateSingleQuote
				mask[i] = true
			case '"':
				state = stateDoubleQuote
				mask[i] = true
			case '-':
				if i+1 < len(sql) && sql[i+1] == '-' {
					state = stateLineComment
					mask[i] = true
				}
			case '/':
				if i+1 < len(sql) && sql[i+1] == '*' {
					state = stateBlockComment
					mask[i] = true
				}
			}
		case stateSingleQuote:
			mask[i] = true
			if c == '\'' {
				if i+1 < len(sql) && sql[i+1] == '\'' {
					mask[i+1] = true
					i++
					continue
				}
				state = stateNormal
			}
		case stateDoubleQuote:
			mask[i] = true
			if c == '"' {
				if i+1 < len(sql) && sql[i+1] == '"' {
					mask[i+1] = true
					i++
					continue
				}
				state = stateNormal
			}
		case stateLineComment:
			mask[i] = true
			if c == '\n' {
				state = stateNormal
			}
		case stateBlockComment:
			mask[i] = true
			if c == '*' && i+1 < len(sql) && sql[i+1] == '/' {
				mask[i+1] = true
				i++
				state = stateNormal
			}
		}
	}
	return mask
}
