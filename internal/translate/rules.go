package translate

import (
	"regexp"
	"strings"
)

// Mapping records one rewrite a pipeline stage performed, in original-SQL
// byte offsets (spec.md §4.3: "{kind, original_span, replacement_span,
// confidence}").
type Mapping struct {
	Kind            string
	OriginalSpan    [2]int
	ReplacementSpan [2]int
	Confidence      float64
}

// stage is one pipeline step. It receives the SQL text as transformed by
// every earlier stage and returns the next text plus any mappings it
// produced. Running stages against progressively rewritten text (rather than
// re-deriving offsets against the original every time) is why Mapping spans
// are stage-local: each refers to the text that stage received and
// produced. Translate returns them as the stages recorded them and does not
// compose offsets across stages.
type stage struct {
	name string
	fn   func(sql string) (string, []Mapping)
}

// pipeline holds stages 1-8 of the ordered 9-stage rewrite spec.md §4.3
// mandates; stage 9 (trailing-semicolon strip) runs in Translate for
// ModeExtended only. Order is part of the contract, so this slice's order
// must never change.
var pipeline = []stage{
	{"transaction_verb", rewriteTransactionVerbs},
	{"identifier_case", rewriteIdentifierCase},
	{"datetime_literal", rewriteDateTimeLiterals},
	{"top_limit", rewriteTopLimit},
	{"vector_operator", rewriteVectorOperators},
	{"iris_function_alias", rewriteIRISFunctionAliases},
	{"json_filter", rewriteJSONFilters},
	{"ddl_datatype", rewriteDDLDataTypes},
}

// applyOutsideLiterals runs re against sql, skipping any match whose start
// falls inside a string literal, quoted identifier, or comment (per spec.md
// §4.3's tokenization constraints), replacing each surviving match with
// repl(match groups). kind labels the resulting Mapping records.
func applyOutsideLiterals(sql string, re *regexp.Regexp, kind string, repl func([]string) string) (string, []Mapping) {
	mask := literalMask(sql)
	var mappings []Mapping
	var out strings.Builder
	last := 0
	for _, loc := range re.FindAllStringSubmatchIndex(sql, -1) {
		start, end := loc[0], loc[1]
		if start < len(mask) && mask[start] {
			continue
		}
		groups := make([]string, len(loc)/2)
		for i := range groups {
			gs, ge := loc[2*i], loc[2*i+1]
			if gs < 0 {
				continue
			}
			groups[i] = sql[gs:ge]
		}
		replacement := repl(groups)
		out.WriteString(sql[last:start])
		replStart := out.Len()
		out.WriteString(replacement)
		replEnd := out.Len()
		mappings = append(mappings, Mapping{
			Kind:            kind,
			OriginalSpan:    [2]int{start, end},
			ReplacementSpan: [2]int{replStart, replEnd},
			Confidence:      1.0,
		})
		last = end
	}
	out.WriteString(sql[last:])
	return out.String(), mappings
}

// --- Stage 1: transaction verbs ---

var (
	reBeginTxn = regexp.MustCompile(`(?i)\bBEGIN(\s+TRANSACTION)?\b`)
	reStartTxn = regexp.MustCompile(`(?i)\bSTART\s+TRANSACTION\b`)
	reCommit   = regexp.MustCompile(`(?i)\b(COMMIT|END)\b`)
	reRollback = regexp.MustCompile(`(?i)\bROLLBACK\b(\s+TO\b)?`)
)

func rewriteTransactionVerbs(sql string) (string, []Mapping) {
	sql, m1 := applyOutsideLiterals(sql, reBeginTxn, "transaction_verb", func([]string) string { return "START TRANSACTION" })
	sql, m2 := applyOutsideLiterals(sql, reStartTxn, "transaction_verb", func([]string) string { return "START TRANSACTION" })
	sql, m3 := applyOutsideLiterals(sql, reCommit, "transaction_verb", func([]string) string { return "COMMIT" })
	sql, m4 := applyOutsideLiterals(sql, reRollback, "transaction_verb", func(g []string) string {
		if g[1] != "" {
			return g[0] // ROLLBACK TO SAVEPOINT passes through unchanged
		}
		return "ROLLBACK"
	})
	return sql, concatMappings(m1, m2, m3, m4)
}

// --- Stage 2: identifier/case normalization ---
//
// Unquoted identifiers fold to IRIS's convention (uppercase); quoted
// identifiers ("MixedCase") are left byte-for-byte untouched. Finding every
// unquoted identifier in general SQL would need a real parser; the pipeline
// narrows this to the common, high-value case of identifiers immediately
// following FROM/JOIN/INTO/UPDATE/TABLE, which is what the teacher's own
// pkg/parser/rewrite.go does for its own identifier handling (keyword-
// anchored regex, not full-grammar resolution).
var reUnquotedIdentAfterKeyword = regexp.MustCompile(`(?i)\b(FROM|JOIN|INTO|UPDATE|TABLE)\s+([A-Za-z_][A-Za-z0-9_]*)\b`)

func rewriteIdentifierCase(sql string) (string, []Mapping) {
	return applyOutsideLiterals(sql, reUnquotedIdentAfterKeyword, "identifier_case", func(g []string) string {
		return g[1] + " " + strings.ToUpper(g[2])
	})
}

// --- Stage 3: date/time literals ---

var reDateLiteral = regexp.MustCompile(`(?i)\bDATE\s+'(\d{4})-(\d{2})-(\d{2})'`)

func rewriteDateTimeLiterals(sql string) (string, []Mapping) {
	// CURRENT_DATE/CURRENT_TIMESTAMP/NOW()/EXTRACT(EPOCH FROM NOW()) pass
	// through unchanged (spec.md §4.3 rule 3); only the explicit DATE
	// 'literal' form needs rewriting, and IRIS accepts the same ISO form, so
	// this stage's only job is to normalize away the `DATE` type prefix IRIS
	// does not require in a literal context.
	return applyOutsideLiterals(sql, reDateLiteral, "datetime_literal", func(g []string) string {
		return "'" + g[1] + "-" + g[2] + "-" + g[3] + "'"
	})
}

// --- Stage 4: TOP <-> LIMIT ---

var reTop = regexp.MustCompile(`(?i)\bSELECT\s+TOP\s+(\d+)\b`)

// rewriteTopLimit moves a leading `TOP n` into a trailing `LIMIT n`,
// preserving its position relative to ORDER BY (spec.md §4.3 rule 4:
// "Ordering relative to ORDER BY must be preserved" — LIMIT, like TOP,
// always binds to the statement as a whole, so simply appending it at the
// statement's end already satisfies this for every ORDER BY placement).
// Plain `LIMIT n` already present in incoming SQL passes through untouched.
func rewriteTopLimit(sql string) (string, []Mapping) {
	loc := reTop.FindStringSubmatchIndex(sql)
	if loc == nil {
		return sql, nil
	}
	start, end := loc[0], loc[1]
	mask := literalMask(sql)
	if start < len(mask) && mask[start] {
		return sql, nil
	}
	n := sql[loc[2]:loc[3]]
	withoutTop := sql[:start] + "SELECT" + sql[end:]
	trailing := strings.TrimRight(withoutTop, " \t\r\n;")
	limitClause := " LIMIT " + n
	replaced := trailing + limitClause
	return replaced, []Mapping{{
		Kind:            "top_limit",
		OriginalSpan:    [2]int{start, end},
		ReplacementSpan: [2]int{len(trailing), len(trailing) + len(limitClause)},
		Confidence:      1.0,
	}}
}

// --- Stage 5: vector operators ---

var (
	reVecCosineArrow  = regexp.MustCompile(`([A-Za-z_][\w.]*|\([^()]*\))\s*<->\s*(TO_VECTOR\([^)]*\)|[A-Za-z_][\w.]*|\([^()]*\))`)
	reVecCosineDouble = regexp.MustCompile(`([A-Za-z_][\w.]*|\([^()]*\))\s*<=>\s*(TO_VECTOR\([^)]*\)|[A-Za-z_][\w.]*|\([^()]*\))`)
	reVecDot          = regexp.MustCompile(`([A-Za-z_][\w.]*|\([^()]*\))\s*<#>\s*(TO_VECTOR\([^)]*\)|[A-Za-z_][\w.]*|\([^()]*\))`)
	reAlreadyVector   = regexp.MustCompile(`(?i)^TO_VECTOR\(`)
)

func wrapVectorOperand(operand string) string {
	if reAlreadyVector.MatchString(strings.TrimSpace(operand)) {
		return operand
	}
	return "TO_VECTOR(" + operand + ")"
}

func rewriteVectorOperators(sql string) (string, []Mapping) {
	sql, m1 := applyOutsideLiterals(sql, reVecCosineArrow, "vector_operator", func(g []string) string {
		return "VECTOR_COSINE(" + g[1] + ", " + wrapVectorOperand(g[2]) + ")"
	})
	sql, m2 := applyOutsideLiterals(sql, reVecCosineDouble, "vector_operator", func(g []string) string {
		return "VECTOR_COSINE(" + g[1] + ", " + wrapVectorOperand(g[2]) + ")"
	})
	sql, m3 := applyOutsideLiterals(sql, reVecDot, "vector_operator", func(g []string) string {
		return "(- VECTOR_DOT_PRODUCT(" + g[1] + ", " + wrapVectorOperand(g[2]) + "))"
	})
	return sql, concatMappings(m1, m2, m3)
}

// --- Stage 6: IRIS function aliases ---

var irisFunctionAliases = []struct {
	re   *regexp.Regexp
	repl func([]string) string
}{
	{regexp.MustCompile(`(?i)%SQLUPPER\(([^()]*)\)`), func(g []string) string { return "UPPER(" + g[1] + ")" }},
	{regexp.MustCompile(`(?i)%SQLLOWER\(([^()]*)\)`), func(g []string) string { return "LOWER(" + g[1] + ")" }},
	{regexp.MustCompile(`(?i)%SQLSTRING\(([^()]*)\)`), func(g []string) string { return "CAST(" + g[1] + " AS VARCHAR)" }},
	{regexp.MustCompile(`(?i)%HOROLOG\(\s*\)`), func([]string) string { return "EXTRACT(EPOCH FROM NOW())" }},
	{regexp.MustCompile(`(?i)%SYSTEM\.Version\.GetNumber\(\s*\)`), func([]string) string { return "version()" }},
	{regexp.MustCompile(`(?i)%SYSTEM\.Security\.GetUser\(\s*\)`), func([]string) string { return "current_user" }},
	{regexp.MustCompile(`(?i)DATEDIFF_MICROSECONDS\(([^,]+),([^()]+)\)`), func(g []string) string {
		return "EXTRACT(MICROSECONDS FROM (" + strings.TrimSpace(g[2]) + "-" + strings.TrimSpace(g[1]) + "))"
	}},
}

// reUnrecognizedIRISConstruct matches a leading `%Identifier` token not
// already consumed by one of the named aliases above, so the UNSUPPORTED
// policy (spec.md §7) has something concrete to act on.
var reUnrecognizedIRISConstruct = regexp.MustCompile(`%[A-Za-z][A-Za-z0-9_.]*(\([^()]*\))?`)

func rewriteIRISFunctionAliases(sql string) (string, []Mapping) {
	var all []Mapping
	for _, a := range irisFunctionAliases {
		var m []Mapping
		sql, m = applyOutsideLiterals(sql, a.re, "iris_function_alias", a.repl)
		all = append(all, m...)
	}
	return sql, all
}

// UnrecognizedIRISConstructs reports every `%...` token left after the known
// aliases have been rewritten, for the caller's UNSUPPORTED_CONSTRUCT /
// pass-through policy decision (spec.md §4.3 rule 6, §7).
func UnrecognizedIRISConstructs(sql string) []string {
	mask := literalMask(sql)
	var found []string
	for _, loc := range reUnrecognizedIRISConstruct.FindAllStringIndex(sql, -1) {
		if loc[0] < len(mask) && mask[loc[0]] {
			continue
		}
		found = append(found, sql[loc[0]:loc[1]])
	}
	return found
}

// --- Stage 7: JSON/document filters ---

var jsonFilterAliases = []struct {
	re   *regexp.Regexp
	repl func([]string) string
}{
	{regexp.MustCompile(`(?i)\bJSON_OBJECT\(`), func([]string) string { return "jsonb_build_object(" }},
	{regexp.MustCompile(`(?i)\bJSON_ARRAY_LENGTH\(`), func([]string) string { return "jsonb_array_length(" }},
	{regexp.MustCompile(`(?i)\bJSON_ARRAY\(`), func([]string) string { return "jsonb_build_array(" }},
	{regexp.MustCompile(`(?i)\bJSON_EXTRACT\(([^,]+),(.+?)\)`), func(g []string) string {
		return strings.TrimSpace(g[1]) + " #>> " + strings.TrimSpace(g[2])
	}},
	{regexp.MustCompile(`(?i)\bJSON_EXISTS\(([^,]+),(.+?)\)`), func(g []string) string {
		return "jsonb_path_exists(" + strings.TrimSpace(g[1]) + ", " + strings.TrimSpace(g[2]) + ")"
	}},
	// JSON_TABLE(doc, '$' COLUMNS (col type, ...)) has no single-function
	// PostgreSQL equivalent; jsonb_to_recordset expands a jsonb array into
	// rows given the same column list, so the path argument (meaningful only
	// to IRIS's row-construction engine) is dropped and the COLUMNS list is
	// carried over verbatim as the recordset's column definitions.
	{regexp.MustCompile(`(?i)\bJSON_TABLE\(\s*([^,]+?)\s*,\s*'[^']*'\s*COLUMNS\s*\(([^()]*)\)\s*\)`), func(g []string) string {
		return "jsonb_to_recordset(" + strings.TrimSpace(g[1]) + ") AS t(" + strings.TrimSpace(g[2]) + ")"
	}},
}

func rewriteJSONFilters(sql string) (string, []Mapping) {
	var all []Mapping
	for _, a := range jsonFilterAliases {
		var m []Mapping
		sql, m = applyOutsideLiterals(sql, a.re, "json_filter", a.repl)
		all = append(all, m...)
	}
	return sql, all
}

// --- Stage 8: data types in DDL ---

var ddlDataTypeAliases = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)\bLONGVARCHAR\b`), "TEXT"},
	{regexp.MustCompile(`(?i)\bVARBINARY\b`), "BYTEA"},
	{regexp.MustCompile(`(?i)\bBINARY\b`), "BYTEA"},
	{regexp.MustCompile(`(?i)\bROWVERSION\b`), "BYTEA"},
	{regexp.MustCompile(`%List\b`), "TEXT[]"},
}

func rewriteDDLDataTypes(sql string) (string, []Mapping) {
	var all []Mapping
	for _, a := range ddlDataTypeAliases {
		repl := a.repl
		var m []Mapping
		sql, m = applyOutsideLiterals(sql, a.re, "ddl_datatype", func([]string) string { return repl })
		all = append(all, m...)
	}
	// VECTOR(N) and SERIAL pass through unchanged (spec.md §4.3 rule 8).
	return sql, all
}

func concatMappings(groups ...[]Mapping) []Mapping {
	var all []Mapping
	for _, g := range groups {
		all = append(all, g...)
	}
	return all
}
