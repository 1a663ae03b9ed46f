// Package translate implements the pure function translate(sql, mode) →
// (sql', mapping[], metrics) spec.md §4.3 calls the SQL Translator: an
// ordered, stateless rewrite pipeline from PostgreSQL-dialect SQL (with a
// pragmatic allowance for IRIS-dialect constructs arriving from older
// client code, e.g. %SQLUPPER or TOP n) into IRIS-dialect SQL, backed by a
// bounded (mode, original_sql)-keyed cache.
//
// Statement *classification* (is this a transaction-control statement? a
// DDL statement? does it parse as valid SQL at all?) is delegated to
// github.com/pganalyze/pg_query_go, the same library the teacher's
// pkg/parser/parse.go uses via convertToStmtCmd — but only for
// classification and syntax validation. The actual text rewriting is hand
// written (see rules.go, tokenize.go): a parse/unparse round trip cannot
// preserve the byte-offset mapping spans this package's contract requires,
// and a full AST can't represent the IRIS-only constructs (%SQLUPPER,
// %HOROLOG, TO_VECTOR) this pipeline must also emit.
package translate

import (
	"context"
	"fmt"
	"time"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Monitor receives translation timing samples so callers can track the
// hard performance contract (spec.md §4.3: "median < 5ms, p95 < 10ms ...
// violation rate > 5% signals a regression") without the Translator holding
// any global mutable singleton itself (spec.md §9 Design Notes: "model as
// construction-time dependencies passed into the Server").
type Monitor interface {
	ObserveTranslation(d time.Duration, slaViolation bool)
}

// NoopMonitor discards every sample; used when no monitor is configured.
type NoopMonitor struct{}

func (NoopMonitor) ObserveTranslation(time.Duration, bool) {}

const (
	slaMedianBudget = 5 * time.Millisecond
	slaP95Budget    = 10 * time.Millisecond
)

// Translator is the stateless translate(sql, mode) function plus its
// bounded cache, constructed once at startup and shared read-only across
// connections (spec.md §9: "the translation cache is a value with methods").
type Translator struct {
	cache   *lruCache
	monitor Monitor
	policy  UnsupportedPolicy
}

// Option configures a Translator at construction.
type Option func(*Translator)

func WithCacheCapacity(n int) Option {
	return func(t *Translator) { t.cache = newLRUCache(n) }
}

func WithMonitor(m Monitor) Option {
	return func(t *Translator) { t.monitor = m }
}

func WithUnsupportedPolicy(p UnsupportedPolicy) Option {
	return func(t *Translator) { t.policy = p }
}

func NewTranslator(opts ...Option) *Translator {
	t := &Translator{
		cache:   newLRUCache(1024),
		monitor: NoopMonitor{},
		policy:  DefaultPolicy,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StatementClass is the classification pg_query_go assigns to one
// statement, narrowed to the distinctions the connection handler needs
// (spec.md §4.2's transaction-verb interception, §4.4's COPY detection).
type StatementClass string

const (
	ClassTransactionControl StatementClass = "transaction_control"
	ClassSelect             StatementClass = "select"
	ClassDML                StatementClass = "dml"
	ClassDDL                StatementClass = "ddl"
	ClassCopy               StatementClass = "copy"
	ClassOther              StatementClass = "other"
	ClassUnparseable        StatementClass = "unparseable"
)

// TranslationResult is what Translate returns for one statement.
type TranslationResult struct {
	SQL          string
	Mappings     []Mapping
	Class        StatementClass
	Confidence   ConfidenceSummary
	Unsupported  []ConstructOutcome
	CacheHit     bool
	Duration     time.Duration
	SLAViolation bool
}

// Translate runs the 9-stage pipeline over sql under the given mode,
// consulting and populating the (mode, sql) cache. ctx is accepted for
// future cancellation-aware instrumentation; no stage currently blocks.
func (t *Translator) Translate(ctx context.Context, sql string, mode Mode) (TranslationResult, error) {
	start := time.Now()

	if entry, ok := t.cache.get(mode, sql); ok {
		return TranslationResult{
			SQL:         entry.sql,
			Mappings:    entry.mappings,
			Class:       classify(sql),
			Confidence:  SummarizeConfidence(entry.mappings),
			Unsupported: ApplyUnsupportedPolicy(sql, t.policy),
			CacheHit:    true,
			Duration:    time.Since(start),
		}, nil
	}

	out := sql
	var mappings []Mapping
	for _, st := range pipeline {
		var m []Mapping
		out, m = st.fn(out)
		mappings = append(mappings, m...)
	}
	if mode == ModeExtended {
		before := len(out)
		stripped := StripTrailingSemicolon(out)
		if len(stripped) != before {
			mappings = append(mappings, Mapping{
				Kind:            "trailing_semicolon",
				OriginalSpan:    [2]int{before - 1, before},
				ReplacementSpan: [2]int{len(stripped), len(stripped)},
				Confidence:      1.0,
			})
		}
		out = stripped
	}

	t.cache.put(mode, sql, cacheEntry{sql: out, mappings: mappings})

	elapsed := time.Since(start)
	violation := elapsed > slaP95Budget
	t.monitor.ObserveTranslation(elapsed, violation)

	return TranslationResult{
		SQL:          out,
		Mappings:     mappings,
		Class:        classify(sql),
		Confidence:   SummarizeConfidence(mappings),
		Unsupported:  ApplyUnsupportedPolicy(sql, t.policy),
		CacheHit:     false,
		Duration:     elapsed,
		SLAViolation: violation,
	}, nil
}

// classify runs pg_query_go over the *original* (pre-rewrite) SQL, since
// translated text containing IRIS-only constructs like %SQLUPPER or
// TO_VECTOR(...) is not always valid PostgreSQL grammar pg_query_go can
// parse. A parse failure is not itself an error for this package: it is
// reported as ClassUnparseable and left for the caller's policy to act on
// (a syntactically invalid statement is still translated best-effort by
// the regex pipeline and let IRIS have the final say).
func classify(sql string) StatementClass {
	tree, err := pg_query.Parse(sql)
	if err != nil || len(tree.GetStmts()) == 0 {
		return ClassUnparseable
	}
	// Only the first statement's class is reported; callers operating on a
	// multi-statement batch should first split it with SplitStatements and
	// classify each span independently.
	stmt := tree.GetStmts()[0].GetStmt()
	switch n := stmt.GetNode().(type) {
	case *pg_query.Node_TransactionStmt:
		return ClassTransactionControl
	case *pg_query.Node_SelectStmt:
		return ClassSelect
	case *pg_query.Node_InsertStmt, *pg_query.Node_UpdateStmt, *pg_query.Node_DeleteStmt:
		return ClassDML
	case *pg_query.Node_CreateStmt, *pg_query.Node_AlterTableStmt, *pg_query.Node_DropStmt,
		*pg_query.Node_IndexStmt, *pg_query.Node_CreateTableAsStmt:
		return ClassDDL
	case *pg_query.Node_CopyStmt:
		return ClassCopy
	default:
		_ = n
		return ClassOther
	}
}

// Validate reports whether sql parses as syntactically valid PostgreSQL,
// used by the administrative "hybrid" unsupported-construct policy to
// decide whether a statement containing unknown %... constructs is at
// least otherwise well-formed (spec.md §7).
func Validate(sql string) error {
	if _, err := pg_query.Parse(sql); err != nil {
		return fmt.Errorf("syntax validation: %w", err)
	}
	return nil
}
