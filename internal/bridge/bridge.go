// Package bridge defines the IRIS Bridge contract (spec.md §4.7 / §6): the
// sole point of contact with the IRIS embedded SQL engine. Every call here
// is blocking from the caller's perspective — internal/conn offloads them to
// a worker slot (see Pool) so the connection's I/O goroutine never blocks on
// IRIS (spec.md §5, Design Notes "Mixed blocking/async calls to IRIS").
package bridge

import "context"

// Column describes one result column, populated at query time. Replacing
// runtime reflection on result rows with this explicit struct is the
// "Runtime reflection / duck typing on result rows" re-architecture spec.md
// §9's Design Notes calls for.
type Column struct {
	Name     string
	IRISType string
	Size     int
}

// Value is one cell of a result row, carrying enough type information for
// internal/wire to encode it without a second round trip through the schema.
type Value struct {
	IRISType string
	Native   any
	Null     bool
}

// Row is one decoded result row.
type Row struct {
	Values []Value
}

// Result is what execute() returns: either a row set (Columns/Rows non-nil
// for SELECT-shaped statements) or an affected-row count (INSERT/UPDATE/
// DELETE/DDL), per spec.md §4.7.
type Result struct {
	Columns  []Column
	Rows     []Row
	Affected int64
}

// BatchResult is what execute_many() returns: spec.md §4.7 names only an
// affected count (no rows — execute_many is for bulk DML, principally COPY
// FROM's batched INSERTs, spec.md §4.4).
type BatchResult struct {
	Affected int64
}

// Session is one pooled, reusable logical connection to IRIS (the "Bridge
// session" of SPEC_FULL.md's glossary addition). internal/bridge/pool.go
// hands these out from a bounded pool; sqlitebridge and sqlbridge provide
// concrete implementations.
type Session interface {
	// Execute runs sql with positional params and returns either a row set
	// or an affected-row count. params are already rendered per spec.md
	// §4.2's "Parameter substitution" rule when called from the extended
	// query path, or passed through directly for the simple query path
	// combined with IRIS-native placeholders.
	Execute(ctx context.Context, sql string, params []any) (*Result, error)

	// ExecuteMany runs sql once per row in batches, used by COPY FROM
	// (spec.md §4.4).
	ExecuteMany(ctx context.Context, sql string, batches [][]any) (*BatchResult, error)

	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// UserExists reports whether name is a known IRIS user. No
	// authenticator calls it; the GSSAPI authenticator returns Done without
	// validating the principal-mapped username.
	UserExists(ctx context.Context, name string) (bool, error)

	// CancelCurrent aborts whatever statement is in flight on this session
	// by terminating the underlying IRIS session (spec.md §4.7, §5
	// Cancellation). It must be safe to call concurrently with an in-flight
	// Execute/ExecuteMany from another goroutine.
	CancelCurrent(ctx context.Context) error

	// Ping validates a pooled session is still usable with a cheap SELECT 1
	// probe before reuse (spec.md §4.7).
	Ping(ctx context.Context) error

	// Close releases any OS resources the session owns (e.g. the
	// underlying database/sql.Conn). Called only when a session is evicted
	// from the pool, not on ordinary release-to-pool.
	Close() error
}

// Dialer opens a new Session against one IRIS namespace. Pool uses a Dialer
// to grow the pool up to its configured capacity.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}
