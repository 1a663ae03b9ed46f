// Package sqlbridge adapts any database/sql driver to the bridge.Session
// contract. Production deployments point this at an IRIS-compatible
// database/sql driver (IRIS ships ODBC/JDBC drivers; no pure-Go driver for
// IRIS exists in this repository's reference material, so none is imported
// here — see DESIGN.md). internal/bridge/sqlitebridge wires this same
// adapter against github.com/mattn/go-sqlite3, the teacher's own driver, as
// the reference/test backend that exercises this code path end-to-end.
//
// Grounded on pkg/db/db.go's *Database wrapper around *sql.DB (Exec/Query/
// QueryContext/BeginTx), generalized from a SQLite-only, dual-handle
// (read-write + read-only) design to a single-handle bridge.Session whose
// read/write split is the caller's concern (spec.md's Bridge contract makes
// no read/write distinction).
package sqlbridge

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgiris/pgiris/internal/bridge"
)

// Session wraps one *sql.Conn as a bridge.Session.
type Session struct {
	db   *sql.DB
	conn *sql.Conn

	// columnTypeName extracts the backend-reported type name for a column;
	// the default uses database/sql's ColumnType.DatabaseTypeName(), which
	// is exactly what an IRIS driver compliant with database/sql reports.
	columnTypeName func(*sql.ColumnType) string
}

// Option configures a Session at construction.
type Option func(*Session)

// WithColumnTypeNamer overrides how IRIS type names are extracted from a
// *sql.ColumnType, for drivers that encode type info unusually.
func WithColumnTypeNamer(fn func(*sql.ColumnType) string) Option {
	return func(s *Session) { s.columnTypeName = fn }
}

// New wraps an existing *sql.Conn. Used by a bridge.Dialer's Dial method.
func New(db *sql.DB, conn *sql.Conn, opts ...Option) *Session {
	s := &Session{
		db:             db,
		conn:           conn,
		columnTypeName: func(ct *sql.ColumnType) string { return ct.DatabaseTypeName() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Execute(ctx context.Context, query string, params []any) (*bridge.Result, error) {
	// A statement that returns rows must be run with Query; one that
	// doesn't must be run with Exec — database/sql has no single call that
	// handles both, so probe with Query and fall back, mirroring the
	// teacher's db.QueryContext/ExecContext split in pkg/db/db.go.
	rows, err := s.conn.QueryContext(ctx, query, params...)
	if err != nil {
		return s.executeNoRows(ctx, query, params, err)
	}
	defer rows.Close()

	cols, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column types: %w", err)
	}
	if len(cols) == 0 {
		rows.Close()
		return s.executeNoRows(ctx, query, params, nil)
	}

	columns := make([]bridge.Column, len(cols))
	for i, c := range cols {
		size, _ := c.Length()
		columns[i] = bridge.Column{Name: c.Name(), IRISType: s.columnTypeName(c), Size: int(size)}
	}

	var result bridge.Result
	result.Columns = columns
	for rows.Next() {
		refs := make([]any, len(cols))
		vals := make([]any, len(cols))
		for i := range refs {
			refs[i] = &vals[i]
		}
		if err := rows.Scan(refs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := bridge.Row{Values: make([]bridge.Value, len(cols))}
		for i, v := range vals {
			row.Values[i] = bridge.Value{IRISType: columns[i].IRISType, Native: v, Null: v == nil}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	result.Affected = int64(len(result.Rows))
	return &result, nil
}

// executeNoRows runs query as a non-row-returning statement. If the
// original Query attempt failed with queryErr for a reason other than "this
// statement doesn't return rows", that error is surfaced instead.
func (s *Session) executeNoRows(ctx context.Context, query string, params []any, queryErr error) (*bridge.Result, error) {
	res, err := s.conn.ExecContext(ctx, query, params...)
	if err != nil {
		if queryErr != nil {
			return nil, fmt.Errorf("execute: %w", queryErr)
		}
		return nil, fmt.Errorf("execute: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	return &bridge.Result{Affected: affected}, nil
}

func (s *Session) ExecuteMany(ctx context.Context, query string, batches [][]any) (*bridge.BatchResult, error) {
	stmt, err := s.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("prepare batch statement: %w", err)
	}
	defer stmt.Close()

	var total int64
	for i, params := range batches {
		res, err := stmt.ExecContext(ctx, params...)
		if err != nil {
			return nil, fmt.Errorf("execute batch row %d: %w", i, err)
		}
		n, err := res.RowsAffected()
		if err == nil {
			total += n
		}
	}
	return &bridge.BatchResult{Affected: total}, nil
}

func (s *Session) Begin(ctx context.Context) error {
	// BEGIN rather than the SQL-92 START TRANSACTION: both IRIS and SQLite
	// (internal/bridge/sqlitebridge, this adapter's reference/test backend)
	// accept BEGIN, so the same statement exercises this code path against
	// either.
	_, err := s.conn.ExecContext(ctx, "BEGIN")
	return err
}

func (s *Session) Commit(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx, "COMMIT")
	return err
}

func (s *Session) Rollback(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx, "ROLLBACK")
	return err
}

func (s *Session) UserExists(ctx context.Context, name string) (bool, error) {
	row := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM INFORMATION_SCHEMA.USERS WHERE USER_NAME = ?", name)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("user_exists: %w", err)
	}
	return count > 0, nil
}

func (s *Session) CancelCurrent(ctx context.Context) error {
	// database/sql has no portable mid-statement cancellation primitive;
	// closing the underlying connection is the documented way to abort
	// whatever is in flight on it (the driver's Conn.Close implementation
	// is expected to interrupt a blocked query). This is the degraded
	// "connection-tear-down-on-cancel" path spec.md §9's Open Questions
	// flags as an accepted fallback when the bridge cannot truly cancel
	// mid-statement.
	return s.conn.Raw(func(driverConn any) error {
		if closer, ok := driverConn.(interface{ Close() error }); ok {
			return closer.Close()
		}
		return nil
	})
}

func (s *Session) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

func (s *Session) Close() error {
	return s.conn.Close()
}
