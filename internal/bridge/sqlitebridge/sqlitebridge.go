// Package sqlitebridge is the reference/test bridge.Dialer, backing
// sqlbridge.Session with github.com/mattn/go-sqlite3 — the teacher's own
// driver (pkg/db/db.go). No IRIS Go driver exists anywhere in this
// repository's retrieval pack, and fabricating one is out of bounds (see
// DESIGN.md); this package exists so the translator, vector optimizer, COPY
// pipeline, and connection handler can all be exercised against a real
// database/sql backend in tests without depending on a live IRIS instance.
package sqlitebridge

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pgiris/pgiris/internal/bridge"
	"github.com/pgiris/pgiris/internal/bridge/sqlbridge"
)

// Dialer opens connections against a single SQLite file or ":memory:",
// mirroring pkg/db/db.go's makeDSN (WAL mode, shared cache, busy timeout)
// minus the read/write connection split bridge.Session doesn't need.
type Dialer struct {
	DSN string
}

func New(path string) *Dialer {
	dsn := fmt.Sprintf("file:%s?_journal=WAL&_busy_timeout=3000&cache=shared", path)
	return &Dialer{DSN: dsn}
}

func (d *Dialer) Dial(ctx context.Context) (bridge.Session, error) {
	db, err := sql.Open("sqlite3", d.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlite backend: %w", err)
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("reserve sqlite connection: %w", err)
	}
	return sqlbridge.New(db, conn, sqlbridge.WithColumnTypeNamer(sqliteTypeName)), nil
}

// sqliteTypeName maps go-sqlite3's reported DatabaseTypeName into the IRIS
// type vocabulary internal/wire.OIDForIRISType expects, so tests exercise
// the exact same type-mapping path production traffic does.
func sqliteTypeName(ct *sql.ColumnType) string {
	switch ct.DatabaseTypeName() {
	case "INT", "INTEGER":
		return "BIGINT"
	case "REAL", "FLOAT", "DOUBLE":
		return "DOUBLE"
	case "TEXT", "CLOB":
		return "TEXT"
	case "BLOB":
		return "VARBINARY"
	case "BOOLEAN":
		return "BOOLEAN"
	case "DATE":
		return "DATE"
	case "DATETIME", "TIMESTAMP":
		return "TIMESTAMP"
	case "NUMERIC", "DECIMAL":
		return "NUMERIC"
	default:
		return "VARCHAR"
	}
}
