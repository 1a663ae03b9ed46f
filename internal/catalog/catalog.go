// Package catalog synthesizes the pg_catalog answers and system-function
// calls PostgreSQL clients (psql \d, JDBC driver metadata probes, ORMs)
// issue on every connection. The teacher's own pkg/catalog/catalog.go
// solves the identical problem by registering SQLite virtual tables
// (pg_database, pg_namespace, pg_type, pg_class, pg_settings,
// pg_description, pg_range) and custom scalar functions (version(),
// current_user, format_type, ...) directly on its SQLite driver connection.
// IRIS has no CREATE VIRTUAL TABLE / custom-driver-function hook
// equivalent reachable from database/sql, so this package reproduces the
// same answers as Go-native, in-process lookups that internal/conn
// consults before ever reaching the bridge — the same column layouts the
// teacher's virtual tables expose, now synthesized in application code
// rather than injected into the backend's own catalog.
package catalog

import (
	"strings"

	"github.com/pgiris/pgiris/internal/bridge"
)

// Catalog holds the small amount of per-deployment identity the synthesized
// answers need (the reported server version string and default namespace);
// the current user is passed to Intercept per query.
type Catalog struct {
	ServerVersion string
	Namespace     string
}

// New builds a Catalog that reports serverVersion (spec.md §4.3 rule 6:
// `%SYSTEM.Version.GetNumber()` translates to `version()`, which must
// answer with something a PostgreSQL client will accept) and namespace as
// the sole row of pg_namespace/pg_database results.
func New(serverVersion, namespace string) *Catalog {
	if serverVersion == "" {
		serverVersion = "PostgreSQL 14.9 (pgiris bridge over IRIS)"
	}
	if namespace == "" {
		namespace = "public"
	}
	return &Catalog{ServerVersion: serverVersion, Namespace: namespace}
}

// Intercept inspects sql (already translator-normalized) and, if it is one
// of the recognized system-function calls or pg_catalog table queries this
// package answers locally, returns the synthesized Result without the
// caller ever dispatching to the IRIS bridge. ok is false for anything this
// package doesn't recognize, and the caller falls through to Execute.
func (c *Catalog) Intercept(sql string, currentUser string) (*bridge.Result, bool) {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sql), ";"))
	upper := strings.ToUpper(trimmed)

	if result, ok := c.interceptFunctionCall(upper, trimmed, currentUser); ok {
		return result, true
	}
	if result, ok := c.interceptCatalogTable(upper, currentUser); ok {
		return result, true
	}
	return nil, false
}

// interceptFunctionCall matches the handful of bare "SELECT <fn>(...)"
// system-information calls, mirroring the scalar functions the teacher
// registers via conn.RegisterFunc.
func (c *Catalog) interceptFunctionCall(upper, original, currentUser string) (*bridge.Result, bool) {
	single := func(name, value string) *bridge.Result {
		return &bridge.Result{
			Columns: []bridge.Column{{Name: name, IRISType: "TEXT", Size: len(value)}},
			Rows:    []bridge.Row{{Values: []bridge.Value{{IRISType: "TEXT", Native: value}}}},
		}
	}

	switch {
	case matchesSelectCall(upper, "VERSION"):
		return single("version", c.ServerVersion), true
	case matchesSelectCall(upper, "CURRENT_USER"), matchesSelectBare(upper, "CURRENT_USER"):
		return single("current_user", currentUser), true
	case matchesSelectCall(upper, "SESSION_USER"), matchesSelectBare(upper, "SESSION_USER"):
		return single("session_user", currentUser), true
	case matchesSelectCall(upper, "USER"), matchesSelectBare(upper, "USER"):
		return single("user", currentUser), true
	case matchesSelectCall(upper, "CURRENT_SCHEMA"), matchesSelectBare(upper, "CURRENT_SCHEMA"):
		return single("current_schema", c.Namespace), true
	case matchesSelectCall(upper, "CURRENT_CATALOG"), matchesSelectBare(upper, "CURRENT_CATALOG"):
		return single("current_catalog", c.Namespace), true
	}
	return nil, false
}

func matchesSelectCall(upper, fn string) bool {
	return upper == "SELECT "+fn+"()"
}

func matchesSelectBare(upper, fn string) bool {
	return upper == "SELECT "+fn
}

// interceptCatalogTable recognizes a handful of exact-match introspection
// queries JDBC drivers and psql issue against pg_catalog.*, answering with
// a single representative row per the teacher's virtual-table column
// layouts (pkg/catalog/catalog.go's pg_database_sql etc.) rather than
// attempting general predicate evaluation — any query more complex than
// "SELECT * FROM pg_catalog.X" (or the bare "SELECT * FROM pg_X") falls
// through to the bridge, which for a
// real IRIS backend should have its own pg_catalog-compatible views.
func (c *Catalog) interceptCatalogTable(upper string, currentUser string) (*bridge.Result, bool) {
	table, ok := catalogTableFromQuery(upper)
	if !ok {
		return nil, false
	}
	switch table {
	case "PG_DATABASE":
		return c.pgDatabase(currentUser), true
	case "PG_NAMESPACE":
		return c.pgNamespace(), true
	case "PG_TYPE":
		return pgType(), true
	case "PG_CLASS":
		return pgClass(), true
	case "PG_SETTINGS":
		return pgSettings(), true
	case "PG_DESCRIPTION":
		return pgDescription(), true
	case "PG_RANGE":
		return pgRange(), true
	}
	return nil, false
}

func catalogTableFromQuery(upper string) (string, bool) {
	const selectAll = "SELECT * FROM "
	if !strings.HasPrefix(upper, selectAll) {
		return "", false
	}
	table := strings.TrimPrefix(upper[len(selectAll):], "PG_CATALOG.")
	if !strings.HasPrefix(table, "PG_") || firstToken(table) != table {
		return "", false
	}
	return table, true
}

func firstToken(s string) string {
	for i, r := range s {
		if r == ' ' || r == ';' || r == ',' || r == ')' {
			return s[:i]
		}
	}
	return s
}

func (c *Catalog) pgDatabase(owner string) *bridge.Result {
	cols := []bridge.Column{
		{Name: "oid", IRISType: "BIGINT"}, {Name: "datname", IRISType: "TEXT"},
		{Name: "datdba", IRISType: "BIGINT"}, {Name: "encoding", IRISType: "INTEGER"},
		{Name: "datcollate", IRISType: "TEXT"}, {Name: "datctype", IRISType: "TEXT"},
		{Name: "datistemplate", IRISType: "BOOLEAN"}, {Name: "datallowconn", IRISType: "BOOLEAN"},
		{Name: "datconnlimit", IRISType: "INTEGER"}, {Name: "datlastsysoid", IRISType: "BIGINT"},
		{Name: "datfrozenxid", IRISType: "BIGINT"}, {Name: "datminmxid", IRISType: "BIGINT"},
		{Name: "dattablespace", IRISType: "BIGINT"}, {Name: "datacl", IRISType: "TEXT"},
	}
	row := bridge.Row{Values: []bridge.Value{
		{IRISType: "BIGINT", Native: int64(16384)}, {IRISType: "TEXT", Native: c.Namespace},
		{IRISType: "BIGINT", Native: int64(10)}, {IRISType: "INTEGER", Native: int64(6)}, // UTF8
		{IRISType: "TEXT", Native: "en_US.UTF-8"}, {IRISType: "TEXT", Native: "en_US.UTF-8"},
		{IRISType: "BOOLEAN", Native: false}, {IRISType: "BOOLEAN", Native: true},
		{IRISType: "INTEGER", Native: int64(-1)}, {IRISType: "BIGINT", Native: int64(0)},
		{IRISType: "BIGINT", Native: int64(0)}, {IRISType: "BIGINT", Native: int64(0)},
		{IRISType: "BIGINT", Native: int64(0)}, {IRISType: "TEXT", Null: true},
	}}
	return &bridge.Result{Columns: cols, Rows: []bridge.Row{row}}
}

func (c *Catalog) pgNamespace() *bridge.Result {
	cols := []bridge.Column{
		{Name: "oid", IRISType: "BIGINT"}, {Name: "nspname", IRISType: "TEXT"},
		{Name: "nspowner", IRISType: "BIGINT"}, {Name: "nspacl", IRISType: "TEXT"},
	}
	row := bridge.Row{Values: []bridge.Value{
		{IRISType: "BIGINT", Native: int64(2200)}, {IRISType: "TEXT", Native: c.Namespace},
		{IRISType: "BIGINT", Native: int64(10)}, {IRISType: "TEXT", Null: true},
	}}
	return &bridge.Result{Columns: cols, Rows: []bridge.Row{row}}
}

func pgType() *bridge.Result {
	cols := []bridge.Column{{Name: "oid", IRISType: "BIGINT"}, {Name: "typname", IRISType: "TEXT"}}
	var rows []bridge.Row
	for _, t := range []struct {
		oid  int64
		name string
	}{
		{16, "bool"}, {23, "int4"}, {20, "int8"}, {21, "int2"}, {700, "float4"},
		{701, "float8"}, {1700, "numeric"}, {25, "text"}, {1043, "varchar"},
		{1082, "date"}, {1114, "timestamp"}, {17, "bytea"}, {3802, "jsonb"},
	} {
		rows = append(rows, bridge.Row{Values: []bridge.Value{
			{IRISType: "BIGINT", Native: t.oid}, {IRISType: "TEXT", Native: t.name},
		}})
	}
	return &bridge.Result{Columns: cols, Rows: rows}
}

func pgClass() *bridge.Result {
	cols := []bridge.Column{{Name: "oid", IRISType: "BIGINT"}, {Name: "relname", IRISType: "TEXT"}, {Name: "relkind", IRISType: "TEXT"}}
	return &bridge.Result{Columns: cols}
}

func pgSettings() *bridge.Result {
	cols := []bridge.Column{{Name: "name", IRISType: "TEXT"}, {Name: "setting", IRISType: "TEXT"}}
	settings := map[string]string{
		"server_version":      "14.9",
		"server_encoding":     "UTF8",
		"client_encoding":     "UTF8",
		"DateStyle":           "ISO, MDY",
		"integer_datetimes":   "on",
		"standard_conforming_strings": "on",
	}
	var rows []bridge.Row
	for name, val := range settings {
		rows = append(rows, bridge.Row{Values: []bridge.Value{
			{IRISType: "TEXT", Native: name}, {IRISType: "TEXT", Native: val},
		}})
	}
	return &bridge.Result{Columns: cols, Rows: rows}
}

func pgDescription() *bridge.Result {
	cols := []bridge.Column{
		{Name: "objoid", IRISType: "BIGINT"}, {Name: "classoid", IRISType: "BIGINT"},
		{Name: "objsubid", IRISType: "INTEGER"}, {Name: "description", IRISType: "TEXT"},
	}
	return &bridge.Result{Columns: cols}
}

func pgRange() *bridge.Result {
	cols := []bridge.Column{
		{Name: "rngtypid", IRISType: "BIGINT"}, {Name: "rngsubtype", IRISType: "BIGINT"},
	}
	return &bridge.Result{Columns: cols}
}

// ServerParameters returns the name/value set the Startup response's
// ParameterStatus messages must announce (spec.md §4.1). server_version is
// the fixed "14.9", not derived from c.ServerVersion; Startup adds
// application_name itself.
func (c *Catalog) ServerParameters() map[string]string {
	return map[string]string{
		"server_version":   "14.9",
		"server_encoding":  "UTF8",
		"client_encoding":  "UTF8",
		"DateStyle":        "ISO, MDY",
		"integer_datetimes": "on",
		"TimeZone":         "UTC",
		"standard_conforming_strings": "on",
	}
}
