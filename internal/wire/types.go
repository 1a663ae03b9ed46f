// Package wire implements the Protocol Codec component (spec.md §4.1): message
// framing on top of github.com/jackc/pgx/v5/pgproto3, and the IRIS-to-OID type
// mapping tables. Grounded on pkg/db/typeinfo.go's Typemap/ValueToOID, which
// did the same job for SQLite column affinities; generalized here to the IRIS
// type names spec.md §4.1 enumerates.
package wire

import (
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// VectorOID is the custom OID this server assigns to IRIS VECTOR columns, as
// named in spec.md §4.1 ("VECTOR→custom 16388").
const VectorOID = 16388

// irisTypeOIDs maps an IRIS column type name (as reported by the bridge's
// execute() result, see spec.md §3 TranslationResult / §4.7) to the
// PostgreSQL OID a client expects in RowDescription.
var irisTypeOIDs = map[string]uint32{
	"INTEGER":      pgtype.Int4OID,
	"BIGINT":       pgtype.Int8OID,
	"SMALLINT":     pgtype.Int2OID,
	"TINYINT":      pgtype.Int2OID,
	"DOUBLE":       pgtype.Float8OID,
	"FLOAT":        pgtype.Float4OID,
	"NUMERIC":      pgtype.NumericOID,
	"DECIMAL":      pgtype.NumericOID,
	"VARCHAR":      pgtype.VarcharOID,
	"CHAR":         pgtype.BPCharOID,
	"LONGVARCHAR":  pgtype.TextOID,
	"TEXT":         pgtype.TextOID,
	"DATE":         pgtype.DateOID,
	"TIME":         pgtype.TimeOID,
	"TIMESTAMP":    pgtype.TimestampOID,
	"BOOLEAN":      pgtype.BoolOID,
	"BIT":          pgtype.BoolOID,
	"VARBINARY":    pgtype.ByteaOID,
	"BINARY":       pgtype.ByteaOID,
	"ROWVERSION":   pgtype.ByteaOID,
	"VECTOR":       VectorOID,
	"%LIST":        pgtype.TextArrayOID,
}

// OIDForIRISType maps an IRIS type name to a PostgreSQL OID, defaulting to
// TextOID for unrecognized types per spec.md §4.1 ("Unknown → 25 (text)").
// IRIS reports type names like "VARCHAR(255)"; only the base name before any
// parenthesized length/precision is looked up.
func OIDForIRISType(irisType string) uint32 {
	name := strings.ToUpper(strings.TrimSpace(irisType))
	if idx := strings.IndexByte(name, '('); idx >= 0 {
		name = strings.TrimSpace(name[:idx])
	}
	if oid, ok := irisTypeOIDs[name]; ok {
		return oid
	}
	return pgtype.TextOID
}

// TypeSizeForOID returns the fixed wire size PostgreSQL clients expect for a
// given OID, or -1 for variable-length types (spec.md §4.1's "type size (−1
// for variable)").
func TypeSizeForOID(oid uint32) int16 {
	switch oid {
	case pgtype.Int2OID:
		return 2
	case pgtype.Int4OID, pgtype.Float4OID, pgtype.DateOID:
		return 4
	case pgtype.Int8OID, pgtype.Float8OID, pgtype.TimestampOID:
		return 8
	case pgtype.BoolOID:
		return 1
	default:
		return -1
	}
}

// CommandTag builds the CommandComplete tag per the formation rules in
// spec.md §4.1's table: "SELECT <rows>", "INSERT 0 <rows>", etc.
func CommandTag(verb string, rows int64) string {
	switch strings.ToUpper(verb) {
	case "SELECT":
		return tagWithCount("SELECT", rows)
	case "INSERT":
		return "INSERT 0 " + itoa(rows)
	case "UPDATE":
		return tagWithCount("UPDATE", rows)
	case "DELETE":
		return tagWithCount("DELETE", rows)
	case "COPY":
		return tagWithCount("COPY", rows)
	case "CREATE", "DROP", "ALTER", "BEGIN", "COMMIT", "ROLLBACK":
		return strings.ToUpper(verb)
	default:
		return strings.ToUpper(verb)
	}
}

func tagWithCount(verb string, rows int64) string {
	return verb + " " + itoa(rows)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
