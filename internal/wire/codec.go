package wire

import (
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pgiris/pgiris/internal/bridge"
)

// WriteMessages frames and writes every message to a single buffer before a
// single Write call, matching the teacher's pkg/pgwire/utils.go writeMessages
// — batching avoids a write() syscall per protocol message and keeps the
// "drainable after a logical boundary" contract of spec.md §4.1 (callers
// decide the boundary by how they group calls).
func WriteMessages(w io.Writer, msgs ...pgproto3.Message) error {
	var buf []byte
	for _, msg := range msgs {
		var err error
		buf, err = msg.Encode(buf)
		if err != nil {
			return fmt.Errorf("encode %T: %w", msg, err)
		}
	}
	_, err := w.Write(buf)
	return err
}

// RowDescription builds a RowDescription message from bridge column
// metadata. All formats are text (format code 0) per spec.md §4.1: "All
// DataRow values in this system are sent in text format (format code 0)".
// This is a deliberate REDESIGN away from the teacher's per-client
// text/binary branch (pkg/pgwire/utils.go toRowDescriptionNew) — see
// SPEC_FULL.md §7 REDESIGN FLAGS.
func RowDescription(cols []bridge.Column) *pgproto3.RowDescription {
	desc := &pgproto3.RowDescription{Fields: make([]pgproto3.FieldDescription, len(cols))}
	for i, col := range cols {
		oid := OIDForIRISType(col.IRISType)
		desc.Fields[i] = pgproto3.FieldDescription{
			Name:                 []byte(col.Name),
			TableOID:             0,
			TableAttributeNumber: 0,
			DataTypeOID:          oid,
			DataTypeSize:         TypeSizeForOID(oid),
			TypeModifier:         -1,
			Format:               pgtype.TextFormatCode,
		}
	}
	return desc
}

// DataRow encodes one result row as text values, the only format this
// server emits (spec.md §4.1).
func DataRow(values []bridge.Value, typeMap *pgtype.Map) (*pgproto3.DataRow, error) {
	row := &pgproto3.DataRow{Values: make([][]byte, len(values))}
	for i, v := range values {
		if v.Null {
			row.Values[i] = nil
			continue
		}
		buf, err := typeMap.Encode(OIDForIRISType(v.IRISType), pgtype.TextFormatCode, v.Native, nil)
		if err != nil {
			return nil, fmt.Errorf("encode column %d (%s): %w", i, v.IRISType, err)
		}
		row.Values[i] = buf
	}
	return row, nil
}

// ParamOIDForPGType resolves a PostgreSQL OID sent by the client in a Parse
// message's ParameterOIDs back into the IRIS type name the translator and
// bridge use internally, the inverse of OIDForIRISType for the subset of
// types clients commonly declare on bind parameters.
func ParamOIDForPGType(oid uint32) string {
	switch oid {
	case pgtype.Int2OID:
		return "SMALLINT"
	case pgtype.Int4OID:
		return "INTEGER"
	case pgtype.Int8OID:
		return "BIGINT"
	case pgtype.Float4OID:
		return "FLOAT"
	case pgtype.Float8OID:
		return "DOUBLE"
	case pgtype.NumericOID:
		return "NUMERIC"
	case pgtype.BoolOID:
		return "BOOLEAN"
	case pgtype.DateOID:
		return "DATE"
	case pgtype.TimestampOID:
		return "TIMESTAMP"
	case pgtype.ByteaOID:
		return "VARBINARY"
	case VectorOID:
		return "VECTOR"
	default:
		return "VARCHAR"
	}
}
