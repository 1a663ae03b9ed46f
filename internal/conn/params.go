package conn

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// substituteParams implements spec.md §4.2's "Parameter substitution": $n
// placeholders in the translated SQL are replaced by literal text built from
// the bound values, since (per spec.md's own rationale) the bridge
// interface is positional-text and prepared-statement plans are not
// preserved across it — there is no positional bind call to hand values to,
// only execute(sql, params) against freshly-assembled text.
//
// Grounded on pkg/pgwire/utils.go's parametersToValues (the same OID-driven
// byte decode), adapted from "decode into a Go native value for
// database/sql binding" to "decode then format as a SQL literal", since this
// system substitutes into text rather than binding positionally.
func substituteParams(sql string, values [][]byte, formats []int16, oids []uint32) (string, error) {
	literals := make([]string, len(values))
	for i, raw := range values {
		format := formatAt(formats, i)
		oid := oidAt(oids, i)
		lit, err := paramLiteral(raw, format, oid)
		if err != nil {
			return "", fmt.Errorf("parameter $%d: %w", i+1, err)
		}
		literals[i] = lit
	}
	return replaceParamPlaceholders(sql, literals), nil
}

func formatAt(formats []int16, i int) int16 {
	if len(formats) == 0 {
		return 0 // text is the default (spec.md §4.2)
	}
	if len(formats) == 1 {
		return formats[0]
	}
	if i < len(formats) {
		return formats[i]
	}
	return 0
}

func oidAt(oids []uint32, i int) uint32 {
	if i < len(oids) {
		return oids[i]
	}
	return pgtype.TextOID
}

// paramLiteral renders one bound parameter as SQL-literal text: NULL for a
// nil value, a doubled-quote string literal for text-like types, a bare
// number for numeric types, and a hex-escaped bytea literal for binary.
func paramLiteral(raw []byte, format int16, oid uint32) (string, error) {
	if raw == nil {
		return "NULL", nil
	}

	if format == 1 {
		return binaryParamLiteral(raw, oid)
	}
	return textParamLiteral(string(raw), oid), nil
}

func textParamLiteral(text string, oid uint32) string {
	switch oid {
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID, pgtype.Float4OID, pgtype.Float8OID, pgtype.NumericOID, pgtype.BoolOID:
		return text
	case pgtype.ByteaOID:
		return "E'\\\\x" + hexString([]byte(text)) + "'"
	default:
		return quoteLiteral(text)
	}
}

func binaryParamLiteral(raw []byte, oid uint32) (string, error) {
	switch oid {
	case pgtype.Int2OID:
		if len(raw) != 2 {
			return "", fmt.Errorf("malformed int2 binary parameter")
		}
		return strconv.FormatInt(int64(int16(binary.BigEndian.Uint16(raw))), 10), nil
	case pgtype.Int4OID:
		if len(raw) != 4 {
			return "", fmt.Errorf("malformed int4 binary parameter")
		}
		return strconv.FormatInt(int64(int32(binary.BigEndian.Uint32(raw))), 10), nil
	case pgtype.Int8OID:
		if len(raw) != 8 {
			return "", fmt.Errorf("malformed int8 binary parameter")
		}
		return strconv.FormatInt(int64(binary.BigEndian.Uint64(raw)), 10), nil
	case pgtype.Float4OID:
		if len(raw) != 4 {
			return "", fmt.Errorf("malformed float4 binary parameter")
		}
		return strconv.FormatFloat(float64(math.Float32frombits(binary.BigEndian.Uint32(raw))), 'g', -1, 32), nil
	case pgtype.Float8OID:
		if len(raw) != 8 {
			return "", fmt.Errorf("malformed float8 binary parameter")
		}
		return strconv.FormatFloat(math.Float64frombits(binary.BigEndian.Uint64(raw)), 'g', -1, 64), nil
	case pgtype.BoolOID:
		if len(raw) != 1 {
			return "", fmt.Errorf("malformed bool binary parameter")
		}
		if raw[0] != 0 {
			return "true", nil
		}
		return "false", nil
	case pgtype.NumericOID:
		// Binary numeric has no simple fixed-width form; fall back to the
		// unsigned big-endian magnitude the teacher's own parametersToValues
		// used for this same OID class.
		return big.NewInt(0).SetBytes(raw).String(), nil
	case pgtype.ByteaOID:
		return "E'\\\\x" + hexString(raw) + "'", nil
	default:
		return quoteLiteral(string(raw)), nil
	}
}

func hexString(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0x0f]
	}
	return string(out)
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// replaceParamPlaceholders substitutes every "$n" placeholder (1-indexed,
// matching PostgreSQL's convention) with literals[n-1], scanning left to
// right and skipping placeholder-like text inside single-quoted strings.
func replaceParamPlaceholders(sql string, literals []string) string {
	var out strings.Builder
	inQuote := false
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if ch == '\'' {
			inQuote = !inQuote
			out.WriteByte(ch)
			continue
		}
		if !inQuote && ch == '$' && i+1 < len(sql) && isDigit(sql[i+1]) {
			j := i + 1
			for j < len(sql) && isDigit(sql[j]) {
				j++
			}
			n, err := strconv.Atoi(sql[i+1 : j])
			if err == nil && n >= 1 && n <= len(literals) {
				out.WriteString(literals[n-1])
				i = j - 1
				continue
			}
		}
		out.WriteByte(ch)
	}
	return out.String()
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
