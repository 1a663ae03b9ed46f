// Package vectoropt implements the Vector Optimizer: IRIS requires the
// vector argument of an ORDER BY similarity comparison to be a literal, not
// a bind parameter, before its HNSW index can be used. This package rewrites
// a parameterized `VECTOR_COSINE(col, TO_VECTOR(?))`-shaped query into one
// with the parameter substituted inline as a literal, and drops the
// now-consumed parameter from the positional parameter list.
//
// Grounded directly on original_source's
// iris_pgwire/vector_optimizer.py (VectorQueryOptimizer.optimize_query),
// carried over almost statement-for-statement since spec.md's distillation
// dropped this optimization entirely — it is a supplemented feature (see
// SPEC_FULL.md §9), not one spec.md names.
package vectoropt

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SLABudget is the constitutional 5ms transformation budget the original
// tracks per call.
const SLABudget = 5 * time.Millisecond

// Metrics reports one optimize_query call's cost and effect, for the same
// monitor plumbing translate.Monitor feeds (this package takes no Monitor
// dependency itself; callers that want aggregate stats wrap Optimize).
type Metrics struct {
	Duration          time.Duration
	ParamsFound       int
	ParamsSubstituted int
	SLACompliant      bool
}

var orderByPattern = regexp.MustCompile(
	`(?i)(VECTOR_(?:COSINE|DOT_PRODUCT|L2))\s*\(\s*(\w+)\s*,\s*(TO_VECTOR\s*\(\s*(\?)\s*(?:,\s*(\w+))?\s*\))`,
)

// Optimize transforms every parameterized TO_VECTOR(?) call found inside a
// VECTOR_COSINE/VECTOR_DOT_PRODUCT/VECTOR_L2 comparison into an inline
// literal, using the corresponding positional entry in params, and returns
// the rewritten SQL plus the remaining parameter list (with consumed
// entries removed, preserving the relative order of what's left).
//
// A query with no ORDER BY / TO_VECTOR pattern, or no params at all, is
// returned unchanged — this is a narrow, best-effort optimization, not a
// required correctness step (IRIS also accepts the parameterized form, just
// without HNSW acceleration).
func Optimize(sql string, params []any) (string, []any, Metrics) {
	start := time.Now()

	if sql == "" || len(params) == 0 {
		return sql, params, Metrics{SLACompliant: true}
	}
	upper := strings.ToUpper(sql)
	if !strings.Contains(upper, "ORDER BY") || !strings.Contains(upper, "TO_VECTOR") {
		return sql, params, Metrics{SLACompliant: true}
	}

	matches := orderByPattern.FindAllStringSubmatchIndex(sql, -1)
	if len(matches) == 0 {
		return sql, params, Metrics{SLACompliant: true}
	}

	out := sql
	remaining := append([]any(nil), params...)
	consumed := map[int]bool{}
	substituted := 0

	// Walk matches in reverse so earlier substitutions don't invalidate the
	// byte offsets of matches still to be processed.
	for i := len(matches) - 1; i >= 0; i-- {
		loc := matches[i]
		matchStart := loc[0]
		toVectorStart, toVectorEnd := loc[6], loc[7]
		dataType := "FLOAT"
		if loc[10] >= 0 {
			dataType = sql[loc[10]:loc[11]]
		}

		paramIndex := strings.Count(sql[:matchStart], "?")
		if paramIndex >= len(remaining) {
			continue
		}
		raw, ok := remaining[paramIndex].(string)
		if !ok {
			continue
		}
		literal, err := vectorLiteral(raw)
		if err != nil {
			continue
		}

		replacement := fmt.Sprintf("TO_VECTOR('%s', %s)", literal, dataType)
		out = out[:toVectorStart] + replacement + out[toVectorEnd:]
		consumed[paramIndex] = true
		substituted++
	}

	if substituted > 0 {
		var kept []any
		for i, p := range remaining {
			if !consumed[i] {
				kept = append(kept, p)
			}
		}
		remaining = kept
	}

	elapsed := time.Since(start)
	return out, remaining, Metrics{
		Duration:          elapsed,
		ParamsFound:       len(matches),
		ParamsSubstituted: substituted,
		SLACompliant:      elapsed <= SLABudget,
	}
}

// vectorLiteral converts one vector parameter into a JSON array literal
// body (without the surrounding quotes), accepting the same three input
// forms the original Python recognizes: an already-bracketed JSON array, a
// "base64:"-prefixed little-endian float32 buffer, or a bare comma-delimited
// number list.
func vectorLiteral(param string) (string, error) {
	if param == "" {
		return "", fmt.Errorf("empty vector parameter")
	}
	if strings.HasPrefix(param, "[") && strings.HasSuffix(param, "]") {
		return param, nil
	}
	if rest, ok := strings.CutPrefix(param, "base64:"); ok {
		return decodeBase64Vector(rest)
	}
	if strings.Contains(param, ",") {
		return "[" + param + "]", nil
	}
	return "", fmt.Errorf("unrecognized vector parameter format")
}

const maxVectorDimensions = 65536

func decodeBase64Vector(encoded string) (string, error) {
	if encoded == "" {
		return "", fmt.Errorf("empty base64 payload")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode base64 vector: %w", err)
	}
	if len(raw)%4 != 0 {
		return "", fmt.Errorf("base64 vector not aligned to 4-byte float32 boundary: %d bytes", len(raw))
	}
	n := len(raw) / 4
	if n == 0 {
		return "", fmt.Errorf("base64 vector decoded to zero floats")
	}
	if n > maxVectorDimensions {
		return "", fmt.Errorf("vector dimension %d exceeds sanity bound %d", n, maxVectorDimensions)
	}

	var b strings.Builder
	b.WriteByte('[')
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
		f := math.Float32frombits(bits)
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String(), nil
}
