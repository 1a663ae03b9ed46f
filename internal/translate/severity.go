package translate

import "fmt"

// ConfidenceLevel buckets a translation's overall confidence score for
// reporting and for the `hybrid` unsupported-construct policy (spec.md §7).
// Grounded on original_source's TranslationConfidenceAnalyzer
// (iris_pgwire/sql_translator/confidence_analyzer.py), reduced from its full
// trend/statistics surface to the single-shot classification this module's
// synchronous request path needs.
type ConfidenceLevel string

const (
	ConfidenceExcellent ConfidenceLevel = "excellent"
	ConfidenceHigh      ConfidenceLevel = "high"
	ConfidenceMedium    ConfidenceLevel = "medium"
	ConfidenceLow       ConfidenceLevel = "low"
	ConfidenceCritical  ConfidenceLevel = "critical"
)

func classifyConfidence(score float64) ConfidenceLevel {
	switch {
	case score >= 0.9:
		return ConfidenceExcellent
	case score >= 0.8:
		return ConfidenceHigh
	case score >= 0.6:
		return ConfidenceMedium
	case score >= 0.4:
		return ConfidenceLow
	default:
		return ConfidenceCritical
	}
}

// UnsupportedPolicy is the startup-configured response to an unresolved
// `%...` construct (spec.md §7): error/warning/ignore/hybrid, default hybrid.
type UnsupportedPolicy string

const (
	PolicyError   UnsupportedPolicy = "error"
	PolicyWarning UnsupportedPolicy = "warning"
	PolicyIgnore  UnsupportedPolicy = "ignore"
	PolicyHybrid  UnsupportedPolicy = "hybrid"
	DefaultPolicy                   = PolicyHybrid
)

// ConstructOutcome is the hybrid policy's verdict for one unresolved %...
// construct found by UnrecognizedIRISConstructs.
type ConstructOutcome struct {
	Construct string
	Action    string // "error" | "warning" | "pass"
	Reason    string
}

// ApplyUnsupportedPolicy decides, for every unresolved %... construct in
// sql, whether the connection should raise UNSUPPORTED_CONSTRUCT, emit a
// notice and continue, or silently pass the original text through, per the
// policy configured at startup (spec.md §7).
func ApplyUnsupportedPolicy(sql string, policy UnsupportedPolicy) []ConstructOutcome {
	constructs := UnrecognizedIRISConstructs(sql)
	if len(constructs) == 0 {
		return nil
	}
	outcomes := make([]ConstructOutcome, 0, len(constructs))
	for _, c := range constructs {
		var action, reason string
		switch policy {
		case PolicyError:
			action, reason = "error", "unsupported_policy=error"
		case PolicyWarning:
			action, reason = "warning", "unsupported_policy=warning"
		case PolicyIgnore:
			action, reason = "pass", "unsupported_policy=ignore"
		default: // hybrid
			if isAdministrativeConstruct(c) {
				action, reason = "error", "hybrid: administrative construct"
			} else {
				action, reason = "warning", "hybrid: unknown function, preserved as-is"
			}
		}
		outcomes = append(outcomes, ConstructOutcome{Construct: c, Action: action, Reason: reason})
	}
	return outcomes
}

// isAdministrativeConstruct reports whether construct (a raw "%..." token,
// already stripped of any known alias by rewriteIRISFunctionAliases) names
// an IRIS system/security/admin call. Only the %SYSTEM.*, %Admin.* and
// %Security.* prefixes are treated as administrative; everything else is an
// "unknown function" under the hybrid policy.
func isAdministrativeConstruct(construct string) bool {
	for _, prefix := range []string{"%SYSTEM.", "%Admin.", "%Security."} {
		if len(construct) >= len(prefix) && construct[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// ConfidenceSummary is a compact, human-readable rollup of one translation's
// mappings, attached to metrics/logging output — not returned to the client.
type ConfidenceSummary struct {
	Overall       float64
	Level         ConfidenceLevel
	LowCount      int
	CriticalCount int
	RiskFactors   []string
}

// SummarizeConfidence rolls a translation's per-rule mappings into a single
// score: the unweighted mean of each mapping's Confidence, falling back to
// 1.0 (untranslated input is, by definition, not a confidence risk) when no
// rule fired.
func SummarizeConfidence(mappings []Mapping) ConfidenceSummary {
	if len(mappings) == 0 {
		return ConfidenceSummary{Overall: 1.0, Level: ConfidenceExcellent}
	}
	var sum float64
	var low, critical int
	for _, m := range mappings {
		sum += m.Confidence
		switch classifyConfidence(m.Confidence) {
		case ConfidenceLow:
			low++
		case ConfidenceCritical:
			critical++
		}
	}
	overall := sum / float64(len(mappings))
	summary := ConfidenceSummary{
		Overall:       overall,
		Level:         classifyConfidence(overall),
		LowCount:      low,
		CriticalCount: critical,
	}
	if critical > 0 {
		summary.RiskFactors = append(summary.RiskFactors,
			fmt.Sprintf("%d mapping(s) below critical confidence threshold", critical))
	}
	if low > 0 {
		summary.RiskFactors = append(summary.RiskFactors,
			fmt.Sprintf("%d mapping(s) at low confidence", low))
	}
	return summary
}
