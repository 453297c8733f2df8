package policy

// Reason codes attached to non-PASS gates. The evaluation service may send
// codes not listed here; ReasonText passes those through unchanged.
const (
	ReasonPassRateBelow          = "PASS_RATE_BELOW_THRESHOLD"
	ReasonPassRateUnavailable    = "PASS_RATE_UNAVAILABLE"
	ReasonAvgScoreBelow          = "AVG_SCORE_BELOW_THRESHOLD"
	ReasonAvgScoreUnavailable    = "AVG_SCORE_UNAVAILABLE"
	ReasonErrorRateAbove         = "ERROR_RATE_ABOVE_THRESHOLD"
	ReasonErrorRateUnavailable   = "ERROR_RATE_UNAVAILABLE"
	ReasonBaselineIncomplete     = "COMPARE_BASELINE_INCOMPLETE"
	ReasonBaselineUnavailable    = "COMPARE_BASELINE_UNAVAILABLE"
	ReasonRegression             = "COMPARE_REGRESSION_DETECTED"
	ReasonImprovementMinor       = "COMPARE_IMPROVEMENT_MINOR"
	ReasonImprovementUnavailable = "COMPARE_IMPROVEMENT_UNAVAILABLE"
)

var reasonText = map[string]string{
	ReasonPassRateBelow:          "Pass rate is below the minimum pass rate",
	ReasonPassRateUnavailable:    "Pass rate unavailable: no processed cases or no threshold",
	ReasonAvgScoreBelow:          "Average judge score is below the minimum",
	ReasonAvgScoreUnavailable:    "Average score unavailable: no scored cases or no threshold",
	ReasonErrorRateAbove:         "Error rate exceeds the maximum error rate",
	ReasonErrorRateUnavailable:   "Error rate unavailable: no processed cases or no threshold",
	ReasonBaselineIncomplete:     "Baseline comparison is incomplete for some cases",
	ReasonBaselineUnavailable:    "Baseline comparison unavailable: no comparable cases",
	ReasonRegression:             "Score regression against the baseline (worse on average)",
	ReasonImprovementMinor:       "Improvement over the baseline is below the notice threshold",
	ReasonImprovementUnavailable: "Improvement delta unavailable: no score deltas or no threshold",
}

// ReasonText returns the display string for a reason code.
func ReasonText(code string) string {
	if text, ok := reasonText[code]; ok {
		return text
	}
	return code
}

// ReasonTexts maps ReasonText over codes.
func ReasonTexts(codes []string) []string {
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		out = append(out, ReasonText(code))
	}
	return out
}
