package filter

import "strings"

// Rule maps reason text containing Pattern to Result. Matching is a
// case-insensitive substring test.
type Rule struct {
	Pattern string
	Result  CaseFilter
}

// Lexicon is an ordered rule list; the first matching rule wins.
type Lexicon []Rule

// DefaultLexicon holds the regression keywords ahead of the failure keywords.
var DefaultLexicon = Lexicon{
	{"회귀", CaseWorse},
	{"열세", CaseWorse},
	{"느려", CaseWorse},
	{"비용", CaseWorse},
	{"worse", CaseWorse},
	{"regression", CaseWorse},
	{"loss", CaseWorse},
	{"미달", CaseFail},
	{"실패", CaseFail},
	{"오류", CaseFail},
	{"must", CaseFail},
	{"fail", CaseFail},
	{"error", CaseFail},
}

// Resolve maps a decision reason or label to CaseFail or CaseWorse. Outside
// compare mode the answer is always CaseFail. Unmatched text falls back on
// the winner: BASELINE gives CaseWorse, anything else CaseFail.
func (l Lexicon) Resolve(reason, winner string, compareMode bool) CaseFilter {
	if !compareMode {
		return CaseFail
	}
	text := strings.ToLower(reason)
	for _, r := range l {
		if r.Pattern == "" || (r.Result != CaseFail && r.Result != CaseWorse) {
			continue
		}
		if strings.Contains(text, strings.ToLower(r.Pattern)) {
			return r.Result
		}
	}
	if strings.EqualFold(strings.TrimSpace(winner), "BASELINE") {
		return CaseWorse
	}
	return CaseFail
}

// ResolveReasonDrivenCaseFilter resolves with DefaultLexicon.
func ResolveReasonDrivenCaseFilter(reason, winner string, compareMode bool) CaseFilter {
	return DefaultLexicon.Resolve(reason, winner, compareMode)
}
