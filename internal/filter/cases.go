package filter

import (
	"fmt"
	"strings"

	"github.com/chanyong1027/evalstudio/internal/compare"
	"github.com/chanyong1027/evalstudio/pkg/types"
)

// CaseFilter selects cases of a run by class or by compare tone.
type CaseFilter string

const (
	CaseAll     CaseFilter = All
	CasePass    CaseFilter = "PASS"
	CaseFail    CaseFilter = "FAIL"
	CaseError   CaseFilter = "ERROR"
	CaseRunning CaseFilter = "RUNNING"
	CaseSkipped CaseFilter = "SKIPPED"
	CaseBetter  CaseFilter = "BETTER"
	CaseWorse   CaseFilter = "WORSE"
	CaseSame    CaseFilter = "SAME"
)

var caseFilters = []CaseFilter{CaseAll, CasePass, CaseFail, CaseError, CaseRunning, CaseSkipped, CaseBetter, CaseWorse, CaseSame}

// ParseCaseFilter accepts a filter name case-insensitively.
func ParseCaseFilter(s string) (CaseFilter, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return CaseAll, nil
	}
	for _, f := range caseFilters {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown case filter %q", s)
}

// MatchesCaseFilter reports whether c belongs under filter. Tone filters
// never match outside compare mode.
func MatchesCaseFilter(c types.EvalCaseResult, mode types.EvalMode, filter CaseFilter) bool {
	switch filter {
	case CaseAll:
		return true
	case CasePass:
		return c.Status == types.CaseOK && c.Pass != nil && *c.Pass
	case CaseFail:
		return c.Status == types.CaseOK && c.Pass != nil && !*c.Pass
	case CaseError:
		return c.Status == types.CaseError
	case CaseRunning:
		return c.Status == types.CaseQueued || c.Status == types.CaseRunning
	case CaseSkipped:
		return c.Status == types.CaseSkipped
	case CaseBetter:
		return mode.IsCompare() && compare.ToneOf(c, mode) == compare.ToneBetter
	case CaseWorse:
		return mode.IsCompare() && compare.ToneOf(c, mode) == compare.ToneWorse
	case CaseSame:
		return mode.IsCompare() && compare.ToneOf(c, mode) == compare.ToneSame
	}
	return false
}

// Cases returns the cases matching filter in their original order.
func Cases(cases []types.EvalCaseResult, mode types.EvalMode, filter CaseFilter) []types.EvalCaseResult {
	out := make([]types.EvalCaseResult, 0, len(cases))
	for _, c := range cases {
		if MatchesCaseFilter(c, mode, filter) {
			out = append(out, c)
		}
	}
	return out
}
