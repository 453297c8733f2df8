package compare

import (
	"sort"
	"strings"

	"github.com/chanyong1027/evalstudio/internal/probe"
	"github.com/chanyong1027/evalstudio/pkg/types"
)

// Evidence is the mode-specific evaluation evidence of one case. It is either
// SingleEvidence or CompareEvidence.
type Evidence interface {
	Mode() types.EvalMode
}

// Meta is the execution metadata recorded for one side of a case.
type Meta struct {
	LatencyMs        *float64
	TotalTokens      *float64
	EstimatedCostUSD *float64
}

// SingleEvidence is evidence from a candidate-only run.
type SingleEvidence struct {
	RuleChecks map[string]any
	Judge      map[string]any
	Candidate  Meta
}

func (SingleEvidence) Mode() types.EvalMode { return types.ModeCandidateOnly }

// CompareEvidence is evidence from a candidate-vs-baseline run. Verdict is
// the judge's nested compare object.
type CompareEvidence struct {
	CandidateRules map[string]any
	BaselineRules  map[string]any
	Judge          map[string]any
	Verdict        map[string]any
	Candidate      Meta
	Baseline       Meta
}

func (CompareEvidence) Mode() types.EvalMode { return types.ModeCompareActive }

// EvidenceOf reads the evidence of c for the given run mode. Baseline fields
// are only read in compare mode.
func EvidenceOf(c types.EvalCaseResult, mode types.EvalMode) Evidence {
	judge := probe.Record(c.JudgeOutput)
	if !mode.IsCompare() {
		return SingleEvidence{
			RuleChecks: probe.Record(c.RuleChecks),
			Judge:      judge,
			Candidate:  metaOf(c.CandidateMeta),
		}
	}
	rules := probe.Record(c.RuleChecks)
	return CompareEvidence{
		CandidateRules: probe.Record(rules["candidate"]),
		BaselineRules:  probe.Record(rules["baseline"]),
		Judge:          judge,
		Verdict:        probe.Record(judge["compare"]),
		Candidate:      metaOf(c.CandidateMeta),
		Baseline:       metaOf(c.BaselineMeta),
	}
}

func metaOf(v any) Meta {
	rec := probe.Record(v)
	return Meta{
		LatencyMs:        probe.NumberPtr(rec["latencyMs"]),
		TotalTokens:      probe.NumberPtr(rec["totalTokens"]),
		EstimatedCostUSD: probe.NumberPtr(rec["estimatedCostUsd"]),
	}
}

// candidateScore returns the candidate's overall judge score.
func candidateScore(ev Evidence) *float64 {
	switch e := ev.(type) {
	case SingleEvidence:
		if s := probe.NumberPtr(e.Judge["overallScore"]); s != nil {
			return s
		}
		return probe.NumberPtr(e.Judge["score"])
	case CompareEvidence:
		if s := probe.NumberPtr(e.Verdict["candidateOverallScore"]); s != nil {
			return s
		}
		return probe.NumberPtr(probe.Path(e.Judge, "candidate", "overallScore"))
	}
	return nil
}

// candidateLabels returns the judge labels attached to the candidate output.
func candidateLabels(ev Evidence) []string {
	switch e := ev.(type) {
	case SingleEvidence:
		return probe.Strings(e.Judge["labels"])
	case CompareEvidence:
		if labels := probe.Strings(probe.Path(e.Judge, "candidate", "labels")); len(labels) > 0 {
			return labels
		}
		if labels := probe.Strings(e.Verdict["candidateLabels"]); len(labels) > 0 {
			return labels
		}
		return probe.Strings(e.Judge["labels"])
	}
	return []string{}
}

// failedRules lists rule names whose check did not pass, sorted.
func failedRules(ev Evidence) []string {
	var rules map[string]any
	switch e := ev.(type) {
	case SingleEvidence:
		rules = e.RuleChecks
	case CompareEvidence:
		rules = e.CandidateRules
	}
	return failedRuleNames(rules)
}

func failedRuleNames(rules map[string]any) []string {
	seen := map[string]struct{}{}
	for _, name := range probe.Strings(rules["failedRules"]) {
		seen[name] = struct{}{}
	}
	for name, v := range rules {
		switch name {
		case "failedRules", "pass", "passed":
			continue
		}
		if ruleFailed(v) {
			seen[strings.TrimSpace(name)] = struct{}{}
		}
	}
	delete(seen, "")
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func ruleFailed(v any) bool {
	if b, ok := probe.Bool(v); ok {
		return !b
	}
	rec := probe.Record(v)
	if rec == nil {
		return false
	}
	for _, key := range []string{"pass", "passed"} {
		if b, ok := probe.Bool(rec[key]); ok {
			return !b
		}
	}
	return false
}
