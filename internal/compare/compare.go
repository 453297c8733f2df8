// Package compare derives per-case classifications and baseline deltas from
// raw case results. Every function is total over arbitrary case payloads.
package compare

import (
	"math"
	"strings"

	"github.com/chanyong1027/evalstudio/internal/probe"
	"github.com/chanyong1027/evalstudio/pkg/types"
)

// Class is the four-way UI classification of a case.
type Class string

const (
	ClassRunning Class = "RUNNING"
	ClassError   Class = "ERROR"
	ClassSkipped Class = "SKIPPED"
	ClassPass    Class = "PASS"
	ClassWarning Class = "WARNING"
	ClassFail    Class = "FAIL"
)

// Tone is how the candidate fared against the baseline on one case.
type Tone string

const (
	ToneBetter  Tone = "BETTER"
	ToneWorse   Tone = "WORSE"
	ToneSame    Tone = "SAME"
	ToneUnknown Tone = "UNKNOWN"
)

// Known reports whether the tone counts toward compare aggregates.
func (t Tone) Known() bool { return t == ToneBetter || t == ToneWorse || t == ToneSame }

// sameTolerance is the absolute score delta treated as a tie.
const sameTolerance = 0.01

// Deltas are the candidate-minus-baseline differences for one case. A delta
// is nil unless both of its source values are present.
type Deltas struct {
	ScoreDelta     *float64 `json:"scoreDelta"`
	CandidateScore *float64 `json:"candidateScore"`
	BaselineScore  *float64 `json:"baselineScore"`
	TokenDelta     *float64 `json:"tokenDelta"`
	CostDelta      *float64 `json:"costDelta"`
	LatencyDelta   *float64 `json:"latencyDelta"`
	CandidatePass  *bool    `json:"candidatePass"`
	BaselinePass   *bool    `json:"baselinePass"`
}

// Classify returns the UI class of c. Only OK cases are judged pass or fail;
// any status other than ERROR or SKIPPED is still running.
func Classify(c types.EvalCaseResult, mode types.EvalMode) Class {
	switch c.Status {
	case types.CaseOK:
	case types.CaseError:
		return ClassError
	case types.CaseSkipped:
		return ClassSkipped
	default:
		return ClassRunning
	}
	if c.Pass == nil {
		return ClassRunning
	}
	if !*c.Pass {
		return ClassFail
	}
	if len(candidateLabels(EvidenceOf(c, mode))) > 0 {
		return ClassWarning
	}
	return ClassPass
}

// ToneOf returns the compare tone of c. Outside compare mode it is always
// ToneUnknown.
func ToneOf(c types.EvalCaseResult, mode types.EvalMode) Tone {
	ev, ok := EvidenceOf(c, mode).(CompareEvidence)
	if !ok {
		return ToneUnknown
	}
	return toneOf(ev)
}

func toneOf(ev CompareEvidence) Tone {
	switch strings.ToUpper(strings.TrimSpace(probe.String(ev.Verdict["winner"]))) {
	case "CANDIDATE":
		return ToneBetter
	case "BASELINE":
		return ToneWorse
	case "TIE":
		return ToneSame
	}
	delta, ok := probe.Number(ev.Verdict["scoreDelta"])
	if !ok {
		return ToneUnknown
	}
	switch {
	case math.Abs(delta) < sameTolerance:
		return ToneSame
	case delta > 0:
		return ToneBetter
	default:
		return ToneWorse
	}
}

// DeltasOf returns the per-case deltas of c. Outside compare mode it returns
// nil because no baseline exists.
func DeltasOf(c types.EvalCaseResult, mode types.EvalMode) *Deltas {
	ev, ok := EvidenceOf(c, mode).(CompareEvidence)
	if !ok {
		return nil
	}
	d := deltasOf(ev)
	return &d
}

func deltasOf(ev CompareEvidence) Deltas {
	d := Deltas{
		ScoreDelta:     probe.NumberPtr(ev.Verdict["scoreDelta"]),
		CandidateScore: probe.NumberPtr(ev.Verdict["candidateOverallScore"]),
		BaselineScore:  probe.NumberPtr(ev.Verdict["baselineOverallScore"]),
		TokenDelta:     diff(ev.Candidate.TotalTokens, ev.Baseline.TotalTokens),
		CostDelta:      diff(ev.Candidate.EstimatedCostUSD, ev.Baseline.EstimatedCostUSD),
		LatencyDelta:   diff(ev.Candidate.LatencyMs, ev.Baseline.LatencyMs),
	}
	cp := probe.BoolPtr(ev.Verdict["candidatePass"])
	bp := probe.BoolPtr(ev.Verdict["baselinePass"])
	if cp != nil && bp != nil {
		d.CandidatePass, d.BaselinePass = cp, bp
	}
	return d
}

func diff(a, b *float64) *float64 {
	if a == nil || b == nil {
		return nil
	}
	v := *a - *b
	return &v
}

// CandidateScore returns the candidate's overall judge score, if any.
func CandidateScore(c types.EvalCaseResult, mode types.EvalMode) *float64 {
	return candidateScore(EvidenceOf(c, mode))
}

// Labels returns the candidate-side judge labels of c.
func Labels(c types.EvalCaseResult, mode types.EvalMode) []string {
	return candidateLabels(EvidenceOf(c, mode))
}

// FailedRules returns the candidate-side rule names that did not pass.
func FailedRules(c types.EvalCaseResult, mode types.EvalMode) []string {
	return failedRules(EvidenceOf(c, mode))
}

// CaseView is the display-ready projection of one case.
type CaseView struct {
	ID             int64            `json:"id"`
	TestCaseID     int64            `json:"testCaseId"`
	Status         types.CaseStatus `json:"status"`
	Pass           *bool            `json:"pass"`
	Class          Class            `json:"class"`
	Tone           Tone             `json:"tone,omitempty"`
	CandidateScore *float64         `json:"candidateScore"`
	LatencyMs      *float64         `json:"latencyMs"`
	TotalTokens    *float64         `json:"totalTokens"`
	CostUSD        *float64         `json:"costUsd"`
	Labels         []string         `json:"labels"`
	FailedRules    []string         `json:"failedRules"`
	ErrorCode      string           `json:"errorCode,omitempty"`
	ErrorMessage   string           `json:"errorMessage,omitempty"`
	Deltas         *Deltas          `json:"deltas,omitempty"`
}

// View derives every per-case value of c in one pass.
func View(c types.EvalCaseResult, mode types.EvalMode) CaseView {
	ev := EvidenceOf(c, mode)
	v := CaseView{
		ID:             c.ID,
		TestCaseID:     c.TestCaseID,
		Status:         c.Status,
		Pass:           c.Pass,
		Class:          Classify(c, mode),
		CandidateScore: candidateScore(ev),
		Labels:         candidateLabels(ev),
		FailedRules:    failedRules(ev),
		ErrorCode:      c.ErrorCode,
		ErrorMessage:   c.ErrorMessage,
	}
	switch e := ev.(type) {
	case SingleEvidence:
		v.LatencyMs = e.Candidate.LatencyMs
		v.TotalTokens = e.Candidate.TotalTokens
		v.CostUSD = e.Candidate.EstimatedCostUSD
	case CompareEvidence:
		v.LatencyMs = e.Candidate.LatencyMs
		v.TotalTokens = e.Candidate.TotalTokens
		v.CostUSD = e.Candidate.EstimatedCostUSD
		v.Tone = toneOf(e)
		d := deltasOf(e)
		v.Deltas = &d
	}
	return v
}
