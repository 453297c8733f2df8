// Package policy evaluates run aggregates against release criteria and
// produces the PASS/HOLD release decision.
package policy

import (
	"fmt"

	"github.com/chanyong1027/evalstudio/internal/aggregate"
	"github.com/chanyong1027/evalstudio/internal/probe"
	"github.com/chanyong1027/evalstudio/pkg/types"
)

// Level is the outcome of a single gate.
type Level string

const (
	LevelPass Level = "PASS"
	LevelFail Level = "FAIL"
	LevelWarn Level = "WARN"
	LevelNA   Level = "NA"
)

// Release is the overall decision. Only a FAIL on a blocking gate holds it.
type Release string

const (
	ReleasePass Release = "PASS"
	ReleaseHold Release = "HOLD"
)

// GateID names a gate. Gates are reported in declaration order.
type GateID string

const (
	GatePassRate           GateID = "PASS_RATE"
	GateAvgScore           GateID = "AVG_SCORE"
	GateErrorRate          GateID = "ERROR_RATE"
	GateCompareBaseline    GateID = "COMPARE_BASELINE"
	GateCompareImprovement GateID = "COMPARE_IMPROVEMENT"
)

// Gate is one evaluated threshold comparison.
type Gate struct {
	ID        GateID   `json:"id"`
	Label     string   `json:"label"`
	Actual    string   `json:"actual"`
	Threshold string   `json:"threshold"`
	Level     Level    `json:"level"`
	Reason    string   `json:"reason,omitempty"`
	Blocking  bool     `json:"blocking"`
	Value     *float64 `json:"value"`
}

// Decision is the outcome of every gate plus the overall verdict. Reasons
// holds the reason code of each non-PASS gate in gate order.
type Decision struct {
	Release Release  `json:"releaseDecision"`
	Gates   []Gate   `json:"gates"`
	Reasons []string `json:"decisionReasons"`
}

// Thresholds are the criteria values the gates compare against. A nil
// threshold makes its gate NA.
type Thresholds struct {
	MinPassRate               *float64 `json:"minPassRate"`
	MinAvgOverallScore        *float64 `json:"minAvgOverallScore"`
	MaxErrorRate              *float64 `json:"maxErrorRate"`
	MinImprovementNoticeDelta *float64 `json:"minImprovementNoticeDelta"`
}

// ThresholdsFromCriteria returns the thresholds of c, or empty thresholds
// when c is nil.
func ThresholdsFromCriteria(c *types.ReleaseCriteria) Thresholds {
	if c == nil {
		return Thresholds{}
	}
	return Thresholds{
		MinPassRate:               ptr(c.MinPassRate),
		MinAvgOverallScore:        ptr(c.MinAvgOverallScore),
		MaxErrorRate:              ptr(c.MaxErrorRate),
		MinImprovementNoticeDelta: ptr(c.MinImprovementNoticeDelta),
	}
}

// ThresholdsFromSnapshot reads thresholds from a raw criteriaSnapshot object
// as stored on a run summary. Missing or malformed values stay nil.
func ThresholdsFromSnapshot(v any) Thresholds {
	rec := probe.Record(v)
	return Thresholds{
		MinPassRate:               probe.NumberPtr(rec["minPassRate"]),
		MinAvgOverallScore:        probe.NumberPtr(rec["minAvgOverallScore"]),
		MaxErrorRate:              probe.NumberPtr(rec["maxErrorRate"]),
		MinImprovementNoticeDelta: probe.NumberPtr(rec["minImprovementNoticeDelta"]),
	}
}

// Empty reports whether no threshold is set.
func (t Thresholds) Empty() bool {
	return t.MinPassRate == nil && t.MinAvgOverallScore == nil && t.MaxErrorRate == nil && t.MinImprovementNoticeDelta == nil
}

// Criteria converts complete thresholds back into a criteria value. It
// returns nil when any threshold is missing.
func (t Thresholds) Criteria() *types.ReleaseCriteria {
	if t.MinPassRate == nil || t.MinAvgOverallScore == nil || t.MaxErrorRate == nil || t.MinImprovementNoticeDelta == nil {
		return nil
	}
	return &types.ReleaseCriteria{
		MinPassRate:               *t.MinPassRate,
		MinAvgOverallScore:        *t.MinAvgOverallScore,
		MaxErrorRate:              *t.MaxErrorRate,
		MinImprovementNoticeDelta: *t.MinImprovementNoticeDelta,
	}
}

// Input is the subset of aggregates the gates read.
type Input struct {
	Mode             types.EvalMode `json:"mode"`
	PassRate         *float64       `json:"passRate"`
	AvgOverallScore  *float64       `json:"avgOverallScore"`
	ErrorRate        *float64       `json:"errorRate"`
	AvgScoreDelta    *float64       `json:"avgScoreDelta"`
	BaselineComplete *bool          `json:"baselineComplete"`
}

// InputFrom extracts the gate input from run aggregates.
func InputFrom(r aggregate.Result) Input {
	in := Input{
		Mode:            r.Mode,
		PassRate:        r.PassRate,
		AvgOverallScore: r.AvgOverallScore,
		ErrorRate:       r.ErrorRate,
	}
	if r.Compare != nil {
		in.AvgScoreDelta = r.Compare.AvgScoreDelta
		in.BaselineComplete = r.Compare.BaselineComplete
	}
	return in
}

// Evaluate runs the gates in fixed order. Only a FAIL on a blocking gate
// (pass rate, average score, error rate, baseline completeness) holds the
// release. The improvement gate is surfaced but never blocks.
func Evaluate(in Input, th Thresholds) Decision {
	gates := []Gate{
		minGate(GatePassRate, "Pass rate", in.PassRate, th.MinPassRate, pct,
			ReasonPassRateBelow, ReasonPassRateUnavailable),
		minGate(GateAvgScore, "Average score", in.AvgOverallScore, th.MinAvgOverallScore, score,
			ReasonAvgScoreBelow, ReasonAvgScoreUnavailable),
		maxGate(GateErrorRate, "Error rate", in.ErrorRate, th.MaxErrorRate, pct,
			ReasonErrorRateAbove, ReasonErrorRateUnavailable),
	}
	if in.Mode.IsCompare() {
		gates = append(gates, baselineGate(in.BaselineComplete), improvementGate(in.AvgScoreDelta, th.MinImprovementNoticeDelta))
	}

	d := Decision{Release: ReleasePass, Gates: gates, Reasons: []string{}}
	for _, g := range gates {
		if g.Level != LevelPass {
			d.Reasons = append(d.Reasons, g.Reason)
		}
		if g.Blocking && g.Level == LevelFail {
			d.Release = ReleaseHold
		}
	}
	return d
}

type formatter func(float64) string

func pct(v float64) string   { return fmt.Sprintf("%.1f%%", v) }
func score(v float64) string { return fmt.Sprintf("%.1f", v) }
func delta(v float64) string { return fmt.Sprintf("%+.2f", v) }

func minGate(id GateID, label string, actual, limit *float64, f formatter, failReason, naReason string) Gate {
	g := Gate{ID: id, Label: label, Blocking: true, Value: actual, Actual: show(actual, f), Threshold: bound(">=", limit, f)}
	switch {
	case actual == nil || limit == nil:
		g.Level, g.Reason = LevelNA, naReason
	case *actual >= *limit:
		g.Level = LevelPass
	default:
		g.Level, g.Reason = LevelFail, failReason
	}
	return g
}

func maxGate(id GateID, label string, actual, limit *float64, f formatter, failReason, naReason string) Gate {
	g := Gate{ID: id, Label: label, Blocking: true, Value: actual, Actual: show(actual, f), Threshold: bound("<=", limit, f)}
	switch {
	case actual == nil || limit == nil:
		g.Level, g.Reason = LevelNA, naReason
	case *actual <= *limit:
		g.Level = LevelPass
	default:
		g.Level, g.Reason = LevelFail, failReason
	}
	return g
}

func baselineGate(complete *bool) Gate {
	g := Gate{ID: GateCompareBaseline, Label: "Baseline comparison", Blocking: true, Threshold: "complete", Actual: "-"}
	switch {
	case complete == nil:
		g.Level, g.Reason = LevelNA, ReasonBaselineUnavailable
	case *complete:
		g.Level, g.Actual = LevelPass, "complete"
	default:
		g.Level, g.Actual, g.Reason = LevelFail, "incomplete", ReasonBaselineIncomplete
	}
	return g
}

// improvementGate is NA unless both the mean delta and the notice threshold
// are known.
func improvementGate(avgDelta, notice *float64) Gate {
	g := Gate{ID: GateCompareImprovement, Label: "Improvement vs baseline", Value: avgDelta, Actual: show(avgDelta, delta), Threshold: bound(">=", notice, delta)}
	switch {
	case avgDelta == nil, notice == nil:
		g.Level, g.Reason = LevelNA, ReasonImprovementUnavailable
	case *avgDelta < 0:
		g.Level, g.Reason = LevelFail, ReasonRegression
	case *avgDelta < *notice:
		g.Level, g.Reason = LevelWarn, ReasonImprovementMinor
	default:
		g.Level = LevelPass
	}
	return g
}

func show(v *float64, f formatter) string {
	if v == nil {
		return "-"
	}
	return f(*v)
}

func bound(op string, v *float64, f formatter) string {
	if v == nil {
		return "-"
	}
	return op + " " + f(*v)
}

func ptr(v float64) *float64 { return &v }

// Risk summarizes a decision: HIGH on HOLD, MEDIUM when any gate is not PASS.
type Risk string

const (
	RiskLow    Risk = "LOW"
	RiskMedium Risk = "MEDIUM"
	RiskHigh   Risk = "HIGH"
)

// RiskLevel is HIGH for a held release, MEDIUM when any gate did not pass,
// and LOW otherwise.
func RiskLevel(d Decision) Risk {
	if d.Release == ReleaseHold {
		return RiskHigh
	}
	for _, g := range d.Gates {
		if g.Level != LevelPass {
			return RiskMedium
		}
	}
	return RiskLow
}
