// Package analysis runs the full engine over one run snapshot: per-case
// comparison, aggregation, release gates and grading. Every call builds a new
// View; nothing is mutated in place.
package analysis

import (
	"fmt"
	"strings"

	"github.com/chanyong1027/evalstudio/internal/aggregate"
	"github.com/chanyong1027/evalstudio/internal/compare"
	"github.com/chanyong1027/evalstudio/internal/insight"
	"github.com/chanyong1027/evalstudio/internal/policy"
	"github.com/chanyong1027/evalstudio/internal/probe"
	"github.com/chanyong1027/evalstudio/pkg/types"
)

// Input is an already-fetched run snapshot. Criteria is the workspace's
// current criteria, used only when the run carries no criteria snapshot.
type Input struct {
	Run      types.EvaluationRun    `json:"run"`
	Cases    []types.EvalCaseResult `json:"cases"`
	Criteria *types.ReleaseCriteria `json:"criteria,omitempty"`
}

type CriteriaSource string

const (
	CriteriaFromSnapshot  CriteriaSource = "snapshot"
	CriteriaFromWorkspace CriteriaSource = "workspace"
	CriteriaNone          CriteriaSource = "none"
)

// View is the display-ready result of one analysis.
type View struct {
	RunID           int64              `json:"runId"`
	Status          types.RunStatus    `json:"status"`
	Mode            types.EvalMode     `json:"mode"`
	PromptVersionID int64              `json:"promptVersionId"`
	Running         bool               `json:"running"`
	Aggregates      aggregate.Result   `json:"aggregates"`
	Thresholds      policy.Thresholds  `json:"thresholds"`
	CriteriaSource  CriteriaSource     `json:"criteriaSource"`
	Decision        policy.Decision    `json:"decision"`
	ReasonTexts     []string           `json:"reasonTexts"`
	Risk            policy.Risk        `json:"riskLevel"`
	Grade           insight.Grade      `json:"grade"`
	Summary         types.RunSummary   `json:"summary"`
	Cases           []compare.CaseView `json:"cases"`
}

// Analyze derives the View of in.
func Analyze(in Input) View {
	run := in.Run
	agg := aggregate.Aggregate(in.Cases, run.Mode)

	th, source := thresholdsFor(in)
	decision := policy.Evaluate(policy.InputFrom(agg), th)
	texts := policy.ReasonTexts(decision.Reasons)
	risk := policy.RiskLevel(decision)
	running := run.Status.InFlight()
	grade := insight.Of(agg.PassRate, agg.AvgOverallScore, agg.ErrorRate, running)

	v := View{
		RunID:           run.ID,
		Status:          run.Status,
		Mode:            run.Mode,
		PromptVersionID: run.PromptVersionID,
		Running:         running,
		Aggregates:      agg,
		Thresholds:      th,
		CriteriaSource:  source,
		Decision:        decision,
		ReasonTexts:     texts,
		Risk:            risk,
		Grade:           grade,
		Cases:           make([]compare.CaseView, 0, len(in.Cases)),
	}
	for _, c := range in.Cases {
		v.Cases = append(v.Cases, compare.View(c, run.Mode))
	}

	v.Summary = types.RunSummary{
		PassRate:         agg.PassRate,
		ErrorRate:        agg.ErrorRate,
		AvgOverallScore:  agg.AvgOverallScore,
		ReleaseDecision:  string(decision.Release),
		RiskLevel:        string(risk),
		DecisionReasons:  decision.Reasons,
		TopIssues:        aggregate.TopIssues(texts, agg),
		RuleFailCounts:   agg.RuleFailCounts,
		ErrorCodeCounts:  agg.ErrorCodeCounts,
		LabelCounts:      agg.LabelCounts,
		CriteriaSnapshot: th.Criteria(),
		LLMOverallReview: probe.String(run.Summary["llmOverallReview"]),
	}
	if agg.Compare != nil {
		v.Summary.AvgScoreDelta = agg.Compare.AvgScoreDelta
		v.Summary.CompareCoverageRate = agg.Compare.CoverageRate
	}
	v.Summary.PlainSummary = plainSummary(v)
	return v
}

func thresholdsFor(in Input) (policy.Thresholds, CriteriaSource) {
	if snap := policy.ThresholdsFromSnapshot(in.Run.Summary["criteriaSnapshot"]); !snap.Empty() {
		return snap, CriteriaFromSnapshot
	}
	if in.Criteria != nil {
		return policy.ThresholdsFromCriteria(in.Criteria), CriteriaFromWorkspace
	}
	return policy.Thresholds{}, CriteriaNone
}

func plainSummary(v View) string {
	a := v.Aggregates
	var sb strings.Builder
	fmt.Fprintf(&sb, "Run %d (%s, %s) processed %d of %d cases", v.RunID, v.Mode, v.Status, a.Counts.Processed, a.Counts.Total)
	fmt.Fprintf(&sb, ": pass rate %s, average score %s, error rate %s", pctOrDash(a.PassRate), numOrDash(a.AvgOverallScore), pctOrDash(a.ErrorRate))
	if a.Compare != nil {
		fmt.Fprintf(&sb, ", %d better / %d worse / %d same vs baseline", a.Compare.Better, a.Compare.Worse, a.Compare.Same)
		if a.Compare.AvgScoreDelta != nil {
			fmt.Fprintf(&sb, " (avg delta %+.2f)", *a.Compare.AvgScoreDelta)
		}
	}
	sb.WriteString(". ")
	if v.Running {
		sb.WriteString("Run in progress; decision is provisional: ")
	} else {
		sb.WriteString("Release decision: ")
	}
	sb.WriteString(string(v.Decision.Release))
	if n := len(v.Decision.Reasons); n > 0 {
		fmt.Fprintf(&sb, " with %d reason(s)", n)
	}
	sb.WriteString(".")
	return sb.String()
}

func pctOrDash(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", *v)
}

func numOrDash(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *v)
}
