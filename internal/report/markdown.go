package report

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/chanyong1027/evalstudio/internal/aggregate"
	"github.com/chanyong1027/evalstudio/internal/analysis"
	"github.com/chanyong1027/evalstudio/internal/compare"
	"github.com/chanyong1027/evalstudio/pkg/types"
)

func BuildMarkdown(v analysis.View) string {
	var b strings.Builder
	b.WriteString("# Evaluation Run Report\n\n")
	fmt.Fprintf(&b, "- Run: `%d` (%s, %s)\n", v.RunID, v.Mode, v.Status)
	if v.Running {
		fmt.Fprintf(&b, "- Release Decision: **%s** (provisional, run in progress)\n", v.Decision.Release)
	} else {
		fmt.Fprintf(&b, "- Release Decision: **%s**\n", v.Decision.Release)
	}
	fmt.Fprintf(&b, "- Risk Level: `%s`\n", v.Risk)
	fmt.Fprintf(&b, "- Grade: `%s`\n", v.Grade)
	fmt.Fprintf(&b, "- Criteria: `%s`\n\n", v.CriteriaSource)
	b.WriteString(v.Summary.PlainSummary + "\n")

	b.WriteString("\n## Gates\n\n")
	gates := make([][]string, 0, len(v.Decision.Gates))
	for _, g := range v.Decision.Gates {
		gates = append(gates, []string{g.Label, g.Actual, g.Threshold, string(g.Level), strconv.FormatBool(g.Blocking)})
	}
	writeTable(&b, []string{"Gate", "Actual", "Threshold", "Level", "Blocking"}, gates)

	if len(v.ReasonTexts) > 0 {
		b.WriteString("\n## Decision Reasons\n\n")
		for i, text := range v.ReasonTexts {
			fmt.Fprintf(&b, "- %s (`%s`)\n", text, v.Decision.Reasons[i])
		}
	}
	if len(v.Summary.TopIssues) > 0 {
		b.WriteString("\n## Top Issues\n\n")
		for _, issue := range v.Summary.TopIssues {
			b.WriteString("- " + issue + "\n")
		}
	}

	b.WriteString("\n## Aggregates\n\n")
	writeTable(&b, []string{"Metric", "Value"}, aggregateRows(v.Aggregates))

	writeDistribution(&b, "Rule Failures", v.Aggregates.RuleFailCounts)
	writeDistribution(&b, "Error Codes", v.Aggregates.ErrorCodeCounts)
	writeDistribution(&b, "Judge Labels", v.Aggregates.LabelCounts)

	if v.Summary.LLMOverallReview != "" {
		b.WriteString("\n## LLM Review\n\n")
		b.WriteString(v.Summary.LLMOverallReview + "\n")
	}

	if len(v.Cases) > 0 {
		b.WriteString("\n## Cases\n\n")
		b.WriteString(BuildCasesTable(v.Cases, v.Mode))
	}
	return b.String()
}

func WriteMarkdown(path string, v analysis.View) error {
	return os.WriteFile(path, []byte(BuildMarkdown(v)), 0o644)
}

// BuildCasesTable renders one row per case. Compare columns appear only in
// compare mode.
func BuildCasesTable(cases []compare.CaseView, mode types.EvalMode) string {
	headers := []string{"Case", "Status", "Class", "Score", "Latency (ms)", "Labels", "Failed Rules", "Error"}
	if mode.IsCompare() {
		headers = append(headers, "Tone", "Score Δ", "Token Δ", "Cost Δ", "Latency Δ")
	}
	rows := make([][]string, 0, len(cases))
	for _, c := range cases {
		errText := c.ErrorCode
		if c.ErrorMessage != "" {
			errText = strings.TrimSpace(errText + " " + c.ErrorMessage)
		}
		row := []string{
			strconv.FormatInt(c.ID, 10),
			string(c.Status),
			string(c.Class),
			num(c.CandidateScore, "%.1f"),
			num(c.LatencyMs, "%.0f"),
			strings.Join(c.Labels, ", "),
			strings.Join(c.FailedRules, ", "),
			errText,
		}
		if mode.IsCompare() {
			d := c.Deltas
			if d == nil {
				d = &compare.Deltas{}
			}
			row = append(row, string(c.Tone), num(d.ScoreDelta, "%+.2f"), num(d.TokenDelta, "%+.0f"),
				num(d.CostDelta, "%+.4f"), num(d.LatencyDelta, "%+.0f"))
		}
		rows = append(rows, row)
	}
	var b strings.Builder
	writeTable(&b, headers, rows)
	return b.String()
}

// BuildTrendTable renders trend points in the order given.
func BuildTrendTable(points []types.TrendPoint) string {
	rows := make([][]string, 0, len(points))
	for _, p := range points {
		rows = append(rows, []string{
			strconv.FormatInt(p.RunID, 10),
			p.CreatedAt,
			string(p.Mode),
			strconv.FormatInt(p.PromptVersionID, 10),
			num(p.PassRate, "%.1f%%"),
			num(p.AvgOverallScore, "%.1f"),
			num(p.ErrorRate, "%.1f%%"),
			p.ReleaseDecision,
		})
	}
	var b strings.Builder
	writeTable(&b, []string{"Run", "Created", "Mode", "Version", "Pass Rate", "Avg Score", "Error Rate", "Decision"}, rows)
	return b.String()
}

func aggregateRows(a aggregate.Result) [][]string {
	c := a.Counts
	rows := [][]string{
		{"Cases", fmt.Sprintf("%d total, %d processed, %d pending", c.Total, c.Processed, c.Pending)},
		{"Outcomes", fmt.Sprintf("%d passed, %d failed, %d errors, %d skipped", c.Passed, c.Failed, c.Errors, c.Skipped)},
		{"Pass Rate", num(a.PassRate, "%.1f%%")},
		{"Error Rate", num(a.ErrorRate, "%.1f%%")},
		{"Avg Score", num(a.AvgOverallScore, "%.2f")},
		{"Avg Latency (ms)", num(a.AvgLatencyMs, "%.0f")},
		{"P95 Latency (ms)", num(a.P95LatencyMs, "%.0f")},
		{"Total Tokens", num(a.TotalTokens, "%.0f")},
		{"Total Cost (USD)", num(a.TotalCostUSD, "%.4f")},
	}
	if cs := a.Compare; cs != nil {
		rows = append(rows,
			[]string{"Better / Worse / Same / Unknown", fmt.Sprintf("%d / %d / %d / %d", cs.Better, cs.Worse, cs.Same, cs.Unknown)},
			[]string{"Win Rate", num(cs.WinRate, "%.1f%%")},
			[]string{"Coverage", num(cs.CoverageRate, "%.1f%%")},
			[]string{"Avg Score Δ", num(cs.AvgScoreDelta, "%+.2f")},
			[]string{"Pass Wins / Losses", fmt.Sprintf("%d / %d", cs.PassWins, cs.PassLosses)},
			[]string{"Avg Token Δ", num(cs.AvgTokenDelta, "%+.0f")},
			[]string{"Avg Cost Δ (USD)", num(cs.AvgCostDelta, "%+.4f")},
			[]string{"Avg Latency Δ (ms)", num(cs.AvgLatencyDelta, "%+.0f")},
			[]string{"Baseline Tokens", num(cs.BaselineTokens, "%.0f")},
			[]string{"Baseline Cost (USD)", num(cs.BaselineCostUSD, "%.4f")},
		)
	}
	return rows
}

func writeDistribution(b *strings.Builder, title string, entries []types.CountEntry) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n", title)
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{e.Key, strconv.Itoa(e.Count), fmt.Sprintf("%.1f%%", e.Percent)})
	}
	writeTable(b, []string{"Key", "Count", "Share"}, rows)
}

func writeTable(b *strings.Builder, headers []string, rows [][]string) {
	var buf bytes.Buffer
	table := newTable(headers, &buf)
	for _, row := range rows {
		for i := range row {
			row[i] = cell(row[i])
		}
		_ = table.Append(row)
	}
	_ = table.Render()
	b.Write(buf.Bytes())
}

func num(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

// BuildCriteriaHistoryTable renders criteria audit entries in the order
// given.
func BuildCriteriaHistoryTable(entries []types.CriteriaAuditEntry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.ChangedAt,
			e.ChangedBy,
			strconv.FormatFloat(e.MinPassRate, 'g', -1, 64),
			strconv.FormatFloat(e.MinAvgOverallScore, 'g', -1, 64),
			strconv.FormatFloat(e.MaxErrorRate, 'g', -1, 64),
			strconv.FormatFloat(e.MinImprovementNoticeDelta, 'g', -1, 64),
		})
	}
	var b strings.Builder
	writeTable(&b, []string{"Changed At", "Changed By", "Min Pass Rate", "Min Avg Score", "Max Error Rate", "Improvement Notice"}, rows)
	return b.String()
}
