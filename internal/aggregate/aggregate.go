// Package aggregate folds the case results of a run into run-level
// statistics. Aggregates whose sample is empty are nil, never zero.
package aggregate

import (
	"math"
	"sort"

	"github.com/chanyong1027/evalstudio/internal/compare"
	"github.com/chanyong1027/evalstudio/pkg/types"
)

// DistributionLimit is the number of categories kept per distribution.
const DistributionLimit = 5

// unknownErrorCode is the category for ERROR cases that carry no code.
const unknownErrorCode = "UNKNOWN_ERROR"

// Counts tallies cases by outcome. Processed excludes pending cases.
type Counts struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Passed    int `json:"passed"`
	Failed    int `json:"failed"`
	Errors    int `json:"errors"`
	Skipped   int `json:"skipped"`
	Pending   int `json:"pending"`
}

// CompareStats holds the candidate-vs-baseline aggregates. Only cases with a
// known tone contribute to rates and trade-off deltas.
type CompareStats struct {
	Eligible         int      `json:"eligible"`
	Known            int      `json:"known"`
	Better           int      `json:"better"`
	Worse            int      `json:"worse"`
	Same             int      `json:"same"`
	Unknown          int      `json:"unknown"`
	PassWins         int      `json:"passWins"`
	PassLosses       int      `json:"passLosses"`
	AvgScoreDelta    *float64 `json:"avgScoreDelta"`
	CoverageRate     *float64 `json:"coverageRate"`
	WinRate          *float64 `json:"winRate"`
	BaselineComplete *bool    `json:"baselineComplete"`
	AvgTokenDelta    *float64 `json:"avgTokenDelta"`
	AvgCostDelta     *float64 `json:"avgCostDelta"`
	AvgLatencyDelta  *float64 `json:"avgLatencyDelta"`
	BaselineTokens   *float64 `json:"baselineTokens"`
	BaselineCostUSD  *float64 `json:"baselineCostUsd"`
}

// Result is the run-level aggregate of a case set.
type Result struct {
	Mode            types.EvalMode     `json:"mode"`
	Counts          Counts             `json:"counts"`
	PassRate        *float64           `json:"passRate"`
	ErrorRate       *float64           `json:"errorRate"`
	AvgOverallScore *float64           `json:"avgOverallScore"`
	AvgLatencyMs    *float64           `json:"avgLatencyMs"`
	P95LatencyMs    *float64           `json:"p95LatencyMs"`
	TotalTokens     *float64           `json:"totalTokens"`
	TotalCostUSD    *float64           `json:"totalCostUsd"`
	Compare         *CompareStats      `json:"compare,omitempty"`
	RuleFailCounts  []types.CountEntry `json:"ruleFailCounts"`
	ErrorCodeCounts []types.CountEntry `json:"errorCodeCounts"`
	LabelCounts     []types.CountEntry `json:"labelCounts"`
}

// Aggregate computes the run aggregates over cases. It never fails: malformed
// case evidence is treated as absent.
func Aggregate(cases []types.EvalCaseResult, mode types.EvalMode) Result {
	r := Result{Mode: mode}
	r.Counts.Total = len(cases)

	var scores, latencies, tokens, costs []float64
	ruleTally := map[string]int{}
	errorTally := map[string]int{}
	labelTally := map[string]int{}

	var cmpAcc *compareAccumulator
	if mode.IsCompare() {
		cmpAcc = &compareAccumulator{}
	}

	for _, c := range cases {
		switch {
		case !c.Status.Processed():
			r.Counts.Pending++
		case c.Status == types.CaseError:
			r.Counts.Processed++
			r.Counts.Errors++
			code := c.ErrorCode
			if code == "" {
				code = unknownErrorCode
			}
			errorTally[code]++
		case c.Status == types.CaseSkipped:
			r.Counts.Processed++
			r.Counts.Skipped++
		default:
			r.Counts.Processed++
			if c.Pass != nil {
				if *c.Pass {
					r.Counts.Passed++
				} else {
					r.Counts.Failed++
				}
			}
		}

		v := compare.View(c, mode)
		if v.CandidateScore != nil {
			scores = append(scores, *v.CandidateScore)
		}
		if v.LatencyMs != nil {
			latencies = append(latencies, *v.LatencyMs)
		}
		if v.TotalTokens != nil {
			tokens = append(tokens, *v.TotalTokens)
		}
		if v.CostUSD != nil {
			costs = append(costs, *v.CostUSD)
		}
		for _, rule := range v.FailedRules {
			ruleTally[rule]++
		}
		if c.Status.Processed() {
			for _, label := range v.Labels {
				labelTally[label]++
			}
		}
		if cmpAcc != nil && c.Status == types.CaseOK {
			cmpAcc.add(c, v)
		}
	}

	r.PassRate = ratio(r.Counts.Passed, r.Counts.Processed)
	r.ErrorRate = ratio(r.Counts.Errors, r.Counts.Processed)
	r.AvgOverallScore = mean(scores)
	r.AvgLatencyMs = mean(latencies)
	r.P95LatencyMs = P95(latencies)
	r.TotalTokens = sum(tokens)
	r.TotalCostUSD = sum(costs)
	r.RuleFailCounts = Distribution(ruleTally, DistributionLimit)
	r.ErrorCodeCounts = Distribution(errorTally, DistributionLimit)
	r.LabelCounts = Distribution(labelTally, DistributionLimit)
	if cmpAcc != nil {
		stats := cmpAcc.stats()
		r.Compare = &stats
	}
	return r
}

type compareAccumulator struct {
	eligible, better, worse, same, unknown int
	passWins, passLosses                   int
	scoreDeltas, tokenDeltas               []float64
	costDeltas, latencyDeltas              []float64
	baselineTokens, baselineCosts          []float64
}

func (a *compareAccumulator) add(c types.EvalCaseResult, v compare.CaseView) {
	a.eligible++
	switch v.Tone {
	case compare.ToneBetter:
		a.better++
	case compare.ToneWorse:
		a.worse++
	case compare.ToneSame:
		a.same++
	default:
		a.unknown++
	}
	ev, _ := compare.EvidenceOf(c, types.ModeCompareActive).(compare.CompareEvidence)
	if ev.Baseline.TotalTokens != nil {
		a.baselineTokens = append(a.baselineTokens, *ev.Baseline.TotalTokens)
	}
	if ev.Baseline.EstimatedCostUSD != nil {
		a.baselineCosts = append(a.baselineCosts, *ev.Baseline.EstimatedCostUSD)
	}
	if !v.Tone.Known() || v.Deltas == nil {
		return
	}
	d := v.Deltas
	if d.ScoreDelta != nil {
		a.scoreDeltas = append(a.scoreDeltas, *d.ScoreDelta)
	}
	if d.TokenDelta != nil {
		a.tokenDeltas = append(a.tokenDeltas, *d.TokenDelta)
	}
	if d.CostDelta != nil {
		a.costDeltas = append(a.costDeltas, *d.CostDelta)
	}
	if d.LatencyDelta != nil {
		a.latencyDeltas = append(a.latencyDeltas, *d.LatencyDelta)
	}
	if d.CandidatePass != nil && d.BaselinePass != nil && *d.CandidatePass != *d.BaselinePass {
		if *d.CandidatePass {
			a.passWins++
		} else {
			a.passLosses++
		}
	}
}

func (a *compareAccumulator) stats() CompareStats {
	known := a.better + a.worse + a.same
	s := CompareStats{
		Eligible:        a.eligible,
		Known:           known,
		Better:          a.better,
		Worse:           a.worse,
		Same:            a.same,
		Unknown:         a.unknown,
		PassWins:        a.passWins,
		PassLosses:      a.passLosses,
		AvgScoreDelta:   mean(a.scoreDeltas),
		CoverageRate:    ratio(known, a.eligible),
		WinRate:         ratio(a.better, known),
		AvgTokenDelta:   mean(a.tokenDeltas),
		AvgCostDelta:    mean(a.costDeltas),
		AvgLatencyDelta: mean(a.latencyDeltas),
		BaselineTokens:  sum(a.baselineTokens),
		BaselineCostUSD: sum(a.baselineCosts),
	}
	if a.eligible > 0 {
		complete := known == a.eligible
		s.BaselineComplete = &complete
	}
	return s
}

// P95 returns the nearest-rank 95th percentile of values: the element at
// index ceil(0.95n)-1 of the ascending sort, clamped to the slice bounds.
func P95(values []float64) *float64 {
	n := len(values)
	if n == 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(math.Ceil(float64(n)*0.95)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	v := sorted[idx]
	return &v
}

// Distribution converts a tally into at most limit entries sorted by count
// descending, then key ascending. Percentages are relative to the total of
// all tallied occurrences, including categories cut by the limit.
func Distribution(tally map[string]int, limit int) []types.CountEntry {
	total := 0
	entries := make([]types.CountEntry, 0, len(tally))
	for key, count := range tally {
		if count <= 0 {
			continue
		}
		total += count
		entries = append(entries, types.CountEntry{Key: key, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Key < entries[j].Key
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Percent = float64(entries[i].Count*100) / float64(total)
	}
	return entries
}

func ratio(num, den int) *float64 {
	if den <= 0 {
		return nil
	}
	v := float64(num*100) / float64(den)
	return &v
}

func mean(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	m := total / float64(len(values))
	return &m
}

func sum(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return &total
}
