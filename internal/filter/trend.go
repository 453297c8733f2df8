// Package filter selects trend points and cases for display.
package filter

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chanyong1027/evalstudio/internal/probe"
	"github.com/chanyong1027/evalstudio/pkg/types"
)

// All disables a mode, version or case filter.
const All = "ALL"

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses the timestamp formats the evaluation service emits.
// Timestamps without a zone are read as UTC. Unparsable input yields the
// zero time.
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// FilterRunTrendPoints sorts points chronologically (ties by ascending run
// id), keeps those matching mode and version unless either is All, and
// returns the last window points of the result. window is clamped to at
// least 1. The input slice is not modified.
func FilterRunTrendPoints(points []types.TrendPoint, mode, version string, window int) []types.TrendPoint {
	type keyed struct {
		at time.Time
		p  types.TrendPoint
	}
	sorted := make([]keyed, 0, len(points))
	for _, p := range points {
		sorted = append(sorted, keyed{at: ParseTimestamp(p.CreatedAt), p: p})
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].at.Equal(sorted[j].at) {
			return sorted[i].at.Before(sorted[j].at)
		}
		return sorted[i].p.RunID < sorted[j].p.RunID
	})

	out := make([]types.TrendPoint, 0, len(sorted))
	for _, k := range sorted {
		if mode != "" && mode != All && string(k.p.Mode) != mode {
			continue
		}
		if version != "" && version != All && strconv.FormatInt(k.p.PromptVersionID, 10) != version {
			continue
		}
		out = append(out, k.p)
	}

	if window < 1 {
		window = 1
	}
	if len(out) > window {
		out = out[len(out)-window:]
	}
	return out
}

// TrendPointsFromRuns reduces runs to trend points using each run's stored
// summary. When the summary lacks a rate, it is derived from the run
// counters.
func TrendPointsFromRuns(runs []types.EvaluationRun) []types.TrendPoint {
	out := make([]types.TrendPoint, 0, len(runs))
	for _, r := range runs {
		p := types.TrendPoint{
			RunID:           r.ID,
			CreatedAt:       r.CreatedAt,
			Mode:            r.Mode,
			PromptVersionID: r.PromptVersionID,
			PassRate:        probe.NumberPtr(r.Summary["passRate"]),
			AvgOverallScore: probe.NumberPtr(r.Summary["avgOverallScore"]),
			ErrorRate:       probe.NumberPtr(r.Summary["errorRate"]),
			ReleaseDecision: probe.String(r.Summary["releaseDecision"]),
		}
		if r.ProcessedCases > 0 {
			if p.PassRate == nil {
				p.PassRate = percent(r.PassedCases, r.ProcessedCases)
			}
			if p.ErrorRate == nil {
				p.ErrorRate = percent(r.ErrorCases, r.ProcessedCases)
			}
		}
		out = append(out, p)
	}
	return out
}

func percent(n, d int) *float64 {
	v := float64(n) / float64(d) * 100
	return &v
}
