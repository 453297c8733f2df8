// Package insight assigns the fixed-rubric letter grade of a run.
package insight

// Grade is the letter grade of a run.
type Grade string

const (
	GradePending Grade = "..."
	GradeS       Grade = "S"
	GradeA       Grade = "A"
	GradeB       Grade = "B"
	GradeF       Grade = "F"
)

type tier struct {
	grade        Grade
	minPassRate  float64
	minAvgScore  float64
	maxErrorRate float64
}

// Evaluated top-down; the first matching tier wins.
var tiers = []tier{
	{GradeS, 90, 85, 1},
	{GradeA, 80, 75, 3},
	{GradeB, 65, 65, 5},
}

// Of grades a run. A running run is always GradePending, and any missing
// input grades F. The rubric does not depend on configured release criteria.
func Of(passRate, avgScore, errorRate *float64, running bool) Grade {
	if running {
		return GradePending
	}
	if passRate == nil || avgScore == nil || errorRate == nil {
		return GradeF
	}
	for _, t := range tiers {
		if *passRate >= t.minPassRate && *avgScore >= t.minAvgScore && *errorRate <= t.maxErrorRate {
			return t.grade
		}
	}
	return GradeF
}
