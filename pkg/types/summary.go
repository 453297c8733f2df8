package types

// CountEntry is one category of a top-N distribution.
type CountEntry struct {
	Key     string  `json:"key"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// RunSummary is the derived aggregate object recomputed for a run. Pointer
// fields are nil when their sample is empty.
type RunSummary struct {
	PassRate            *float64         `json:"passRate"`
	ErrorRate           *float64         `json:"errorRate"`
	AvgOverallScore     *float64         `json:"avgOverallScore"`
	AvgScoreDelta       *float64         `json:"avgScoreDelta"`
	CompareCoverageRate *float64         `json:"compareCoverageRate"`
	ReleaseDecision     string           `json:"releaseDecision"`
	RiskLevel           string           `json:"riskLevel"`
	DecisionReasons     []string         `json:"decisionReasons"`
	TopIssues           []string         `json:"topIssues"`
	RuleFailCounts      []CountEntry     `json:"ruleFailCounts"`
	ErrorCodeCounts     []CountEntry     `json:"errorCodeCounts"`
	LabelCounts         []CountEntry     `json:"labelCounts"`
	CriteriaSnapshot    *ReleaseCriteria `json:"criteriaSnapshot"`
	PlainSummary        string           `json:"plainSummary"`
	LLMOverallReview    string           `json:"llmOverallReview,omitempty"`
}

// TrendPoint is one historical run reduced to the values charted over time.
type TrendPoint struct {
	RunID           int64    `json:"runId"`
	CreatedAt       string   `json:"createdAt"`
	Mode            EvalMode `json:"mode"`
	PromptVersionID int64    `json:"promptVersionId"`
	PassRate        *float64 `json:"passRate"`
	AvgOverallScore *float64 `json:"avgOverallScore"`
	ErrorRate       *float64 `json:"errorRate"`
	ReleaseDecision string   `json:"releaseDecision,omitempty"`
}
