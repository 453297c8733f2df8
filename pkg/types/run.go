package types

import (
	"encoding/json"

	"github.com/chanyong1027/evalstudio/internal/probe"
)

type EvalMode string

const (
	ModeCandidateOnly EvalMode = "CANDIDATE_ONLY"
	ModeCompareActive EvalMode = "COMPARE_ACTIVE"
)

// IsCompare reports whether the mode scores the candidate against a baseline.
func (m EvalMode) IsCompare() bool { return m == ModeCompareActive }

type RunStatus string

const (
	RunQueued    RunStatus = "QUEUED"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
	RunCancelled RunStatus = "CANCELLED"
)

// InFlight reports whether the executor may still change the run.
func (s RunStatus) InFlight() bool { return s == RunQueued || s == RunRunning }

// Terminal reports whether the run reached a final state.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

type RubricOverrides struct {
	Weights     map[string]float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
	Gates       map[string]float64 `json:"gates,omitempty" yaml:"gates,omitempty"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
}

type RunCost struct {
	TotalTokens  *float64 `json:"totalTokens"`
	TotalCostUSD *float64 `json:"totalCostUsd"`
}

// EvaluationRun is one execution of a dataset against a prompt version.
// Summary is kept as the raw object returned by the service.
type EvaluationRun struct {
	ID                 int64            `json:"id"`
	DatasetID          int64            `json:"datasetId"`
	PromptVersionID    int64            `json:"promptVersionId"`
	Mode               EvalMode         `json:"mode"`
	RubricTemplateCode string           `json:"rubricTemplateCode"`
	RubricOverrides    *RubricOverrides `json:"rubricOverrides,omitempty"`
	Status             RunStatus        `json:"status"`
	TotalCases         int              `json:"totalCases"`
	ProcessedCases     int              `json:"processedCases"`
	PassedCases        int              `json:"passedCases"`
	FailedCases        int              `json:"failedCases"`
	ErrorCases         int              `json:"errorCases"`
	Summary            map[string]any   `json:"summary,omitempty"`
	Cost               RunCost          `json:"cost"`
	CreatedAt          string           `json:"createdAt,omitempty"`
	StartedAt          string           `json:"startedAt,omitempty"`
	CompletedAt        string           `json:"completedAt,omitempty"`
}

// UnmarshalJSON decodes a run payload field by field so that a single
// malformed field never rejects the whole run.
func (r *EvaluationRun) UnmarshalJSON(raw []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	*r = ParseRun(doc)
	return nil
}

// ParseRun builds a run from an already-decoded JSON object.
func ParseRun(doc map[string]any) EvaluationRun {
	r := EvaluationRun{
		ID:                 intField(doc, "id"),
		DatasetID:          intField(doc, "datasetId"),
		PromptVersionID:    intField(doc, "promptVersionId"),
		Mode:               EvalMode(probe.String(doc["mode"])),
		RubricTemplateCode: probe.String(doc["rubricTemplateCode"]),
		Status:             RunStatus(probe.String(doc["status"])),
		TotalCases:         int(intField(doc, "totalCases")),
		ProcessedCases:     int(intField(doc, "processedCases")),
		PassedCases:        int(intField(doc, "passedCases")),
		FailedCases:        int(intField(doc, "failedCases")),
		ErrorCases:         int(intField(doc, "errorCases")),
		Summary:            probe.Record(doc["summary"]),
		CreatedAt:          probe.String(doc["createdAt"]),
		StartedAt:          probe.String(doc["startedAt"]),
		CompletedAt:        probe.String(doc["completedAt"]),
	}
	if r.Mode != ModeCompareActive {
		r.Mode = ModeCandidateOnly
	}
	if cost := probe.Record(doc["cost"]); cost != nil {
		r.Cost.TotalTokens = probe.NumberPtr(cost["totalTokens"])
		r.Cost.TotalCostUSD = probe.NumberPtr(cost["totalCostUsd"])
	}
	if ov := probe.Record(doc["rubricOverrides"]); ov != nil {
		r.RubricOverrides = &RubricOverrides{
			Weights:     numberMap(ov["weights"]),
			Gates:       numberMap(ov["gates"]),
			Description: probe.String(ov["description"]),
		}
	}
	return r
}

type CaseStatus string

const (
	CaseQueued  CaseStatus = "QUEUED"
	CaseRunning CaseStatus = "RUNNING"
	CaseOK      CaseStatus = "OK"
	CaseError   CaseStatus = "ERROR"
	CaseSkipped CaseStatus = "SKIPPED"
)

// Processed reports whether the case reached a terminal per-case status.
func (s CaseStatus) Processed() bool {
	return s == CaseOK || s == CaseError || s == CaseSkipped
}

// EvalCaseResult is the outcome of one test case within a run. Evidence
// fields keep their decoded JSON shape; readers go through internal/compare.
type EvalCaseResult struct {
	ID              int64      `json:"id"`
	RunID           int64      `json:"evalRunId"`
	TestCaseID      int64      `json:"testCaseId"`
	Status          CaseStatus `json:"status"`
	Pass            *bool      `json:"pass"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
	ErrorCode       string     `json:"errorCode,omitempty"`
	CandidateOutput any        `json:"candidateOutput,omitempty"`
	BaselineOutput  any        `json:"baselineOutput,omitempty"`
	RuleChecks      any        `json:"ruleChecks,omitempty"`
	JudgeOutput     any        `json:"judgeOutput,omitempty"`
	CandidateMeta   any        `json:"candidateMeta,omitempty"`
	BaselineMeta    any        `json:"baselineMeta,omitempty"`
}

func (c *EvalCaseResult) UnmarshalJSON(raw []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	*c = ParseCase(doc)
	return nil
}

// ParseCase builds a case result from an already-decoded JSON object.
func ParseCase(doc map[string]any) EvalCaseResult {
	c := EvalCaseResult{
		ID:              intField(doc, "id"),
		RunID:           intField(doc, "evalRunId"),
		TestCaseID:      intField(doc, "testCaseId"),
		Status:          CaseStatus(probe.String(doc["status"])),
		Pass:            probe.BoolPtr(doc["pass"]),
		ErrorMessage:    probe.String(doc["errorMessage"]),
		CandidateOutput: doc["candidateOutput"],
		BaselineOutput:  doc["baselineOutput"],
		RuleChecks:      doc["ruleChecks"],
		JudgeOutput:     doc["judgeOutput"],
		CandidateMeta:   doc["candidateMeta"],
		BaselineMeta:    doc["baselineMeta"],
	}
	if c.RunID == 0 {
		c.RunID = intField(doc, "runId")
	}
	if c.Status == CaseError {
		c.ErrorCode = probe.String(doc["errorCode"])
	}
	return c
}

// CasePage is one page of the paginated case list.
type CasePage struct {
	Content    []EvalCaseResult `json:"content"`
	TotalPages int              `json:"totalPages"`
	Number     int              `json:"number"`
}

// UnmarshalJSON skips entries that are not objects instead of failing the page.
func (p *CasePage) UnmarshalJSON(raw []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	*p = CasePage{
		Content:    ParseCases(doc["content"]),
		TotalPages: int(intField(doc, "totalPages")),
		Number:     int(intField(doc, "number")),
	}
	return nil
}

// ParseCases converts a decoded JSON array into case results, dropping
// elements that are not objects.
func ParseCases(v any) []EvalCaseResult {
	items := probe.Array(v)
	out := make([]EvalCaseResult, 0, len(items))
	for _, item := range items {
		if rec := probe.Record(item); rec != nil {
			out = append(out, ParseCase(rec))
		}
	}
	return out
}

// ParseRuns converts a decoded JSON array into runs, dropping elements that
// are not objects.
func ParseRuns(v any) []EvaluationRun {
	items := probe.Array(v)
	out := make([]EvaluationRun, 0, len(items))
	for _, item := range items {
		if rec := probe.Record(item); rec != nil {
			out = append(out, ParseRun(rec))
		}
	}
	return out
}

func intField(doc map[string]any, key string) int64 {
	v, _ := probe.Int(doc[key])
	return v
}

func numberMap(v any) map[string]float64 {
	rec := probe.Record(v)
	if len(rec) == 0 {
		return nil
	}
	out := make(map[string]float64, len(rec))
	for k, raw := range rec {
		if f, ok := probe.Number(raw); ok {
			out[k] = f
		}
	}
	return out
}
