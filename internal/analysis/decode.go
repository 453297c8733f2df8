package analysis

import (
	"encoding/json"
	"fmt"

	"github.com/chanyong1027/evalstudio/internal/probe"
	"github.com/chanyong1027/evalstudio/pkg/types"
)

// DecodeCases accepts either a bare case array or a case page object with a
// content array. Elements that are not objects are dropped.
func DecodeCases(data []byte) ([]types.EvalCaseResult, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode cases: %w", err)
	}
	return casesOf(doc)
}

func casesOf(doc any) ([]types.EvalCaseResult, error) {
	switch v := doc.(type) {
	case []any:
		return types.ParseCases(v), nil
	case map[string]any:
		if _, ok := v["content"]; ok {
			return types.ParseCases(v["content"]), nil
		}
	}
	return nil, fmt.Errorf("cases must be an array or an object with a content array")
}

// DecodeRun decodes one run object.
func DecodeRun(data []byte) (types.EvaluationRun, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return types.EvaluationRun{}, fmt.Errorf("decode run: %w", err)
	}
	rec := probe.Record(doc)
	if rec == nil {
		return types.EvaluationRun{}, fmt.Errorf("run must be an object")
	}
	return types.ParseRun(rec), nil
}

// DecodeRuns accepts a run array or an object with a content array.
func DecodeRuns(data []byte) ([]types.EvaluationRun, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode runs: %w", err)
	}
	if rec := probe.Record(doc); rec != nil {
		doc = rec["content"]
	}
	if _, ok := doc.([]any); !ok {
		return nil, fmt.Errorf("runs must be an array or an object with a content array")
	}
	return types.ParseRuns(doc), nil
}

// DecodeInput decodes an analyze request {run, cases, criteria?}. cases may
// be an array or a page object.
func DecodeInput(data []byte) (Input, error) {
	var raw struct {
		Run      json.RawMessage        `json:"run"`
		Cases    json.RawMessage        `json:"cases"`
		Criteria *types.ReleaseCriteria `json:"criteria"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Input{}, fmt.Errorf("decode analyze request: %w", err)
	}
	if len(raw.Run) == 0 || len(raw.Cases) == 0 {
		return Input{}, fmt.Errorf("analyze request requires run and cases")
	}
	run, err := DecodeRun(raw.Run)
	if err != nil {
		return Input{}, err
	}
	cases, err := DecodeCases(raw.Cases)
	if err != nil {
		return Input{}, err
	}
	return Input{Run: run, Cases: cases, Criteria: raw.Criteria}, nil
}
