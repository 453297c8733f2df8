// Package rego evaluates the release gates with an OPA policy instead of the
// built-in evaluator. The bundled policy reproduces the built-in gates.
package rego

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	oparego "github.com/open-policy-agent/opa/rego"

	"github.com/chanyong1027/evalstudio/internal/policy"
)

// DefaultPolicy is the bundled release-gate policy.
//
//go:embed release_gates.rego
var DefaultPolicy string

const query = "data.evalstudio.release.result"

type Input struct {
	Metrics    policy.Input      `json:"metrics"`
	Thresholds policy.Thresholds `json:"thresholds"`
}

type Result struct {
	Allow   bool     `json:"allow"`
	Reasons []string `json:"reasons"`
}

// Release maps the policy outcome onto a release decision.
func (r Result) Release() policy.Release {
	if r.Allow {
		return policy.ReleasePass
	}
	return policy.ReleaseHold
}

func BuildInput(in policy.Input, th policy.Thresholds) Input {
	return Input{Metrics: in, Thresholds: th}
}

// Evaluate runs the policy file at policyPath, or the bundled policy when
// policyPath is empty.
func Evaluate(ctx context.Context, policyPath string, input Input) (Result, error) {
	if policyPath == "" {
		return EvaluateModule(ctx, "release_gates.rego", DefaultPolicy, input)
	}
	raw, err := os.ReadFile(policyPath)
	if err != nil {
		return Result{}, fmt.Errorf("read rego policy: %w", err)
	}
	return EvaluateModule(ctx, filepath.Base(policyPath), string(raw), input)
}

func EvaluateModule(ctx context.Context, name, module string, input Input) (Result, error) {
	prepared, err := oparego.New(
		oparego.Query(query),
		oparego.Module(name, module),
		oparego.Input(input),
	).PrepareForEval(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("prepare rego query: %w", err)
	}

	rs, err := prepared.Eval(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("eval rego policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Result{}, fmt.Errorf("rego policy returned no result")
	}
	return decodeResult(rs[0].Expressions[0].Value)
}

func decodeResult(v any) (Result, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return Result{}, fmt.Errorf("rego result must be object")
	}
	allow, _ := obj["allow"].(bool)
	reasons := decodeReasons(obj["reasons"])
	sort.Strings(reasons)
	return Result{Allow: allow, Reasons: reasons}, nil
}

func decodeReasons(v any) []string {
	out := []string{}
	switch raw := v.(type) {
	case []any:
		for _, item := range raw {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	case map[string]any:
		for key := range raw {
			if key != "" {
				out = append(out, key)
			}
		}
	}
	return out
}
