package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/chanyong1027/evalstudio/internal/client"
	"github.com/chanyong1027/evalstudio/internal/config"
	"github.com/chanyong1027/evalstudio/internal/policy"
	"github.com/chanyong1027/evalstudio/internal/store"
	"github.com/chanyong1027/evalstudio/pkg/types"
)

const (
	passingRun   = `{"id": 42, "mode": "CANDIDATE_ONLY", "status": "COMPLETED", "promptVersionId": 4}`
	passingCases = `{"content": [
		{"id": 1, "status": "OK", "pass": true, "judgeOutput": {"overallScore": 92}},
		{"id": 2, "status": "OK", "pass": true, "judgeOutput": {"overallScore": 88}}
	], "totalPages": 1}`
	holdingCases = `[
		{"id": 1, "status": "OK", "pass": true, "judgeOutput": {"overallScore": 92}},
		{"id": 2, "status": "OK", "pass": false, "judgeOutput": {"overallScore": 40}}
	]`
	compareRun   = `{"id": 43, "mode": "COMPARE_ACTIVE", "status": "COMPLETED"}`
	compareCases = `[
		{"id": 1, "status": "OK", "pass": true, "judgeOutput": {"compare": {"winner": "CANDIDATE", "scoreDelta": 4, "candidateOverallScore": 88}}},
		{"id": 2, "status": "OK", "pass": false, "judgeOutput": {"compare": {"winner": "BASELINE", "scoreDelta": -3, "candidateOverallScore": 61}}},
		{"id": 3, "status": "ERROR", "errorCode": "TIMEOUT"}
	]`
	criteriaYAML = `min_pass_rate: 80
min_avg_overall_score: 75
max_error_rate: 5
min_improvement_notice_delta: 2
`
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ce cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return 1
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// writeConfig writes a config pointing at baseURL with state kept in dir.
func writeConfig(t *testing.T, dir, baseURL string) string {
	t.Helper()
	return writeFile(t, dir, "evalstudio.yaml", fmt.Sprintf(`base_url: %q
workspace_id: 3
prompt_id: 7
run_poll_interval: 10ms
case_poll_interval: 10ms
state_path: %q
criteria_path: %q
`, baseURL, filepath.Join(dir, "state.json"), filepath.Join(dir, "criteria.yaml")))
}

func TestAnalyzeCommandWritesJSONReport(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")
	writeFile(t, dir, "criteria.yaml", criteriaYAML)
	runPath := writeFile(t, dir, "run.json", passingRun)
	casesPath := writeFile(t, dir, "cases.json", passingCases)
	outPath := filepath.Join(dir, "report.json")

	if _, err := execute(t, "analyze", "--config", cfgPath, "--run", runPath, "--cases", casesPath,
		"--format", "json", "--out", outPath); err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	raw, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Fingerprint string `json:"fingerprint"`
		View        struct {
			CriteriaSource string `json:"criteriaSource"`
			Decision       struct {
				Release string `json:"releaseDecision"`
			} `json:"decision"`
		} `json:"view"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.View.Decision.Release != "PASS" || doc.View.CriteriaSource != "workspace" {
		t.Fatalf("unexpected report %s", raw)
	}
	if !strings.HasPrefix(doc.Fingerprint, "sha256:") {
		t.Fatalf("fingerprint = %q", doc.Fingerprint)
	}
}

func TestAnalyzeCommandMarkdownToStdout(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")
	out, err := execute(t, "analyze", "--config", cfgPath,
		"--run", writeFile(t, dir, "run.json", passingRun),
		"--cases", writeFile(t, dir, "cases.json", passingCases))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "# Evaluation Run Report") {
		t.Fatalf("markdown missing title:\n%s", out)
	}
}

func TestGateCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")
	criteriaPath := writeFile(t, dir, "gates.yaml", criteriaYAML)
	runPath := writeFile(t, dir, "run.json", passingRun)
	passPath := writeFile(t, dir, "pass.json", passingCases)
	holdPath := writeFile(t, dir, "hold.json", holdingCases)

	tests := []struct {
		name     string
		engine   string
		cases    string
		wantCode int
		wantOut  string
	}{
		{"yaml pass", "yaml", passPath, 0, "run 42: PASS"},
		{"yaml hold", "yaml", holdPath, exitHold, policy.ReasonPassRateBelow},
		{"rego pass", "rego", passPath, 0, "run 42: PASS"},
		{"rego hold", "rego", holdPath, exitHold, policy.ReasonPassRateBelow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, "gate", "--config", cfgPath, "--engine", tt.engine,
				"--run", runPath, "--cases", tt.cases, "--criteria", criteriaPath)
			if got := exitCode(err); got != tt.wantCode {
				t.Fatalf("exit code = %d, want %d (err %v)", got, tt.wantCode, err)
			}
			if !strings.Contains(out, tt.wantOut) {
				t.Fatalf("output missing %q:\n%s", tt.wantOut, out)
			}
		})
	}
}

func TestGateCommandInvalidInput(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")
	runPath := writeFile(t, dir, "run.json", passingRun)
	casesPath := writeFile(t, dir, "cases.json", passingCases)
	badCriteria := writeFile(t, dir, "bad.yaml", "min_pass_rate: 180\n")

	tests := []struct {
		name string
		args []string
	}{
		{"missing run", []string{"--cases", casesPath}},
		{"cases not a list", []string{"--run", runPath, "--cases", writeFile(t, dir, "obj.json", `{"items": []}`)}},
		{"criteria out of range", []string{"--run", runPath, "--cases", casesPath, "--criteria", badCriteria}},
		{"unknown engine", []string{"--run", runPath, "--cases", casesPath, "--engine", "cue"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append([]string{"gate", "--config", cfgPath}, tt.args...)...)
			if got := exitCode(err); got != exitInvalidInput {
				t.Fatalf("exit code = %d, want %d (err %v)", got, exitInvalidInput, err)
			}
		})
	}
}

func TestCasesCommand(t *testing.T) {
	dir := t.TempDir()
	runPath := writeFile(t, dir, "run.json", compareRun)
	casesPath := writeFile(t, dir, "cases.json", compareCases)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"explicit filter", []string{"--filter", "worse"}, "filter WORSE: 1 of 3 cases"},
		{"error filter", []string{"--filter", "ERROR"}, "filter ERROR: 1 of 3 cases"},
		{"reason driven", []string{"--reason", "Score regression against the baseline"}, "filter WORSE: 1 of 3 cases"},
		{"winner fallback", []string{"--reason", "tone drift", "--winner", "CANDIDATE"}, "filter FAIL: 1 of 3 cases"},
		{"no filter", nil, "filter ALL: 3 of 3 cases"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, append([]string{"cases", "--run", runPath, "--cases", casesPath}, tt.args...)...)
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(out, tt.want) {
				t.Fatalf("output missing %q:\n%s", tt.want, out)
			}
		})
	}

	_, err := execute(t, "cases", "--run", runPath, "--cases", casesPath, "--filter", "LOUD")
	if exitCode(err) != exitInvalidInput {
		t.Fatalf("unknown filter: err = %v", err)
	}
}

func TestTrendCommandKeepsLatestWindow(t *testing.T) {
	dir := t.TempDir()
	runsPath := writeFile(t, dir, "runs.json", `[
		{"id": 503, "mode": "CANDIDATE_ONLY", "status": "COMPLETED", "promptVersionId": 4, "createdAt": "2026-03-03T09:00:00Z"},
		{"id": 501, "mode": "CANDIDATE_ONLY", "status": "COMPLETED", "promptVersionId": 4, "createdAt": "2026-03-01T09:00:00Z"},
		{"id": 502, "mode": "COMPARE_ACTIVE", "status": "COMPLETED", "promptVersionId": 4, "createdAt": "2026-03-02T09:00:00Z"},
		{"id": 504, "mode": "CANDIDATE_ONLY", "status": "COMPLETED", "promptVersionId": 5, "createdAt": "2026-03-04T09:00:00Z"}
	]`)

	out, err := execute(t, "trend", "--runs", runsPath, "--mode", "candidate_only", "--version", "4", "--window", "1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "503") || strings.Contains(out, "501") || strings.Contains(out, "502") || strings.Contains(out, "504") {
		t.Fatalf("unexpected trend:\n%s", out)
	}

	if _, err := execute(t, "trend", "--runs", runsPath, "--mode", "PAIRWISE"); exitCode(err) != exitInvalidInput {
		t.Fatalf("unknown mode: err = %v", err)
	}
}

func TestTrendCommandFetchesRuns(t *testing.T) {
	srv := httptest.NewServer((&fakeService{}).handler())
	defer srv.Close()
	out, err := execute(t, "trend", "--config", writeConfig(t, t.TempDir(), srv.URL), "--window", "1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "612") || strings.Contains(out, "611") {
		t.Fatalf("unexpected trend:\n%s", out)
	}
}

func TestInitCommandScaffoldsOnce(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	out, err := execute(t, "init")
	if err != nil {
		t.Fatal(err)
	}
	for _, path := range []string{config.DefaultPath, config.DefaultCriteriaPath, config.DefaultPolicyPath} {
		if !fileExists(path) {
			t.Fatalf("init did not write %s (output %q)", path, out)
		}
	}
	rc, err := policy.LoadCriteria(config.DefaultCriteriaPath)
	if err != nil {
		t.Fatalf("scaffolded criteria invalid: %v", err)
	}
	if rc != policy.DefaultCriteria() {
		t.Fatalf("criteria = %+v", rc)
	}

	out, err = execute(t, "init")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "already initialized") {
		t.Fatalf("second init output = %q", out)
	}

	// The scaffolded policy drives the rego engine.
	runPath := writeFile(t, dir, "run.json", passingRun)
	holdPath := writeFile(t, dir, "hold.json", holdingCases)
	_, err = execute(t, "gate", "--engine", "rego", "--run", runPath, "--cases", holdPath)
	if exitCode(err) != exitHold {
		t.Fatalf("gate with scaffolded files: err = %v", err)
	}
}

// fakeService serves one workspace/prompt of the evaluation API.
type fakeService struct {
	runStatus string
	cases     string
	criteria  int32
	runs      int32
	forbidden bool

	mu      sync.Mutex
	created types.CreateRunRequest
}

func (f *fakeService) createdRun() types.CreateRunRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/workspaces/3/prompts/7/eval/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.runs, 1)
		fmt.Fprintf(w, `{"id": %s, "mode": "CANDIDATE_ONLY", "status": %q}`, r.PathValue("id"), f.runStatus)
	})
	mux.HandleFunc("GET /api/v1/workspaces/3/prompts/7/eval/runs/{id}/cases", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, f.cases)
	})
	mux.HandleFunc("GET /api/v1/workspaces/3/prompts/7/eval/runs", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"content": [
			{"id": 612, "mode": "CANDIDATE_ONLY", "status": "COMPLETED", "promptVersionId": 4, "createdAt": "2026-05-02T09:00:00Z"},
			{"id": 611, "mode": "CANDIDATE_ONLY", "status": "COMPLETED", "promptVersionId": 4, "createdAt": "2026-05-01T09:00:00Z"}
		]}`)
	})
	mux.HandleFunc("POST /api/v1/workspaces/3/prompts/7/eval/runs", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&f.created)
		f.mu.Unlock()
		fmt.Fprint(w, `{"id": 77}`)
	})
	mux.HandleFunc("POST /api/v1/workspaces/3/prompts/7/eval/runs/{id}/cancel", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/v1/workspaces/3/eval/release-criteria", func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&f.criteria, 1)
		fmt.Fprint(w, `{"workspaceId": 3, "minPassRate": 80, "minAvgOverallScore": 75, "maxErrorRate": 5, "minImprovementNoticeDelta": 2}`)
	})
	mux.HandleFunc("GET /api/v1/workspaces/3/eval/release-criteria/history", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[{"id": 1, "workspaceId": 3, "changedBy": "owner@example.com", "changedAt": "2026-04-01T00:00:00Z", "minPassRate": 70}]`)
	})
	mux.HandleFunc("PUT /api/v1/workspaces/3/eval/release-criteria", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.criteria, 1)
		if f.forbidden {
			http.Error(w, `{"message": "owner only"}`, http.StatusForbidden)
			return
		}
		var u types.ReleaseCriteriaUpdate
		_ = json.NewDecoder(r.Body).Decode(&u)
		_ = json.NewEncoder(w).Encode(u)
	})
	return mux
}

func TestWatchCommand(t *testing.T) {
	svc := &fakeService{runStatus: "COMPLETED", cases: passingCases}
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, srv.URL)

	out, err := execute(t, "watch", "--config", cfgPath, "--run-id", "42", "--gate")
	if err != nil {
		t.Fatalf("watch failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "run 42 COMPLETED 2/2 processed") {
		t.Fatalf("missing progress line:\n%s", out)
	}
	last, ok, err := store.NewFileStore(filepath.Join(dir, "state.json")).LastRun(3, 7)
	if err != nil || !ok || last != 42 {
		t.Fatalf("last run = %d, %v, %v", last, ok, err)
	}

	// Without --run-id the last viewed run is watched again.
	before := atomic.LoadInt32(&svc.runs)
	if _, err := execute(t, "watch", "--config", cfgPath); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&svc.runs) == before {
		t.Fatal("watch without --run-id did not fetch the last viewed run")
	}
}

func TestWatchCommandGateHolds(t *testing.T) {
	svc := &fakeService{runStatus: "COMPLETED", cases: `{"content": ` + holdingCases + `, "totalPages": 1}`}
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()
	cfgPath := writeConfig(t, t.TempDir(), srv.URL)

	_, err := execute(t, "watch", "--config", cfgPath, "--run-id", "42", "--gate")
	if exitCode(err) != exitHold {
		t.Fatalf("err = %v, want hold exit", err)
	}
}

func TestWatchCommandRequiresRunID(t *testing.T) {
	srv := httptest.NewServer((&fakeService{}).handler())
	defer srv.Close()
	_, err := execute(t, "watch", "--config", writeConfig(t, t.TempDir(), srv.URL))
	if exitCode(err) != exitInvalidInput {
		t.Fatalf("err = %v", err)
	}
}

func TestRunCommands(t *testing.T) {
	svc := &fakeService{}
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, srv.URL)
	overrides := writeFile(t, dir, "overrides.yaml", "weights:\n  accuracy: 0.7\n")

	out, err := execute(t, "run", "create", "--config", cfgPath, "--dataset", "5", "--version", "4",
		"--mode", "compare_active", "--rubric", "QA_DEFAULT", "--overrides", overrides)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "created run 77") {
		t.Fatalf("output = %q", out)
	}
	created := svc.createdRun()
	if created.DatasetID != 5 || created.Mode != types.ModeCompareActive ||
		created.RubricOverrides == nil || created.RubricOverrides.Weights["accuracy"] != 0.7 {
		t.Fatalf("create request = %+v", created)
	}
	if last, ok, _ := store.NewFileStore(filepath.Join(dir, "state.json")).LastRun(3, 7); !ok || last != 77 {
		t.Fatalf("created run not recorded: %d %v", last, ok)
	}

	if out, err := execute(t, "run", "cancel", "--config", cfgPath, "--run-id", "77"); err != nil || !strings.Contains(out, "cancelled run 77") {
		t.Fatalf("cancel: %q %v", out, err)
	}

	_, err = execute(t, "run", "create", "--config", cfgPath, "--dataset", "5", "--version", "4")
	if exitCode(err) != exitInvalidInput {
		t.Fatalf("missing rubric: err = %v", err)
	}
}

func TestCriteriaCommands(t *testing.T) {
	svc := &fakeService{}
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, srv.URL)

	out, err := execute(t, "criteria", "get", "--config", cfgPath)
	if err != nil || !strings.Contains(out, "min_pass_rate: 80") {
		t.Fatalf("get: %q %v", out, err)
	}
	out, err = execute(t, "criteria", "history", "--config", cfgPath)
	if err != nil || !strings.Contains(out, "owner@example.com") {
		t.Fatalf("history: %q %v", out, err)
	}
	out, err = execute(t, "criteria", "set", "--config", cfgPath,
		"--min-pass-rate", "83.33", "--min-avg-score", "75", "--max-error-rate", "0.125", "--min-improvement-delta", "2")
	if err != nil || !strings.Contains(out, "pass rate >= 83.33") || !strings.Contains(out, "error rate <= 0.125") {
		t.Fatalf("set: %q %v", out, err)
	}
	out, err = execute(t, "criteria", "set", "--config", cfgPath, "--file", writeFile(t, dir, "c.yaml", criteriaYAML))
	if err != nil || !strings.Contains(out, "pass rate >= 80") {
		t.Fatalf("set from file: %q %v", out, err)
	}
}

func TestCriteriaSetValidatesBeforeCalling(t *testing.T) {
	svc := &fakeService{}
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()
	cfgPath := writeConfig(t, t.TempDir(), srv.URL)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"blank", []string{"--min-avg-score", "75", "--max-error-rate", "5", "--min-improvement-delta", "2"}, "--min-pass-rate"},
		{"not a number", []string{"--min-pass-rate", "eighty", "--min-avg-score", "75", "--max-error-rate", "5", "--min-improvement-delta", "2"}, "--min-pass-rate"},
		{"out of range", []string{"--min-pass-rate", "80", "--min-avg-score", "75", "--max-error-rate", "101", "--min-improvement-delta", "2"}, "--max-error-rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append([]string{"criteria", "set", "--config", cfgPath}, tt.args...)...)
			if exitCode(err) != exitInvalidInput || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v", err)
			}
		})
	}
	if n := atomic.LoadInt32(&svc.criteria); n != 0 {
		t.Fatalf("service called %d times for invalid input", n)
	}
}

func TestCriteriaSetOwnerOnly(t *testing.T) {
	svc := &fakeService{forbidden: true}
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()
	cfgPath := writeConfig(t, t.TempDir(), srv.URL)

	_, err := execute(t, "criteria", "set", "--config", cfgPath,
		"--min-pass-rate", "80", "--min-avg-score", "75", "--max-error-rate", "5", "--min-improvement-delta", "2")
	if !errors.Is(err, client.ErrOwnerOnly) {
		t.Fatalf("err = %v, want owner-only", err)
	}
}

func TestRemoteCommandsRequireWorkspace(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "evalstudio.yaml", "base_url: http://localhost:1\n")
	_, err := execute(t, "criteria", "get", "--config", cfgPath)
	if exitCode(err) != exitInvalidInput || !strings.Contains(err.Error(), "workspace_id") {
		t.Fatalf("err = %v", err)
	}
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := execute(t, "--log-level", "loud", "trend", "--runs", "x.json")
	if exitCode(err) != exitInvalidInput {
		t.Fatalf("err = %v", err)
	}
}
