package rego

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chanyong1027/evalstudio/internal/policy"
)

// --- Evaluate error paths ---

func TestEvaluate_NonexistentPolicyFile(t *testing.T) {
	_, err := Evaluate(context.Background(), "/nonexistent/policy.rego", Input{})
	if err == nil {
		t.Fatal("expected error for nonexistent policy file")
	}
	if !strings.Contains(err.Error(), "read rego policy") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEvaluate_InvalidRegoSyntax(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.rego")
	if err := os.WriteFile(path, []byte("package bad\n!!!invalid syntax here"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Evaluate(context.Background(), path, Input{})
	if err == nil {
		t.Fatal("expected error for invalid rego syntax")
	}
	if !strings.Contains(err.Error(), "prepare rego query") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEvaluate_NoResultReturned(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.rego")
	// Valid rego under another package, so the release result is undefined.
	if err := os.WriteFile(path, []byte("package other\n\ndefault allow := true\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Evaluate(context.Background(), path, Input{})
	if err == nil {
		t.Fatal("expected error for no result")
	}
	if !strings.Contains(err.Error(), "rego policy returned no result") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEvaluate_CustomPolicyDeny(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deny.rego")
	module := `package evalstudio.release

result := {"allow": false, "reasons": ["LATENCY_TOO_HIGH", "PASS_RATE_BELOW_THRESHOLD"]}
`
	if err := os.WriteFile(path, []byte(module), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := Evaluate(context.Background(), path, Input{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Allow || r.Release() != policy.ReleaseHold {
		t.Fatal("expected hold")
	}
	if len(r.Reasons) != 2 || r.Reasons[0] != "LATENCY_TOO_HIGH" {
		t.Fatalf("reasons = %v", r.Reasons)
	}
}

// --- decodeResult edge cases ---

func TestDecodeResult_NonObjectInput(t *testing.T) {
	_, err := decodeResult("not an object")
	if err == nil {
		t.Fatal("expected error for non-object input")
	}
	if !strings.Contains(err.Error(), "rego result must be object") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDecodeResult_EmptyMap(t *testing.T) {
	r, err := decodeResult(map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Allow {
		t.Fatal("expected allow=false for empty map (zero-value)")
	}
	if len(r.Reasons) != 0 {
		t.Fatalf("expected 0 reasons, got %d", len(r.Reasons))
	}
}

func TestDecodeReasons(t *testing.T) {
	if got := decodeReasons([]any{"real", "", 42, "another"}); len(got) != 2 {
		t.Fatalf("expected 2 items, got %v", got)
	}
	if got := decodeReasons(map[string]any{"a": true, "": true}); len(got) != 1 {
		t.Fatalf("expected 1 item, got %v", got)
	}
	if got := decodeReasons(nil); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", got)
	}
}
