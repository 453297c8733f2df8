package probe

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNumber(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   float64
		wantOK bool
	}{
		{"float", 12.5, 12.5, true},
		{"int", 7, 7, true},
		{"json number", json.Number("3.25"), 3.25, true},
		{"numeric string", " 42 ", 42, true},
		{"empty string", "", 0, false},
		{"word", "fast", 0, false},
		{"bool", true, 0, false},
		{"nil", nil, 0, false},
		{"object", map[string]any{"a": 1}, 0, false},
		{"nan", math.NaN(), 0, false},
		{"inf", math.Inf(1), 0, false},
	}
	for _, tt := range tests {
		got, ok := Number(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("%s: Number(%v) = (%v, %t), want (%v, %t)", tt.name, tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestIntRejectsFractions(t *testing.T) {
	if _, ok := Int(1.5); ok {
		t.Fatal("expected fractional value to be rejected")
	}
	if v, ok := Int("17"); !ok || v != 17 {
		t.Fatalf("Int(\"17\") = (%d, %t)", v, ok)
	}
}

func TestRecordAndPath(t *testing.T) {
	var doc any
	if err := json.Unmarshal([]byte(`{"judge":{"compare":{"winner":"TIE"}},"list":[1,2]}`), &doc); err != nil {
		t.Fatal(err)
	}
	if got := String(Path(doc, "judge", "compare", "winner")); got != "TIE" {
		t.Errorf("winner = %q", got)
	}
	if Path(doc, "list", "x") != nil {
		t.Error("path through an array must be nil")
	}
	if Record([]any{1}) != nil {
		t.Error("array is not a record")
	}
	if Path(nil, "a") != nil {
		t.Error("path over nil must be nil")
	}
}

func TestBoolIsStrict(t *testing.T) {
	if _, ok := Bool("true"); ok {
		t.Error("string true must not be a boolean")
	}
	if p := BoolPtr(false); p == nil || *p {
		t.Errorf("BoolPtr(false) = %v", p)
	}
}

func TestStrings(t *testing.T) {
	got := Strings([]any{"tone", 3, "", "  verbose  ", nil})
	if diff := cmp.Diff([]string{"tone", "verbose"}, got); diff != "" {
		t.Errorf("Strings mismatch (-want +got):\n%s", diff)
	}
	if got := Strings(map[string]any{}); len(got) != 0 {
		t.Errorf("object should produce empty slice, got %v", got)
	}
}
