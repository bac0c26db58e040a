package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/xraph/ragflow/id"
)

func TestPrefixedConstructors(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
		prefix  string
	}{
		{"run", id.NewRunID, id.ParseRunID, "run_"},
		{"invocation", id.NewInvocationID, id.ParseInvocationID, "act_"},
		{"worker", id.NewWorkerID, id.ParseWorkerID, "wkr_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			if !strings.HasPrefix(original.String(), tt.prefix) {
				t.Fatalf("expected prefix %q, got %q", tt.prefix, original.String())
			}
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestParseRejectsWrongPrefix(t *testing.T) {
	if _, err := id.ParseRunID(id.NewInvocationID().String()); err == nil {
		t.Error("ParseRunID accepted an act_ id")
	}
	if _, err := id.ParseInvocationID(id.NewWorkerID().String()); err == nil {
		t.Error("ParseInvocationID accepted a wkr_ id")
	}
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" || i.Prefix() != "" {
		t.Errorf("expected empty rendering, got %q / %q", i.String(), i.Prefix())
	}
	val, err := i.Value()
	if err != nil || val != nil {
		t.Errorf("Value() = %v, %v; want nil, nil", val, err)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	type holder struct {
		Run id.ID `json:"run"`
		Opt id.ID `json:"opt"`
	}
	in := holder{Run: id.NewRunID()}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out holder
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Run.String() != in.Run.String() {
		t.Errorf("run mismatch: %q != %q", out.Run, in.Run)
	}
	if !out.Opt.IsNil() {
		t.Errorf("expected nil opt, got %q", out.Opt)
	}
}

func TestScan(t *testing.T) {
	original := id.NewRunID()
	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	for _, src := range []any{val, []byte(val.(string))} {
		var scanned id.ID
		if err := scanned.Scan(src); err != nil {
			t.Fatalf("Scan(%T) failed: %v", src, err)
		}
		if scanned.String() != original.String() {
			t.Errorf("mismatch: %q != %q", scanned.String(), original.String())
		}
	}

	var bad id.ID
	if err := bad.Scan(42); err == nil {
		t.Error("expected error scanning an int")
	}
}

func TestUniqueness(t *testing.T) {
	if a, b := id.NewRunID(), id.NewRunID(); a.String() == b.String() {
		t.Errorf("two consecutive NewRunID() calls returned %q", a.String())
	}
}
