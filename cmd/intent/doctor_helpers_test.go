package main

import (
	"strings"
	"testing"

	"github.com/boshu2/intent/internal/vault"
)

// Tests for doctor.go helper functions

func TestDoctorStatusIcon(t *testing.T) {
	tests := []struct {
		status string
		want   string
	}{
		{"pass", "✓"},
		{"warn", "!"},
		{"fail", "✗"},
		{"unknown", "?"},
		{"", "?"},
	}
	for _, tt := range tests {
		if got := doctorStatusIcon(tt.status); got != tt.want {
			t.Errorf("doctorStatusIcon(%q) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestBuildDoctorSummary(t *testing.T) {
	tests := []struct {
		name                        string
		passes, fails, warns, total int
		want                        string
	}{
		{"all passing", 5, 0, 0, 5, "5/5 checks passed"},
		{"one warning", 4, 0, 1, 5, "4/5 checks passed, 1 warning"},
		{"two warnings", 3, 0, 2, 5, "3/5 checks passed, 2 warnings"},
		{"one failure", 4, 1, 0, 5, "4/5 checks passed, 1 failed"},
		{"failure and warning", 3, 1, 1, 5, "3/5 checks passed, 1 warning, 1 failed"},
		{"failures and warnings", 1, 2, 2, 5, "1/5 checks passed, 2 warnings, 2 failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildDoctorSummary(tt.passes, tt.fails, tt.warns, tt.total)
			if got != tt.want {
				t.Errorf("buildDoctorSummary(%d, %d, %d, %d) = %q, want %q",
					tt.passes, tt.fails, tt.warns, tt.total, got, tt.want)
			}
		})
	}
}

func TestComputeResult(t *testing.T) {
	t.Run("all passing is healthy", func(t *testing.T) {
		out := computeResult([]doctorCheck{
			{Name: "a", Status: "pass"},
			{Name: "b", Status: "pass"},
		})
		if out.Result != "HEALTHY" {
			t.Errorf("Result = %q, want HEALTHY", out.Result)
		}
		if out.Summary != "2/2 checks passed" {
			t.Errorf("Summary = %q", out.Summary)
		}
	})

	t.Run("warnings stay healthy", func(t *testing.T) {
		out := computeResult([]doctorCheck{
			{Name: "a", Status: "pass"},
			{Name: "b", Status: "warn"},
		})
		if out.Result != "HEALTHY" {
			t.Errorf("Result = %q, want HEALTHY with warnings only", out.Result)
		}
	})

	t.Run("any failure is unhealthy", func(t *testing.T) {
		out := computeResult([]doctorCheck{
			{Name: "a", Status: "pass"},
			{Name: "b", Status: "fail"},
		})
		if out.Result != "UNHEALTHY" {
			t.Errorf("Result = %q, want UNHEALTHY", out.Result)
		}
	})
}

func TestHasRequiredFailure(t *testing.T) {
	t.Run("optional failure does not trip", func(t *testing.T) {
		checks := []doctorCheck{
			{Name: "a", Status: "fail", Required: false},
			{Name: "b", Status: "pass", Required: true},
		}
		if hasRequiredFailure(checks) {
			t.Error("expected false for optional failure")
		}
	})

	t.Run("required failure trips", func(t *testing.T) {
		checks := []doctorCheck{
			{Name: "a", Status: "fail", Required: true},
		}
		if !hasRequiredFailure(checks) {
			t.Error("expected true for required failure")
		}
	})

	t.Run("required warning does not trip", func(t *testing.T) {
		checks := []doctorCheck{
			{Name: "a", Status: "warn", Required: true},
		}
		if hasRequiredFailure(checks) {
			t.Error("expected false for required warning")
		}
	})
}

func TestCheckStateFile(t *testing.T) {
	newStore := func(t *testing.T) *vault.Store {
		t.Helper()
		store := vault.New(t.TempDir())
		if err := store.EnsureLayout(); err != nil {
			t.Fatalf("EnsureLayout: %v", err)
		}
		return store
	}

	t.Run("absent file passes", func(t *testing.T) {
		store := newStore(t)
		check := checkStateFile(store, "queue", vault.QueueFile)
		if check.Status != "pass" {
			t.Errorf("Status = %q, want pass (detail: %s)", check.Status, check.Detail)
		}
		if !strings.Contains(check.Detail, "absent") {
			t.Errorf("Detail = %q, want absent note", check.Detail)
		}
	})

	t.Run("valid queue file passes", func(t *testing.T) {
		store := newStore(t)
		doc := `{"version": 1, "tasks": []}`
		if err := store.WriteAtomic(vault.QueueFile, []byte(doc)); err != nil {
			t.Fatalf("WriteAtomic: %v", err)
		}
		check := checkStateFile(store, "queue", vault.QueueFile)
		if check.Status != "pass" {
			t.Errorf("Status = %q, want pass (detail: %s)", check.Status, check.Detail)
		}
	})

	t.Run("schema violation fails", func(t *testing.T) {
		store := newStore(t)
		doc := `{"tasks": [{"taskId": "task-1", "phase": "no-such-phase"}]}`
		if err := store.WriteAtomic(vault.QueueFile, []byte(doc)); err != nil {
			t.Fatalf("WriteAtomic: %v", err)
		}
		check := checkStateFile(store, "queue", vault.QueueFile)
		if check.Status != "fail" {
			t.Errorf("Status = %q, want fail for schema violation", check.Status)
		}
	})

	t.Run("malformed JSON fails", func(t *testing.T) {
		store := newStore(t)
		if err := store.WriteAtomic(vault.QueueFile, []byte("{not json")); err != nil {
			t.Fatalf("WriteAtomic: %v", err)
		}
		check := checkStateFile(store, "queue", vault.QueueFile)
		if check.Status != "fail" {
			t.Errorf("Status = %q, want fail for malformed JSON", check.Status)
		}
	})
}

func TestValidateAgainstSchema(t *testing.T) {
	t.Run("unknown schema name errors", func(t *testing.T) {
		if err := validateAgainstSchema("no-such-state", []byte(`{}`)); err == nil {
			t.Error("expected error for missing embedded schema")
		}
	})

	t.Run("valid commitments file", func(t *testing.T) {
		doc := `{"version": 1, "commitments": []}`
		if err := validateAgainstSchema("commitments", []byte(doc)); err != nil {
			t.Errorf("validateAgainstSchema: %v", err)
		}
	})
}
