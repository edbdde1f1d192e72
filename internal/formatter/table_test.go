package formatter

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/boshu2/intent/internal/commitment"
	"github.com/boshu2/intent/internal/queue"
)

func TestTable_BasicOutput(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTable(&buf, "NAME", "STATE")
	tbl.AddRow("alpha", "pending")
	tbl.AddRow("beta", "done")
	if err := tbl.Render(); err != nil {
		t.Fatalf("Render: %v", err)
	}

	out := buf.String()

	if !strings.Contains(out, "NAME") || !strings.Contains(out, "STATE") {
		t.Errorf("missing headers in output:\n%s", out)
	}
	if !strings.Contains(out, "----") {
		t.Errorf("missing separator in output:\n%s", out)
	}
	if !strings.Contains(out, "alpha") || !strings.Contains(out, "beta") {
		t.Errorf("missing data rows in output:\n%s", out)
	}

	// Header, separator, two data rows.
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 4 {
		t.Errorf("expected 4 lines, got %d:\n%s", len(lines), out)
	}
}

func TestTable_Truncation(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTable(&buf, "ID", "TARGET")
	tbl.SetMaxWidth(1, 11)
	tbl.AddRow("t1", "thoughts/a-very-long-note-name.md")
	if err := tbl.Render(); err != nil {
		t.Fatalf("Render: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "thoughts...") {
		t.Errorf("expected truncated cell %q in output:\n%s", "thoughts...", out)
	}
	if strings.Contains(out, "long-note") {
		t.Errorf("untruncated value leaked into output:\n%s", out)
	}
}

func TestTable_MissingCellsFilled(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTable(&buf, "A", "B", "C")
	tbl.AddRow("only")
	if err := tbl.Render(); err != nil {
		t.Fatalf("Render: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Errorf("expected 3 lines (header, separator, row), got %d", len(lines))
	}
}

func TestQueueTable(t *testing.T) {
	updated := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	tasks := []queue.Task{
		{
			TaskID:      "t1",
			Phase:       queue.PhaseSurface,
			Status:      queue.StatusPending,
			Attempts:    1,
			MaxAttempts: 3,
			Target:      "thoughts/orphan.md",
			UpdatedAt:   updated,
		},
		{
			TaskID:      "repair-01ABC",
			Phase:       queue.PhaseReflect,
			Status:      queue.StatusFailed,
			Attempts:    2,
			MaxAttempts: 3,
			Target:      "inbox-item:capture",
		},
	}

	var buf bytes.Buffer
	if err := QueueTable(&buf, tasks); err != nil {
		t.Fatalf("QueueTable: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"ID", "PHASE", "STATUS", "ATTEMPTS", "TARGET", "UPDATED",
		"t1", "surface", "pending", "1/3", "thoughts/orphan.md", "2026-08-25 10:00",
		"repair-01ABC", "reflect", "failed", "2/3", "inbox-item:capture",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("QueueTable output missing %q:\n%s", want, out)
		}
	}
}

func TestCommitmentTable(t *testing.T) {
	advanced := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	commitments := []commitment.Commitment{
		{
			ID:             "c1",
			Label:          "ship the perception layer",
			State:          commitment.StateActive,
			Priority:       1,
			Horizon:        commitment.HorizonWeek,
			LastAdvancedAt: advanced,
		},
		{
			ID:       "c2",
			Label:    "untouched idea",
			State:    commitment.StateCandidate,
			Priority: 3,
			Horizon:  commitment.HorizonQuarter,
		},
	}

	var buf bytes.Buffer
	if err := CommitmentTable(&buf, commitments); err != nil {
		t.Fatalf("CommitmentTable: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"ID", "LABEL", "STATE", "PRI", "HORIZON", "LAST ADVANCED",
		"c1", "ship the perception layer", "active", "1", "week", "2026-08-20",
		"c2", "candidate", "quarter", "never",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("CommitmentTable output missing %q:\n%s", want, out)
		}
	}
}
