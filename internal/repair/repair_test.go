package repair

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/boshu2/intent/internal/queue"
	"github.com/boshu2/intent/internal/runner"
	"github.com/boshu2/intent/internal/vault"
)

type stubDiffs struct {
	diffs []queue.FileDiff
}

func (s stubDiffs) Collect(context.Context, string, string) []queue.FileDiff {
	return s.diffs
}

func failedTask() queue.Task {
	return queue.Task{
		TaskID:        "t1",
		Target:        "connect orphan notes",
		SourcePath:    "thoughts/orphan.md",
		Phase:         queue.PhaseSurface,
		Status:        queue.StatusFailed,
		ExecutionMode: queue.ModeOrchestrated,
		Attempts:      1,
		MaxAttempts:   3,
	}
}

func failedResult() runner.Result {
	return runner.Result{
		TaskID:         "t1",
		Phase:          "surface",
		Success:        false,
		Executed:       true,
		Detail:         "boom",
		Stdout:         "partial output",
		Stderr:         "stack trace here",
		CommandOrSkill: "connect",
	}
}

func TestBuildPopulatesContext(t *testing.T) {
	store := vault.New(t.TempDir())
	if err := store.WriteAtomic("thoughts/orphan.md", []byte("# Orphan\n\nLonely note.\n")); err != nil {
		t.Fatal(err)
	}

	qf := &queue.File{Version: queue.FileVersion}
	for i := 0; i < 14; i++ {
		qf.Tasks = append(qf.Tasks, queue.Task{TaskID: "q" + string(rune('a'+i)), Status: queue.StatusPending})
	}

	failed := failedTask()
	task := NewBuilder(store, nil).Build(context.Background(), &failed, failedResult(), qf)

	if !strings.HasPrefix(task.TaskID, "repair-") {
		t.Errorf("taskId = %q, want repair- prefix", task.TaskID)
	}
	if task.Status != queue.StatusPending || task.ExecutionMode != queue.ModeOrchestrated {
		t.Errorf("task = %+v, want pending orchestrated", task)
	}
	if task.Phase != queue.PhaseSurface || task.Target != failed.Target || task.SourcePath != failed.SourcePath {
		t.Errorf("task identity = %+v, want phase/target/source preserved", task)
	}
	if task.Attempts != 0 || task.Type != "repair" {
		t.Errorf("task = %+v, want zero attempts and repair type", task)
	}
	if task.CreatedAt.IsZero() || !task.CreatedAt.Equal(task.UpdatedAt) {
		t.Errorf("timestamps = %v / %v", task.CreatedAt, task.UpdatedAt)
	}

	rc := task.RepairContext
	if rc == nil {
		t.Fatal("repair context missing")
	}
	if rc.OriginalTask.Kind != "surface" || rc.OriginalTask.Target != "connect orphan notes" {
		t.Errorf("original = %+v", rc.OriginalTask)
	}
	if rc.ErrorMessage != "boom" || rc.LastStderr != "stack trace here" || rc.LastStdout != "partial output" {
		t.Errorf("failure capture = %+v", rc)
	}
	if rc.CommandOrSkill != "connect" || rc.Phase != "surface" {
		t.Errorf("rc = %+v", rc)
	}
	if rc.VaultRoot != store.Root() {
		t.Errorf("vaultRoot = %q, want %q", rc.VaultRoot, store.Root())
	}
	if want := store.Abs("thoughts/orphan.md"); rc.AbsoluteSourcePath != want {
		t.Errorf("absoluteSourcePath = %q, want %q", rc.AbsoluteSourcePath, want)
	}
	if got := rc.FileState[rc.AbsoluteSourcePath]; !strings.Contains(got, "Lonely note.") {
		t.Errorf("fileState = %q", got)
	}
	if rc.AttemptCount != 1 {
		t.Errorf("attemptCount = %d, want 1", rc.AttemptCount)
	}
	if len(rc.QueueExcerpt) != 12 {
		t.Errorf("queueExcerpt size = %d, want 12", len(rc.QueueExcerpt))
	}
	if rc.RelevantFileDiffs == nil {
		t.Error("relevantFileDiffs should be empty, not nil")
	}
	if rc.AttemptedAt.IsZero() {
		t.Error("attemptedAt unset")
	}
	if !strings.Contains(rc.ExpectedOutputContract, "Diagnose the failure") {
		t.Errorf("contract = %q", rc.ExpectedOutputContract)
	}
}

func TestBuildTruncatesSnapshots(t *testing.T) {
	store := vault.New(t.TempDir())
	big := strings.Repeat("x", MaxFileStateChars+500)
	if err := store.WriteAtomic("thoughts/orphan.md", []byte(big)); err != nil {
		t.Fatal(err)
	}

	failed := failedTask()
	result := failedResult()
	result.Stdout = strings.Repeat("o", MaxFileStateChars+100)
	result.Stderr = strings.Repeat("e", MaxFileStateChars+100)

	task := NewBuilder(store, nil).Build(context.Background(), &failed, result, &queue.File{})
	rc := task.RepairContext

	if got := len(rc.FileState[rc.AbsoluteSourcePath]); got != MaxFileStateChars {
		t.Errorf("fileState length = %d, want %d", got, MaxFileStateChars)
	}
	if len(rc.LastStdout) != MaxFileStateChars || len(rc.LastStderr) != MaxFileStateChars {
		t.Errorf("stdout/stderr lengths = %d/%d", len(rc.LastStdout), len(rc.LastStderr))
	}
}

func TestBuildMissingSourceSkipsFileState(t *testing.T) {
	store := vault.New(t.TempDir())
	failed := failedTask()

	task := NewBuilder(store, nil).Build(context.Background(), &failed, failedResult(), &queue.File{})
	if task.RepairContext.FileState != nil {
		t.Errorf("fileState = %v, want none for missing source", task.RepairContext.FileState)
	}
}

func TestBuildRepairOfRepairCountsAttempts(t *testing.T) {
	store := vault.New(t.TempDir())

	failed := failedTask()
	failed.TaskID = "repair-01ABC"
	failed.RepairContext = &queue.RepairContext{
		OriginalTask: queue.OriginalTask{Kind: "surface", Target: "connect orphan notes"},
		AttemptCount: 1,
	}

	task := NewBuilder(store, nil).Build(context.Background(), &failed, failedResult(), &queue.File{})
	rc := task.RepairContext

	if rc.AttemptCount != 2 {
		t.Errorf("attemptCount = %d, want 2", rc.AttemptCount)
	}
	if rc.OriginalTask.Kind != "surface" || rc.OriginalTask.Target != "connect orphan notes" {
		t.Errorf("original drifted: %+v", rc.OriginalTask)
	}
}

func TestBuildContractPrefersRunnerReport(t *testing.T) {
	store := vault.New(t.TempDir())
	failed := failedTask()
	result := failedResult()
	result.ExpectedOutputContract = "produce a linked reflection note"

	task := NewBuilder(store, nil).Build(context.Background(), &failed, result, &queue.File{})
	if got := task.RepairContext.ExpectedOutputContract; got != "produce a linked reflection note" {
		t.Errorf("contract = %q", got)
	}
}

func TestBuildUsesInjectedDiffs(t *testing.T) {
	store := vault.New(t.TempDir())
	failed := failedTask()
	want := []queue.FileDiff{{Path: "/v/thoughts/orphan.md", Diff: "-old\n+new"}}

	b := NewBuilder(store, nil).WithDiffCollector(stubDiffs{diffs: want})
	task := b.Build(context.Background(), &failed, failedResult(), &queue.File{})

	got := task.RepairContext.RelevantFileDiffs
	if len(got) != 1 || got[0].Diff != "-old\n+new" {
		t.Errorf("diffs = %+v, want %+v", got, want)
	}
}

func TestShouldRepair(t *testing.T) {
	failed := failedTask()

	if !ShouldRepair(&failed, &queue.File{}) {
		t.Error("fresh failure should be repairable")
	}

	pending := queue.Task{
		TaskID: "repair-existing",
		Status: queue.StatusPending,
		RepairContext: &queue.RepairContext{
			OriginalTask: queue.OriginalTask{Kind: "surface", Target: "connect orphan notes"},
			AttemptCount: 1,
		},
	}
	qf := &queue.File{Tasks: []queue.Task{pending}}
	if ShouldRepair(&failed, qf) {
		t.Error("pending repair for same original should block a second one")
	}

	other := failedTask()
	other.Target = "triage observations"
	if !ShouldRepair(&other, qf) {
		t.Error("different target should not be blocked")
	}

	exhausted := failedTask()
	exhausted.RepairContext = &queue.RepairContext{
		OriginalTask: queue.OriginalTask{Kind: "surface", Target: "connect orphan notes"},
		AttemptCount: queue.MaxRepairAttempts,
	}
	if ShouldRepair(&exhausted, &queue.File{}) {
		t.Error("attempt budget exhausted, repair should not spawn")
	}
}

func TestGitDiffCollectorOutsideRepo(t *testing.T) {
	got := NewGitDiffCollector(2 * time.Second).Collect(context.Background(), t.TempDir(), "/nonexistent/file.md")
	if got == nil || len(got) != 0 {
		t.Errorf("diffs = %v, want empty slice", got)
	}
}
