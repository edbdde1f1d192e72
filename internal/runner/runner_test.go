package runner

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/boshu2/intent/internal/queue"
)

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func sampleTask() queue.Task {
	return queue.Task{
		TaskID:        "t1",
		Target:        "connect orphan notes",
		SourcePath:    "thoughts/orphan.md",
		Phase:         queue.PhaseSurface,
		Status:        queue.StatusPending,
		ExecutionMode: queue.ModeOrchestrated,
	}
}

func TestExecRunnerParsesResultJSON(t *testing.T) {
	requireSh(t)

	script := `printf '%s' '{"taskId":"t1","phase":"surface","success":true,"executed":true,"detail":"linked 3 notes","commandOrSkill":"connect"}'`
	r := NewExecRunner("sh", []string{"-c", script}, t.TempDir(), nil)

	res, err := r.Run(context.Background(), sampleTask())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success || !res.Executed {
		t.Errorf("result = %+v, want executed success", res)
	}
	if res.Detail != "linked 3 notes" || res.CommandOrSkill != "connect" {
		t.Errorf("result = %+v", res)
	}
}

func TestExecRunnerPlainOutputIsSuccess(t *testing.T) {
	requireSh(t)

	r := NewExecRunner("sh", []string{"-c", `printf 'all done'`}, t.TempDir(), nil)
	res, err := r.Run(context.Background(), sampleTask())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success || res.Detail != "all done" {
		t.Errorf("result = %+v, want plain-output success", res)
	}
	if res.TaskID != "t1" || res.Phase != "surface" {
		t.Errorf("result identity = %+v, want filled from task", res)
	}
}

func TestExecRunnerFailure(t *testing.T) {
	requireSh(t)

	r := NewExecRunner("sh", []string{"-c", `echo "boom" >&2; exit 3`}, t.TempDir(), nil)
	res, err := r.Run(context.Background(), sampleTask())
	if !errors.Is(err, ErrRunnerFailure) {
		t.Fatalf("err = %v, want ErrRunnerFailure", err)
	}
	if res.Success {
		t.Error("failed run reported success")
	}
	if !strings.Contains(res.Stderr, "boom") {
		t.Errorf("stderr = %q, want captured output", res.Stderr)
	}
	if !strings.Contains(res.Detail, "exit status 3") || !strings.Contains(res.Detail, "boom") {
		t.Errorf("detail = %q", res.Detail)
	}
}

func TestExecRunnerTimeout(t *testing.T) {
	requireSh(t)

	r := NewExecRunner("sh", []string{"-c", "sleep 5"}, t.TempDir(), nil)
	r.Timeout = 50 * time.Millisecond

	res, err := r.Run(context.Background(), sampleTask())
	if !errors.Is(err, ErrRunnerTimeout) {
		t.Fatalf("err = %v, want ErrRunnerTimeout", err)
	}
	if res.Success || !strings.Contains(res.Detail, "timed out") {
		t.Errorf("result = %+v", res)
	}
}

func TestTaskEnvContract(t *testing.T) {
	requireSh(t)

	t.Setenv("CLAUDECODE", "1")
	t.Setenv("CLAUDE_CODE_ENTRYPOINT", "cli")
	t.Setenv(EnvDepth, "1")

	script := `printf '%s|%s|%s|%s|%s' "$INTENT_TASK_ID" "$INTENT_TASK_PHASE" "$INTENT_HEARTBEAT_DEPTH" "${CLAUDECODE:-unset}" "${CLAUDE_CODE_ENTRYPOINT:-unset}"`
	root := t.TempDir()
	r := NewExecRunner("sh", []string{"-c", script}, root, nil)

	res, err := r.Run(context.Background(), sampleTask())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := "t1|surface|2|unset|unset"; res.Detail != want {
		t.Errorf("env contract = %q, want %q", res.Detail, want)
	}
}

func TestDepth(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", 0},
		{"0", 0},
		{"2", 2},
		{"junk", 0},
		{"-3", 0},
	}
	for _, tt := range tests {
		t.Setenv(EnvDepth, tt.raw)
		if got := Depth(); got != tt.want {
			t.Errorf("Depth(%q) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}
