// Package runner adapts external collaborators: the task runner command the
// engine hands queue work to, and the LLM command used for synthesis. Both
// are subprocesses; the engine never links an agent in.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/boshu2/intent/internal/queue"
)

// Environment contract for spawned runners.
const (
	EnvTaskID     = "INTENT_TASK_ID"
	EnvTaskTarget = "INTENT_TASK_TARGET"
	EnvTaskSource = "INTENT_TASK_SOURCE"
	EnvTaskPhase  = "INTENT_TASK_PHASE"
	EnvVaultRoot  = "INTENT_VAULT_ROOT"
	EnvDepth      = "INTENT_HEARTBEAT_DEPTH"
)

// DefaultTimeout bounds one task runner invocation.
const DefaultTimeout = 30 * time.Minute

// Sentinel errors the engine classifies on.
var (
	ErrRunnerFailure = errors.New("task runner failed")
	ErrRunnerTimeout = errors.New("task runner timed out")
)

// execCommandContext is swapped in tests.
var execCommandContext = exec.CommandContext

// Result is what a task runner reports back. Field names are the external
// wire contract; runners print it as JSON on stdout.
type Result struct {
	TaskID                 string `json:"taskId"`
	Phase                  string `json:"phase"`
	Success                bool   `json:"success"`
	Executed               bool   `json:"executed"`
	ExecutionMode          string `json:"executionMode,omitempty"`
	Detail                 string `json:"detail,omitempty"`
	Stdout                 string `json:"stdout,omitempty"`
	Stderr                 string `json:"stderr,omitempty"`
	CommandOrSkill         string `json:"commandOrSkill,omitempty"`
	ExpectedOutputContract string `json:"expectedOutputContract,omitempty"`
}

// TaskRunner hands one task to an external executor.
type TaskRunner interface {
	Run(ctx context.Context, task queue.Task) (Result, error)
}

// ExecRunner spawns a configured command per task, passing the task through
// the INTENT_* environment and reading an optional JSON result from stdout.
type ExecRunner struct {
	Command   string
	Args      []string
	VaultRoot string
	Timeout   time.Duration
	Logger    *zap.Logger
}

// NewExecRunner returns an ExecRunner with the default timeout.
func NewExecRunner(command string, args []string, vaultRoot string, logger *zap.Logger) *ExecRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecRunner{Command: command, Args: args, VaultRoot: vaultRoot, Timeout: DefaultTimeout, Logger: logger}
}

// Run invokes the runner for one task. The returned Result always carries
// captured stdout/stderr; the error wraps ErrRunnerTimeout or
// ErrRunnerFailure so callers can classify without string matching.
func (r *ExecRunner) Run(ctx context.Context, task queue.Task) (Result, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := execCommandContext(ctx, r.Command, r.Args...)
	cmd.Dir = r.VaultRoot
	cmd.Env = taskEnv(task, r.VaultRoot)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.Logger.Debug("invoking task runner",
		zap.String("command", r.Command),
		zap.String("taskId", task.TaskID),
		zap.String("phase", string(task.Phase)))

	err := cmd.Run()

	res := decodeResult(stdout.Bytes(), task)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.Success = false
		res.Detail = fmt.Sprintf("timed out after %s", timeout)
		return res, fmt.Errorf("%w: task %s after %s", ErrRunnerTimeout, task.TaskID, timeout)
	}
	if err != nil {
		res.Success = false
		if res.Detail == "" {
			res.Detail = failureDetail(err, stderr.String())
		}
		return res, fmt.Errorf("%w: task %s: %v", ErrRunnerFailure, task.TaskID, err)
	}
	return res, nil
}

// decodeResult parses the runner's stdout as a Result when it looks like
// one, trusting the runner's own executed flag. Anything else becomes a
// bare executed success with the output as detail.
func decodeResult(stdout []byte, task queue.Task) Result {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var res Result
		if err := json.Unmarshal(trimmed, &res); err == nil {
			if res.TaskID == "" {
				res.TaskID = task.TaskID
			}
			if res.Phase == "" {
				res.Phase = string(task.Phase)
			}
			return res
		}
	}
	return Result{
		TaskID:        task.TaskID,
		Phase:         string(task.Phase),
		Success:       true,
		Executed:      true,
		ExecutionMode: string(task.ExecutionMode),
		Detail:        string(trimmed),
	}
}

func failureDetail(err error, stderr string) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		detail := fmt.Sprintf("exit status %d", exitErr.ExitCode())
		if tail := lastLine(stderr); tail != "" {
			detail += ": " + tail
		}
		return detail
	}
	return err.Error()
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// taskEnv builds the child environment: current env minus agent-session
// variables, plus the task contract and an incremented heartbeat depth.
func taskEnv(task queue.Task, vaultRoot string) []string {
	env := cleanEnv()
	env = append(env,
		EnvTaskID+"="+task.TaskID,
		EnvTaskTarget+"="+task.Target,
		EnvTaskSource+"="+task.SourcePath,
		EnvTaskPhase+"="+string(task.Phase),
		EnvVaultRoot+"="+vaultRoot,
		fmt.Sprintf("%s=%d", EnvDepth, Depth()+1),
	)
	return env
}

// cleanEnv drops agent-session markers so a spawned runner never believes it
// is inside an interactive session, and drops the depth variable so taskEnv
// can re-append it incremented.
func cleanEnv() []string {
	var env []string
	for _, e := range os.Environ() {
		if strings.HasPrefix(e, "CLAUDECODE=") || strings.HasPrefix(e, "CLAUDE_CODE_") || strings.HasPrefix(e, EnvDepth+"=") {
			continue
		}
		env = append(env, e)
	}
	return env
}

// Depth reads the current heartbeat nesting depth from the environment.
// Absent or malformed values read as zero.
func Depth() int {
	raw := strings.TrimSpace(os.Getenv(EnvDepth))
	if raw == "" {
		return 0
	}
	d, err := strconv.Atoi(raw)
	if err != nil || d < 0 {
		return 0
	}
	return d
}
