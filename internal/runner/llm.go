package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrLlmSynthesis marks a failed LLM invocation; callers fall back to
// deterministic templates rather than aborting.
var ErrLlmSynthesis = errors.New("llm synthesis failed")

// Synthesis timeouts per use.
const (
	BriefTimeout  = 60 * time.Second
	MemoryTimeout = 30 * time.Second
)

// Synthesizer produces prose from a prompt.
type Synthesizer interface {
	Synthesize(ctx context.Context, prompt string, timeout time.Duration) (string, error)
}

// ExecLLM pipes the prompt to an external command's stdin and returns its
// stdout.
type ExecLLM struct {
	Command string
	Args    []string
	Dir     string
	Logger  *zap.Logger
}

// NewExecLLM returns an ExecLLM.
func NewExecLLM(command string, args []string, dir string, logger *zap.Logger) *ExecLLM {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecLLM{Command: command, Args: args, Dir: dir, Logger: logger}
}

// Synthesize runs the command with the prompt on stdin. Every failure mode,
// including empty output, wraps ErrLlmSynthesis.
func (l *ExecLLM) Synthesize(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	if l.Command == "" {
		return "", fmt.Errorf("%w: no command configured", ErrLlmSynthesis)
	}
	if timeout <= 0 {
		timeout = BriefTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := execCommandContext(ctx, l.Command, l.Args...)
	cmd.Dir = l.Dir
	cmd.Stdin = strings.NewReader(prompt)
	cmd.Env = cleanEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%w: timed out after %s", ErrLlmSynthesis, timeout)
	}
	if err != nil {
		if tail := lastLine(stderr.String()); tail != "" {
			return "", fmt.Errorf("%w: %v: %s", ErrLlmSynthesis, err, tail)
		}
		return "", fmt.Errorf("%w: %v", ErrLlmSynthesis, err)
	}

	text := strings.TrimSpace(stdout.String())
	if text == "" {
		return "", fmt.Errorf("%w: empty output", ErrLlmSynthesis)
	}
	return text, nil
}
