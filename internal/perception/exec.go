package perception

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultExecFeedTimeout = 30 * time.Second

// execCommandContext is swappable in tests.
var execCommandContext = exec.CommandContext

// ExecSource runs a configured command that prints a JSON capture batch on
// stdout. The command owns all transport; this side only parses.
type ExecSource struct {
	id      string
	command string
	args    []string
	dir     string
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewExecSource returns an exec feed. A non-positive timeout falls back to
// the 30s default.
func NewExecSource(id, command string, args []string, dir string, timeout time.Duration, logger *zap.Logger) *ExecSource {
	if timeout <= 0 {
		timeout = defaultExecFeedTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecSource{id: id, command: command, args: args, dir: dir, timeout: timeout, logger: logger, now: time.Now}
}

func (s *ExecSource) ID() string { return s.id }

// Poll runs the feed command and parses its stdout as a capture batch.
func (s *ExecSource) Poll(ctx context.Context, cursor SourceCursor) ([]FeedCapture, SourceCursor, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := execCommandContext(runCtx, s.command, s.args...)
	cmd.Dir = s.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, cursor, fmt.Errorf("feed %s: %w after %s", s.id, ErrFeedTimeout, s.timeout)
		}
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, cursor, fmt.Errorf("feed %s: %w: %v: %s", s.id, ErrFeedPoll, err, detail)
		}
		return nil, cursor, fmt.Errorf("feed %s: %w: %v", s.id, ErrFeedPoll, err)
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return nil, cursor, nil
	}
	captures, err := decodeCaptures(out, s.id, s.now())
	if err != nil {
		return nil, cursor, fmt.Errorf("feed %s emitted malformed batch: %w: %v", s.id, ErrFeedPoll, err)
	}

	fresh, next := dedupeAgainstCursor(captures, cursor)
	return fresh, next, nil
}
