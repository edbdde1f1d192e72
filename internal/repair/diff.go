package repair

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/boshu2/intent/internal/queue"
)

// DiffCollector gathers file diffs for repair context. Collection is
// best-effort: any failure yields an empty slice, never an error.
type DiffCollector interface {
	Collect(ctx context.Context, vaultRoot, absPath string) []queue.FileDiff
}

const defaultDiffTimeout = 10 * time.Second

// execCommandContext is swapped in tests.
var execCommandContext = exec.CommandContext

// GitDiffCollector shells out to git diff for the one file that failed.
// Vaults that are not repositories simply produce no diffs.
type GitDiffCollector struct {
	Timeout time.Duration
}

// NewGitDiffCollector returns a collector; timeout <= 0 uses the default.
func NewGitDiffCollector(timeout time.Duration) *GitDiffCollector {
	if timeout <= 0 {
		timeout = defaultDiffTimeout
	}
	return &GitDiffCollector{Timeout: timeout}
}

// Collect runs `git diff -- <path>` in the vault root, truncated to
// MaxDiffChars. Errors and timeouts collapse to an empty result.
func (g *GitDiffCollector) Collect(ctx context.Context, vaultRoot, absPath string) []queue.FileDiff {
	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	cmd := execCommandContext(ctx, "git", "diff", "--", absPath)
	cmd.Dir = vaultRoot
	out, err := cmd.Output()
	if err != nil {
		return []queue.FileDiff{}
	}

	diff := strings.TrimSpace(string(out))
	if diff == "" {
		return []queue.FileDiff{}
	}
	return []queue.FileDiff{{Path: absPath, Diff: truncate(diff, MaxDiffChars)}}
}
