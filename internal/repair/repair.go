// Package repair builds repair tasks from failed ones: a snapshot of what
// broke, rich enough that a later run can diagnose without replaying the
// failure.
package repair

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/boshu2/intent/internal/queue"
	"github.com/boshu2/intent/internal/runner"
	"github.com/boshu2/intent/internal/vault"
)

// Snapshot truncation bounds, in characters.
const (
	MaxFileStateChars = 4000
	MaxDiffChars      = 4000
)

// contractDefaults supplies the expected-output contract per phase when the
// runner did not state one.
var contractDefaults = map[queue.Phase]string{
	queue.PhaseSurface: "Diagnose the failure and surface the source into a well-formed thought.",
	queue.PhaseReflect: "Diagnose the failure and complete the reflection pass on the target.",
	queue.PhaseRevisit: "Diagnose the failure and reconcile the target with its linked thoughts.",
	queue.PhaseVerify:  "Diagnose the failure and verify the target meets its contract.",
}

const contractFallback = "Diagnose the failure and apply a concrete fix."

// Builder constructs repair tasks.
type Builder struct {
	store  *vault.Store
	logger *zap.Logger
	diffs  DiffCollector
	now    func() time.Time
}

// NewBuilder returns a Builder using the git diff collector.
func NewBuilder(store *vault.Store, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		store:  store,
		logger: logger,
		diffs:  NewGitDiffCollector(0),
		now:    time.Now,
	}
}

// WithDiffCollector swaps the diff collector; nil disables diff collection.
func (b *Builder) WithDiffCollector(dc DiffCollector) *Builder {
	b.diffs = dc
	return b
}

// Build derives a repair task from a failed task and the runner result that
// failed it. The repair keeps the failed task's phase, target, and completed
// phases, and carries a fresh identity so the original can retry in
// parallel.
func (b *Builder) Build(ctx context.Context, failed *queue.Task, result runner.Result, qf *queue.File) queue.Task {
	now := b.now().UTC()
	absSource := b.resolveSource(failed)

	rc := &queue.RepairContext{
		OriginalTask: queue.OriginalTask{
			Kind:   string(failed.Phase),
			Target: failed.Target,
		},
		ErrorMessage:           result.Detail,
		VaultRoot:              b.store.Root(),
		AbsoluteSourcePath:     absSource,
		ExpectedOutputContract: contractFor(failed.Phase, result),
		Phase:                  string(failed.Phase),
		CommandOrSkill:         result.CommandOrSkill,
		LastStderr:             truncate(result.Stderr, MaxFileStateChars),
		LastStdout:             truncate(result.Stdout, MaxFileStateChars),
		QueueExcerpt:           queue.Excerpt(qf, 0),
		RelevantFileDiffs:      b.collectDiffs(ctx, absSource),
		AttemptedAt:            now,
		AttemptCount:           priorAttempts(failed) + 1,
	}

	if content, ok := readSource(absSource); ok {
		rc.FileState = map[string]string{absSource: truncate(content, MaxFileStateChars)}
	}

	return queue.Task{
		TaskID:          "repair-" + ulid.Make().String(),
		VaultID:         failed.VaultID,
		Target:          failed.Target,
		SourcePath:      failed.SourcePath,
		Phase:           failed.Phase,
		Status:          queue.StatusPending,
		Type:            "repair",
		ExecutionMode:   queue.ModeOrchestrated,
		CreatedAt:       now,
		UpdatedAt:       now,
		Attempts:        0,
		MaxAttempts:     queue.DefaultMaxAttempts,
		CompletedPhases: append([]queue.Phase(nil), failed.CompletedPhases...),
		RepairContext:   rc,
	}
}

// ShouldRepair reports whether a repair may be spawned for the failed task:
// the attempt budget has room and no pending repair already covers the same
// original (kind, target).
func ShouldRepair(failed *queue.Task, qf *queue.File) bool {
	if priorAttempts(failed) >= queue.MaxRepairAttempts {
		return false
	}
	kind, target := originalOf(failed)
	return !qf.HasPendingRepairFor(kind, target)
}

// originalOf names the original (kind, target) a failure traces back to,
// following the chain when the failed task is itself a repair.
func originalOf(failed *queue.Task) (kind, target string) {
	if failed.IsRepair() {
		return failed.RepairContext.OriginalTask.Kind, failed.RepairContext.OriginalTask.Target
	}
	return string(failed.Phase), failed.Target
}

func priorAttempts(failed *queue.Task) int {
	if failed.IsRepair() {
		return failed.RepairContext.AttemptCount
	}
	return 0
}

func contractFor(phase queue.Phase, result runner.Result) string {
	if result.ExpectedOutputContract != "" {
		return result.ExpectedOutputContract
	}
	if c, ok := contractDefaults[phase]; ok {
		return c
	}
	return contractFallback
}

// resolveSource resolves the failed task's source to an absolute path,
// preferring sourcePath over target.
func (b *Builder) resolveSource(failed *queue.Task) string {
	src := failed.SourcePath
	if src == "" {
		src = failed.Target
	}
	if src == "" {
		return ""
	}
	if filepath.IsAbs(src) {
		return src
	}
	return b.store.Abs(src)
}

func (b *Builder) collectDiffs(ctx context.Context, absSource string) []queue.FileDiff {
	if b.diffs == nil || absSource == "" {
		return []queue.FileDiff{}
	}
	diffs := b.diffs.Collect(ctx, b.store.Root(), absSource)
	if diffs == nil {
		return []queue.FileDiff{}
	}
	return diffs
}

func readSource(abs string) (string, bool) {
	if abs == "" {
		return "", false
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
