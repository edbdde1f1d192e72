// Package queue implements the durable pipeline task queue: status
// lifecycle, phase advancement, lock-TTL pop, and delta-merge for
// concurrent writers.
package queue

import "time"

// Phase is one stage of the pipeline chain surface→reflect→revisit→verify.
type Phase string

const (
	PhaseSurface Phase = "surface"
	PhaseReflect Phase = "reflect"
	PhaseRevisit Phase = "revisit"
	PhaseVerify  Phase = "verify"
)

// phaseChain orders the pipeline. Verify is terminal.
var phaseChain = []Phase{PhaseSurface, PhaseReflect, PhaseRevisit, PhaseVerify}

// NextPhase returns the phase after p; ok is false when p is terminal.
func NextPhase(p Phase) (Phase, bool) {
	for i, ph := range phaseChain {
		if ph == p && i+1 < len(phaseChain) {
			return phaseChain[i+1], true
		}
	}
	return "", false
}

// CoercePhase normalizes a raw phase value; unknown phases become surface.
func CoercePhase(raw string) Phase {
	for _, ph := range phaseChain {
		if string(ph) == raw {
			return ph
		}
	}
	return PhaseSurface
}

// Status is the task lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
	StatusArchived   Status = "archived"
)

// statusAliases maps historical status names to canonical ones.
var statusAliases = map[string]Status{
	"in_progress": StatusInProgress,
	"complete":    StatusDone,
	"error":       StatusFailed,
}

// CoerceStatus normalizes a raw status value; unknown statuses become pending.
func CoerceStatus(raw string) Status {
	switch Status(raw) {
	case StatusPending, StatusInProgress, StatusDone, StatusFailed, StatusArchived:
		return Status(raw)
	}
	if s, ok := statusAliases[raw]; ok {
		return s
	}
	return StatusPending
}

// ExecutionMode selects how a task runs.
type ExecutionMode string

const (
	ModeOrchestrated ExecutionMode = "orchestrated"
	ModeInteractive  ExecutionMode = "interactive"
)

// DefaultMaxAttempts bounds retries per task.
const DefaultMaxAttempts = 3

// MaxRepairAttempts bounds repair spawning per (kind, target).
const MaxRepairAttempts = 2

// OriginalTask names the failed task a repair was derived from.
type OriginalTask struct {
	Kind   string `json:"kind"`
	Target string `json:"target"`
}

// FileDiff is one collected diff for repair context.
type FileDiff struct {
	Path string `json:"path"`
	Diff string `json:"diff"`
}

// RepairContext carries everything a repair run needs to diagnose a failed
// task. Field names are part of the on-disk format.
type RepairContext struct {
	OriginalTask           OriginalTask      `json:"original_task"`
	ErrorMessage           string            `json:"error_message"`
	VaultRoot              string            `json:"vault_root"`
	AbsoluteSourcePath     string            `json:"absolute_source_path"`
	ExpectedOutputContract string            `json:"expected_output_contract"`
	Phase                  string            `json:"phase"`
	CommandOrSkill         string            `json:"command_or_skill"`
	LastStderr             string            `json:"last_stderr"`
	LastStdout             string            `json:"last_stdout"`
	QueueExcerpt           []string          `json:"queue_excerpt"`
	RelevantFileDiffs      []FileDiff        `json:"relevant_file_diffs"`
	StackTrace             string            `json:"stack_trace,omitempty"`
	FileState              map[string]string `json:"file_state,omitempty"`
	AttemptedAt            time.Time         `json:"attempted_at"`
	AttemptCount           int               `json:"attempt_count"`
}

// Task is one record of ops/queue/queue.json.
type Task struct {
	TaskID          string         `json:"taskId"`
	VaultID         string         `json:"vaultId,omitempty"`
	Target          string         `json:"target"`
	SourcePath      string         `json:"sourcePath"`
	Phase           Phase          `json:"phase"`
	Status          Status         `json:"status"`
	Type            string         `json:"type,omitempty"`
	ExecutionMode   ExecutionMode  `json:"executionMode"`
	Batch           string         `json:"batch,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	LockedUntil     *time.Time     `json:"lockedUntil,omitempty"`
	Attempts        int            `json:"attempts"`
	MaxAttempts     int            `json:"maxAttempts"`
	CompletedPhases []Phase        `json:"completedPhases,omitempty"`
	RepairContext   *RepairContext `json:"repair_context,omitempty"`
}

// IsRepair reports whether the task is a repair task.
func (t *Task) IsRepair() bool {
	return t.RepairContext != nil
}

// Locked reports whether the task holds an unexpired execution lock.
func (t *Task) Locked(now time.Time) bool {
	return t.LockedUntil != nil && t.LockedUntil.After(now)
}

// EligibleForPop reports whether the task may be handed to a runner:
// pending or failed, and not holding an unexpired lock.
func (t *Task) EligibleForPop(now time.Time) bool {
	if t.Status != StatusPending && t.Status != StatusFailed {
		return false
	}
	return !t.Locked(now)
}

// HasCompletedPhase reports whether phase is already in completedPhases.
func (t *Task) HasCompletedPhase(phase Phase) bool {
	for _, p := range t.CompletedPhases {
		if p == phase {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() Task {
	c := *t
	if t.LockedUntil != nil {
		lu := *t.LockedUntil
		c.LockedUntil = &lu
	}
	if t.CompletedPhases != nil {
		c.CompletedPhases = append([]Phase(nil), t.CompletedPhases...)
	}
	if t.RepairContext != nil {
		rc := *t.RepairContext
		if t.RepairContext.QueueExcerpt != nil {
			rc.QueueExcerpt = append([]string(nil), t.RepairContext.QueueExcerpt...)
		}
		if t.RepairContext.RelevantFileDiffs != nil {
			rc.RelevantFileDiffs = append([]FileDiff(nil), t.RepairContext.RelevantFileDiffs...)
		}
		if t.RepairContext.FileState != nil {
			rc.FileState = make(map[string]string, len(t.RepairContext.FileState))
			for k, v := range t.RepairContext.FileState {
				rc.FileState[k] = v
			}
		}
		c.RepairContext = &rc
	}
	return c
}

// FileVersion is the queue file schema version.
const FileVersion = 1

// File is the on-disk queue document.
type File struct {
	Version     int       `json:"version"`
	Tasks       []Task    `json:"tasks"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Clone returns a deep copy of the queue file.
func (f *File) Clone() *File {
	c := &File{Version: f.Version, LastUpdated: f.LastUpdated}
	c.Tasks = make([]Task, len(f.Tasks))
	for i := range f.Tasks {
		c.Tasks[i] = f.Tasks[i].Clone()
	}
	return c
}

// Find returns the task with the given id, or nil.
func (f *File) Find(taskID string) *Task {
	for i := range f.Tasks {
		if f.Tasks[i].TaskID == taskID {
			return &f.Tasks[i]
		}
	}
	return nil
}

// HasPendingRepairFor reports whether a pending repair task already exists
// for the given original (kind, target).
func (f *File) HasPendingRepairFor(kind, target string) bool {
	for i := range f.Tasks {
		t := &f.Tasks[i]
		if !t.IsRepair() || t.Status != StatusPending {
			continue
		}
		if t.RepairContext.OriginalTask.Kind == kind && t.RepairContext.OriginalTask.Target == target {
			return true
		}
	}
	return false
}

// PendingCount returns the number of pending tasks.
func (f *File) PendingCount() int {
	n := 0
	for i := range f.Tasks {
		if f.Tasks[i].Status == StatusPending {
			n++
		}
	}
	return n
}
