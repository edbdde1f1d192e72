package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/boshu2/intent/internal/vault"
)

const (
	// DonePruneAge is how long done tasks are kept before pruning.
	DonePruneAge = 7 * 24 * time.Hour

	// ExcerptSize is the number of tasks summarized for repair context.
	ExcerptSize = 12
)

// Manager owns ops/queue/queue.json. All mutation methods serialize
// through the vault's queue lock; reads are lock-free and tolerate
// concurrent writers thanks to atomic renames.
type Manager struct {
	store  *vault.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewManager returns a Manager for the vault.
func NewManager(store *vault.Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, logger: logger, now: time.Now}
}

// Read loads the queue file. Absent or malformed files yield an empty
// version-1 queue; task statuses and phases are normalized on load.
func (m *Manager) Read() (*File, error) {
	data, ok, err := m.store.Read(vault.QueueFile)
	if err != nil {
		return nil, err
	}
	if !ok {
		return emptyFile(), nil
	}

	var qf File
	if err := json.Unmarshal(data, &qf); err != nil {
		m.logger.Warn("queue file malformed, starting empty", zap.Error(err))
		return emptyFile(), nil
	}

	normalize(&qf)
	return &qf, nil
}

// Write persists the queue file atomically. Callers mutate under
// Store.WithLock(vault.LockQueue, …); Write itself does not lock.
func (m *Manager) Write(qf *File) error {
	qf.Version = FileVersion
	data, err := json.MarshalIndent(qf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal queue: %w", err)
	}
	return m.store.WriteAtomic(vault.QueueFile, data)
}

// Push appends a task under the queue lock. It reports whether the task was
// added: duplicates by taskId are skipped, and repair tasks are skipped when
// a pending repair already exists for the same original (kind, target).
func (m *Manager) Push(ctx context.Context, task Task) (added bool, err error) {
	err = m.store.WithLock(ctx, vault.LockQueue, func() error {
		qf, err := m.Read()
		if err != nil {
			return err
		}

		if qf.Find(task.TaskID) != nil {
			return nil
		}
		if task.IsRepair() && qf.HasPendingRepairFor(task.RepairContext.OriginalTask.Kind, task.RepairContext.OriginalTask.Target) {
			return nil
		}

		applyTaskDefaults(&task, m.now())
		qf.Tasks = append(qf.Tasks, task)
		qf.LastUpdated = m.now()
		added = true
		return m.Write(qf)
	})
	return added, err
}

// PopOptions controls Pop behavior.
type PopOptions struct {
	// LockTTL, when positive, leaves the popped task in place as
	// in-progress with lockedUntil=now+TTL. Zero removes it from the file.
	LockTTL time.Duration
}

// Pop hands out the first eligible task (pending or failed, lock absent or
// expired), or nil when none qualifies.
func (m *Manager) Pop(ctx context.Context, opts PopOptions) (*Task, error) {
	var popped *Task
	err := m.store.WithLock(ctx, vault.LockQueue, func() error {
		qf, err := m.Read()
		if err != nil {
			return err
		}

		now := m.now()
		idx := -1
		for i := range qf.Tasks {
			if qf.Tasks[i].EligibleForPop(now) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil
		}

		if opts.LockTTL > 0 {
			t := &qf.Tasks[idx]
			t.Status = StatusInProgress
			until := now.Add(opts.LockTTL)
			t.LockedUntil = &until
			t.UpdatedAt = now
			copied := t.Clone()
			popped = &copied
		} else {
			copied := qf.Tasks[idx].Clone()
			popped = &copied
			qf.Tasks = append(qf.Tasks[:idx], qf.Tasks[idx+1:]...)
		}

		qf.LastUpdated = now
		return m.Write(qf)
	})
	return popped, err
}

// Prune drops done tasks older than DonePruneAge. Returns how many were
// removed.
func (m *Manager) Prune(ctx context.Context) (removed int, err error) {
	err = m.store.WithLock(ctx, vault.LockQueue, func() error {
		qf, err := m.Read()
		if err != nil {
			return err
		}

		now := m.now()
		kept := qf.Tasks[:0]
		for i := range qf.Tasks {
			t := qf.Tasks[i]
			if t.Status == StatusDone && now.Sub(t.UpdatedAt) > DonePruneAge {
				removed++
				continue
			}
			kept = append(kept, t)
		}
		if removed == 0 {
			return nil
		}

		qf.Tasks = kept
		qf.LastUpdated = now
		return m.Write(qf)
	})
	return removed, err
}

// PruneInMemory applies the done-task retention rule to a working copy.
// Used by the engine's end-of-cycle delta-merge write.
func PruneInMemory(qf *File, now time.Time) (removed int) {
	kept := qf.Tasks[:0]
	for i := range qf.Tasks {
		t := qf.Tasks[i]
		if t.Status == StatusDone && now.Sub(t.UpdatedAt) > DonePruneAge {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	qf.Tasks = kept
	return removed
}

// AdvanceOnSuccess applies the success transition to the task in qf: the
// finished phase joins completedPhases, the task moves to the next phase as
// pending (or done after verify), and a deterministic follow-up task
// "<taskId>-<nextPhase>" is appended so the advancement survives external
// writers that mark the original done. Returns the follow-up, if created.
func AdvanceOnSuccess(qf *File, taskID string, now time.Time) *Task {
	t := qf.Find(taskID)
	if t == nil {
		return nil
	}

	finished := t.Phase
	if !t.HasCompletedPhase(finished) {
		t.CompletedPhases = append(t.CompletedPhases, finished)
	}
	t.UpdatedAt = now
	t.LockedUntil = nil

	next, ok := NextPhase(finished)
	if !ok {
		t.Status = StatusDone
		return nil
	}

	t.Phase = next
	t.Status = StatusPending

	followID := fmt.Sprintf("%s-%s", taskID, next)
	if qf.Find(followID) != nil {
		return nil
	}

	follow := Task{
		TaskID:          followID,
		VaultID:         t.VaultID,
		Target:          t.Target,
		SourcePath:      t.SourcePath,
		Phase:           next,
		Status:          StatusPending,
		Type:            t.Type,
		ExecutionMode:   t.ExecutionMode,
		CreatedAt:       now,
		UpdatedAt:       now,
		Attempts:        0,
		MaxAttempts:     t.MaxAttempts,
		CompletedPhases: append([]Phase(nil), t.CompletedPhases...),
	}
	qf.Tasks = append(qf.Tasks, follow)
	return qf.Find(followID)
}

// MarkFailure applies the failure transition to the task in qf: the lock
// clears, and the task returns to pending until attempts reach maxAttempts,
// at which point it fails. Reports whether the task is now failed.
func MarkFailure(qf *File, taskID string, now time.Time) (failed bool) {
	t := qf.Find(taskID)
	if t == nil {
		return false
	}

	t.UpdatedAt = now
	t.LockedUntil = nil
	if t.Attempts >= t.MaxAttempts {
		t.Status = StatusFailed
		return true
	}
	t.Status = StatusPending
	return false
}

// Excerpt summarizes up to n tasks for repair context.
func Excerpt(qf *File, n int) []string {
	if n <= 0 {
		n = ExcerptSize
	}
	lines := make([]string, 0, n)
	for i := range qf.Tasks {
		if len(lines) >= n {
			break
		}
		t := &qf.Tasks[i]
		lines = append(lines, fmt.Sprintf("%s [%s/%s] %s", t.TaskID, t.Phase, t.Status, t.Target))
	}
	return lines
}

func emptyFile() *File {
	return &File{Version: FileVersion, Tasks: []Task{}}
}

// normalize coerces statuses and phases, and repairs nil slices, so the
// rest of the engine never sees unknown values.
func normalize(qf *File) {
	if qf.Version == 0 {
		qf.Version = FileVersion
	}
	if qf.Tasks == nil {
		qf.Tasks = []Task{}
	}
	for i := range qf.Tasks {
		t := &qf.Tasks[i]
		t.Status = CoerceStatus(string(t.Status))
		t.Phase = CoercePhase(string(t.Phase))
		if t.MaxAttempts <= 0 {
			t.MaxAttempts = DefaultMaxAttempts
		}
		if t.ExecutionMode == "" {
			t.ExecutionMode = ModeOrchestrated
		}
		for j, p := range t.CompletedPhases {
			t.CompletedPhases[j] = CoercePhase(string(p))
		}
	}
}

func applyTaskDefaults(t *Task, now time.Time) {
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Phase == "" {
		t.Phase = PhaseSurface
	}
	if t.ExecutionMode == "" {
		t.ExecutionMode = ModeOrchestrated
	}
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = DefaultMaxAttempts
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
}
