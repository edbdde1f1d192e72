package queue

import (
	"context"
	"reflect"
	"time"

	"github.com/boshu2/intent/internal/vault"
)

// DeltaMerge reconciles an in-memory mutation of the queue against a fresh
// read, so a long-lived working copy can be persisted without clobbering
// concurrent writers:
//
//   - A task we modified overwrites the fresh copy only when the fresh
//     updatedAt still equals the baseline's; otherwise the concurrent
//     writer wins and our change is dropped.
//   - A task we removed is removed from fresh under the same condition.
//   - Tasks we added are appended unless the id already exists; repair
//     additions are also skipped when fresh already holds a pending repair
//     for the same original (kind, target).
//
// baseline is the snapshot the mutation started from, mutated is the
// working copy, fresh is the current on-disk state. The result is a new
// File with lastUpdated=now.
func DeltaMerge(baseline, mutated, fresh *File, now time.Time) *File {
	baseIdx := indexTasks(baseline)
	mutIdx := indexTasks(mutated)

	merged := &File{Version: FileVersion, LastUpdated: now}
	merged.Tasks = make([]Task, 0, len(fresh.Tasks))

	for i := range fresh.Tasks {
		ft := &fresh.Tasks[i]
		bt, inBaseline := baseIdx[ft.TaskID]
		if !inBaseline {
			// Concurrent addition; not ours to touch.
			merged.Tasks = append(merged.Tasks, ft.Clone())
			continue
		}

		mt, inMutated := mutIdx[ft.TaskID]
		untouchedSinceBaseline := ft.UpdatedAt.Equal(bt.UpdatedAt)

		if !inMutated {
			// We removed it; honor the removal only if nobody else wrote.
			if untouchedSinceBaseline {
				continue
			}
			merged.Tasks = append(merged.Tasks, ft.Clone())
			continue
		}

		if tasksEqual(bt, mt) || !untouchedSinceBaseline {
			merged.Tasks = append(merged.Tasks, ft.Clone())
			continue
		}
		merged.Tasks = append(merged.Tasks, mt.Clone())
	}

	for i := range mutated.Tasks {
		mt := &mutated.Tasks[i]
		if _, inBaseline := baseIdx[mt.TaskID]; inBaseline {
			continue
		}
		if hasTask(merged, mt.TaskID) {
			continue
		}
		if mt.IsRepair() && merged.HasPendingRepairFor(mt.RepairContext.OriginalTask.Kind, mt.RepairContext.OriginalTask.Target) {
			continue
		}
		merged.Tasks = append(merged.Tasks, mt.Clone())
	}

	return merged
}

// WriteMerged persists a mutated working copy: it re-reads the queue under
// the queue lock, delta-merges, and writes the result. The merged state is
// returned so callers can re-baseline.
func (m *Manager) WriteMerged(ctx context.Context, baseline, mutated *File) (*File, error) {
	var merged *File
	err := m.store.WithLock(ctx, vault.LockQueue, func() error {
		fresh, err := m.Read()
		if err != nil {
			return err
		}
		merged = DeltaMerge(baseline, mutated, fresh, m.now())
		return m.Write(merged)
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

func indexTasks(qf *File) map[string]*Task {
	idx := make(map[string]*Task, len(qf.Tasks))
	for i := range qf.Tasks {
		idx[qf.Tasks[i].TaskID] = &qf.Tasks[i]
	}
	return idx
}

func hasTask(qf *File, id string) bool {
	return qf.Find(id) != nil
}

func tasksEqual(a, b *Task) bool {
	return reflect.DeepEqual(a, b)
}
