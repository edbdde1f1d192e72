package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/boshu2/intent/internal/vault"
)

func seededFile(ids ...string) *File {
	qf := &File{Version: 1, LastUpdated: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range ids {
		t := pendingTask(id)
		t.CreatedAt = base
		t.UpdatedAt = base
		qf.Tasks = append(qf.Tasks, t)
	}
	return qf
}

func TestDeltaMerge_NoConcurrentWriterOurMutationWins(t *testing.T) {
	baseline := seededFile("t1", "t2")
	mutated := baseline.Clone()
	mutated.Find("t1").Status = StatusDone
	mutated.Find("t1").UpdatedAt = time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)

	now := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	merged := DeltaMerge(baseline, mutated, baseline.Clone(), now)

	if diff := cmp.Diff(mutated.Tasks, merged.Tasks); diff != "" {
		t.Errorf("DeltaMerge(b, m, b) tasks mismatch (-want +got):\n%s", diff)
	}
	if !merged.LastUpdated.Equal(now) {
		t.Errorf("lastUpdated = %v, want %v", merged.LastUpdated, now)
	}
}

func TestDeltaMerge_ConcurrentWriterWins(t *testing.T) {
	baseline := seededFile("t1")

	mutated := baseline.Clone()
	mutated.Find("t1").Status = StatusDone
	mutated.Find("t1").UpdatedAt = time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)

	// Another process advanced the task while we worked.
	fresh := baseline.Clone()
	fresh.Find("t1").Status = StatusInProgress
	fresh.Find("t1").UpdatedAt = time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)

	merged := DeltaMerge(baseline, mutated, fresh, time.Now())

	got := merged.Find("t1")
	if got.Status != StatusInProgress {
		t.Errorf("status = %s, want concurrent writer's in-progress", got.Status)
	}
}

func TestDeltaMerge_AdditionsAppendedOnce(t *testing.T) {
	baseline := seededFile("t1")
	mutated := baseline.Clone()
	add := pendingTask("t1-reflect")
	mutated.Tasks = append(mutated.Tasks, add)

	// Fresh already contains the same deterministic follow-up.
	fresh := baseline.Clone()
	fresh.Tasks = append(fresh.Tasks, add.Clone())

	merged := DeltaMerge(baseline, mutated, fresh, time.Now())

	count := 0
	for _, task := range merged.Tasks {
		if task.TaskID == "t1-reflect" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("t1-reflect count = %d, want 1", count)
	}
}

func TestDeltaMerge_RepairAdditionSkippedWhenPendingRepairExists(t *testing.T) {
	baseline := seededFile("t1")

	repair := func(id string) Task {
		task := pendingTask(id)
		task.RepairContext = &RepairContext{
			OriginalTask: OriginalTask{Kind: "surface", Target: "note"},
			AttemptCount: 1,
		}
		return task
	}

	mutated := baseline.Clone()
	mutated.Tasks = append(mutated.Tasks, repair("repair-ours"))

	fresh := baseline.Clone()
	fresh.Tasks = append(fresh.Tasks, repair("repair-theirs"))

	merged := DeltaMerge(baseline, mutated, fresh, time.Now())

	if merged.Find("repair-ours") != nil {
		t.Error("second repair for same (kind, target) was appended")
	}
	if merged.Find("repair-theirs") == nil {
		t.Error("concurrent repair lost in merge")
	}
}

func TestDeltaMerge_RemovalHonoredWhenUntouched(t *testing.T) {
	baseline := seededFile("gone", "kept")
	mutated := baseline.Clone()
	mutated.Tasks = mutated.Tasks[1:] // drop "gone"

	merged := DeltaMerge(baseline, mutated, baseline.Clone(), time.Now())

	if merged.Find("gone") != nil {
		t.Error("removed task survived merge")
	}
	if merged.Find("kept") == nil {
		t.Error("kept task lost")
	}
}

func TestDeltaMerge_RemovalSkippedWhenConcurrentlyTouched(t *testing.T) {
	baseline := seededFile("gone")
	mutated := baseline.Clone()
	mutated.Tasks = nil

	fresh := baseline.Clone()
	fresh.Find("gone").UpdatedAt = time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)

	merged := DeltaMerge(baseline, mutated, fresh, time.Now())

	if merged.Find("gone") == nil {
		t.Error("task touched by concurrent writer was removed")
	}
}

func TestDeltaMerge_ConcurrentAdditionPreserved(t *testing.T) {
	baseline := seededFile("t1")
	mutated := baseline.Clone()

	fresh := baseline.Clone()
	fresh.Tasks = append(fresh.Tasks, pendingTask("theirs"))

	merged := DeltaMerge(baseline, mutated, fresh, time.Now())

	if merged.Find("theirs") == nil {
		t.Error("concurrent addition lost in merge")
	}
}

func TestWriteMerged_PersistsAndReturnsMerged(t *testing.T) {
	store := vault.New(t.TempDir())
	m := NewManager(store, nil)
	ctx := context.Background()

	if _, err := m.Push(ctx, pendingTask("t1")); err != nil {
		t.Fatal(err)
	}
	baseline, err := m.Read()
	if err != nil {
		t.Fatal(err)
	}

	mutated := baseline.Clone()
	mutated.Find("t1").Status = StatusDone
	mutated.Find("t1").UpdatedAt = time.Now()

	merged, err := m.WriteMerged(ctx, baseline, mutated)
	if err != nil {
		t.Fatalf("WriteMerged() error = %v", err)
	}
	if merged.Find("t1").Status != StatusDone {
		t.Errorf("merged status = %s, want done", merged.Find("t1").Status)
	}

	onDisk, err := m.Read()
	if err != nil {
		t.Fatal(err)
	}
	if onDisk.Find("t1").Status != StatusDone {
		t.Errorf("on-disk status = %s, want done", onDisk.Find("t1").Status)
	}
}
