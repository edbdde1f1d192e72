package heartbeat

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/boshu2/intent/internal/queue"
	"github.com/boshu2/intent/internal/vault"
)

func TestPhaseThresholds_SeedsInboxIntoQueue(t *testing.T) {
	e, store := testEngine(t, phaseConfig("5c"))
	for _, name := range []string{"alpha.md", "beta.md", "gamma.md", "delta.md"} {
		writeFile(t, store, "inbox/"+name, "# Capture\n\nWorth keeping.\n")
	}

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Counters.InboxSeeded != 3 {
		t.Fatalf("InboxSeeded = %d, want the auto-seed limit of 3", res.Counters.InboxSeeded)
	}

	left, err := store.ListMarkdown(vault.InboxDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 {
		t.Fatalf("inbox has %d files left, want 1", len(left))
	}
	if !store.Exists("ops/queue/archive/2026-08-25-alpha/alpha.md") {
		t.Error("alpha.md not archived under the dated queue folder")
	}
	if store.Exists("inbox/alpha.md") {
		t.Error("alpha.md still in inbox after seeding")
	}

	qf := readQueue(t, store)
	if len(qf.Tasks) != 3 {
		t.Fatalf("queue has %d tasks, want 3 seeded", len(qf.Tasks))
	}
	var seeded *queue.Task
	for i := range qf.Tasks {
		if qf.Tasks[i].Target == "inbox-item:alpha" {
			seeded = &qf.Tasks[i]
		}
	}
	if seeded == nil {
		t.Fatal("no task targeting inbox-item:alpha")
	}
	if seeded.Phase != queue.PhaseSurface || seeded.Status != queue.StatusPending {
		t.Errorf("seeded task = %s/%s, want surface/pending", seeded.Phase, seeded.Status)
	}
	if seeded.SourcePath != "ops/queue/archive/2026-08-25-alpha/alpha.md" {
		t.Errorf("SourcePath = %q, want the archived path", seeded.SourcePath)
	}
	if seeded.MaxAttempts != queue.DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", seeded.MaxAttempts, queue.DefaultMaxAttempts)
	}
}

func TestPhaseThresholds_SeedingSkipsAlreadyQueued(t *testing.T) {
	e, store := testEngine(t, phaseConfig("5c"))
	writeFile(t, store, "inbox/alpha.md", "# Capture\n\nWorth keeping.\n")
	writeQueue(t, store, surfaceTask("t1", "inbox-item:alpha"))

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Counters.InboxSeeded != 0 {
		t.Errorf("InboxSeeded = %d, want 0 while a task is open for the item", res.Counters.InboxSeeded)
	}
	if !store.Exists("inbox/alpha.md") {
		t.Error("alpha.md moved despite the open task")
	}
	if n := len(readQueue(t, store).Tasks); n != 1 {
		t.Errorf("queue has %d tasks, want the original 1", n)
	}
}

func TestPhaseThresholds_ArchivedTaskDoesNotBlockReseed(t *testing.T) {
	e, store := testEngine(t, phaseConfig("5c"))
	writeFile(t, store, "inbox/alpha.md", "# Capture\n\nWorth keeping.\n")
	done := surfaceTask("t1", "inbox-item:alpha")
	done.Status = queue.StatusArchived
	writeQueue(t, store, done)

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Counters.InboxSeeded != 1 {
		t.Errorf("InboxSeeded = %d, want 1; archived tasks must not block re-seeding", res.Counters.InboxSeeded)
	}
	if n := len(readQueue(t, store).Tasks); n != 2 {
		t.Errorf("queue has %d tasks, want archived original plus fresh seed", n)
	}
}

func TestPhaseThresholds_OvernightSeedsWithoutLimit(t *testing.T) {
	cfg := phaseConfig("5c")
	cfg.Engine.RunSlot = "overnight"
	e, store := testEngine(t, cfg)
	for i := 0; i < 5; i++ {
		writeFile(t, store, fmt.Sprintf("inbox/capture-%d.md", i), "# Capture\n\nBacklog item.\n")
	}

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Counters.InboxSeeded != 5 {
		t.Errorf("InboxSeeded = %d, want all 5 on the overnight slot", res.Counters.InboxSeeded)
	}
	left, err := store.ListMarkdown(vault.InboxDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("inbox has %d files left, want none", len(left))
	}
}

func TestPhaseThresholds_QueuesMaintenanceTasksUpToCap(t *testing.T) {
	e, store := testEngine(t, phaseConfig("5a", "5c"))
	for i := 0; i < 8; i++ {
		writeFile(t, store, fmt.Sprintf("ops/observations/obs-%d.md", i), "# Observation\n\nNoted.\n")
	}
	for i := 0; i < 4; i++ {
		writeFile(t, store, fmt.Sprintf("ops/tensions/tension-%d.md", i), "# Tension\n\nPulls both ways.\n")
	}
	for i := 0; i < 6; i++ {
		writeFile(t, store, fmt.Sprintf("ops/sessions/session-%d.md", i), "---\nid: s\n---\n\nTalked through the design.\n")
	}

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Conditions) != 3 {
		t.Fatalf("Conditions = %+v, want observations, tensions and sessions flagged", res.Conditions)
	}
	if res.Counters.ThresholdTasks != 2 {
		t.Errorf("ThresholdTasks = %d, want the per-cycle cap of 2", res.Counters.ThresholdTasks)
	}

	targets := map[string]bool{}
	for _, task := range readQueue(t, store).Tasks {
		if task.Type == "maintenance" {
			targets[task.Target] = true
		}
	}
	if len(targets) != 2 || !targets["triage-observations"] || !targets["resolve-tensions"] {
		t.Errorf("maintenance targets = %v, want triage-observations and resolve-tensions", targets)
	}
}

func TestPhaseThresholds_SkipsConditionWithOpenTask(t *testing.T) {
	e, store := testEngine(t, phaseConfig("5a", "5c"))
	for i := 0; i < 8; i++ {
		writeFile(t, store, fmt.Sprintf("ops/observations/obs-%d.md", i), "# Observation\n\nNoted.\n")
	}
	writeQueue(t, store, surfaceTask("t1", "triage-observations"))

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Counters.ThresholdTasks != 0 {
		t.Errorf("ThresholdTasks = %d, want 0 while a triage task is open", res.Counters.ThresholdTasks)
	}
	n := 0
	for _, task := range readQueue(t, store).Tasks {
		if task.Target == "triage-observations" {
			n++
		}
	}
	if n != 1 {
		t.Errorf("triage-observations tasks = %d, want just the pre-existing one", n)
	}
}

func TestPhaseThresholds_ExecuteModeRunsMaintenanceInPlace(t *testing.T) {
	cfg := phaseConfig("5a", "5c")
	cfg.Engine.ThresholdMode = "execute"
	e, store := testEngine(t, cfg)
	r := &scriptedRunner{}
	e.WithTaskRunner(r)
	for i := 0; i < 8; i++ {
		writeFile(t, store, fmt.Sprintf("ops/observations/obs-%d.md", i), "# Observation\n\nNoted.\n")
	}

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := taskIDs(r.seen); len(got) != 1 {
		t.Fatalf("runner saw %v, want one maintenance execution", got)
	}
	if r.seen[0].Target != "triage-observations" {
		t.Errorf("executed target = %q, want triage-observations", r.seen[0].Target)
	}
	if res.Counters.ThresholdTasks != 1 || res.Counters.TasksSucceeded != 1 {
		t.Errorf("threshold/succeeded = %d/%d, want 1/1",
			res.Counters.ThresholdTasks, res.Counters.TasksSucceeded)
	}
	if n := len(readQueue(t, store).Tasks); n != 0 {
		t.Errorf("queue has %d tasks, want none after in-place execution", n)
	}
}

func TestPhaseThresholds_ExecuteFailureQueuesRetry(t *testing.T) {
	cfg := phaseConfig("5a", "5c")
	cfg.Engine.ThresholdMode = "execute"
	e, store := testEngine(t, cfg)
	e.WithTaskRunner(&scriptedRunner{outcome: failingOutcome("no triage skill", "")})
	for i := 0; i < 8; i++ {
		writeFile(t, store, fmt.Sprintf("ops/observations/obs-%d.md", i), "# Observation\n\nNoted.\n")
	}

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Counters.TasksFailed != 1 {
		t.Errorf("TasksFailed = %d, want 1", res.Counters.TasksFailed)
	}
	if !hasRecommendation(res, "queued for retry") {
		t.Errorf("recommendations = %v, want a queued-for-retry notice", res.Recommendations)
	}

	qf := readQueue(t, store)
	if len(qf.Tasks) != 1 {
		t.Fatalf("queue has %d tasks, want the retry task", len(qf.Tasks))
	}
	got := qf.Tasks[0]
	if got.Target != "triage-observations" || got.Status != queue.StatusPending || got.Attempts != 1 {
		t.Errorf("retry task = %s/%s/%d attempts, want triage-observations pending with the failed attempt recorded",
			got.Target, got.Status, got.Attempts)
	}
	if !strings.HasPrefix(got.TaskID, "task-") {
		t.Errorf("TaskID = %q, want a generated task id", got.TaskID)
	}
}
