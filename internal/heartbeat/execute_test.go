package heartbeat

import (
	"context"
	"fmt"
	"testing"

	"github.com/boshu2/intent/internal/commitment"
	"github.com/boshu2/intent/internal/config"
	"github.com/boshu2/intent/internal/queue"
	"github.com/boshu2/intent/internal/runner"
)

func phaseConfig(phases ...string) *config.Config {
	cfg := config.Default()
	cfg.Engine.Phases = phases
	return cfg
}

func failingOutcome(detail, stderr string) func(queue.Task) (runner.Result, error) {
	return func(task queue.Task) (runner.Result, error) {
		return runner.Result{
			TaskID:   task.TaskID,
			Phase:    string(task.Phase),
			Success:  false,
			Executed: true,
			Detail:   detail,
			Stderr:   stderr,
		}, nil
	}
}

func taskIDs(tasks []queue.Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.TaskID
	}
	return ids
}

func countRepairs(qf *queue.File) int {
	n := 0
	for i := range qf.Tasks {
		if qf.Tasks[i].IsRepair() {
			n++
		}
	}
	return n
}

func findRepair(qf *queue.File) *queue.Task {
	for i := range qf.Tasks {
		if qf.Tasks[i].IsRepair() {
			return &qf.Tasks[i]
		}
	}
	return nil
}

func TestPhaseExecute_FailureQueuesRepair(t *testing.T) {
	e, store := testEngine(t, phaseConfig("5b"))
	e.WithTaskRunner(&scriptedRunner{outcome: failingOutcome("boom", "stack trace here")})
	writeQueue(t, store, surfaceTask("t1", "connect the orphan note"))

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Counters.TasksExecuted != 1 || res.Counters.TasksFailed != 1 {
		t.Errorf("executed/failed = %d/%d, want 1/1",
			res.Counters.TasksExecuted, res.Counters.TasksFailed)
	}
	if res.Counters.RepairsQueued != 1 {
		t.Errorf("RepairsQueued = %d, want 1", res.Counters.RepairsQueued)
	}
	if len(res.Triggered) != 1 || res.Triggered[0].Success || res.Triggered[0].Detail != "boom" {
		t.Errorf("Triggered = %+v, want one failed execution with detail boom", res.Triggered)
	}

	qf := readQueue(t, store)
	if len(qf.Tasks) != 2 {
		t.Fatalf("queue has %d tasks, want original plus repair", len(qf.Tasks))
	}
	orig := qf.Find("t1")
	if orig.Status != queue.StatusPending || orig.Attempts != 1 {
		t.Errorf("t1 = %s/%d attempts, want pending/1", orig.Status, orig.Attempts)
	}
	rep := findRepair(qf)
	if rep == nil {
		t.Fatal("no repair task persisted")
	}
	if rep.Status != queue.StatusPending || rep.Attempts != 0 {
		t.Errorf("repair = %s/%d attempts, want fresh pending", rep.Status, rep.Attempts)
	}
	rc := rep.RepairContext
	if rc.ErrorMessage != "boom" {
		t.Errorf("ErrorMessage = %q, want boom", rc.ErrorMessage)
	}
	if rc.OriginalTask.Kind != "surface" || rc.OriginalTask.Target != "connect the orphan note" {
		t.Errorf("OriginalTask = %+v, want the failed surface task", rc.OriginalTask)
	}
	if rc.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", rc.AttemptCount)
	}
	if rc.LastStderr != "stack trace here" {
		t.Errorf("LastStderr = %q, want the runner stderr", rc.LastStderr)
	}
}

func TestPhaseExecute_PendingRepairHoldsAndSkipsDuplicate(t *testing.T) {
	const target = "connect the orphan note"

	e, store := testEngine(t, phaseConfig("5b"))
	r := &scriptedRunner{outcome: failingOutcome("boom", "")}
	e.WithTaskRunner(r)

	orig := surfaceTask("t1", target)
	orig.Attempts = 1
	held := surfaceTask("repair-held", target)
	held.Type = "repair"
	held.RepairContext = &queue.RepairContext{
		OriginalTask: queue.OriginalTask{Kind: "surface", Target: target},
		ErrorMessage: "boom",
		AttemptCount: 1,
	}
	writeQueue(t, store, orig, held)

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Under repair_mode=queue-only the repair itself never reaches the runner.
	if got := taskIDs(r.seen); len(got) != 1 || got[0] != "t1" {
		t.Fatalf("runner saw %v, want only t1", got)
	}
	if res.Counters.RepairsQueued != 0 || res.Counters.RepairsSkipped != 1 {
		t.Errorf("repairs queued/skipped = %d/%d, want 0/1",
			res.Counters.RepairsQueued, res.Counters.RepairsSkipped)
	}
	var advisory string
	for _, tr := range res.Triggered {
		if tr.TaskID == "repair-held" {
			advisory = tr.Advisory
		}
	}
	if advisory != advisoryRepairQueued {
		t.Errorf("repair advisory = %q, want %q", advisory, advisoryRepairQueued)
	}

	qf := readQueue(t, store)
	if n := countRepairs(qf); n != 1 {
		t.Errorf("repair tasks = %d, want 1; a second failure must not stack repairs", n)
	}
	if got := qf.Find("t1"); got.Status != queue.StatusPending || got.Attempts != 2 {
		t.Errorf("t1 = %s/%d attempts, want pending/2", got.Status, got.Attempts)
	}
}

func TestPhaseExecute_MaxActionsCap(t *testing.T) {
	e, store := testEngine(t, phaseConfig("5b"))
	r := &scriptedRunner{}
	e.WithTaskRunner(r)

	tasks := make([]queue.Task, 0, 1000)
	for i := 0; i < 1000; i++ {
		tasks = append(tasks, surfaceTask(fmt.Sprintf("t%04d", i), fmt.Sprintf("surface note %d", i)))
	}
	writeQueue(t, store, tasks...)

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Counters.TasksExecuted != 3 {
		t.Fatalf("TasksExecuted = %d, want the max-actions cap of 3", res.Counters.TasksExecuted)
	}
	if got := taskIDs(r.seen); len(got) != 3 || got[0] != "t0000" || got[1] != "t0001" || got[2] != "t0002" {
		t.Errorf("runner saw %v, want the first three in queue order", got)
	}

	qf := readQueue(t, store)
	if len(qf.Tasks) != 1003 {
		t.Fatalf("queue has %d tasks, want 1000 originals plus 3 follow-ups", len(qf.Tasks))
	}
	seen := make(map[string]bool, len(qf.Tasks))
	for _, task := range qf.Tasks {
		if seen[task.TaskID] {
			t.Fatalf("duplicate task id %s after merge", task.TaskID)
		}
		seen[task.TaskID] = true
	}
	if got := qf.Find("t0003"); got.Status != queue.StatusPending || got.Attempts != 0 {
		t.Errorf("t0003 = %s/%d attempts, want untouched pending", got.Status, got.Attempts)
	}
}

func TestPhaseExecute_NoRunnerAdvisories(t *testing.T) {
	e, store := testEngine(t, phaseConfig("5b"))
	writeQueue(t, store, surfaceTask("t1", "surface the meeting note"))

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Counters.TasksExecuted != 0 {
		t.Errorf("TasksExecuted = %d, want 0 without a runner", res.Counters.TasksExecuted)
	}
	if len(res.Triggered) != 1 || res.Triggered[0].Advisory != advisoryNoRunner {
		t.Errorf("Triggered = %+v, want one no-runner advisory", res.Triggered)
	}
	if got := readQueue(t, store).Find("t1"); got.Status != queue.StatusPending || got.Attempts != 0 {
		t.Errorf("t1 = %s/%d attempts, want untouched pending", got.Status, got.Attempts)
	}
}

func TestPhaseExecute_ThinDesireSurfacesInsteadOfRunning(t *testing.T) {
	e, store := testEngine(t, phaseConfig("5b"))
	r := &scriptedRunner{}
	e.WithTaskRunner(r)

	thin := activeCommitment("read papers", 1)
	thin.DesireClass = commitment.DesireThin
	writeCommitments(t, store, thin)
	writeQueue(t, store, surfaceTask("t1", "read papers digest"))

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(r.seen) != 0 {
		t.Errorf("runner invoked for a thin-desire task: %v", taskIDs(r.seen))
	}
	if len(res.Triggered) != 1 || res.Triggered[0].Advisory != advisoryThinDesire {
		t.Errorf("Triggered = %+v, want one thin-desire advisory", res.Triggered)
	}
	if res.Counters.TasksAdvisory != 1 {
		t.Errorf("TasksAdvisory = %d, want 1", res.Counters.TasksAdvisory)
	}
}

func TestPhaseExecute_PausedCommitmentDefersMatches(t *testing.T) {
	e, store := testEngine(t, phaseConfig("5b"))
	r := &scriptedRunner{}
	e.WithTaskRunner(r)

	paused := commitment.NewCommitment("garden", 2, commitment.HorizonWeek, "test", nil, fixedNow.AddDate(0, 0, -10))
	paused.State = commitment.StatePaused
	writeCommitments(t, store, paused)
	writeQueue(t, store, surfaceTask("t1", "tend the garden bed"))

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Counters.TasksDeferred != 1 {
		t.Errorf("TasksDeferred = %d, want 1", res.Counters.TasksDeferred)
	}
	if len(r.seen) != 0 {
		t.Errorf("runner invoked for a deferred task: %v", taskIDs(r.seen))
	}
	if !hasRecommendation(res, `matches paused commitment "garden"`) {
		t.Errorf("recommendations = %v, want the paused-match rationale", res.Recommendations)
	}
	if got := readQueue(t, store).Find("t1"); got.Attempts != 0 {
		t.Errorf("t1 attempts = %d, want 0", got.Attempts)
	}
}

func TestPhaseExecute_AlignedFirstSelection(t *testing.T) {
	cfg := phaseConfig("5b")
	cfg.Engine.TaskSelection = "aligned-first"
	e, store := testEngine(t, cfg)
	r := &scriptedRunner{}
	e.WithTaskRunner(r)

	writeCommitments(t, store, activeCommitment("read papers", 1))
	writeQueue(t, store,
		surfaceTask("t-noise", "water the office plants"),
		surfaceTask("t-aligned", "read papers digest"),
	)

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := taskIDs(r.seen); len(got) != 1 || got[0] != "t-aligned" {
		t.Fatalf("runner saw %v, want only the aligned task", got)
	}
	if res.Counters.TasksExecuted != 1 {
		t.Errorf("TasksExecuted = %d, want 1", res.Counters.TasksExecuted)
	}

	qf := readQueue(t, store)
	if got := qf.Find("t-noise"); got.Status != queue.StatusPending || got.Attempts != 0 {
		t.Errorf("t-noise = %s/%d attempts, want untouched pending", got.Status, got.Attempts)
	}
	if qf.Find("t-aligned-reflect") == nil {
		t.Error("aligned task did not advance to reflect")
	}
}

func TestPhaseExecute_PermanentFailureMarksTask(t *testing.T) {
	e, store := testEngine(t, phaseConfig("5b"))
	e.WithTaskRunner(&scriptedRunner{outcome: failingOutcome("boom", "")})

	task := surfaceTask("t1", "surface the meeting note")
	task.Attempts = 2
	writeQueue(t, store, task)

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := readQueue(t, store).Find("t1"); got.Status != queue.StatusFailed || got.Attempts != 3 {
		t.Errorf("t1 = %s/%d attempts, want failed/3", got.Status, got.Attempts)
	}
	if !hasRecommendation(res, "failed permanently") {
		t.Errorf("recommendations = %v, want a permanent-failure notice", res.Recommendations)
	}
}
