package heartbeat

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/boshu2/intent/internal/queue"
	"github.com/boshu2/intent/internal/telemetry"
	"github.com/boshu2/intent/internal/vault"
)

// phaseThresholds turns detected backlogs into queued work: inbox items are
// archived and seeded as surface tasks, and the other flagged conditions get
// maintenance tasks queued or executed.
func (e *Engine) phaseThresholds(ctx context.Context, c *cycle) error {
	if err := e.seedInbox(c); err != nil {
		c.recommend("inbox seeding: %v", err)
	}
	return e.queueThresholdActions(ctx, c)
}

// seedInbox moves up to AutoSeedLimit inbox items into the queue archive and
// enqueues a surface task per item. Overnight slots seed without bound so
// the backlog clears while nobody is waiting on the cycle.
func (e *Engine) seedInbox(c *cycle) error {
	files, err := e.store.ListMarkdown(vault.InboxDir)
	if err != nil {
		return fmt.Errorf("list inbox: %w", err)
	}
	if len(files) == 0 {
		return nil
	}

	limit := e.cfg.DesiredState.AutoSeedLimit
	if e.cfg.Engine.RunSlot == "overnight" {
		limit = len(files)
	}

	now := e.now().UTC()
	seeded := 0
	for _, rel := range files {
		if seeded >= limit {
			break
		}
		base := path.Base(rel)
		slug := vault.SlugOr(strings.TrimSuffix(base, ".md"), "item")
		target := "inbox-item:" + slug
		if seedExists(c.qf, rel, target) {
			continue
		}
		if e.cfg.Engine.DryRun {
			c.recommend("would seed %s as %s", rel, target)
			seeded++
			continue
		}

		archiveRel := path.Join(vault.QueueArchiveDir, now.Format("2006-01-02")+"-"+slug, base)
		if err := e.store.Move(rel, archiveRel); err != nil {
			c.recommend("inbox item %s not archived: %v", rel, err)
			continue
		}

		c.qf.Tasks = append(c.qf.Tasks, queue.Task{
			TaskID:        "task-" + ulid.Make().String(),
			VaultID:       e.store.ID(),
			Target:        target,
			SourcePath:    archiveRel,
			Phase:         queue.PhaseSurface,
			Status:        queue.StatusPending,
			ExecutionMode: queue.ModeOrchestrated,
			CreatedAt:     now,
			UpdatedAt:     now,
			MaxAttempts:   queue.DefaultMaxAttempts,
		})
		c.queueDirty = true
		c.res.Counters.InboxSeeded++
		seeded++
		c.act("seeded inbox item %s", base)
	}
	return nil
}

// seedExists reports whether the queue already carries work for the inbox
// item, matched by source path or derived target. Archived tasks do not
// block re-seeding.
func seedExists(qf *queue.File, sourceRel, target string) bool {
	for i := range qf.Tasks {
		t := &qf.Tasks[i]
		if t.Status == queue.StatusArchived {
			continue
		}
		if t.SourcePath == sourceRel || t.Target == target {
			return true
		}
	}
	return false
}

// queueThresholdActions relieves the non-inbox flagged conditions, at most
// two per cycle. Queue-only mode enqueues a maintenance task; execute mode
// runs it immediately and queues a retry on failure.
func (e *Engine) queueThresholdActions(ctx context.Context, c *cycle) error {
	handled := 0
	for _, cond := range c.res.Conditions {
		if cond.Name == CondInbox {
			continue // relieved by seeding
		}
		if handled >= thresholdActionCap {
			break
		}
		action := ActionFor(cond.Name)
		if hasOpenTaskFor(c.qf, action.TaskTarget) {
			continue
		}
		if e.cfg.Engine.DryRun {
			c.recommend("would queue %s for %s backlog (%d over threshold %d)",
				action.TaskTarget, cond.Name, cond.Count, cond.Threshold)
			handled++
			continue
		}

		now := e.now().UTC()
		task := queue.Task{
			TaskID:        "task-" + ulid.Make().String(),
			VaultID:       e.store.ID(),
			Target:        action.TaskTarget,
			Phase:         queue.PhaseSurface,
			Status:        queue.StatusPending,
			Type:          "maintenance",
			ExecutionMode: queue.ModeOrchestrated,
			CreatedAt:     now,
			UpdatedAt:     now,
			MaxAttempts:   queue.DefaultMaxAttempts,
		}

		if e.cfg.Engine.ThresholdMode == "execute" && e.runner != nil {
			if e.runMaintenance(ctx, c, cond, &task) {
				handled++
				continue
			}
		}

		c.qf.Tasks = append(c.qf.Tasks, task)
		c.queueDirty = true
		c.res.Counters.ThresholdTasks++
		handled++
		c.act("queued %s for %s backlog (%d over threshold %d)",
			action.TaskTarget, cond.Name, cond.Count, cond.Threshold)
	}
	return nil
}

// runMaintenance executes a threshold action in place. False means the
// caller should queue the task instead; the failed attempt stays recorded
// on it.
func (e *Engine) runMaintenance(ctx context.Context, c *cycle, cond Condition, task *queue.Task) bool {
	res, err := e.runner.Run(ctx, *task)
	c.res.Counters.TasksExecuted++
	success := err == nil && res.Success
	c.res.Triggered = append(c.res.Triggered, TriggeredTask{
		TaskID:   task.TaskID,
		Target:   task.Target,
		Phase:    string(task.Phase),
		Executed: true,
		Success:  success,
		Detail:   res.Detail,
	})

	if success {
		c.res.Counters.TasksSucceeded++
		c.res.Counters.ThresholdTasks++
		c.act("executed %s for %s backlog", task.Target, cond.Name)
		e.telemetry.Emit(telemetry.EventTaskExecuted, map[string]any{
			"taskId":    task.TaskID,
			"phase":     string(task.Phase),
			"target":    task.Target,
			"condition": cond.Name,
		})
		return true
	}

	c.res.Counters.TasksFailed++
	task.Attempts = 1
	e.telemetry.Emit(telemetry.EventTaskFailed, map[string]any{
		"taskId":    task.TaskID,
		"target":    task.Target,
		"condition": cond.Name,
		"detail":    res.Detail,
	})
	c.recommend("threshold action %s failed (%s); queued for retry", task.Target, res.Detail)
	return false
}

// hasOpenTaskFor reports whether an unfinished task already targets the
// maintenance action.
func hasOpenTaskFor(qf *queue.File, target string) bool {
	for i := range qf.Tasks {
		t := &qf.Tasks[i]
		if t.Target != target {
			continue
		}
		if t.Status == queue.StatusPending || t.Status == queue.StatusInProgress {
			return true
		}
	}
	return false
}
