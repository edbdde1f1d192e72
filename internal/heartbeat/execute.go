package heartbeat

import (
	"context"

	"go.uber.org/zap"

	"github.com/boshu2/intent/internal/commitment"
	"github.com/boshu2/intent/internal/queue"
	"github.com/boshu2/intent/internal/repair"
	"github.com/boshu2/intent/internal/telemetry"
)

// Advisory reasons recorded on tasks that were surfaced instead of run.
const (
	advisoryDryRun       = "dry-run"
	advisoryNoRunner     = "no task runner configured"
	advisoryRepairQueued = "repair-mode=queue-only holds repairs for review"
	advisoryThinDesire   = "thin-desire"
	advisoryConstitutive = "constitutive-friction"
)

// phaseExecute selects up to maxActionsPerRun tasks, runs them through the
// external runner, and applies the success and failure transitions. Tasks
// that should not run this cycle become advisories on the result.
func (e *Engine) phaseExecute(ctx context.Context, c *cycle) error {
	candidates := e.selectCandidates(c)
	if len(candidates) == 0 {
		return nil
	}

	out := commitment.FilterTasks(candidates, c.cf.Commitments)
	for _, d := range out.Deferred {
		c.res.Counters.TasksDeferred++
		c.recommend("deferred %s: %s", d.Task.TaskID, d.Rationale)
	}

	selected := out.Ranked
	if budget := e.cfg.Engine.MaxActionsPerRun; len(selected) > budget {
		selected = selected[:budget]
	}

	for _, rt := range selected {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t := rt.Task
		switch {
		case e.cfg.Engine.DryRun:
			e.advise(c, t, advisoryDryRun)
		case t.IsRepair() && e.cfg.Engine.RepairMode == "queue-only":
			e.advise(c, t, advisoryRepairQueued)
		case rt.OnlyThinDesire:
			e.advise(c, t, advisoryThinDesire)
		case rt.OnlyConstitutiveFriction:
			e.advise(c, t, advisoryConstitutive)
		case e.runner == nil:
			e.advise(c, t, advisoryNoRunner)
		default:
			e.executeTask(ctx, c, t.TaskID)
		}
	}
	return nil
}

// selectCandidates clones the runnable pending tasks. With aligned-first
// selection only tasks matching an active commitment survive; queue-first
// takes everything.
func (e *Engine) selectCandidates(c *cycle) []queue.Task {
	now := e.now().UTC()
	var candidates []queue.Task
	for i := range c.qf.Tasks {
		t := &c.qf.Tasks[i]
		if t.Status != queue.StatusPending || t.Locked(now) {
			continue
		}
		candidates = append(candidates, t.Clone())
	}

	if e.cfg.Engine.TaskSelection != "aligned-first" || len(candidates) == 0 {
		return candidates
	}
	actives := c.cf.Active()
	if len(actives) == 0 {
		return candidates
	}

	var aligned []queue.Task
	for _, rt := range commitment.FilterTasks(candidates, actives).Ranked {
		if rt.Score > 0 {
			aligned = append(aligned, rt.Task)
		}
	}
	return aligned
}

// advise records a task as surfaced-not-run.
func (e *Engine) advise(c *cycle, t queue.Task, reason string) {
	c.res.Counters.TasksAdvisory++
	c.res.Triggered = append(c.res.Triggered, TriggeredTask{
		TaskID:   t.TaskID,
		Target:   t.Target,
		Phase:    string(t.Phase),
		Advisory: reason,
	})
	c.recommend("advisory %s [%s] %s: %s", t.TaskID, t.Phase, t.Target, reason)
}

// executeTask runs one task through the external runner and applies the
// resulting transition to the working queue copy. On success the task
// auto-advances; on failure a repair may be spawned before the failure
// transition lands.
func (e *Engine) executeTask(ctx context.Context, c *cycle, taskID string) {
	t := c.qf.Find(taskID)
	if t == nil {
		return
	}

	now := e.now().UTC()
	t.Status = queue.StatusInProgress
	until := now.Add(taskLockTTL)
	t.LockedUntil = &until
	t.UpdatedAt = now
	c.queueDirty = true

	snapshot := t.Clone()
	res, runErr := e.runner.Run(ctx, snapshot)
	success := runErr == nil && res.Success

	now = e.now().UTC()
	// Re-find: the runner call is long and the pointer discipline here is
	// load-bearing, since later appends reallocate the task slice.
	t = c.qf.Find(taskID)
	if t == nil {
		return
	}
	t.Attempts++
	t.UpdatedAt = now
	t.LockedUntil = nil

	target, phase := t.Target, t.Phase
	c.res.Counters.TasksExecuted++
	triggered := TriggeredTask{
		TaskID:   taskID,
		Target:   target,
		Phase:    string(phase),
		Executed: true,
		Success:  success,
		Detail:   res.Detail,
	}

	if success {
		follow := queue.AdvanceOnSuccess(c.qf, taskID, now)
		c.res.Counters.TasksSucceeded++
		c.act("executed %s %s", phase, target)
		data := map[string]any{"taskId": taskID, "phase": string(phase), "target": target}
		if follow != nil {
			data["followUp"] = follow.TaskID
		}
		e.telemetry.Emit(telemetry.EventTaskExecuted, data)
		c.res.Triggered = append(c.res.Triggered, triggered)
		return
	}

	c.res.Counters.TasksFailed++
	c.res.Triggered = append(c.res.Triggered, triggered)
	if runErr != nil {
		e.logger.Warn("task runner failed", zap.String("taskId", taskID), zap.Error(runErr))
	}
	e.telemetry.Emit(telemetry.EventTaskFailed, map[string]any{
		"taskId": taskID,
		"phase":  string(phase),
		"target": target,
		"detail": res.Detail,
	})

	if repair.ShouldRepair(t, c.qf) {
		failed := t.Clone()
		rep := e.repairs.Build(ctx, &failed, res, c.qf)
		c.qf.Tasks = append(c.qf.Tasks, rep) // invalidates t
		c.res.Counters.RepairsQueued++
		c.act("queued repair %s for %s", rep.TaskID, target)
		e.telemetry.Emit(telemetry.EventRepairQueued, map[string]any{
			"taskId":   rep.TaskID,
			"original": taskID,
			"target":   target,
			"attempt":  rep.RepairContext.AttemptCount,
		})
	} else {
		c.res.Counters.RepairsSkipped++
	}

	if queue.MarkFailure(c.qf, taskID, now) {
		c.recommend("task %s [%s] %s failed permanently; review or prune it", taskID, phase, target)
	}
}
