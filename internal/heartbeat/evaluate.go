package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/boshu2/intent/internal/commitment"
	"github.com/boshu2/intent/internal/graph"
	"github.com/boshu2/intent/internal/queue"
	"github.com/boshu2/intent/internal/telemetry"
	"github.com/boshu2/intent/internal/vault"
)

const (
	// activityWindowDays bounds how far back recent activity reaches when
	// evaluating commitments and drift.
	activityWindowDays = 7

	// maxSessionSummaries caps the session lines fed to evaluation.
	maxSessionSummaries = 20

	// weakSignalScore is the inferred advancement relevance recorded when a
	// pending task aligns with a commitment. Below the advancement
	// threshold: alignment is intent, not movement.
	weakSignalScore = 0.3
)

// phaseEvaluate runs the evaluation pass: threshold conditions, commitment
// staleness and weak signals, the commitment evaluator, the drift detector,
// and the thought-graph record.
func (e *Engine) phaseEvaluate(ctx context.Context, c *cycle) error {
	conditions, err := e.checkConditions(ctx, c)
	if err != nil {
		return err
	}
	c.res.Conditions = conditions
	for _, cond := range conditions {
		e.telemetry.Emit(telemetry.EventThresholdTriggered, map[string]any{
			"condition": cond.Name,
			"count":     cond.Count,
			"threshold": cond.Threshold,
			"action":    cond.Action,
		})
	}

	now := e.now().UTC()
	aligned := e.alignedCommitments(c)
	for i := range c.cf.Commitments {
		cm := &c.cf.Commitments[i]
		if cm.State != commitment.StateActive {
			continue
		}
		if idle := stalenessBeyondHorizon(cm, now); idle > 0 {
			c.recommend("commitment %q idle %dd beyond its %s horizon",
				cm.Label, int(idle/(24*time.Hour))+1, cm.Horizon)
		}
		if taskID, ok := aligned[cm.ID]; ok {
			commitment.RecordAdvancementSignal(cm, "aligned pending task "+taskID,
				weakSignalScore, commitment.MethodInferred, now)
			c.commitmentsDirty = true
		}
	}

	activity := e.recentActivity(ctx, c)
	evals := commitment.EvaluateAll(c.cf, activity, now)
	c.res.Evaluations = evals
	for _, ev := range evals {
		e.telemetry.Emit(telemetry.EventCommitmentEvaluated, map[string]any{
			"commitment": ev.CommitmentID,
			"status":     ev.Status,
			"score":      ev.AdvancementScore,
		})
		if ev.ProposedTransition != nil {
			c.recommend("commitment %q: consider %s; %s",
				ev.Label, ev.ProposedTransition.To, ev.ProposedTransition.Reason)
		}
	}
	if len(evals) > 0 {
		c.cf.LastEvaluatedAt = now
		c.commitmentsDirty = true
	}

	e.detectDrift(c, activity, now)

	return e.writeEvaluationRecord(ctx, c)
}

// phaseGraphRecord re-runs the thought evaluator. The scan is shared with
// 5a and the record write is once per cycle, so enabling both phases costs
// one pass.
func (e *Engine) phaseGraphRecord(ctx context.Context, c *cycle) error {
	return e.writeEvaluationRecord(ctx, c)
}

// detectDrift scores intent-vs-activity alignment and annotates commitments
// whose drift crossed the snapshot threshold.
func (e *Engine) detectDrift(c *cycle, activity commitment.RecentActivity, now time.Time) {
	actives := c.cf.Active()
	if len(actives) == 0 {
		return
	}

	report := commitment.DetectDrift(actives, activity.Strings())
	if report.OverallDriftScore > 0.5 {
		c.recommend("overall drift %.2f: recent activity is diverging from declared commitments",
			report.OverallDriftScore)
	}
	for _, d := range report.CommitmentDrifts {
		if d.DriftScore <= commitment.HighDriftThreshold {
			continue
		}
		if cm := c.cf.Find(d.CommitmentID); cm != nil {
			cm.DriftSnapshots = append(cm.DriftSnapshots, commitment.DriftSnapshot{
				At:              now,
				DriftScore:      d.DriftScore,
				ActivityOverlap: d.ActivityOverlap,
				Summary:         d.Summary,
			})
			c.commitmentsDirty = true
		}
	}
	for _, inv := range report.PriorityInversions {
		c.recommend("priority inversion: %s", inv.Summary)
	}
	if report.SprawlWarning != "" {
		c.recommend("%s", report.SprawlWarning)
	}
}

// alignedCommitments maps each commitment to the first pending task whose
// best match it is. Alignment semantics are the execution filter's.
func (e *Engine) alignedCommitments(c *cycle) map[string]string {
	pending := e.pendingTasks(c)
	if len(pending) == 0 {
		return nil
	}

	aligned := map[string]string{}
	out := commitment.FilterTasks(pending, c.cf.Commitments)
	for _, rt := range out.Ranked {
		if rt.Score <= 0 || rt.CommitmentID == "" {
			continue
		}
		if _, seen := aligned[rt.CommitmentID]; !seen {
			aligned[rt.CommitmentID] = rt.Task.TaskID
		}
	}
	return aligned
}

func (e *Engine) pendingTasks(c *cycle) []queue.Task {
	var pending []queue.Task
	for i := range c.qf.Tasks {
		if c.qf.Tasks[i].Status == queue.StatusPending {
			pending = append(pending, c.qf.Tasks[i].Clone())
		}
	}
	return pending
}

// stalenessBeyondHorizon returns how far past its horizon window a
// commitment has gone without advancement, or 0 when current. Commitments
// that never advanced are measured from creation.
func stalenessBeyondHorizon(cm *commitment.Commitment, now time.Time) time.Duration {
	last := cm.LastAdvancedAt
	if last.IsZero() && cm.CreatedAt != nil {
		last = *cm.CreatedAt
	}
	if last.IsZero() {
		return 0
	}
	window := time.Duration(cm.Horizon.WindowDays()) * 24 * time.Hour
	if idle := now.Sub(last); idle > window {
		return idle - window
	}
	return 0
}

// recentActivity assembles what happened in the activity window: mineable
// session summaries, completed queue tasks, and freshly created thoughts.
func (e *Engine) recentActivity(ctx context.Context, c *cycle) commitment.RecentActivity {
	now := e.now().UTC()
	cutoff := now.AddDate(0, 0, -activityWindowDays)
	var act commitment.RecentActivity

	names, err := e.store.ListDir(vault.SessionsDir)
	if err == nil {
		for i := len(names) - 1; i >= 0 && len(act.SessionSummaries) < maxSessionSummaries; i-- {
			rel := path.Join(vault.SessionsDir, names[i])
			info, ok, err := e.store.Stat(rel)
			if err != nil || !ok || info.ModTime().Before(cutoff) {
				continue
			}
			data, ok, err := e.store.Read(rel)
			if err != nil || !ok || !mineableSession(names[i], data) {
				continue
			}
			act.SessionSummaries = append(act.SessionSummaries, sessionSummary(names[i], data))
		}
	}

	for i := range c.qf.Tasks {
		t := &c.qf.Tasks[i]
		if t.Status != queue.StatusDone || t.UpdatedAt.Before(cutoff) {
			continue
		}
		act.QueueTasksCompleted = append(act.QueueTasksCompleted,
			fmt.Sprintf("completed %s %s (%s)", t.Phase, t.Target, t.TaskID))
	}

	if _, _, err := e.ensureGraph(ctx, c); err == nil {
		var created []string
		for name, node := range c.graph.Nodes {
			if node.IsMap || !strings.HasPrefix(node.Rel, vault.ThoughtsDir+"/") {
				continue
			}
			if node.Created.After(cutoff) {
				created = append(created, "created thought "+name)
			}
		}
		sort.Strings(created)
		act.ThoughtsCreated = created
	}
	return act
}

// sessionSummary extracts a one-line description from a session file:
// frontmatter description, first body line, JSON summary key, or the file
// name as last resort.
func sessionSummary(name string, data []byte) string {
	if strings.HasSuffix(name, ".md") {
		note, _ := vault.ParseNote(string(data))
		if desc := vault.FrontmatterString(note.Frontmatter, "description"); desc != "" {
			return desc
		}
		for _, line := range strings.Split(note.Body, "\n") {
			if line = strings.TrimSpace(strings.TrimLeft(line, "#")); line != "" {
				return line
			}
		}
		return strings.TrimSuffix(name, ".md")
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err == nil {
		if s, ok := payload["summary"].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return strings.TrimSuffix(name, ".json")
}

// writeEvaluationRecord persists the thought-graph evaluation as a daily
// markdown record. Once per cycle; same-day reruns overwrite in place.
func (e *Engine) writeEvaluationRecord(ctx context.Context, c *cycle) error {
	eval, _, err := e.ensureGraph(ctx, c)
	if err != nil {
		return fmt.Errorf("graph scan: %w", err)
	}
	if c.recordRel != "" || e.cfg.Engine.DryRun {
		return nil
	}

	rel, err := graph.WriteRecord(e.store, *eval)
	if err != nil {
		return fmt.Errorf("write evaluation record: %w", err)
	}
	c.recordRel = rel
	e.telemetry.Emit(telemetry.EventEvaluationRun, map[string]any{
		"thoughtsScored": eval.ThoughtsScored,
		"avgImpactScore": eval.AvgImpactScore,
		"orphanRate":     eval.OrphanRate,
		"record":         rel,
	})
	return nil
}
