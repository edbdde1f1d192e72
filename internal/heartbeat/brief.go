package heartbeat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/boshu2/intent/internal/commitment"
	"github.com/boshu2/intent/internal/formatter"
	"github.com/boshu2/intent/internal/graph"
	"github.com/boshu2/intent/internal/runner"
	"github.com/boshu2/intent/internal/telemetry"
	"github.com/boshu2/intent/internal/vault"
)

const (
	goalsTailLines      = 10
	memoryTailLines     = 30
	memoryEntryMaxLines = 5
	briefTopologyMaps   = 8
)

// phaseBrief synthesizes the morning brief when the slot and staleness gate
// allow. LLM output becomes the brief body under a standard header; when
// synthesis fails the deterministic template takes over.
func (e *Engine) phaseBrief(ctx context.Context, c *cycle) error {
	if !e.briefGate(c) {
		return nil
	}
	if e.cfg.Engine.DryRun {
		c.recommend("would write morning brief to %s", vault.MorningBriefFile)
		return nil
	}

	var body string
	if e.llm != nil {
		text, err := e.llm.Synthesize(ctx, e.briefPrompt(ctx, c), runner.BriefTimeout)
		if err != nil {
			e.logger.Warn("brief synthesis failed, using template", zap.Error(err))
			c.recommend("brief synthesis failed: %v; template brief written", err)
		} else {
			body = text
		}
	}

	now := e.now().UTC()
	source := "template"
	var content string
	if body != "" {
		source = "llm"
		content = renderBriefHeader(now, c.res.Slot, source) + body + "\n"
	} else {
		var b strings.Builder
		if err := formatter.FallbackBrief(&b, e.briefData(c, now)); err != nil {
			return fmt.Errorf("render brief: %w", err)
		}
		content = b.String()
	}

	if err := e.store.WriteAtomic(vault.MorningBriefFile, []byte(content)); err != nil {
		return fmt.Errorf("write brief: %w", err)
	}
	c.res.BriefWritten = true
	c.res.BriefPath = vault.MorningBriefFile
	e.telemetry.Emit(telemetry.EventBriefWritten, map[string]any{
		"slot":   c.res.Slot,
		"source": source,
	})
	return nil
}

// briefGate decides whether this cycle owes a brief: morning or manual slot,
// and either the cycle did something or the existing brief has gone stale.
// A missing brief reads as infinitely stale.
func (e *Engine) briefGate(c *cycle) bool {
	slot := e.cfg.Engine.RunSlot
	if slot != "morning" && slot != "manual" {
		return false
	}
	if c.res.Counters.ActionsOccurred() {
		return true
	}
	info, ok, err := e.store.Stat(vault.MorningBriefFile)
	if err != nil || !ok {
		return true
	}
	stale := time.Duration(e.cfg.DesiredState.BriefStaleHours) * time.Hour
	return e.now().UTC().Sub(info.ModTime()) > stale
}

func renderBriefHeader(now time.Time, slot, source string) string {
	return fmt.Sprintf("---\ndate: %s\nslot: %s\ntype: morning-brief\nsource: %s\n---\n\n",
		now.Format("2006-01-02"), slot, source)
}

// briefData projects the cycle into the template fallback's shape.
func (e *Engine) briefData(c *cycle, now time.Time) *formatter.BriefData {
	data := &formatter.BriefData{
		Date:            now.Format("2006-01-02"),
		Slot:            c.res.Slot,
		TasksExecuted:   c.res.Counters.TasksExecuted,
		TasksSucceeded:  c.res.Counters.TasksSucceeded,
		TasksFailed:     c.res.Counters.TasksFailed,
		QueueDepth:      c.qf.PendingCount(),
		Recommendations: c.res.Recommendations,
	}

	for _, cond := range c.res.Conditions {
		data.Attention = append(data.Attention,
			fmt.Sprintf("%s at %d (threshold %d); run %s", cond.Name, cond.Count, cond.Threshold, cond.Action))
	}
	for _, alert := range c.res.NoiseAlerts {
		data.Attention = append(data.Attention, alert.String())
	}

	drifting := map[string]bool{}
	for _, ev := range c.res.Evaluations {
		if ev.Status == commitment.EvalDrifting {
			drifting[ev.CommitmentID] = true
		}
	}
	for _, cm := range c.cf.Active() {
		data.Commitments = append(data.Commitments, formatter.BriefCommitment{
			Label:        cm.Label,
			State:        string(cm.State),
			Horizon:      string(cm.Horizon),
			LastAdvanced: formatter.Ago(now, cm.LastAdvancedAt),
			Drifting:     drifting[cm.ID],
		})
	}
	return data
}

// briefPrompt assembles the synthesis prompt: every section is grounded in
// cycle data so the LLM narrates instead of inventing.
func (e *Engine) briefPrompt(ctx context.Context, c *cycle) string {
	var b strings.Builder
	b.WriteString("Write a concise morning brief for the keeper of this knowledge vault.\n")
	b.WriteString("Use markdown with the sections Attention Needed, Active Commitments, and Recommendations.\n")
	b.WriteString("Ground every line in the data below. Do not invent activity.\n")

	var conditions []string
	for _, cond := range c.res.Conditions {
		conditions = append(conditions,
			fmt.Sprintf("%s at %d, threshold %d, relief action %s", cond.Name, cond.Count, cond.Threshold, cond.Action))
	}
	section(&b, "Conditions", conditions)

	var evals []string
	for _, ev := range c.res.Evaluations {
		evals = append(evals, ev.BriefSummary)
	}
	section(&b, "Commitments", evals)

	ct := c.res.Counters
	section(&b, "Execution", []string{fmt.Sprintf(
		"%d executed, %d succeeded, %d failed, %d advisory, %d pending in queue",
		ct.TasksExecuted, ct.TasksSucceeded, ct.TasksFailed, ct.TasksAdvisory, c.qf.PendingCount())})

	section(&b, "Recommendations", c.res.Recommendations)
	section(&b, "Umwelt", e.umweltLines(c))

	if _, topo, err := e.ensureGraph(ctx, c); err == nil {
		section(&b, "Graph", topologyLines(topo))
	}
	if c.recordRel != "" {
		section(&b, "Evaluation record", []string{c.recordRel})
	}
	return b.String()
}

func section(b *strings.Builder, name string, lines []string) {
	if len(lines) == 0 {
		return
	}
	b.WriteString("\n## " + name + "\n")
	for _, l := range lines {
		b.WriteString("- " + l + "\n")
	}
}

// umweltLines gathers the situational context: goals tail, working-memory
// tail, and this cycle's perception highlights, clipped to the policy
// budget.
func (e *Engine) umweltLines(c *cycle) []string {
	var lines []string
	if data, ok, err := e.store.Read(e.store.ResolveSelfFile("goals.md")); err == nil && ok {
		note, _ := vault.ParseNote(string(data))
		lines = append(lines, vault.TailLines(note.Body, goalsTailLines)...)
	}
	if data, ok, err := e.store.Read(e.store.ResolveSelfFile("working-memory.md")); err == nil && ok {
		note, _ := vault.ParseNote(string(data))
		lines = append(lines, vault.TailLines(note.Body, memoryTailLines)...)
	}
	lines = append(lines, c.surfaced...)

	if budget := e.policy.UmweltBudgetLines; budget > 0 && len(lines) > budget {
		lines = lines[:budget]
	}
	return lines
}

// topologyLines flattens the graph topology for the prompt.
func topologyLines(topo *graph.TopologyContext) []string {
	lines := []string{fmt.Sprintf("%d notes, %d thoughts, %d maps",
		topo.TotalNotes, topo.TotalThoughts, len(topo.Maps))}

	for i, m := range topo.Maps {
		if i >= briefTopologyMaps {
			lines = append(lines, fmt.Sprintf("and %d more maps", len(topo.Maps)-i))
			break
		}
		line := fmt.Sprintf("map %s holds %d thoughts", m.Name, m.Thoughts)
		if len(m.OpenQuestions) > 0 {
			line += "; open: " + strings.Join(m.OpenQuestions, "; ")
		}
		lines = append(lines, line)
	}
	if len(topo.ThinMaps) > 0 {
		lines = append(lines, "thin maps: "+strings.Join(topo.ThinMaps, ", "))
	}
	if len(topo.Confidence) > 0 {
		buckets := make([]string, 0, len(topo.Confidence))
		for k := range topo.Confidence {
			buckets = append(buckets, k)
		}
		sort.Strings(buckets)
		parts := make([]string, 0, len(buckets))
		for _, k := range buckets {
			parts = append(parts, fmt.Sprintf("%s=%d", k, topo.Confidence[k]))
		}
		lines = append(lines, "confidence "+strings.Join(parts, " "))
	}
	for _, s := range topo.Sinks {
		lines = append(lines, fmt.Sprintf("sink %s: %d in, %d out", s.Name, s.Incoming, s.Outgoing))
	}
	return lines
}

// phaseWorkingMemory appends a short entry narrating what the cycle did.
// Quiet cycles leave no trace, which keeps reruns idempotent.
func (e *Engine) phaseWorkingMemory(ctx context.Context, c *cycle) error {
	if len(c.actions) == 0 || e.cfg.Engine.DryRun {
		return nil
	}

	rel := e.store.ResolveSelfFile("working-memory.md")
	data, _, err := e.store.Read(rel)
	if err != nil {
		return fmt.Errorf("read working memory: %w", err)
	}
	existing := string(data)

	var entry string
	if e.llm != nil {
		text, err := e.llm.Synthesize(ctx, memoryPrompt(existing, c.actions), runner.MemoryTimeout)
		if err != nil {
			e.logger.Warn("memory synthesis failed, using fallback", zap.Error(err))
			c.recommend("working-memory synthesis failed: %v; action log appended instead", err)
		} else {
			entry = clampLines(text, memoryEntryMaxLines)
		}
	}
	if entry == "" {
		entry = memoryFallback(c.actions)
	}

	stamp := e.now().UTC().Format("2006-01-02 15:04")
	block := fmt.Sprintf("## %s\n\n%s\n", stamp, entry)

	var updated string
	if strings.TrimSpace(existing) == "" {
		updated = "# Working Memory\n\n" + block
	} else {
		updated = strings.TrimRight(existing, "\n") + "\n\n" + block
	}
	if err := e.store.WriteAtomic(rel, []byte(updated)); err != nil {
		return fmt.Errorf("write working memory: %w", err)
	}
	return nil
}

func memoryPrompt(existing string, actions []string) string {
	var b strings.Builder
	b.WriteString("Append a working-memory entry of three to five lines summarizing this cycle.\n")
	b.WriteString("Plain prose or bullets; no heading. Continue the voice of the existing memory.\n")
	section(&b, "Recent memory", vault.TailLines(existing, memoryTailLines))
	section(&b, "Actions this cycle", actions)
	return b.String()
}

func memoryFallback(actions []string) string {
	if len(actions) > memoryEntryMaxLines {
		actions = actions[:memoryEntryMaxLines]
	}
	lines := make([]string, 0, len(actions))
	for _, a := range actions {
		lines = append(lines, "- "+a)
	}
	return strings.Join(lines, "\n")
}

func clampLines(text string, n int) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
