package heartbeat

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/boshu2/intent/internal/perception"
	"github.com/boshu2/intent/internal/telemetry"
	"github.com/boshu2/intent/internal/vault"
)

// phasePerception polls every configured feed source, admits captures
// against the identity context, and writes the survivors into inbox/. One
// failing source degrades to a recommendation without touching the others.
func (e *Engine) phasePerception(ctx context.Context, c *cycle) error {
	if len(e.sources) == 0 {
		return nil
	}
	if e.cfg.Engine.DryRun {
		c.recommend("dry-run: perception skipped; polling would consume feed batches")
		return nil
	}

	cursors, err := e.perception.LoadCursors()
	if err != nil {
		return fmt.Errorf("load cursors: %w", err)
	}
	noise, err := e.perception.LoadNoise()
	if err != nil {
		return fmt.Errorf("load noise tracker: %w", err)
	}

	outcomes := e.pollSources(ctx, cursors)

	var captures []perception.FeedCapture
	polled := map[string]int{}
	for _, po := range outcomes {
		if po.err != nil {
			e.logger.Warn("feed poll failed", zap.String("source", po.id), zap.Error(po.err))
			c.recommend("source %s poll failed: %v", po.id, po.err)
			continue
		}
		cursors.SetCursor(po.id, po.cursor)
		polled[po.id] = len(po.captures)
		captures = append(captures, po.captures...)
	}

	out := perception.Admit(captures, e.perceptionContext(ctx, c), e.policy)
	c.res.Counters.CapturesFiltered += out.Filtered
	if out.Reason != "" {
		c.recommend("%s", out.Reason)
	}

	now := e.now().UTC()
	admittedBySource := map[string]int{}
	for _, sc := range out.Admitted {
		admittedBySource[sc.Capture.SourceID]++
		rel, content, err := perception.ToInboxMarkdown(sc.Capture, sc.Score, now)
		if err != nil {
			c.recommend("capture %s not rendered: %v", sc.Capture.ID, err)
			continue
		}
		if e.store.Exists(rel) {
			continue
		}
		if err := e.store.WriteAtomic(rel, []byte(content)); err != nil {
			c.recommend("capture %s not written: %v", sc.Capture.ID, err)
			continue
		}
		c.res.Counters.CapturesAdmitted++
		c.act("admitted %q from %s", sc.Capture.Title, sc.Capture.SourceID)
	}

	for _, sc := range out.Surfaced {
		c.surfaced = append(c.surfaced,
			fmt.Sprintf("%s (%s, %.2f)", sc.Capture.Title, sc.Capture.SourceID, sc.Score))
	}

	ids := make([]string, 0, len(polled))
	for id := range polled {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if polled[id] == 0 {
			continue
		}
		noise.Record(id, admittedBySource[id], polled[id], now)
	}

	for _, alert := range noise.Alerts() {
		c.res.NoiseAlerts = append(c.res.NoiseAlerts, alert)
		c.recommend("%s", alert.Recommendation)
		e.telemetry.Emit(telemetry.EventNoiseAlert, map[string]any{
			"source":     alert.SourceID,
			"filterRate": alert.FilterRate,
			"days":       alert.ConsecutiveDays,
		})
	}

	if err := e.perception.WriteCursors(cursors); err != nil {
		c.recommend("cursors not persisted: %v", err)
	}
	if err := e.perception.WriteNoise(noise); err != nil {
		c.recommend("noise tracker not persisted: %v", err)
	}

	e.telemetry.Emit(telemetry.EventPerceptionCycle, map[string]any{
		"sources":  len(e.sources),
		"captures": len(captures),
		"admitted": c.res.Counters.CapturesAdmitted,
		"filtered": out.Filtered,
		"surfaced": len(out.Surfaced),
	})
	return nil
}

type pollOutcome struct {
	id       string
	captures []perception.FeedCapture
	cursor   perception.SourceCursor
	err      error
}

// pollSources polls all sources concurrently, each under its own timeout.
// Cursors are read up front so the goroutines never touch shared maps, and
// failures stay in their slot instead of cancelling siblings.
func (e *Engine) pollSources(ctx context.Context, cursors *perception.CursorFile) []pollOutcome {
	outcomes := make([]pollOutcome, len(e.sources))
	var g errgroup.Group
	for i, src := range e.sources {
		i, src := i, src // per-iteration copies; required under go < 1.22 loop semantics
		cur := cursors.Cursor(src.ID())
		outcomes[i].id = src.ID()
		g.Go(func() error {
			pollCtx, cancel := context.WithTimeout(ctx, feedPollTimeout)
			defer cancel()
			captures, next, err := src.Poll(pollCtx, cur)
			outcomes[i].captures = captures
			outcomes[i].cursor = next
			outcomes[i].err = err
			return nil
		})
	}
	_ = g.Wait() // closures never return errors
	return outcomes
}

// perceptionContext assembles the identity material captures are scored
// against: active commitment labels, identity themes, map names, and the
// current top thoughts.
func (e *Engine) perceptionContext(ctx context.Context, c *cycle) perception.Context {
	pctx := perception.Context{}

	for _, cm := range c.cf.Active() {
		pctx.CommitmentLabels = append(pctx.CommitmentLabels, cm.Label)
	}

	if data, ok, err := e.store.Read(e.store.ResolveSelfFile("identity.md")); err == nil && ok {
		note, _ := vault.ParseNote(string(data))
		pctx.IdentityThemes = vault.SectionBullets(note.Body, "## Themes")
	}

	if eval, topo, err := e.ensureGraph(ctx, c); err == nil {
		for _, m := range topo.Maps {
			pctx.VaultTopics = append(pctx.VaultTopics, m.Name)
		}
		for _, ts := range eval.Top {
			pctx.RecentThoughts = append(pctx.RecentThoughts, ts.Name)
		}
	}
	return pctx
}
