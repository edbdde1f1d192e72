// Package heartbeat runs the engine's autonomous maintenance cycle over a
// vault: poll perception feeds, evaluate conditions and commitments, execute
// queued work, seed new work from the inbox, and synthesize the morning
// brief. One Run is one cycle; the watcher and CLI decide when cycles
// happen.
//
// Phase failures degrade to recommendations on the Result rather than
// aborting the cycle. Only unreadable vault state at initialization is
// fatal.
package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/boshu2/intent/internal/commitment"
	"github.com/boshu2/intent/internal/config"
	"github.com/boshu2/intent/internal/graph"
	"github.com/boshu2/intent/internal/perception"
	"github.com/boshu2/intent/internal/queue"
	"github.com/boshu2/intent/internal/repair"
	"github.com/boshu2/intent/internal/runner"
	"github.com/boshu2/intent/internal/telemetry"
	"github.com/boshu2/intent/internal/vault"
)

const (
	// MaxHeartbeatDepth bounds runner-spawned nesting. At the limit a
	// cycle skips itself instead of recursing through an external runner.
	MaxHeartbeatDepth = 2

	// taskLockTTL is how long an in-progress task stays locked against
	// concurrent engines while its runner works.
	taskLockTTL = 5 * time.Minute

	// feedPollTimeout bounds one perception source poll.
	feedPollTimeout = 30 * time.Second

	// runtimeRetention is how long cycle records and session stubs are
	// kept before end-of-cycle pruning removes them.
	runtimeRetention = 30 * 24 * time.Hour

	// thresholdActionCap bounds non-seed threshold actions per cycle.
	thresholdActionCap = 2
)

// Engine orchestrates heartbeat cycles over a single vault.
type Engine struct {
	store       *vault.Store
	cfg         *config.Config
	queue       *queue.Manager
	commitments *commitment.Store
	perception  *perception.Store
	repairs     *repair.Builder
	telemetry   *telemetry.Recorder
	sources     []perception.Source
	policy      perception.Policy
	runner      runner.TaskRunner
	llm         runner.Synthesizer
	logger      *zap.Logger
	now         func() time.Time
	depth       func() int
}

// New wires an Engine over the vault with the stock collaborators. When the
// config names a runner command it serves both task execution and LLM
// synthesis; without one, execution degrades to advisories and briefs fall
// back to the template.
func New(store *vault.Store, cfg *config.Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:       store,
		cfg:         cfg,
		queue:       queue.NewManager(store, logger),
		commitments: commitment.NewStore(store, logger),
		perception:  perception.NewStore(store, logger),
		repairs:     repair.NewBuilder(store, logger),
		telemetry:   telemetry.New(store, logger),
		policy:      perception.DefaultPolicy(),
		logger:      logger,
		now:         time.Now,
		depth:       runner.Depth,
	}
	if cmd, args := splitCommand(cfg.Engine.RunnerCommand); cmd != "" {
		exec := runner.NewExecRunner(cmd, args, store.Root(), logger)
		exec.Timeout = cfg.RunnerTimeout()
		e.runner = exec
		e.llm = runner.NewExecLLM(cmd, args, store.Root(), logger)
	}
	return e
}

// WithTaskRunner swaps the task runner.
func (e *Engine) WithTaskRunner(r runner.TaskRunner) *Engine {
	e.runner = r
	return e
}

// WithSynthesizer swaps the LLM used for briefs and working memory.
func (e *Engine) WithSynthesizer(s runner.Synthesizer) *Engine {
	e.llm = s
	return e
}

// WithSources sets the perception feeds polled each cycle.
func (e *Engine) WithSources(sources ...perception.Source) *Engine {
	e.sources = sources
	return e
}

// WithPolicy overrides the admission policy.
func (e *Engine) WithPolicy(p perception.Policy) *Engine {
	e.policy = p
	return e
}

// WithClock fixes the engine clock.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// cycle carries one run's working state across phases.
type cycle struct {
	res      *Result
	baseline *queue.File      // queue as first read, for the delta-merge
	qf       *queue.File      // working copy the phases mutate
	cf       *commitment.File // working copy of commitments

	queueDirty       bool
	commitmentsDirty bool

	graph     *graph.Graph
	graphEval *graph.Evaluation
	topology  *graph.TopologyContext

	surfaced  []string // perception highlights for the brief
	actions   []string // human-readable log of what the cycle did
	recordRel string   // evaluation record path, once written
}

func (c *cycle) recommend(format string, args ...any) {
	c.res.Recommendations = append(c.res.Recommendations, fmt.Sprintf(format, args...))
}

func (c *cycle) act(format string, args ...any) {
	c.actions = append(c.actions, fmt.Sprintf(format, args...))
}

// Run executes one heartbeat cycle. The returned Result is always complete;
// the error is non-nil only when vault state cannot be read at all.
func (e *Engine) Run(ctx context.Context) (res *Result, err error) {
	res = newResult(e.now().UTC(), e.cfg.Engine.RunSlot, e.cfg.Engine.DryRun)

	defer func() {
		// The marker always lands, even on skip or failure, so the
		// reset heuristic and outside observers see the attempt.
		if werr := e.writeMarker(); werr != nil {
			e.logger.Warn("heartbeat marker not written", zap.Error(werr))
		}
		res.FinishedAt = e.now().UTC()
	}()

	if d := e.effectiveDepth(); d >= MaxHeartbeatDepth {
		res.Skipped = true
		res.Recommendations = append(res.Recommendations,
			fmt.Sprintf("heartbeat depth %d is at the nesting limit %d; cycle skipped until a human touches the vault", d, MaxHeartbeatDepth))
		e.telemetry.Emit(telemetry.EventHeartbeatRun, map[string]any{
			"slot":    res.Slot,
			"skipped": true,
			"depth":   d,
		})
		return res, nil
	}

	qf, err := e.queue.Read()
	if err != nil {
		return res, fmt.Errorf("read queue: %w", err)
	}
	cf, err := e.commitments.Load()
	if err != nil {
		return res, fmt.Errorf("load commitments: %w", err)
	}
	c := &cycle{res: res, baseline: qf.Clone(), qf: qf, cf: cf}

	type phase struct {
		name string
		run  func(context.Context, *cycle) error
	}
	phases := []phase{
		{"4a", e.phasePerception},
		{"5a", e.phaseEvaluate},
		{"5b", e.phaseExecute},
		{"5c", e.phaseThresholds},
		{"5d", e.phaseGraphRecord},
		{"6", e.phaseBrief},
		{"7", e.phaseWorkingMemory},
	}
	for _, p := range phases {
		if !e.cfg.PhaseEnabled(p.name) {
			continue
		}
		res.PhasesRun = append(res.PhasesRun, p.name)
		if perr := p.run(ctx, c); perr != nil {
			e.logger.Warn("heartbeat phase degraded",
				zap.String("phase", p.name), zap.Error(perr))
			c.recommend("phase %s: %v", p.name, perr)
		}
		if ctx.Err() != nil {
			c.recommend("cycle interrupted: %v", ctx.Err())
			break
		}
	}

	if len(cf.Active()) == 0 {
		c.recommend("No active commitments; add one with `intent commitments add` to focus the engine")
	}

	res.FinishedAt = e.now().UTC()
	e.persist(ctx, c)

	e.telemetry.Emit(telemetry.EventHeartbeatRun, map[string]any{
		"slot":         res.Slot,
		"dryRun":       res.DryRun,
		"phases":       res.PhasesRun,
		"executed":     res.Counters.TasksExecuted,
		"failed":       res.Counters.TasksFailed,
		"admitted":     res.Counters.CapturesAdmitted,
		"briefWritten": res.BriefWritten,
	})
	return res, nil
}

// persist flushes cycle mutations in dependency order: commitments first,
// then the queue via delta-merge against a fresh read, then runtime
// pruning. Dry runs never reach disk.
func (e *Engine) persist(ctx context.Context, c *cycle) {
	if e.cfg.Engine.DryRun {
		return
	}
	now := e.now().UTC()

	if c.commitmentsDirty {
		if err := e.commitments.WithLock(ctx, func() error {
			return e.commitments.Write(c.cf)
		}); err != nil {
			c.recommend("commitments not persisted: %v", err)
		}
	}

	if c.queueDirty {
		if removed := queue.PruneInMemory(c.qf, now); removed > 0 {
			e.logger.Debug("pruned done tasks", zap.Int("removed", removed))
		}
		if _, err := e.queue.WriteMerged(ctx, c.baseline, c.qf); err != nil {
			c.recommend("queue not persisted: %v", err)
		}
	}

	e.writeCycleRecord(c)
	e.pruneRuntime(now)
}

// writeCycleRecord snapshots the Result under ops/runtime/cycles/ for the
// status command and post-hoc debugging.
func (e *Engine) writeCycleRecord(c *cycle) {
	rel := path.Join(vault.CyclesDir, c.res.StartedAt.Format("20060102T150405Z")+".json")
	data, err := json.MarshalIndent(c.res, "", "  ")
	if err == nil {
		err = e.store.WriteAtomic(rel, data)
	}
	if err != nil {
		e.logger.Warn("cycle record not written", zap.Error(err))
	}
}

// pruneRuntime drops cycle records and non-mineable session stubs older
// than the retention window. Mineable sessions stay until mined.
func (e *Engine) pruneRuntime(now time.Time) {
	cutoff := now.Add(-runtimeRetention)

	names, err := e.store.ListDir(vault.CyclesDir)
	if err == nil {
		for _, name := range names {
			rel := path.Join(vault.CyclesDir, name)
			info, ok, err := e.store.Stat(rel)
			if err != nil || !ok || !info.ModTime().Before(cutoff) {
				continue
			}
			if err := e.store.Remove(rel); err != nil {
				e.logger.Warn("cycle record not pruned", zap.String("file", rel), zap.Error(err))
			}
		}
	}

	names, err = e.store.ListDir(vault.SessionsDir)
	if err != nil {
		return
	}
	for _, name := range names {
		rel := path.Join(vault.SessionsDir, name)
		info, ok, err := e.store.Stat(rel)
		if err != nil || !ok || !info.ModTime().Before(cutoff) {
			continue
		}
		data, ok, err := e.store.Read(rel)
		if err != nil || !ok || mineableSession(name, data) {
			continue
		}
		if err := e.store.Remove(rel); err != nil {
			e.logger.Warn("session stub not pruned", zap.String("file", rel), zap.Error(err))
		}
	}
}

// writeMarker stamps ops/.heartbeat-marker with the current time.
func (e *Engine) writeMarker() error {
	stamp := e.now().UTC().Format(time.RFC3339) + "\n"
	return e.store.WriteAtomic(vault.MarkerFile, []byte(stamp))
}

// effectiveDepth reads the nesting depth, reset to zero when the marker
// predates the newest thought: a human wrote since the engine last ran, so
// the chain of runner-spawned cycles is broken.
func (e *Engine) effectiveDepth() int {
	d := e.depth()
	if d == 0 {
		return 0
	}
	if e.humanActivitySinceMarker() {
		return 0
	}
	return d
}

func (e *Engine) humanActivitySinceMarker() bool {
	marker, ok, err := e.store.Stat(vault.MarkerFile)
	if err != nil || !ok {
		return false
	}
	newest := e.newestThoughtTime()
	return !newest.IsZero() && newest.After(marker.ModTime())
}

func (e *Engine) newestThoughtTime() time.Time {
	files, err := e.store.ListMarkdown(vault.ThoughtsDir)
	if err != nil {
		return time.Time{}
	}
	var newest time.Time
	for _, rel := range files {
		info, ok, err := e.store.Stat(rel)
		if err != nil || !ok {
			continue
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	return newest
}

// ensureGraph scans and scores the thought graph once per cycle; every
// phase that needs graph state shares the same pass.
func (e *Engine) ensureGraph(ctx context.Context, c *cycle) (*graph.Evaluation, *graph.TopologyContext, error) {
	if c.graphEval != nil {
		return c.graphEval, c.topology, nil
	}
	g, err := graph.NewScanner(e.store, e.logger, 0).Scan(ctx)
	if err != nil {
		return nil, nil, err
	}
	eval := graph.Evaluate(g, e.now().UTC())
	topo := graph.Topology(g)
	c.graph = g
	c.graphEval = &eval
	c.topology = &topo
	return c.graphEval, c.topology, nil
}

// splitCommand splits a configured runner command into binary and args.
// Plain whitespace splitting; quoting belongs in a wrapper script.
func splitCommand(raw string) (string, []string) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}
