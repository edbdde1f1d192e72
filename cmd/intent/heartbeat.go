package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/boshu2/intent/internal/config"
	"github.com/boshu2/intent/internal/heartbeat"
	"github.com/boshu2/intent/internal/perception"
	"github.com/boshu2/intent/internal/queue"
	"github.com/boshu2/intent/internal/vault"
)

var (
	hbSlot          string
	hbPhases        string
	hbDryRun        bool
	hbMaxActions    int
	hbTaskSelection string
	hbRepairMode    string
	hbThresholdMode string
	hbRunnerCmd     string
	hbRunnerTimeout int
	hbPlan          bool
)

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Run one heartbeat cycle",
	Long: `Run one cycle over the vault: poll feeds into the inbox, evaluate
commitments, execute a bounded slice of the queue, check maintenance
thresholds, and refresh the morning brief when the slot calls for it.

Flags override environment variables (INTENT_*), which override
ops/config.yaml, which overrides defaults.

Examples:
  intent heartbeat                          # manual slot, full cycle
  intent heartbeat --slot morning           # brief-eligible slot
  intent heartbeat --dry-run                # report, change nothing
  intent heartbeat --phases 4a,5a           # perception + evaluation only
  intent heartbeat --plan | my-orchestrator # emit planner input JSON`,
	RunE: runHeartbeat,
}

func init() {
	heartbeatCmd.Flags().StringVar(&hbSlot, "slot", "", "Run slot (morning, evening, overnight, manual)")
	heartbeatCmd.Flags().StringVar(&hbPhases, "phases", "", "Comma-separated phases to run (default all: 4a,5a,5b,5c,5d,6,7)")
	heartbeatCmd.Flags().BoolVar(&hbDryRun, "dry-run", false, "Report what the cycle would do without writing state")
	heartbeatCmd.Flags().IntVar(&hbMaxActions, "max-actions", 0, "Max queue tasks to execute this cycle (0 = advisory only)")
	heartbeatCmd.Flags().StringVar(&hbTaskSelection, "task-selection", "", "Task selection strategy (queue-first, aligned-first)")
	heartbeatCmd.Flags().StringVar(&hbRepairMode, "repair-mode", "", "Failed-task handling (queue-only, execute)")
	heartbeatCmd.Flags().StringVar(&hbThresholdMode, "threshold-mode", "", "Threshold-action handling (queue-only, execute)")
	heartbeatCmd.Flags().StringVar(&hbRunnerCmd, "runner-cmd", "", "External runner command for task execution and synthesis")
	heartbeatCmd.Flags().IntVar(&hbRunnerTimeout, "runner-timeout", 0, "Runner timeout in milliseconds")
	heartbeatCmd.Flags().BoolVar(&hbPlan, "plan", false, "Print planner input JSON instead of the cycle summary")
	rootCmd.AddCommand(heartbeatCmd)
}

func runHeartbeat(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	cfg, err := loadEngineConfig(cmd, store)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := heartbeat.New(store, cfg, logger).
		WithSources(feedSources(store, logger)...)
	res, err := eng.Run(ctx)
	if err != nil {
		return err
	}

	if hbPlan {
		return printPlan(store, cfg, res)
	}
	if GetOutput() == "json" {
		return printJSON(res)
	}
	printHeartbeatResult(res)
	return nil
}

// loadEngineConfig resolves engine config with heartbeat flags layered on
// top. An unreadable vault config degrades to defaults with a warning; an
// invalid resolved config is fatal.
func loadEngineConfig(cmd *cobra.Command, store *vault.Store) (*config.Config, error) {
	overrides := &config.Config{}
	overrides.Engine.RunSlot = hbSlot
	overrides.Engine.DryRun = hbDryRun
	overrides.Engine.MaxActionsPerRun = hbMaxActions
	overrides.Engine.TaskSelection = hbTaskSelection
	overrides.Engine.RepairMode = hbRepairMode
	overrides.Engine.ThresholdMode = hbThresholdMode
	overrides.Engine.RunnerCommand = hbRunnerCmd
	overrides.Engine.RunnerTimeoutMs = hbRunnerTimeout
	if hbPhases != "" {
		for _, p := range strings.Split(hbPhases, ",") {
			if p = strings.TrimSpace(p); p != "" {
				overrides.Engine.Phases = append(overrides.Engine.Phases, p)
			}
		}
	}

	cfg, err := config.Load(store.Root(), GetConfigFile(), overrides)
	if err != nil {
		logger.Warn("vault config not fully loaded", zap.Error(err))
	}
	// Zero means unset in the merge, so an explicit 0 is re-applied here.
	if cmd.Flags().Changed("max-actions") {
		cfg.Engine.MaxActionsPerRun = hbMaxActions
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// feedSources discovers perception feeds from ops/feeds/. Every
// subdirectory is a filedrop feed; a subdirectory holding a feed.cmd file
// becomes an exec feed running that command instead. The manual filedrop
// feed always exists so 'intent capture' has somewhere to land.
func feedSources(store *vault.Store, logger *zap.Logger) []perception.Source {
	var sources []perception.Source
	manualSeen := false

	names, err := store.ListDir(vault.FeedsDir)
	if err == nil {
		for _, name := range names {
			rel := filepath.Join(vault.FeedsDir, name)
			info, ok, err := store.Stat(rel)
			if err != nil || !ok || !info.IsDir() {
				continue
			}
			if name == "manual" {
				manualSeen = true
			}
			if raw, ok, _ := store.Read(filepath.Join(rel, "feed.cmd")); ok {
				command, cmdArgs := splitFeedCommand(string(raw))
				if command != "" {
					sources = append(sources, perception.NewExecSource(name, command, cmdArgs, store.Root(), 0, logger))
					continue
				}
			}
			sources = append(sources, perception.NewFiledropSource(name, store, logger))
		}
	}
	if !manualSeen {
		sources = append(sources, perception.NewFiledropSource("manual", store, logger))
	}
	return sources
}

// splitFeedCommand parses the first non-comment line of a feed.cmd file.
func splitFeedCommand(raw string) (string, []string) {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		return fields[0], fields[1:]
	}
	return "", nil
}

// printPlan projects the cycle result into planner input on stdout.
func printPlan(store *vault.Store, cfg *config.Config, res *heartbeat.Result) error {
	qf, err := queue.NewManager(store, logger).Read()
	if err != nil {
		return fmt.Errorf("read queue for plan: %w", err)
	}
	port := planningPort(cfg, res)
	plan := heartbeat.PlanningInputFrom(res, store.ID(), queue.Excerpt(qf, 10), port)
	return printJSON(plan)
}

// planningPort derives how much authority the plan consumer gets. Advisory
// engines (max actions 0) hand out advice only; execute-mode thresholds
// whitelist their own actions.
func planningPort(cfg *config.Config, res *heartbeat.Result) heartbeat.ExecutionPort {
	if cfg.Engine.MaxActionsPerRun == 0 {
		return heartbeat.ExecutionPort{Authority: "advise"}
	}
	port := heartbeat.ExecutionPort{Authority: "queue"}
	if cfg.Engine.ThresholdMode == "execute" {
		port.Authority = "execute"
		port.AutoExecute = make(map[string]bool, len(res.Conditions))
		for _, cond := range res.Conditions {
			port.AutoExecute[heartbeat.ActionFor(cond.Name).Name] = true
		}
	}
	return port
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printHeartbeatResult(res *heartbeat.Result) {
	if res.Skipped {
		fmt.Printf("Cycle skipped (%s slot): nested heartbeat depth reached\n", res.Slot)
		return
	}

	headline := "Cycle complete"
	if res.DryRun {
		headline = "Dry run complete"
	}
	fmt.Printf("✓ %s (%s slot, %s)\n", headline, res.Slot, res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	fmt.Printf("  phases: %s\n", strings.Join(res.PhasesRun, " "))

	ct := res.Counters
	fmt.Println()
	fmt.Printf("  captures:  %d admitted, %d filtered\n", ct.CapturesAdmitted, ct.CapturesFiltered)
	fmt.Printf("  tasks:     %d executed (%d ok, %d failed), %d advisory, %d deferred\n",
		ct.TasksExecuted, ct.TasksSucceeded, ct.TasksFailed, ct.TasksAdvisory, ct.TasksDeferred)
	fmt.Printf("  repairs:   %d queued, %d skipped\n", ct.RepairsQueued, ct.RepairsSkipped)
	fmt.Printf("  seeded:    %d inbox, %d threshold tasks\n", ct.InboxSeeded, ct.ThresholdTasks)

	if len(res.Conditions) > 0 {
		fmt.Println()
		fmt.Println("Conditions over threshold:")
		for _, cond := range res.Conditions {
			fmt.Printf("  %-24s %d over %d -> %s\n", cond.Name, cond.Count, cond.Threshold, cond.Action)
		}
	}

	if len(res.Triggered) > 0 {
		fmt.Println()
		fmt.Println("Tasks touched:")
		for _, task := range res.Triggered {
			icon := "✓"
			switch {
			case !task.Executed:
				icon = "·"
			case !task.Success:
				icon = "✗"
			}
			detail := task.Advisory
			if task.Detail != "" {
				detail = task.Detail
			}
			fmt.Printf("  %s %s [%s] %s\n", icon, task.TaskID, task.Phase, detail)
		}
	}

	if len(res.NoiseAlerts) > 0 {
		fmt.Println()
		fmt.Println("Noisy feeds:")
		for _, alert := range res.NoiseAlerts {
			fmt.Printf("  %s (%s)\n", alert.String(), alert.Recommendation)
		}
	}

	if len(res.Recommendations) > 0 {
		fmt.Println()
		fmt.Println("Recommendations:")
		for _, rec := range res.Recommendations {
			fmt.Printf("  - %s\n", rec)
		}
	}

	if res.BriefWritten {
		fmt.Println()
		fmt.Printf("Morning brief: %s\n", res.BriefPath)
	}
}
