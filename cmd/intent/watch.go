package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/boshu2/intent/internal/config"
	"github.com/boshu2/intent/internal/heartbeat"
	"github.com/boshu2/intent/internal/vault"
	"github.com/boshu2/intent/internal/watch"
)

var (
	watchDebounce time.Duration
	watchCooldown time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the heartbeat daemon",
	Long: `Keep cycles firing without a human in the loop.

The daemon watches inbox/ and thoughts/ for markdown activity and runs
a cycle once writes settle, and fires the morning, evening, and
overnight slots at their configured wall-clock times. One catch-up
cycle runs at startup.

A PID file under ops/locks/ keeps a second daemon off the same vault.
Stop with Ctrl-C or SIGTERM.

Examples:
  intent watch
  intent watch --debounce 2s      # calmer editors
  intent watch --cooldown 0       # no post-cycle suppression`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watch.DefaultDebounce, "How long file activity must settle before a cycle fires")
	watchCmd.Flags().DurationVar(&watchCooldown, "cooldown", 10*time.Second, "Suppress activity triggers for this long after a cycle (0 disables)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	cfg, err := config.Load(store.Root(), GetConfigFile(), nil)
	if err != nil {
		logger.Warn("vault config not fully loaded", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	daemon := watch.New(store, watchCycle(store), logger).
		WithSlots(cfg.DesiredState.Slots).
		WithDebounce(watchDebounce)
	if cmd.Flags().Changed("cooldown") {
		daemon.WithCooldown(watchCooldown)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Watching %s (slots %s / %s / %s). Ctrl-C to stop.\n",
		store.Root(), cfg.DesiredState.Slots.Morning, cfg.DesiredState.Slots.Evening, cfg.DesiredState.Slots.Overnight)
	return daemon.Run(ctx)
}

// watchCycle builds the cycle the daemon fires. Config is reloaded per fire
// so edits to ops/config.yaml apply without a restart.
func watchCycle(store *vault.Store) watch.CycleFunc {
	return func(ctx context.Context, slot string) error {
		cfg, err := config.Load(store.Root(), GetConfigFile(), nil)
		if err != nil {
			logger.Warn("vault config not fully loaded", zap.Error(err))
		}
		cfg.Engine.RunSlot = slot
		if err := cfg.Validate(); err != nil {
			return err
		}

		eng := heartbeat.New(store, cfg, logger).
			WithSources(feedSources(store, logger)...)
		res, err := eng.Run(ctx)
		if err != nil {
			return err
		}

		line := fmt.Sprintf("[%s] %s slot: %d admitted, %d executed, %d failed",
			time.Now().Format("15:04:05"), res.Slot,
			res.Counters.CapturesAdmitted, res.Counters.TasksExecuted, res.Counters.TasksFailed)
		if res.BriefWritten {
			line += ", brief written"
		}
		if res.Skipped {
			line = fmt.Sprintf("[%s] %s slot: skipped (depth limit)", time.Now().Format("15:04:05"), res.Slot)
		}
		fmt.Println(line)
		return nil
	}
}
