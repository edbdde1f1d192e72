package main

import (
	"fmt"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/boshu2/intent/internal/formatter"
	"github.com/boshu2/intent/internal/queue"
)

var (
	queueListStatus string
	queueListPhase  string
	queuePushPhase  string
	queuePushSource string
	queuePushType   string
	queuePushMode   string
	queuePushBatch  string
	queuePopTTL     time.Duration
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and mutate the task queue",
	Long: `Work with ops/queue/queue.json directly.

The heartbeat normally owns the queue; these commands exist for
inspection, manual seeding, and external runners that pop work
themselves.`,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queue tasks",
	RunE:  runQueueList,
}

var queuePushCmd = &cobra.Command{
	Use:   "push <target>",
	Short: "Push a pending task onto the queue",
	Long: `Push a pending task. The target names the work (usually a vault-relative
note path or a maintenance action); the phase places it in the pipeline
chain surface -> reflect -> revisit -> verify.

Duplicate task ids are dropped, so pushing is idempotent per id.`,
	Args: cobra.ExactArgs(1),
	RunE: runQueuePush,
}

var queuePopCmd = &cobra.Command{
	Use:   "pop",
	Short: "Pop the next eligible task",
	Long: `Pop the next pending or retryable task in queue order.

Without --lock-ttl the task is removed outright. With it, the task stays
in the file as in-progress under a lock that expires after the TTL, the
way the engine's own runner claims work.`,
	RunE: runQueuePop,
}

var queuePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop done tasks older than the retention window",
	RunE:  runQueuePrune,
}

func init() {
	queueListCmd.Flags().StringVar(&queueListStatus, "status", "", "Only tasks with this status")
	queueListCmd.Flags().StringVar(&queueListPhase, "phase", "", "Only tasks in this phase")
	queuePushCmd.Flags().StringVar(&queuePushPhase, "phase", string(queue.PhaseSurface), "Pipeline phase (surface, reflect, revisit, verify)")
	queuePushCmd.Flags().StringVar(&queuePushSource, "source", "", "Vault-relative source path the task works on")
	queuePushCmd.Flags().StringVar(&queuePushType, "type", "", "Task type tag")
	queuePushCmd.Flags().StringVar(&queuePushMode, "mode", string(queue.ModeOrchestrated), "Execution mode (orchestrated, interactive)")
	queuePushCmd.Flags().StringVar(&queuePushBatch, "batch", "", "Batch label")
	queuePopCmd.Flags().DurationVar(&queuePopTTL, "lock-ttl", 0, "Leave the task in-progress under a lock for this long")
	queueCmd.AddCommand(queueListCmd, queuePushCmd, queuePopCmd, queuePruneCmd)
	rootCmd.AddCommand(queueCmd)
}

func runQueueList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	qf, err := queue.NewManager(store, logger).Read()
	if err != nil {
		return err
	}

	tasks := qf.Tasks
	if queueListStatus != "" || queueListPhase != "" {
		filtered := tasks[:0:0]
		for _, t := range tasks {
			if queueListStatus != "" && string(t.Status) != queueListStatus {
				continue
			}
			if queueListPhase != "" && string(t.Phase) != queueListPhase {
				continue
			}
			filtered = append(filtered, t)
		}
		tasks = filtered
	}

	if GetOutput() == "json" {
		return printJSON(tasks)
	}
	if len(tasks) == 0 {
		fmt.Println("Queue is empty.")
		return nil
	}
	return formatter.QueueTable(os.Stdout, tasks)
}

func runQueuePush(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	phase := queue.Phase(queuePushPhase)
	if queue.CoercePhase(queuePushPhase) != phase {
		return fmt.Errorf("invalid phase %q (valid: surface, reflect, revisit, verify)", queuePushPhase)
	}
	mode := queue.ExecutionMode(queuePushMode)
	if mode != queue.ModeOrchestrated && mode != queue.ModeInteractive {
		return fmt.Errorf("invalid mode %q (valid: orchestrated, interactive)", queuePushMode)
	}

	task := queue.Task{
		TaskID:        "task-" + ulid.Make().String(),
		VaultID:       store.ID(),
		Target:        args[0],
		SourcePath:    queuePushSource,
		Phase:         phase,
		Status:        queue.StatusPending,
		Type:          queuePushType,
		ExecutionMode: mode,
	}
	if queuePushBatch != "" {
		task.Batch = queuePushBatch
	}

	added, err := queue.NewManager(store, logger).Push(cmd.Context(), task)
	if err != nil {
		return err
	}
	if !added {
		fmt.Printf("Task %s already queued, nothing to do\n", task.TaskID)
		return nil
	}
	fmt.Printf("✓ Queued %s [%s] %s\n", task.TaskID, task.Phase, task.Target)
	return nil
}

func runQueuePop(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	task, err := queue.NewManager(store, logger).Pop(cmd.Context(), queue.PopOptions{LockTTL: queuePopTTL})
	if err != nil {
		return err
	}
	if task == nil {
		fmt.Println("No eligible task.")
		return nil
	}
	if GetOutput() == "json" {
		return printJSON(task)
	}
	fmt.Printf("✓ Popped %s [%s/%s] %s\n", task.TaskID, task.Phase, task.Status, task.Target)
	if task.LockedUntil != nil {
		fmt.Printf("  locked until %s\n", task.LockedUntil.Format(time.RFC3339))
	}
	return nil
}

func runQueuePrune(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	removed, err := queue.NewManager(store, logger).Prune(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("✓ Pruned %d done task(s)\n", removed)
	return nil
}
