package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/boshu2/intent/internal/config"
	"github.com/boshu2/intent/internal/vault"
)

var configShow bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show resolved configuration",
	Long: `View engine configuration with sources.

Configuration priority (highest to lowest):
  1. Command-line flags
  2. Environment variables (INTENT_*)
  3. Vault config (ops/config.yaml)
  4. Defaults

Environment variables:
  INTENT_CONFIG            - Explicit config file path
  INTENT_PHASES            - Comma-separated cycle phases
  INTENT_RUN_SLOT          - Run slot (morning, evening, overnight, manual)
  INTENT_DRY_RUN           - Report without writing (true/1)
  INTENT_MAX_ACTIONS       - Max tasks executed per cycle
  INTENT_TASK_SELECTION    - queue-first or aligned-first
  INTENT_REPAIR_MODE       - queue-only or execute
  INTENT_THRESHOLD_MODE    - queue-only or execute
  INTENT_RUNNER_COMMAND    - External runner command
  INTENT_RUNNER_TIMEOUT_MS - Runner timeout in milliseconds

Examples:
  intent config --show           # Show resolved configuration
  intent config --show -o json   # Output as JSON`,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configShow, "show", false, "Show resolved configuration with sources")
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	if !configShow {
		// Show help if no flags
		return cmd.Help()
	}

	store, err := openStore()
	if err != nil {
		return err
	}

	resolved := config.Resolve(store.Root(), GetConfigFile(), nil)

	if GetOutput() == "json" {
		data, err := json.MarshalIndent(resolved, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println("intent Configuration")
	fmt.Println("====================")
	fmt.Println()

	vaultConfig := store.Abs(vault.ConfigFile)
	if _, err := os.Stat(vaultConfig); err == nil {
		fmt.Printf("Config file: ✓ %s\n", vaultConfig)
	} else {
		fmt.Printf("Config file: ✗ %s (not found, using defaults)\n", vaultConfig)
	}

	fmt.Println()
	fmt.Println("Resolved values:")
	fmt.Printf("  run_slot:            %v  (from %s)\n", resolved.RunSlot.Value, resolved.RunSlot.Source)
	fmt.Printf("  dry_run:             %v  (from %s)\n", resolved.DryRun.Value, resolved.DryRun.Source)
	fmt.Printf("  max_actions_per_run: %v  (from %s)\n", resolved.MaxActionsPerRun.Value, resolved.MaxActionsPerRun.Source)
	fmt.Printf("  task_selection:      %v  (from %s)\n", resolved.TaskSelection.Value, resolved.TaskSelection.Source)
	fmt.Printf("  repair_mode:         %v  (from %s)\n", resolved.RepairMode.Value, resolved.RepairMode.Source)
	fmt.Printf("  threshold_mode:      %v  (from %s)\n", resolved.ThresholdMode.Value, resolved.ThresholdMode.Source)
	fmt.Printf("  runner_command:      %v  (from %s)\n", resolved.RunnerCommand.Value, resolved.RunnerCommand.Source)
	fmt.Printf("  runner_timeout_ms:   %v  (from %s)\n", resolved.RunnerTimeoutMs.Value, resolved.RunnerTimeoutMs.Source)

	fmt.Println()
	fmt.Println("Environment variables (if set):")
	envVars := []string{
		"INTENT_CONFIG",
		"INTENT_PHASES",
		"INTENT_RUN_SLOT",
		"INTENT_DRY_RUN",
		"INTENT_MAX_ACTIONS",
		"INTENT_TASK_SELECTION",
		"INTENT_REPAIR_MODE",
		"INTENT_THRESHOLD_MODE",
		"INTENT_RUNNER_COMMAND",
		"INTENT_RUNNER_TIMEOUT_MS",
	}
	anySet := false
	for _, env := range envVars {
		if v := os.Getenv(env); v != "" {
			fmt.Printf("  %s=%s\n", env, v)
			anySet = true
		}
	}
	if !anySet {
		fmt.Println("  (none set)")
	}

	return nil
}
