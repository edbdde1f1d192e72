// Package config provides configuration management for the intent engine.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (INTENT_*)
// 3. Vault config (ops/config.yaml)
// 4. Defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/boshu2/intent/internal/vault"
)

// Config holds all intent configuration.
type Config struct {
	// Engine holds heartbeat cycle inputs.
	Engine EngineConfig `yaml:"engine" json:"engine"`

	// Maintenance holds threshold conditions checked during evaluation.
	Maintenance MaintenanceConfig `yaml:"maintenance" json:"maintenance"`

	// DesiredState holds target-state knobs (slot times, brief staleness).
	DesiredState DesiredStateConfig `yaml:"desired_state" json:"desired_state"`

	// Path is the config file path this Config was resolved against.
	Path string `yaml:"-" json:"-"`
}

// EngineConfig holds heartbeat engine settings.
type EngineConfig struct {
	// Phases selects which cycle phases run. Empty means all.
	// Valid names: 4a, 5a, 5b, 5c, 5d, 6, 7.
	Phases []string `yaml:"phases" json:"phases"`

	// RunSlot labels the cycle's time-of-day context.
	// Values: "morning", "evening", "overnight", "manual" (default).
	// Overnight and evening slots skip the morning brief.
	RunSlot string `yaml:"run_slot" json:"run_slot"`

	// DryRun records would-be task executions as advisories instead of running them.
	DryRun bool `yaml:"dry_run" json:"dry_run"`

	// MaxActionsPerRun caps task executions per cycle. Default: 3.
	MaxActionsPerRun int `yaml:"max_actions_per_run" json:"max_actions_per_run"`

	// TaskSelection picks the execution candidate strategy.
	// Values: "queue-first" (default), "aligned-first".
	TaskSelection string `yaml:"task_selection" json:"task_selection"`

	// RepairMode controls whether repair tasks execute or only queue.
	// Values: "queue-only" (default), "execute".
	RepairMode string `yaml:"repair_mode" json:"repair_mode"`

	// ThresholdMode controls whether threshold actions execute or only queue.
	// Values: "queue-only" (default), "execute".
	ThresholdMode string `yaml:"threshold_mode" json:"threshold_mode"`

	// RunnerCommand is the external shell command tasks are dispatched to.
	// Empty disables execution (tasks queue but never run).
	RunnerCommand string `yaml:"runner_command" json:"runner_command"`

	// RunnerTimeoutMs bounds a single task runner invocation. Default: 1800000 (30m).
	RunnerTimeoutMs int `yaml:"runner_timeout_ms" json:"runner_timeout_ms"`
}

// MaintenanceConfig holds maintenance settings.
type MaintenanceConfig struct {
	Conditions ConditionsConfig `yaml:"conditions" json:"conditions"`
}

// ConditionsConfig holds the thresholds the evaluation phase checks.
// A count strictly above its threshold flags the condition.
type ConditionsConfig struct {
	// InboxThreshold flags inbox/ backlog. Default: 5.
	InboxThreshold int `yaml:"inbox_threshold" json:"inbox_threshold"`

	// OrphanThreshold flags unlinked thoughts found by graph evaluation. Default: 10.
	OrphanThreshold int `yaml:"orphan_threshold" json:"orphan_threshold"`

	// ObservationThreshold flags ops/observations/ backlog. Default: 7.
	ObservationThreshold int `yaml:"observation_threshold" json:"observation_threshold"`

	// TensionThreshold flags ops/tensions/ backlog. Default: 3.
	TensionThreshold int `yaml:"tension_threshold" json:"tension_threshold"`

	// UnprocessedSessionsThreshold flags mineable ops/sessions/ files. Default: 5.
	UnprocessedSessionsThreshold int `yaml:"unprocessed_sessions_threshold" json:"unprocessed_sessions_threshold"`

	// StaleDaysThreshold flags a vault whose newest thought is older than
	// this many days. Default: 14.
	StaleDaysThreshold int `yaml:"stale_days_threshold" json:"stale_days_threshold"`
}

// DesiredStateConfig holds target-state knobs.
type DesiredStateConfig struct {
	// Slots holds wall-clock times for the watch daemon's scheduled cycles.
	Slots SlotTimes `yaml:"slots" json:"slots"`

	// BriefStaleHours is how old the morning brief may get before a cycle
	// regenerates it even without new actions. Default: 12.
	BriefStaleHours int `yaml:"brief_stale_hours" json:"brief_stale_hours"`

	// AutoSeedLimit caps inbox items auto-seeded into the queue per cycle.
	// Ignored for overnight slots, which seed without bound. Default: 3.
	AutoSeedLimit int `yaml:"auto_seed_limit" json:"auto_seed_limit"`
}

// SlotTimes holds HH:MM local times for scheduled slots.
type SlotTimes struct {
	Morning   string `yaml:"morning" json:"morning"`
	Evening   string `yaml:"evening" json:"evening"`
	Overnight string `yaml:"overnight" json:"overnight"`
}

// Default config values (used in resolution and validation).
const (
	defaultRunSlot         = "manual"
	defaultMaxActions      = 3
	defaultTaskSelection   = "queue-first"
	defaultRepairMode      = "queue-only"
	defaultThresholdMode   = "queue-only"
	defaultRunnerTimeoutMs = 1_800_000
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			RunSlot:          defaultRunSlot,
			MaxActionsPerRun: defaultMaxActions,
			TaskSelection:    defaultTaskSelection,
			RepairMode:       defaultRepairMode,
			ThresholdMode:    defaultThresholdMode,
			RunnerTimeoutMs:  defaultRunnerTimeoutMs,
		},
		Maintenance: MaintenanceConfig{
			Conditions: ConditionsConfig{
				InboxThreshold:               5,
				OrphanThreshold:              10,
				ObservationThreshold:         7,
				TensionThreshold:             3,
				UnprocessedSessionsThreshold: 5,
				StaleDaysThreshold:           14,
			},
		},
		DesiredState: DesiredStateConfig{
			Slots: SlotTimes{
				Morning:   "07:00",
				Evening:   "19:00",
				Overnight: "02:00",
			},
			BriefStaleHours: 12,
			AutoSeedLimit:   3,
		},
	}
}

// Load loads configuration with proper precedence.
// Priority: flags > env > vault config > defaults.
// The returned Config is always usable: when the vault config file is
// malformed the defaults (plus env and flags) are returned alongside the
// error so the caller can warn and proceed.
func Load(vaultRoot, overridePath string, flagOverrides *Config) (*Config, error) {
	cfg := Default()

	path := resolvePath(vaultRoot, overridePath)
	fileConfig, err := loadFromPath(path)
	if fileConfig != nil {
		cfg = merge(cfg, fileConfig)
	}

	cfg = applyEnv(cfg)

	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	cfg.Path = path
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// resolvePath returns the config file path. An explicit override wins,
// then INTENT_CONFIG, then the vault's ops/config.yaml.
func resolvePath(vaultRoot, overridePath string) string {
	if overridePath != "" {
		return overridePath
	}
	if v := strings.TrimSpace(os.Getenv("INTENT_CONFIG")); v != "" {
		return v
	}
	if vaultRoot == "" {
		return ""
	}
	return filepath.Join(vaultRoot, vault.ConfigFile)
}

// loadFromPath loads config from a YAML file.
func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("INTENT_PHASES"); v != "" {
		cfg.Engine.Phases = splitPhases(v)
	}
	if v := os.Getenv("INTENT_RUN_SLOT"); v != "" {
		cfg.Engine.RunSlot = v
	}
	if v := os.Getenv("INTENT_DRY_RUN"); v == "true" || v == "1" {
		cfg.Engine.DryRun = true
	}
	if v, ok := getEnvInt("INTENT_MAX_ACTIONS"); ok {
		cfg.Engine.MaxActionsPerRun = v
	}
	if v := os.Getenv("INTENT_TASK_SELECTION"); v != "" {
		cfg.Engine.TaskSelection = v
	}
	if v := os.Getenv("INTENT_REPAIR_MODE"); v != "" {
		cfg.Engine.RepairMode = v
	}
	if v := os.Getenv("INTENT_THRESHOLD_MODE"); v != "" {
		cfg.Engine.ThresholdMode = v
	}
	if v := os.Getenv("INTENT_RUNNER_COMMAND"); v != "" {
		cfg.Engine.RunnerCommand = v
	}
	if v, ok := getEnvInt("INTENT_RUNNER_TIMEOUT_MS"); ok {
		cfg.Engine.RunnerTimeoutMs = v
	}
	return cfg
}

// splitPhases parses a comma-separated phase list.
func splitPhases(v string) []string {
	var phases []string
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			phases = append(phases, p)
		}
	}
	return phases
}

// getEnvInt returns the parsed value and whether the env var held an integer.
func getEnvInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// mergeStr overwrites dst with src when src is non-empty.
func mergeStr(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

// mergeInt overwrites dst with src when src is non-zero.
func mergeInt(dst *int, src int) {
	if src != 0 {
		*dst = src
	}
}

// merge merges src into dst, with src values taking precedence.
// Booleans use OR semantics: a higher layer can enable but not disable.
func merge(dst, src *Config) *Config {
	mergeEngine(&dst.Engine, &src.Engine)
	mergeConditions(&dst.Maintenance.Conditions, &src.Maintenance.Conditions)
	mergeDesiredState(&dst.DesiredState, &src.DesiredState)
	return dst
}

// mergeEngine merges engine config fields.
func mergeEngine(dst, src *EngineConfig) {
	if len(src.Phases) > 0 {
		dst.Phases = src.Phases
	}
	mergeStr(&dst.RunSlot, src.RunSlot)
	if src.DryRun {
		dst.DryRun = true
	}
	mergeInt(&dst.MaxActionsPerRun, src.MaxActionsPerRun)
	mergeStr(&dst.TaskSelection, src.TaskSelection)
	mergeStr(&dst.RepairMode, src.RepairMode)
	mergeStr(&dst.ThresholdMode, src.ThresholdMode)
	mergeStr(&dst.RunnerCommand, src.RunnerCommand)
	mergeInt(&dst.RunnerTimeoutMs, src.RunnerTimeoutMs)
}

// mergeConditions merges threshold config fields.
func mergeConditions(dst, src *ConditionsConfig) {
	mergeInt(&dst.InboxThreshold, src.InboxThreshold)
	mergeInt(&dst.OrphanThreshold, src.OrphanThreshold)
	mergeInt(&dst.ObservationThreshold, src.ObservationThreshold)
	mergeInt(&dst.TensionThreshold, src.TensionThreshold)
	mergeInt(&dst.UnprocessedSessionsThreshold, src.UnprocessedSessionsThreshold)
	mergeInt(&dst.StaleDaysThreshold, src.StaleDaysThreshold)
}

// mergeDesiredState merges desired-state config fields.
func mergeDesiredState(dst, src *DesiredStateConfig) {
	mergeStr(&dst.Slots.Morning, src.Slots.Morning)
	mergeStr(&dst.Slots.Evening, src.Slots.Evening)
	mergeStr(&dst.Slots.Overnight, src.Slots.Overnight)
	mergeInt(&dst.BriefStaleHours, src.BriefStaleHours)
	mergeInt(&dst.AutoSeedLimit, src.AutoSeedLimit)
}

// validPhases is the closed set of heartbeat cycle phase names.
var validPhases = map[string]bool{
	"4a": true, // perception
	"5a": true, // evaluation
	"5b": true, // execution
	"5c": true, // threshold actions
	"5d": true, // graph evaluation
	"6":  true, // morning brief
	"7":  true, // working memory
}

// Validate checks enum fields and numeric bounds.
func (c *Config) Validate() error {
	for _, p := range c.Engine.Phases {
		if !validPhases[p] {
			return fmt.Errorf("invalid phase %q (valid: 4a, 5a, 5b, 5c, 5d, 6, 7)", p)
		}
	}
	switch c.Engine.RunSlot {
	case "morning", "evening", "overnight", "manual":
	default:
		return fmt.Errorf("invalid run slot %q (valid: morning, evening, overnight, manual)", c.Engine.RunSlot)
	}
	switch c.Engine.TaskSelection {
	case "queue-first", "aligned-first":
	default:
		return fmt.Errorf("invalid task selection %q (valid: queue-first, aligned-first)", c.Engine.TaskSelection)
	}
	switch c.Engine.RepairMode {
	case "queue-only", "execute":
	default:
		return fmt.Errorf("invalid repair mode %q (valid: queue-only, execute)", c.Engine.RepairMode)
	}
	switch c.Engine.ThresholdMode {
	case "queue-only", "execute":
	default:
		return fmt.Errorf("invalid threshold mode %q (valid: queue-only, execute)", c.Engine.ThresholdMode)
	}
	if c.Engine.MaxActionsPerRun < 0 {
		return fmt.Errorf("max actions per run must be >= 0, got %d", c.Engine.MaxActionsPerRun)
	}
	if c.Engine.RunnerTimeoutMs <= 0 {
		return fmt.Errorf("runner timeout must be positive, got %dms", c.Engine.RunnerTimeoutMs)
	}
	return nil
}

// PhaseEnabled reports whether a cycle phase should run. An empty Phases
// list enables everything.
func (c *Config) PhaseEnabled(phase string) bool {
	if len(c.Engine.Phases) == 0 {
		return true
	}
	for _, p := range c.Engine.Phases {
		if p == phase {
			return true
		}
	}
	return false
}

// RunnerTimeout returns the task runner timeout as a duration.
func (c *Config) RunnerTimeout() time.Duration {
	return time.Duration(c.Engine.RunnerTimeoutMs) * time.Millisecond
}

// Source represents where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceVault   Source = "ops/config.yaml"
	SourceEnv     Source = "environment"
	SourceFlag    Source = "flag"
)

// getEnvString returns the value and whether the env var was set.
func getEnvString(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

// resolveStringField resolves a string through the precedence chain.
// Returns the resolved value and its source.
func resolveStringField(file, env, flag, def string) resolved {
	result := resolved{Value: def, Source: SourceDefault}
	if file != "" {
		result = resolved{Value: file, Source: SourceVault}
	}
	if env != "" {
		result = resolved{Value: env, Source: SourceEnv}
	}
	if flag != "" {
		result = resolved{Value: flag, Source: SourceFlag}
	}
	return result
}

// resolveIntField resolves an int through the precedence chain.
// Zero means "not set" at every layer, matching mergeInt.
func resolveIntField(file, env, flag, def int) resolved {
	result := resolved{Value: def, Source: SourceDefault}
	if file != 0 {
		result = resolved{Value: file, Source: SourceVault}
	}
	if env != 0 {
		result = resolved{Value: env, Source: SourceEnv}
	}
	if flag != 0 {
		result = resolved{Value: flag, Source: SourceFlag}
	}
	return result
}

// ResolvedConfig shows engine config values with their sources.
type ResolvedConfig struct {
	ConfigPath       resolved `json:"config_path"`
	RunSlot          resolved `json:"run_slot"`
	DryRun           resolved `json:"dry_run"`
	MaxActionsPerRun resolved `json:"max_actions_per_run"`
	TaskSelection    resolved `json:"task_selection"`
	RepairMode       resolved `json:"repair_mode"`
	ThresholdMode    resolved `json:"threshold_mode"`
	RunnerCommand    resolved `json:"runner_command"`
	RunnerTimeoutMs  resolved `json:"runner_timeout_ms"`
}

type resolved struct {
	Value  interface{} `json:"value"`
	Source Source      `json:"source"`
}

// Resolve returns engine configuration with source tracking for display.
// Uses precedence chain: flags > env > vault config > defaults.
func Resolve(vaultRoot, overridePath string, flagOverrides *Config) *ResolvedConfig {
	path := resolvePath(vaultRoot, overridePath)
	fileConfig, _ := loadFromPath(path)

	var file EngineConfig
	if fileConfig != nil {
		file = fileConfig.Engine
	}

	var flags EngineConfig
	if flagOverrides != nil {
		flags = flagOverrides.Engine
	}

	envRunSlot, _ := getEnvString("INTENT_RUN_SLOT")
	envTaskSelection, _ := getEnvString("INTENT_TASK_SELECTION")
	envRepairMode, _ := getEnvString("INTENT_REPAIR_MODE")
	envThresholdMode, _ := getEnvString("INTENT_THRESHOLD_MODE")
	envRunnerCommand, _ := getEnvString("INTENT_RUNNER_COMMAND")
	envMaxActions, _ := getEnvInt("INTENT_MAX_ACTIONS")
	envRunnerTimeoutMs, _ := getEnvInt("INTENT_RUNNER_TIMEOUT_MS")

	rc := &ResolvedConfig{
		ConfigPath:       resolved{Value: path, Source: SourceDefault},
		RunSlot:          resolveStringField(file.RunSlot, envRunSlot, flags.RunSlot, defaultRunSlot),
		DryRun:           resolved{Value: false, Source: SourceDefault},
		MaxActionsPerRun: resolveIntField(file.MaxActionsPerRun, envMaxActions, flags.MaxActionsPerRun, defaultMaxActions),
		TaskSelection:    resolveStringField(file.TaskSelection, envTaskSelection, flags.TaskSelection, defaultTaskSelection),
		RepairMode:       resolveStringField(file.RepairMode, envRepairMode, flags.RepairMode, defaultRepairMode),
		ThresholdMode:    resolveStringField(file.ThresholdMode, envThresholdMode, flags.ThresholdMode, defaultThresholdMode),
		RunnerCommand:    resolveStringField(file.RunnerCommand, envRunnerCommand, flags.RunnerCommand, ""),
		RunnerTimeoutMs:  resolveIntField(file.RunnerTimeoutMs, envRunnerTimeoutMs, flags.RunnerTimeoutMs, defaultRunnerTimeoutMs),
	}

	if overridePath != "" {
		rc.ConfigPath = resolved{Value: path, Source: SourceFlag}
	} else if v := strings.TrimSpace(os.Getenv("INTENT_CONFIG")); v != "" {
		rc.ConfigPath = resolved{Value: path, Source: SourceEnv}
	}

	// Resolve dry-run (boolean with OR semantics through the chain).
	if fileConfig != nil && fileConfig.Engine.DryRun {
		rc.DryRun = resolved{Value: true, Source: SourceVault}
	}
	if v := os.Getenv("INTENT_DRY_RUN"); v == "true" || v == "1" {
		rc.DryRun = resolved{Value: true, Source: SourceEnv}
	}
	if flags.DryRun {
		rc.DryRun = resolved{Value: true, Source: SourceFlag}
	}

	return rc
}
