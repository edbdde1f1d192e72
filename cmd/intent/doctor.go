package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/cobra"

	"github.com/boshu2/intent/embedded"
	"github.com/boshu2/intent/internal/config"
	"github.com/boshu2/intent/internal/formatter"
	"github.com/boshu2/intent/internal/vault"
)

var doctorJSON bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check vault health",
	Long: `Run health checks on the vault and its engine state.

State files are validated against the JSON Schemas built into the
binary, so a hand-edited queue or commitments file gets caught before
the engine trips over it. Optional components are reported as warnings
but do not cause failure.

Examples:
  intent doctor
  intent doctor --json`,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Output results as JSON")
	rootCmd.AddCommand(doctorCmd)
}

type doctorCheck struct {
	Name     string `json:"name"`
	Status   string `json:"status"` // "pass", "warn", "fail"
	Detail   string `json:"detail"`
	Required bool   `json:"required"`
}

type doctorOutput struct {
	Checks  []doctorCheck `json:"checks"`
	Result  string        `json:"result"` // "HEALTHY", "UNHEALTHY"
	Summary string        `json:"summary"`
}

// gatherDoctorChecks runs all doctor checks and returns the results.
func gatherDoctorChecks(store *vault.Store) []doctorCheck {
	return []doctorCheck{
		{Name: "vault", Status: "pass", Detail: store.Root(), Required: true},
		checkLayout(store),
		checkIdentity(store),
		checkConfig(store),
		checkStateFile(store, "queue", vault.QueueFile),
		checkStateFile(store, "commitments", vault.CommitmentsFile),
		checkStateFile(store, "cursors", vault.CursorsFile),
		checkStateFile(store, "noise", vault.NoiseFile),
		checkMarker(store),
		checkWatchDaemon(store),
		checkRunner(store),
	}
}

// doctorStatusIcon returns the display icon for a check status.
func doctorStatusIcon(status string) string {
	switch status {
	case "pass":
		return "✓"
	case "warn":
		return "!"
	case "fail":
		return "✗"
	}
	return "?"
}

// renderDoctorTable writes the formatted doctor output table.
func renderDoctorTable(w io.Writer, output doctorOutput) {
	fmt.Fprintln(w, "intent doctor")
	fmt.Fprintln(w, "─────────────")

	maxName := 0
	for _, c := range output.Checks {
		if len(c.Name) > maxName {
			maxName = len(c.Name)
		}
	}

	for _, c := range output.Checks {
		padding := strings.Repeat(" ", maxName-len(c.Name))
		fmt.Fprintf(w, "%s %s%s  %s\n", doctorStatusIcon(c.Status), c.Name, padding, c.Detail)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s\n", output.Summary)
}

// hasRequiredFailure returns true if any required check has failed.
func hasRequiredFailure(checks []doctorCheck) bool {
	for _, c := range checks {
		if c.Required && c.Status == "fail" {
			return true
		}
	}
	return false
}

func runDoctor(cmd *cobra.Command, args []string) error {
	var checks []doctorCheck
	store, err := openStore()
	if err != nil {
		checks = []doctorCheck{{Name: "vault", Status: "fail", Detail: err.Error(), Required: true}}
	} else {
		checks = gatherDoctorChecks(store)
	}
	output := computeResult(checks)
	w := cmd.OutOrStdout()

	if doctorJSON || GetOutput() == "json" {
		data, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal doctor output: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	renderDoctorTable(w, output)

	if hasRequiredFailure(output.Checks) {
		return fmt.Errorf("doctor failed: one or more required checks did not pass")
	}

	return nil
}

// checkLayout verifies the vault directories the engine writes into.
func checkLayout(store *vault.Store) doctorCheck {
	var missing []string
	for _, dir := range []string{vault.InboxDir, vault.ThoughtsDir, vault.SelfDir, vault.OpsDir} {
		info, ok, err := store.Stat(dir)
		if err != nil || !ok || !info.IsDir() {
			missing = append(missing, dir+"/")
		}
	}
	if len(missing) > 0 {
		return doctorCheck{
			Name:     "layout",
			Status:   "fail",
			Detail:   fmt.Sprintf("missing %s; run 'intent init'", strings.Join(missing, ", ")),
			Required: true,
		}
	}
	return doctorCheck{Name: "layout", Status: "pass", Detail: "inbox/, thoughts/, self/, ops/ present", Required: true}
}

// checkIdentity verifies identity.md exists and actually declares themes,
// since admission scoring keys off them.
func checkIdentity(store *vault.Store) doctorCheck {
	data, ok, err := store.Read(store.ResolveSelfFile("identity.md"))
	if err != nil {
		return doctorCheck{Name: "identity", Status: "fail", Detail: err.Error(), Required: false}
	}
	if !ok {
		return doctorCheck{Name: "identity", Status: "warn", Detail: "self/identity.md missing; run 'intent init'", Required: false}
	}
	note, _ := vault.ParseNote(string(data))
	themes := vault.SectionBullets(note.Body, "## Themes")
	if len(themes) == 0 {
		return doctorCheck{
			Name:   "identity",
			Status: "warn",
			Detail: "no bullets under '## Themes'; captures will score on commitments alone",
		}
	}
	return doctorCheck{Name: "identity", Status: "pass", Detail: fmt.Sprintf("%d theme(s)", len(themes))}
}

// checkConfig loads and validates engine configuration.
func checkConfig(store *vault.Store) doctorCheck {
	cfg, err := config.Load(store.Root(), GetConfigFile(), nil)
	if err != nil {
		return doctorCheck{Name: "config", Status: "warn", Detail: firstLine(err.Error()), Required: false}
	}
	if err := cfg.Validate(); err != nil {
		return doctorCheck{Name: "config", Status: "fail", Detail: firstLine(err.Error()), Required: true}
	}
	detail := "defaults"
	if store.Exists(vault.ConfigFile) {
		detail = vault.ConfigFile
	}
	return doctorCheck{Name: "config", Status: "pass", Detail: detail, Required: true}
}

// checkStateFile validates one JSON state file against its embedded schema.
// Absent files pass; the engine creates them on first use.
func checkStateFile(store *vault.Store, name, rel string) doctorCheck {
	check := doctorCheck{Name: name}
	data, ok, err := store.Read(rel)
	if err != nil {
		check.Status = "fail"
		check.Detail = err.Error()
		return check
	}
	if !ok {
		check.Status = "pass"
		check.Detail = "absent (created on first use)"
		return check
	}
	if err := validateAgainstSchema(name, data); err != nil {
		check.Status = "fail"
		check.Detail = firstLine(err.Error())
		return check
	}
	check.Status = "pass"
	check.Detail = rel + " valid"
	return check
}

// validateAgainstSchema checks data against the embedded schema for name.
func validateAgainstSchema(name string, data []byte) error {
	schemaPath := "schemas/" + name + ".schema.json"
	raw, err := embedded.Schemas.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("embedded schema %s: %w", schemaPath, err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaPath, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("load schema %s: %w", schemaPath, err)
	}
	schema, err := c.Compile(schemaPath)
	if err != nil {
		return fmt.Errorf("compile schema %s: %w", schemaPath, err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("not valid JSON: %w", err)
	}
	return schema.Validate(doc)
}

// checkMarker reads the heartbeat marker and reports cycle recency.
func checkMarker(store *vault.Store) doctorCheck {
	data, ok, err := store.Read(vault.MarkerFile)
	if err != nil {
		return doctorCheck{Name: "heartbeat", Status: "fail", Detail: err.Error()}
	}
	if !ok {
		return doctorCheck{Name: "heartbeat", Status: "warn", Detail: "never ran; try 'intent heartbeat --dry-run'"}
	}
	stamp, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		return doctorCheck{Name: "heartbeat", Status: "warn", Detail: "marker unreadable; next cycle rewrites it"}
	}
	age := time.Since(stamp)
	if age > 48*time.Hour {
		return doctorCheck{
			Name:   "heartbeat",
			Status: "warn",
			Detail: fmt.Sprintf("last cycle %s; is the watch daemon running?", formatter.Ago(time.Now(), stamp)),
		}
	}
	return doctorCheck{Name: "heartbeat", Status: "pass", Detail: "last cycle " + formatter.Ago(time.Now(), stamp)}
}

// checkWatchDaemon inspects the watch PID file and whether that process is
// still alive.
func checkWatchDaemon(store *vault.Store) doctorCheck {
	rel := filepath.Join(vault.LocksDir, "watch.pid")
	data, ok, err := store.Read(rel)
	if err != nil || !ok {
		return doctorCheck{Name: "watch", Status: "pass", Detail: "not running"}
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return doctorCheck{Name: "watch", Status: "warn", Detail: "stale pid file " + rel}
	}
	if proc, err := os.FindProcess(pid); err == nil {
		if err := proc.Signal(syscall.Signal(0)); err == nil {
			return doctorCheck{Name: "watch", Status: "pass", Detail: fmt.Sprintf("running (PID %d)", pid)}
		}
	}
	return doctorCheck{Name: "watch", Status: "warn", Detail: fmt.Sprintf("pid file names dead process %d", pid)}
}

// checkRunner verifies the configured runner command resolves to a binary.
func checkRunner(store *vault.Store) doctorCheck {
	cfg, err := config.Load(store.Root(), GetConfigFile(), nil)
	if err != nil || strings.TrimSpace(cfg.Engine.RunnerCommand) == "" {
		return doctorCheck{Name: "runner", Status: "pass", Detail: "not configured; execution degrades to advisories"}
	}
	fields := strings.Fields(cfg.Engine.RunnerCommand)
	if _, err := exec.LookPath(fields[0]); err != nil {
		return doctorCheck{
			Name:   "runner",
			Status: "warn",
			Detail: fmt.Sprintf("%s not in PATH; tasks will queue but not execute", fields[0]),
		}
	}
	return doctorCheck{Name: "runner", Status: "pass", Detail: fields[0]}
}

func countCheckStatuses(checks []doctorCheck) (passes, fails, warns int) {
	for _, c := range checks {
		switch c.Status {
		case "pass":
			passes++
		case "fail":
			fails++
		case "warn":
			warns++
		}
	}
	return passes, fails, warns
}

// buildDoctorSummary constructs a human-readable summary from check tallies.
func buildDoctorSummary(passes, fails, warns, total int) string {
	switch {
	case fails == 0 && warns == 0:
		return fmt.Sprintf("%d/%d checks passed", passes, total)
	case fails == 0:
		summary := fmt.Sprintf("%d/%d checks passed, %d warning", passes, total, warns)
		if warns > 1 {
			summary += "s"
		}
		return summary
	default:
		parts := []string{fmt.Sprintf("%d/%d checks passed", passes, total)}
		if warns > 0 {
			w := fmt.Sprintf("%d warning", warns)
			if warns > 1 {
				w += "s"
			}
			parts = append(parts, w)
		}
		parts = append(parts, fmt.Sprintf("%d failed", fails))
		return strings.Join(parts, ", ")
	}
}

func computeResult(checks []doctorCheck) doctorOutput {
	passes, fails, warns := countCheckStatuses(checks)

	result := "HEALTHY"
	if fails > 0 {
		result = "UNHEALTHY"
	}

	return doctorOutput{
		Checks:  checks,
		Result:  result,
		Summary: buildDoctorSummary(passes, fails, warns, len(checks)),
	}
}
