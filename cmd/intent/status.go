package main

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/boshu2/intent/internal/commitment"
	"github.com/boshu2/intent/internal/formatter"
	"github.com/boshu2/intent/internal/heartbeat"
	"github.com/boshu2/intent/internal/queue"
	"github.com/boshu2/intent/internal/vault"
	vaultpath "github.com/boshu2/intent/pkg/vault"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault status",
	Long: `Display the current state of the vault.

Shows:
  - Inbox and thought counts
  - Queue depth by status
  - Commitments by state
  - What the last heartbeat cycle did
  - Morning brief freshness

Examples:
  intent status
  intent status -o json`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusOutput struct {
	Initialized bool              `json:"initialized"`
	VaultRoot   string            `json:"vault_root"`
	VaultID     string            `json:"vault_id,omitempty"`
	Inbox       int               `json:"inbox"`
	Thoughts    int               `json:"thoughts"`
	Queue       *queueBrief       `json:"queue,omitempty"`
	Commitments *commitmentsBrief `json:"commitments,omitempty"`
	LastCycle   *cycleBrief       `json:"last_cycle,omitempty"`
	BriefAge    string            `json:"brief_age,omitempty"`
}

type queueBrief struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Done       int `json:"done"`
	Failed     int `json:"failed"`
	Repairs    int `json:"repairs"`
}

type commitmentsBrief struct {
	Active    int              `json:"active"`
	Candidate int              `json:"candidate"`
	Paused    int              `json:"paused"`
	Top       []commitmentLine `json:"top,omitempty"`
}

type commitmentLine struct {
	Label        string `json:"label"`
	Horizon      string `json:"horizon"`
	LastAdvanced string `json:"last_advanced"`
}

type cycleBrief struct {
	At        string `json:"at"`
	Ago       string `json:"ago"`
	Slot      string `json:"slot"`
	Admitted  int    `json:"admitted"`
	Executed  int    `json:"executed"`
	Failed    int    `json:"failed"`
	WroteNote bool   `json:"wrote_brief"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	status := &statusOutput{
		Initialized: vaultpath.Initialized(store.Root()),
		VaultRoot:   store.Root(),
	}
	if !status.Initialized {
		return outputStatus(status)
	}
	status.VaultID = store.ID()

	if files, err := store.ListMarkdown(vault.InboxDir); err == nil {
		status.Inbox = len(files)
	}
	if files, err := store.ListMarkdown(vault.ThoughtsDir); err == nil {
		status.Thoughts = len(files)
	}

	loadQueueBrief(store, status)
	loadCommitmentsBrief(store, status)
	status.LastCycle = loadLastCycle(store)

	if info, ok, err := store.Stat(vault.MorningBriefFile); err == nil && ok {
		status.BriefAge = formatDurationBrief(time.Since(info.ModTime()))
	}

	return outputStatus(status)
}

// loadQueueBrief tallies the queue by status.
func loadQueueBrief(store *vault.Store, status *statusOutput) {
	qf, err := queue.NewManager(store, logger).Read()
	if err != nil || len(qf.Tasks) == 0 {
		return
	}
	brief := &queueBrief{}
	for i := range qf.Tasks {
		t := &qf.Tasks[i]
		switch t.Status {
		case queue.StatusPending:
			brief.Pending++
		case queue.StatusInProgress:
			brief.InProgress++
		case queue.StatusDone:
			brief.Done++
		case queue.StatusFailed:
			brief.Failed++
		}
		if t.IsRepair() {
			brief.Repairs++
		}
	}
	status.Queue = brief
}

// loadCommitmentsBrief tallies commitments and picks the top active ones.
func loadCommitmentsBrief(store *vault.Store, status *statusOutput) {
	f, err := commitment.NewStore(store, logger).Load()
	if err != nil || len(f.Commitments) == 0 {
		return
	}
	brief := &commitmentsBrief{}
	now := time.Now()
	actives := f.Active()
	sort.SliceStable(actives, func(i, j int) bool { return actives[i].Priority > actives[j].Priority })
	for _, c := range f.Commitments {
		switch c.State {
		case commitment.StateActive:
			brief.Active++
		case commitment.StateCandidate:
			brief.Candidate++
		case commitment.StatePaused:
			brief.Paused++
		}
	}
	limit := 3
	if len(actives) < limit {
		limit = len(actives)
	}
	for _, c := range actives[:limit] {
		brief.Top = append(brief.Top, commitmentLine{
			Label:        truncateStatus(c.Label, 50),
			Horizon:      string(c.Horizon),
			LastAdvanced: formatter.Ago(now, c.LastAdvancedAt),
		})
	}
	status.Commitments = brief
}

// loadLastCycle reads the newest cycle record under ops/runtime/cycles/.
func loadLastCycle(store *vault.Store) *cycleBrief {
	names, err := store.ListDir(vault.CyclesDir)
	if err != nil || len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	data, ok, err := store.Read(path.Join(vault.CyclesDir, names[len(names)-1]))
	if err != nil || !ok {
		return nil
	}
	var res heartbeat.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil
	}
	return &cycleBrief{
		At:        res.StartedAt.Format("2006-01-02 15:04"),
		Ago:       formatDurationBrief(time.Since(res.StartedAt)),
		Slot:      res.Slot,
		Admitted:  res.Counters.CapturesAdmitted,
		Executed:  res.Counters.TasksExecuted,
		Failed:    res.Counters.TasksFailed,
		WroteNote: res.BriefWritten,
	}
}

func outputStatus(status *statusOutput) error {
	if GetOutput() == "json" {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal status: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println("Vault Status")
	fmt.Println("============")
	fmt.Println()

	if !status.Initialized {
		fmt.Printf("Vault: %s (not initialized)\n", status.VaultRoot)
		fmt.Println()
		fmt.Println("Run 'intent init' to adopt this directory.")
		return nil
	}

	fmt.Printf("Vault: %s (%s)\n", status.VaultID, status.VaultRoot)
	fmt.Printf("Notes: %d thoughts, %d inbox captures\n", status.Thoughts, status.Inbox)

	if status.Queue != nil {
		q := status.Queue
		fmt.Println("\nQueue:")
		fmt.Printf("  %d pending, %d in progress, %d done, %d failed", q.Pending, q.InProgress, q.Done, q.Failed)
		if q.Repairs > 0 {
			fmt.Printf(" (%d repairs)", q.Repairs)
		}
		fmt.Println()
	} else {
		fmt.Println("\nQueue: empty")
	}

	if status.Commitments != nil {
		c := status.Commitments
		fmt.Println("\nCommitments:")
		fmt.Printf("  %d active, %d candidate, %d paused\n", c.Active, c.Candidate, c.Paused)
		for _, line := range c.Top {
			fmt.Printf("  - %s (%s, advanced %s)\n", line.Label, line.Horizon, line.LastAdvanced)
		}
	} else {
		fmt.Println("\nCommitments: none")
	}

	if status.LastCycle != nil {
		lc := status.LastCycle
		fmt.Println("\nLast cycle:")
		fmt.Printf("  %s (%s ago, %s slot)\n", lc.At, lc.Ago, lc.Slot)
		fmt.Printf("  %d admitted, %d executed, %d failed", lc.Admitted, lc.Executed, lc.Failed)
		if lc.WroteNote {
			fmt.Print(", brief written")
		}
		fmt.Println()
	} else {
		fmt.Println("\nLast cycle: none recorded")
	}

	if status.BriefAge != "" {
		fmt.Printf("\nMorning brief: %s old (%s)\n", status.BriefAge, vault.MorningBriefFile)
	}

	fmt.Println("\nCommands:")
	fmt.Println("  intent heartbeat          - Run a cycle now")
	fmt.Println("  intent queue list         - Inspect the task queue")
	fmt.Println("  intent commitments list   - Inspect commitments")
	fmt.Println("  intent doctor             - Validate vault state")

	return nil
}

func truncateStatus(s string, maxLen int) string {
	// Remove newlines
	s = firstLine(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

// formatDurationBrief formats a duration as a human-friendly short string (e.g., "2h", "3d").
func formatDurationBrief(d time.Duration) string {
	if d < time.Minute {
		return "<1m"
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	days := int(d.Hours() / 24)
	if days < 30 {
		return fmt.Sprintf("%dd", days)
	}
	return fmt.Sprintf("%dw", days/7)
}
