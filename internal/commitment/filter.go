package commitment

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/boshu2/intent/internal/queue"
)

// sprintWords mark a creative top commitment worth protecting from
// maintenance churn.
var sprintWords = []string{"write", "build", "design", "ship", "create"}

// maintenanceTargets are the routine upkeep actions deferred during a
// creative sprint.
var maintenanceTargets = map[string]bool{
	"process-inbox":       true,
	"connect-orphans":     true,
	"triage-observations": true,
	"resolve-tensions":    true,
}

// RankedTask is a task annotated with its best commitment match.
type RankedTask struct {
	Task               queue.Task
	Score              float64
	CommitmentID       string
	CommitmentPriority int

	// Alignment class summaries drive execution advisories: a task whose
	// aligned commitments are all thin-desire (or all constitutive-
	// friction) is surfaced instead of run.
	OnlyThinDesire           bool
	OnlyConstitutiveFriction bool
}

// Deferral is a task held back with a reason.
type Deferral struct {
	Task      queue.Task
	Rationale string
}

// FilterOutcome is the ordered, commitment-aware view of pending tasks.
type FilterOutcome struct {
	Ranked   []RankedTask
	Deferred []Deferral
}

// FilterTasks reorders tasks by commitment alignment and defers the ones
// that should wait: matches against paused commitments, and maintenance
// tasks during a creative sprint. With no commitments at all the input
// passes through unchanged.
func FilterTasks(tasks []queue.Task, commitments []Commitment) FilterOutcome {
	if len(commitments) == 0 {
		out := FilterOutcome{}
		for _, t := range tasks {
			out.Ranked = append(out.Ranked, RankedTask{Task: t, CommitmentPriority: math.MaxInt})
		}
		return out
	}

	var actives, paused []Commitment
	for _, c := range commitments {
		switch c.State {
		case StateActive:
			actives = append(actives, c)
		case StatePaused:
			paused = append(paused, c)
		}
	}

	sprintProtect := creativeSprintActive(actives)

	type entry struct {
		ranked RankedTask
		order  int
	}
	var entries []entry
	var deferred []Deferral

	for i, t := range tasks {
		combined := strings.ToLower(t.Target + " " + t.SourcePath)

		if label, hit := matchesPausedLabel(combined, paused); hit {
			deferred = append(deferred, Deferral{
				Task:      t,
				Rationale: fmt.Sprintf("matches paused commitment %q", label),
			})
			continue
		}

		if sprintProtect && maintenanceTargets[t.Target] {
			deferred = append(deferred, Deferral{
				Task:      t,
				Rationale: "maintenance deferred during creative sprint",
			})
			continue
		}

		ranked := rankTask(t, combined, actives)
		entries = append(entries, entry{ranked: ranked, order: i})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.ranked.CommitmentPriority != b.ranked.CommitmentPriority {
			return a.ranked.CommitmentPriority < b.ranked.CommitmentPriority
		}
		if a.ranked.Score != b.ranked.Score {
			return a.ranked.Score > b.ranked.Score
		}
		return a.order < b.order
	})

	out := FilterOutcome{Deferred: deferred}
	for _, e := range entries {
		out.Ranked = append(out.Ranked, e.ranked)
	}
	return out
}

// rankTask scores one task against the active commitments.
func rankTask(t queue.Task, combined string, actives []Commitment) RankedTask {
	ranked := RankedTask{Task: t, CommitmentPriority: math.MaxInt}

	combinedTokens := tokenSet(combined)
	alignedCount := 0
	thinOnly, constitutiveOnly := true, true

	for _, c := range actives {
		score := scoreAgainst(combined, combinedTokens, c.Label)
		if score <= 0 {
			continue
		}
		alignedCount++
		if c.DesireClass != DesireThin {
			thinOnly = false
		}
		if c.FrictionClass != FrictionConstitutive {
			constitutiveOnly = false
		}
		if score > ranked.Score || (score == ranked.Score && c.Priority < ranked.CommitmentPriority) {
			ranked.Score = score
			ranked.CommitmentID = c.ID
			ranked.CommitmentPriority = c.Priority
		}
	}

	if alignedCount > 0 {
		ranked.OnlyThinDesire = thinOnly
		ranked.OnlyConstitutiveFriction = constitutiveOnly
	}
	return ranked
}

// scoreAgainst returns 1.0 for a full-label substring match in the task's
// combined text, otherwise the fraction of label tokens present.
func scoreAgainst(combined string, combinedTokens map[string]bool, label string) float64 {
	if label != "" && strings.Contains(combined, strings.ToLower(label)) {
		return 1.0
	}
	toks := labelTokens(label)
	if len(toks) == 0 {
		return 0
	}
	hits := 0
	for _, tok := range toks {
		if combinedTokens[tok] {
			hits++
		}
	}
	return float64(hits) / float64(len(toks))
}

func matchesPausedLabel(combined string, paused []Commitment) (string, bool) {
	for _, c := range paused {
		if c.Label != "" && strings.Contains(combined, strings.ToLower(c.Label)) {
			return c.Label, true
		}
	}
	return "", false
}

// creativeSprintActive reports whether the highest-priority active
// commitment reads like creative work.
func creativeSprintActive(actives []Commitment) bool {
	if len(actives) == 0 {
		return false
	}
	top := actives[0]
	for _, c := range actives[1:] {
		if c.Priority < top.Priority {
			top = c
		}
	}
	label := strings.ToLower(top.Label)
	for _, w := range sprintWords {
		if strings.Contains(label, w) {
			return true
		}
	}
	return false
}
