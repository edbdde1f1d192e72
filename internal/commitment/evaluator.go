package commitment

import (
	"fmt"
	"strings"
	"time"
)

// EvalStatus classifies a commitment's recent movement.
type EvalStatus string

const (
	EvalAdvancing EvalStatus = "advancing"
	EvalStalled   EvalStatus = "stalled"
	EvalDrifting  EvalStatus = "drifting"
)

// outcomeWords mark activity strings that read like completion.
var outcomeWords = []string{
	"done", "shipped", "complete", "finished", "launched", "resolved", "satisfied",
}

// Proposal is a lifecycle transition the evaluator recommends. It is never
// applied automatically; a human accepts or ignores it.
type Proposal struct {
	To     State  `json:"to"`
	Reason string `json:"reason"`
}

// RecentActivity is the evaluator's view of what happened lately.
type RecentActivity struct {
	SessionSummaries    []string
	QueueTasksCompleted []string
	ThoughtsCreated     []string
}

// Strings flattens the activity into one slice for matching.
func (a RecentActivity) Strings() []string {
	out := make([]string, 0, len(a.SessionSummaries)+len(a.QueueTasksCompleted)+len(a.ThoughtsCreated))
	out = append(out, a.SessionSummaries...)
	out = append(out, a.QueueTasksCompleted...)
	out = append(out, a.ThoughtsCreated...)
	return out
}

// Evaluation is the per-commitment result.
type Evaluation struct {
	CommitmentID       string     `json:"commitmentId"`
	Label              string     `json:"label"`
	Status             EvalStatus `json:"status"`
	AdvancementScore   float64    `json:"advancementScore"`
	ProposedTransition *Proposal  `json:"proposedTransition,omitempty"`
	BriefSummary       string     `json:"briefSummary"`
}

// Evaluate scores one commitment against recent signals and activity.
func Evaluate(c *Commitment, activity RecentActivity, now time.Time) Evaluation {
	windowDays := c.Horizon.WindowDays()
	cutoff := now.AddDate(0, 0, -windowDays)

	var recent, highRelevance []AdvancementSignal
	for _, sig := range c.AdvancementSignals {
		if !sig.At.After(cutoff) {
			continue
		}
		recent = append(recent, sig)
		if sig.RelevanceScore > AdvancementThreshold {
			highRelevance = append(highRelevance, sig)
		}
	}

	strs := activity.Strings()
	mentions := mentionCount(c.Label, strs)

	ev := Evaluation{CommitmentID: c.ID, Label: c.Label}
	switch {
	case len(highRelevance) > 0:
		ev.Status = EvalAdvancing
		score := float64(len(highRelevance)) / float64(maxInt(1, windowDays))
		if score > 1 {
			score = 1
		}
		score += 0.1 * float64(mentions)
		if score > 1 {
			score = 1
		}
		ev.AdvancementScore = score
	case len(recent) > 0:
		sum := 0.0
		for _, sig := range recent {
			sum += sig.RelevanceScore
		}
		ev.Status = EvalStalled
		ev.AdvancementScore = sum / float64(len(recent)) * 0.5
	case mentions > 0:
		ev.Status = EvalStalled
		score := 0.1 * float64(mentions)
		if score > 0.4 {
			score = 0.4
		}
		ev.AdvancementScore = score
	default:
		ev.Status = EvalDrifting
		ev.AdvancementScore = 0
	}

	ev.ProposedTransition = proposeTransition(c, ev, recent, mentions, strs, now)
	ev.BriefSummary = fmt.Sprintf("%s: %s (score %.2f, %d signals, %d mentions in %dd)",
		c.Label, ev.Status, ev.AdvancementScore, len(recent), mentions, windowDays)
	return ev
}

// EvaluateAll evaluates active and candidate commitments; paused and
// terminal ones are skipped.
func EvaluateAll(f *File, activity RecentActivity, now time.Time) []Evaluation {
	var evals []Evaluation
	for i := range f.Commitments {
		c := &f.Commitments[i]
		if c.State != StateActive && c.State != StateCandidate {
			continue
		}
		evals = append(evals, Evaluate(c, activity, now))
	}
	return evals
}

func proposeTransition(c *Commitment, ev Evaluation, recent []AdvancementSignal, mentions int, activity []string, now time.Time) *Proposal {
	switch c.State {
	case StateCandidate:
		if mentions+len(recent) >= 3 {
			return &Proposal{
				To:     StateActive,
				Reason: fmt.Sprintf("%d mentions and %d signals suggest real engagement", mentions, len(recent)),
			}
		}

	case StateActive:
		if ev.AdvancementScore > 0.7 && hasOutcomeMention(c.Label, activity) {
			return &Proposal{
				To:     StateSatisfied,
				Reason: "completion language in recent activity with strong advancement",
			}
		}
		doubleCutoff := now.AddDate(0, 0, -2*c.Horizon.WindowDays())
		anySignal := false
		for _, sig := range c.AdvancementSignals {
			if sig.At.After(doubleCutoff) {
				anySignal = true
				break
			}
		}
		if !anySignal && mentions == 0 {
			return &Proposal{
				To:     StateAbandoned,
				Reason: fmt.Sprintf("no signals or activity across %dd", 2*c.Horizon.WindowDays()),
			}
		}
	}
	return nil
}

// hasOutcomeMention reports whether some activity string contains both the
// commitment label and an outcome word.
func hasOutcomeMention(label string, activity []string) bool {
	lowerLabel := strings.ToLower(label)
	for _, s := range activity {
		lower := strings.ToLower(s)
		if !strings.Contains(lower, lowerLabel) {
			continue
		}
		for _, w := range outcomeWords {
			if strings.Contains(lower, w) {
				return true
			}
		}
	}
	return false
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
