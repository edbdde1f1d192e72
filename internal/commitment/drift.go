package commitment

import "fmt"

// CommitmentDrift scores one commitment's misalignment with activity.
type CommitmentDrift struct {
	CommitmentID    string  `json:"commitmentId"`
	Label           string  `json:"label"`
	DriftScore      float64 `json:"driftScore"`
	ActivityOverlap float64 `json:"activityOverlap"`
	Summary         string  `json:"summary"`
}

// PriorityInversion reports a lower-priority commitment receiving more
// activity than a higher-priority one.
type PriorityInversion struct {
	Higher  string `json:"higher"`
	Lower   string `json:"lower"`
	Summary string `json:"summary"`
}

// DriftReport aggregates drift analysis over the active commitments.
type DriftReport struct {
	CommitmentDrifts   []CommitmentDrift   `json:"commitmentDrifts"`
	PriorityInversions []PriorityInversion `json:"priorityInversions"`
	SprawlWarning      string              `json:"sprawlWarning,omitempty"`
	OverallDriftScore  float64             `json:"overallDriftScore"`
}

// HighDriftThreshold marks commitments that get a DriftSnapshot appended.
const HighDriftThreshold = 0.7

// DetectDrift measures intent-vs-activity alignment for the active
// commitments against the recent activity strings.
func DetectDrift(actives []Commitment, activity []string) DriftReport {
	report := DriftReport{}

	total := 0.0
	mentionCounts := make([]int, len(actives))
	for i := range actives {
		c := &actives[i]
		overlap, mentions := activityOverlap(c.Label, activity)
		mentionCounts[i] = mentions
		drift := 1 - overlap

		report.CommitmentDrifts = append(report.CommitmentDrifts, CommitmentDrift{
			CommitmentID:    c.ID,
			Label:           c.Label,
			DriftScore:      drift,
			ActivityOverlap: overlap,
			Summary: fmt.Sprintf("%q matched %d/%d recent activity items",
				c.Label, mentions, len(activity)),
		})
		total += drift
	}
	for i := range actives {
		for j := range actives {
			hi, lo := &actives[i], &actives[j]
			if hi.Priority >= lo.Priority {
				continue // hi must be strictly higher priority (smaller number)
			}
			if mentionCounts[j] > 0 && mentionCounts[j] > mentionCounts[i] {
				report.PriorityInversions = append(report.PriorityInversions, PriorityInversion{
					Higher: hi.ID,
					Lower:  lo.ID,
					Summary: fmt.Sprintf("%q (priority %d) saw %d mentions while %q (priority %d) saw %d",
						lo.Label, lo.Priority, mentionCounts[j], hi.Label, hi.Priority, mentionCounts[i]),
				})
			}
		}
	}

	// Inversions are drift in their own right: attention is flowing against
	// the declared priority order, even when individual labels still match.
	if len(actives) > 0 {
		score := total/float64(len(actives)) + 0.1*float64(len(report.PriorityInversions))
		if score > 1 {
			score = 1
		}
		report.OverallDriftScore = score
	}

	if len(actives) > MaxActiveCommitments {
		report.SprawlWarning = fmt.Sprintf("%d active commitments exceed the focus ceiling of %d",
			len(actives), MaxActiveCommitments)
	}

	return report
}

// activityOverlap returns the fraction of activity strings that touch the
// label (any label token, or the full label as substring) and the raw count.
func activityOverlap(label string, activity []string) (overlap float64, mentions int) {
	if len(activity) == 0 {
		return 0, 0
	}
	for _, s := range activity {
		if touchesLabel(s, label) {
			mentions++
		}
	}
	return float64(mentions) / float64(len(activity)), mentions
}
