package perception

import (
	"fmt"
	"sort"
)

// Admit scores a capture batch against the identity context and applies the
// policy budgets. It is pure: the caller writes admitted captures to the
// inbox and persists cursor and noise state.
func Admit(captures []FeedCapture, pctx Context, policy Policy) Outcome {
	out := Outcome{}
	if len(captures) == 0 {
		return out
	}

	var scored []ScoredCapture
	for _, c := range captures {
		score := IdentityRelevance(c, pctx)
		// Identity gate first, then the floor: a zero score means the
		// capture shares nothing with who this vault is.
		if score == 0 || score < policy.RelevanceFloor {
			out.Filtered++
			continue
		}
		scored = append(scored, ScoredCapture{Capture: c, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if limit := policy.MaxInboxWritesPerCycle; limit > 0 && len(scored) > limit {
		out.Filtered += len(scored) - limit
		scored = scored[:limit]
	}
	out.Admitted = scored

	perChannel := make(map[string]int)
	for _, sc := range scored {
		if perChannel[sc.Capture.SourceID] >= policy.MaxSignalsPerChannel {
			continue
		}
		perChannel[sc.Capture.SourceID]++
		out.Surfaced = append(out.Surfaced, sc)
	}

	out.Reason = tuningHint(out.Filtered, len(captures))
	return out
}

// tuningHint advises when the filter share is extreme. It never mutates
// policy; the human decides.
func tuningHint(filtered, total int) string {
	if total == 0 {
		return ""
	}
	share := float64(filtered) / float64(total)
	switch {
	case share > 0.8:
		return fmt.Sprintf("filtered %d/%d captures; relevance floor may be too strict for current feeds", filtered, total)
	case share < 0.2:
		return fmt.Sprintf("filtered %d/%d captures; feeds look pre-aligned, consider raising the relevance floor", filtered, total)
	default:
		return ""
	}
}
