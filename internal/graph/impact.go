package graph

import (
	"sort"
	"strings"
	"time"

	"github.com/boshu2/intent/internal/vault"
)

const (
	// incomingWeight and mapWeight price a map membership at two inbound
	// links: curation is a stronger signal than a passing mention.
	incomingWeight = 1.0
	mapWeight      = 2.0

	// agePenaltyPerDay accrues once a thought leaves its grace period.
	agePenaltyPerDay = 0.01
	graceDays        = 7
)

// MaxTopThoughts caps the leaderboard in the evaluation record.
const MaxTopThoughts = 10

// ThoughtScore is one thought's standing in the graph.
type ThoughtScore struct {
	Rel            string  `json:"rel"`
	Name           string  `json:"name"`
	Title          string  `json:"title"`
	IncomingLinks  int     `json:"incomingLinks"`
	MapMemberships int     `json:"mapMemberships"`
	AgeDays        float64 `json:"ageDays"`
	AgePenalty     float64 `json:"agePenalty"`
	Score          float64 `json:"score"`
}

// Evaluation aggregates one scoring pass over the thought graph.
type Evaluation struct {
	EvaluatedAt    time.Time      `json:"evaluatedAt"`
	ThoughtsScored int            `json:"thoughtsScored"`
	AvgImpactScore float64        `json:"avgImpactScore"`
	OrphanRate     float64        `json:"orphanRate"`
	Top            []ThoughtScore `json:"top"`
	Orphans        []ThoughtScore `json:"orphans"`
}

// Evaluate scores every non-map thought. Maps and self/ notes shape the
// scores as linkers and curators but are not themselves ranked.
func Evaluate(g *Graph, now time.Time) Evaluation {
	memberships := mapMemberships(g)

	var scores []ThoughtScore
	var total float64
	for _, name := range sortedNames(g.Nodes) {
		node := g.Nodes[name]
		if node.IsMap || !isThought(node.Rel) {
			continue
		}

		ts := ThoughtScore{
			Rel:            node.Rel,
			Name:           node.Name,
			Title:          node.Title,
			IncomingLinks:  len(g.Incoming[name]),
			MapMemberships: memberships[name],
			AgeDays:        daysBetween(node.Created, now),
		}
		ts.AgePenalty = agePenalty(g, node, now)
		ts.Score = incomingWeight*float64(ts.IncomingLinks) + mapWeight*float64(ts.MapMemberships) - ts.AgePenalty
		total += ts.Score
		scores = append(scores, ts)
	}

	eval := Evaluation{EvaluatedAt: now, ThoughtsScored: len(scores)}
	if len(scores) > 0 {
		eval.AvgImpactScore = total / float64(len(scores))
	}

	for _, ts := range scores {
		if ts.Score <= 0 && ts.AgeDays > graceDays {
			eval.Orphans = append(eval.Orphans, ts)
		}
	}
	if len(scores) > 0 {
		eval.OrphanRate = float64(len(eval.Orphans)) / float64(len(scores))
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Name < scores[j].Name
	})
	if len(scores) > MaxTopThoughts {
		scores = scores[:MaxTopThoughts]
	}
	eval.Top = scores
	return eval
}

// agePenalty charges idle thoughts for every day since anyone last linked to
// them. Inside the grace period nothing accrues; a thought nobody has ever
// linked is charged its whole age.
func agePenalty(g *Graph, node *Node, now time.Time) float64 {
	if daysBetween(node.Created, now) < graceDays {
		return 0
	}

	lastTouched := node.Created
	for _, linker := range g.Incoming[node.Name] {
		if ln, ok := g.Nodes[linker]; ok && ln.ModTime.After(lastTouched) {
			lastTouched = ln.ModTime
		}
	}
	return agePenaltyPerDay * daysBetween(lastTouched, now)
}

// mapMemberships counts, per note, how many maps it links into. Thoughts
// declare membership through topics frontmatter or body links to a map.
func mapMemberships(g *Graph) map[string]int {
	counts := map[string]int{}
	for _, node := range g.Nodes {
		for _, target := range node.Outgoing {
			if tn, ok := g.Nodes[target]; ok && tn.IsMap {
				counts[node.Name]++
			}
		}
	}
	return counts
}

func isThought(rel string) bool {
	return strings.HasPrefix(rel, vault.ThoughtsDir+"/")
}

func daysBetween(from, to time.Time) float64 {
	if from.IsZero() || to.Before(from) {
		return 0
	}
	return to.Sub(from).Hours() / 24
}
