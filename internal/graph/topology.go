package graph

import (
	"sort"
	"strings"
)

const (
	// thinMapThoughts is the backlink floor under which a map is flagged
	// as thin and worth either growing or merging away.
	thinMapThoughts = 5

	sinkMinIncoming = 3
	sinkMaxOutgoing = 1
)

// MapSummary describes one map note and its curation health. Thoughts counts
// the thought notes backlinking into the map.
type MapSummary struct {
	Rel           string   `json:"rel"`
	Name          string   `json:"name"`
	Title         string   `json:"title"`
	Thoughts      int      `json:"thoughts"`
	OpenQuestions []string `json:"openQuestions,omitempty"`
}

// Sink is a note that absorbs links without pointing anywhere.
type Sink struct {
	Name     string `json:"name"`
	Incoming int    `json:"incoming"`
	Outgoing int    `json:"outgoing"`
}

// TopologyContext is the structural briefing handed to planning: where the
// curation layer is strong, where it is thin, and where links pool up.
type TopologyContext struct {
	Maps          []MapSummary   `json:"maps,omitempty"`
	ThinMaps      []string       `json:"thinMaps,omitempty"`
	Confidence    map[string]int `json:"confidence,omitempty"`
	Sinks         []Sink         `json:"sinks,omitempty"`
	TotalNotes    int            `json:"totalNotes"`
	TotalThoughts int            `json:"totalThoughts"`
}

// Topology derives the structural context from a scanned graph: map health,
// confidence spread, and the notes links pool into.
func Topology(g *Graph) TopologyContext {
	ctx := TopologyContext{Confidence: map[string]int{}, TotalNotes: len(g.Nodes)}

	for _, name := range sortedNames(g.Nodes) {
		node := g.Nodes[name]
		if node.IsMap {
			summary := MapSummary{
				Rel:           node.Rel,
				Name:          node.Name,
				Title:         node.Title,
				OpenQuestions: node.OpenQuestions,
			}
			for _, linker := range g.Incoming[name] {
				if ln, ok := g.Nodes[linker]; ok && !ln.IsMap && isThought(ln.Rel) {
					summary.Thoughts++
				}
			}
			ctx.Maps = append(ctx.Maps, summary)
			if summary.Thoughts < thinMapThoughts {
				ctx.ThinMaps = append(ctx.ThinMaps, summary.Name)
			}
			continue
		}

		if !isThought(node.Rel) {
			continue
		}
		ctx.TotalThoughts++
		ctx.Confidence[confidenceBucket(node.Confidence)]++

		in, out := len(g.Incoming[name]), len(node.Outgoing)
		if in >= sinkMinIncoming && out <= sinkMaxOutgoing {
			ctx.Sinks = append(ctx.Sinks, Sink{Name: name, Incoming: in, Outgoing: out})
		}
	}

	sort.SliceStable(ctx.Sinks, func(i, j int) bool {
		if ctx.Sinks[i].Incoming != ctx.Sinks[j].Incoming {
			return ctx.Sinks[i].Incoming > ctx.Sinks[j].Incoming
		}
		return ctx.Sinks[i].Name < ctx.Sinks[j].Name
	})
	return ctx
}

func confidenceBucket(raw string) string {
	c := strings.ToLower(strings.TrimSpace(raw))
	if c == "" {
		return "unspecified"
	}
	return c
}
