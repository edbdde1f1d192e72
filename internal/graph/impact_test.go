package graph

import (
	"fmt"
	"math"
	"testing"
	"time"
)

func newGraph() *Graph {
	return &Graph{Nodes: map[string]*Node{}, Incoming: map[string][]string{}}
}

func addNode(g *Graph, rel, name string, isMap bool, created time.Time) *Node {
	n := &Node{Rel: rel, Name: name, IsMap: isMap, Created: created, ModTime: created}
	g.Nodes[name] = n
	return n
}

func link(g *Graph, from, to string) {
	g.Nodes[from].Outgoing = append(g.Nodes[from].Outgoing, to)
	if _, ok := g.Nodes[to]; ok {
		g.Incoming[to] = append(g.Incoming[to], from)
	}
}

func TestEvaluateScoresThoughts(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	g := newGraph()

	addNode(g, "thoughts/atlas.md", "atlas", true, now.AddDate(0, 0, -60))
	addNode(g, "thoughts/fresh-linked.md", "fresh-linked", false, now.AddDate(0, 0, -1))
	addNode(g, "thoughts/aged-orphan.md", "aged-orphan", false, now.AddDate(0, 0, -30))
	addNode(g, "thoughts/aged-linked.md", "aged-linked", false, now.AddDate(0, 0, -20))
	noteB := addNode(g, "thoughts/note-b.md", "note-b", false, now.AddDate(0, 0, -1))
	noteB.ModTime = now.AddDate(0, 0, -2)

	link(g, "fresh-linked", "atlas")
	link(g, "note-b", "fresh-linked")
	link(g, "note-b", "aged-linked")

	eval := Evaluate(g, now)

	if got, want := eval.ThoughtsScored, 4; got != want {
		t.Fatalf("thoughtsScored = %d, want %d (maps excluded)", got, want)
	}

	byName := map[string]ThoughtScore{}
	for _, ts := range eval.Top {
		byName[ts.Name] = ts
	}

	// One incoming link plus one map membership, inside the grace period.
	if got, want := byName["fresh-linked"].Score, 3.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("fresh-linked score = %v, want %v", got, want)
	}
	if got := byName["fresh-linked"].MapMemberships; got != 1 {
		t.Errorf("fresh-linked memberships = %d, want 1", got)
	}

	// Linked 2 days ago, so the penalty counts from the linker's mtime.
	if got, want := byName["aged-linked"].Score, 1-0.02; math.Abs(got-want) > 1e-9 {
		t.Errorf("aged-linked score = %v, want %v", got, want)
	}

	// Never linked: the whole age is charged.
	if got, want := byName["aged-orphan"].Score, -0.3; math.Abs(got-want) > 1e-9 {
		t.Errorf("aged-orphan score = %v, want %v", got, want)
	}

	if len(eval.Orphans) != 1 || eval.Orphans[0].Name != "aged-orphan" {
		t.Fatalf("orphans = %v, want [aged-orphan]", eval.Orphans)
	}
	if got, want := eval.OrphanRate, 0.25; math.Abs(got-want) > 1e-9 {
		t.Errorf("orphanRate = %v, want %v", got, want)
	}
	if got, want := eval.AvgImpactScore, (3-0.3+0.98+0)/4; math.Abs(got-want) > 1e-9 {
		t.Errorf("avgImpactScore = %v, want %v", got, want)
	}

	wantOrder := []string{"fresh-linked", "aged-linked", "note-b", "aged-orphan"}
	for i, name := range wantOrder {
		if eval.Top[i].Name != name {
			t.Errorf("top[%d] = %s, want %s", i, eval.Top[i].Name, name)
		}
	}
}

func TestEvaluateGracePeriod(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	g := newGraph()
	addNode(g, "thoughts/young.md", "young", false, now.AddDate(0, 0, -6))
	addNode(g, "thoughts/old.md", "old", false, now.AddDate(0, 0, -8))

	eval := Evaluate(g, now)

	byName := map[string]ThoughtScore{}
	for _, ts := range eval.Top {
		byName[ts.Name] = ts
	}
	if got := byName["young"].Score; got != 0 {
		t.Errorf("young score = %v, want 0 inside grace period", got)
	}
	if got, want := byName["old"].Score, -0.08; math.Abs(got-want) > 1e-9 {
		t.Errorf("old score = %v, want %v", got, want)
	}

	// Zero score alone is not orphanhood; the grace period shields the young.
	if len(eval.Orphans) != 1 || eval.Orphans[0].Name != "old" {
		t.Errorf("orphans = %v, want [old]", eval.Orphans)
	}
}

func TestEvaluateTopCapAndTies(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	g := newGraph()
	for i := 0; i < 12; i++ {
		name := fmt.Sprintf("t%02d", i)
		addNode(g, "thoughts/"+name+".md", name, false, now.AddDate(0, 0, -1))
		for j := 0; j < i; j++ {
			g.Incoming[name] = append(g.Incoming[name], fmt.Sprintf("linker-%d", j))
		}
	}

	eval := Evaluate(g, now)

	if got, want := len(eval.Top), MaxTopThoughts; got != want {
		t.Fatalf("top size = %d, want %d", got, want)
	}
	if eval.Top[0].Name != "t11" || eval.Top[9].Name != "t02" {
		t.Errorf("top = [%s .. %s], want [t11 .. t02]", eval.Top[0].Name, eval.Top[9].Name)
	}
	if got, want := eval.ThoughtsScored, 12; got != want {
		t.Errorf("thoughtsScored = %d, want %d", got, want)
	}
}

func TestEvaluateTieBreaksByName(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	g := newGraph()
	addNode(g, "thoughts/zeta.md", "zeta", false, now.AddDate(0, 0, -1))
	addNode(g, "thoughts/alpha.md", "alpha", false, now.AddDate(0, 0, -1))

	eval := Evaluate(g, now)
	if eval.Top[0].Name != "alpha" || eval.Top[1].Name != "zeta" {
		t.Errorf("top = %v, want alphabetical on equal score", eval.Top)
	}
}

func TestEvaluateEmptyGraph(t *testing.T) {
	eval := Evaluate(newGraph(), time.Now())
	if eval.ThoughtsScored != 0 || eval.AvgImpactScore != 0 || eval.OrphanRate != 0 {
		t.Errorf("empty graph eval = %+v, want zeros", eval)
	}
}
