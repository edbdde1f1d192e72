package commitment

import (
	"math"
	"strings"
	"testing"
	"time"
)

func signalAt(at time.Time, score float64) AdvancementSignal {
	return AdvancementSignal{At: at, Action: "work", RelevanceScore: score, Method: MethodInferred}
}

func TestEvaluate_AdvancingOnHighRelevance(t *testing.T) {
	now := time.Now()
	c := NewCommitment("ship site", 1, HorizonSession, "test", nil, now)
	c.State = StateActive
	c.AdvancementSignals = []AdvancementSignal{
		signalAt(now.Add(-1*time.Hour), 0.9),
		signalAt(now.Add(-2*time.Hour), 0.8),
	}

	ev := Evaluate(&c, RecentActivity{}, now)
	if ev.Status != EvalAdvancing {
		t.Fatalf("status = %s, want advancing", ev.Status)
	}
	if ev.AdvancementScore != 1.0 {
		t.Errorf("score = %v, want 1.0 (capped)", ev.AdvancementScore)
	}
}

func TestEvaluate_MentionsBumpAdvancingScore(t *testing.T) {
	now := time.Now()
	c := NewCommitment("ship site", 1, HorizonWeek, "test", nil, now)
	c.State = StateActive
	c.AdvancementSignals = []AdvancementSignal{signalAt(now.Add(-24*time.Hour), 0.9)}

	bare := Evaluate(&c, RecentActivity{}, now)
	mentioned := Evaluate(&c, RecentActivity{SessionSummaries: []string{"iterated on ship site layout"}}, now)

	if mentioned.AdvancementScore <= bare.AdvancementScore {
		t.Errorf("mention did not raise score: %v <= %v", mentioned.AdvancementScore, bare.AdvancementScore)
	}
	want := bare.AdvancementScore + 0.1
	if math.Abs(mentioned.AdvancementScore-want) > 1e-9 {
		t.Errorf("score = %v, want %v", mentioned.AdvancementScore, want)
	}
}

func TestEvaluate_StalledOnLowRelevance(t *testing.T) {
	now := time.Now()
	c := NewCommitment("read papers", 2, HorizonWeek, "test", nil, now)
	c.State = StateActive
	c.AdvancementSignals = []AdvancementSignal{
		signalAt(now.Add(-24*time.Hour), 0.4),
		signalAt(now.Add(-48*time.Hour), 0.4),
	}

	ev := Evaluate(&c, RecentActivity{}, now)
	if ev.Status != EvalStalled {
		t.Fatalf("status = %s, want stalled", ev.Status)
	}
	if math.Abs(ev.AdvancementScore-0.2) > 1e-9 {
		t.Errorf("score = %v, want mean(0.4)*0.5 = 0.2", ev.AdvancementScore)
	}
}

func TestEvaluate_StalledOnMentionsOnly(t *testing.T) {
	now := time.Now()
	c := NewCommitment("read papers", 2, HorizonWeek, "test", nil, now)
	c.State = StateActive

	activity := RecentActivity{SessionSummaries: []string{
		"skimmed two papers over coffee",
		"queued papers to read next week",
	}}
	ev := Evaluate(&c, activity, now)
	if ev.Status != EvalStalled {
		t.Fatalf("status = %s, want stalled", ev.Status)
	}
	if math.Abs(ev.AdvancementScore-0.2) > 1e-9 {
		t.Errorf("score = %v, want 0.1*2 = 0.2", ev.AdvancementScore)
	}

	many := RecentActivity{SessionSummaries: []string{
		"papers", "papers", "papers", "papers", "papers", "papers",
	}}
	ev = Evaluate(&c, many, now)
	if math.Abs(ev.AdvancementScore-0.4) > 1e-9 {
		t.Errorf("score = %v, want 0.4 cap", ev.AdvancementScore)
	}
}

func TestEvaluate_DriftingWhenSilent(t *testing.T) {
	now := time.Now()
	c := NewCommitment("learn piano", 3, HorizonQuarter, "test", nil, now)
	c.State = StateActive
	c.AdvancementSignals = []AdvancementSignal{
		signalAt(now.AddDate(0, 0, -100), 0.9), // outside the 90d window
	}

	ev := Evaluate(&c, RecentActivity{SessionSummaries: []string{"unrelated work"}}, now)
	if ev.Status != EvalDrifting {
		t.Fatalf("status = %s, want drifting", ev.Status)
	}
	if ev.AdvancementScore != 0 {
		t.Errorf("score = %v, want 0", ev.AdvancementScore)
	}
	if !strings.Contains(ev.BriefSummary, "drifting") {
		t.Errorf("brief summary %q missing status", ev.BriefSummary)
	}
}

func TestEvaluate_ProposesCandidateActivation(t *testing.T) {
	now := time.Now()
	c := NewCommitment("write essays", 2, HorizonWeek, "test", nil, now)
	c.AdvancementSignals = []AdvancementSignal{signalAt(now.Add(-24*time.Hour), 0.3)}

	activity := RecentActivity{
		SessionSummaries: []string{"drafted one of the essays"},
		ThoughtsCreated:  []string{"essays outline"},
	}
	ev := Evaluate(&c, activity, now)
	if ev.ProposedTransition == nil {
		t.Fatal("expected activation proposal")
	}
	if ev.ProposedTransition.To != StateActive {
		t.Errorf("proposal to = %s, want active", ev.ProposedTransition.To)
	}
}

func TestEvaluate_CandidateBelowEngagementBar(t *testing.T) {
	now := time.Now()
	c := NewCommitment("write essays", 2, HorizonWeek, "test", nil, now)

	ev := Evaluate(&c, RecentActivity{SessionSummaries: []string{"drafted one of the essays"}}, now)
	if ev.ProposedTransition != nil {
		t.Errorf("unexpected proposal %+v for 1 mention, 0 signals", ev.ProposedTransition)
	}
}

func TestEvaluate_ProposesSatisfied(t *testing.T) {
	now := time.Now()
	c := NewCommitment("ship site", 1, HorizonSession, "test", nil, now)
	c.State = StateActive
	c.AdvancementSignals = []AdvancementSignal{signalAt(now.Add(-1*time.Hour), 0.9)}

	activity := RecentActivity{SessionSummaries: []string{"ship site shipped to production"}}
	ev := Evaluate(&c, activity, now)
	if ev.ProposedTransition == nil {
		t.Fatal("expected satisfied proposal")
	}
	if ev.ProposedTransition.To != StateSatisfied {
		t.Errorf("proposal to = %s, want satisfied", ev.ProposedTransition.To)
	}
}

func TestEvaluate_NoSatisfiedWithoutOutcomeWord(t *testing.T) {
	now := time.Now()
	c := NewCommitment("ship site", 1, HorizonSession, "test", nil, now)
	c.State = StateActive
	c.AdvancementSignals = []AdvancementSignal{signalAt(now.Add(-1*time.Hour), 0.9)}

	activity := RecentActivity{SessionSummaries: []string{"ship site progressing nicely"}}
	ev := Evaluate(&c, activity, now)
	if ev.ProposedTransition != nil {
		t.Errorf("unexpected proposal %+v without completion language", ev.ProposedTransition)
	}
}

func TestEvaluate_ProposesAbandoned(t *testing.T) {
	now := time.Now()
	c := NewCommitment("learn piano", 3, HorizonWeek, "test", nil, now)
	c.State = StateActive
	c.AdvancementSignals = []AdvancementSignal{
		signalAt(now.AddDate(0, 0, -20), 0.9), // beyond 2x the 7d window
	}

	ev := Evaluate(&c, RecentActivity{SessionSummaries: []string{"unrelated work"}}, now)
	if ev.ProposedTransition == nil {
		t.Fatal("expected abandonment proposal")
	}
	if ev.ProposedTransition.To != StateAbandoned {
		t.Errorf("proposal to = %s, want abandoned", ev.ProposedTransition.To)
	}
}

func TestEvaluate_RecentSignalBlocksAbandonment(t *testing.T) {
	now := time.Now()
	c := NewCommitment("learn piano", 3, HorizonWeek, "test", nil, now)
	c.State = StateActive
	c.AdvancementSignals = []AdvancementSignal{
		signalAt(now.AddDate(0, 0, -10), 0.2), // inside the 14d double window
	}

	ev := Evaluate(&c, RecentActivity{}, now)
	if ev.ProposedTransition != nil {
		t.Errorf("unexpected proposal %+v with signal inside double window", ev.ProposedTransition)
	}
}

func TestEvaluateAll_SkipsPausedAndTerminal(t *testing.T) {
	now := time.Now()
	f := &File{Version: FileVersion}
	for _, s := range []State{StateActive, StateCandidate, StatePaused, StateSatisfied, StateAbandoned} {
		c := NewCommitment("c "+string(s), 1, HorizonWeek, "test", f.Commitments, now)
		c.State = s
		f.Commitments = append(f.Commitments, c)
	}

	evals := EvaluateAll(f, RecentActivity{}, now)
	if len(evals) != 2 {
		t.Fatalf("evaluated %d commitments, want 2 (active + candidate)", len(evals))
	}
	for _, ev := range evals {
		if ev.CommitmentID == "c-paused" || ev.CommitmentID == "c-satisfied" || ev.CommitmentID == "c-abandoned" {
			t.Errorf("evaluated %s", ev.CommitmentID)
		}
	}
}
