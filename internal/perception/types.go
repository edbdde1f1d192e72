// Package perception gates externally captured items into the vault inbox.
//
// Feed sources produce batches of captures. Admission scores each capture
// against the vault's identity context and applies budget caps; the engine
// writes the admitted remainder to inbox/. Cursors and the noise tracker
// keep per-source state bounded across cycles.
package perception

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// FeedCapture is one externally captured item before admission.
type FeedCapture struct {
	ID                string            `json:"id"`
	SourceID          string            `json:"sourceId"`
	CapturedAt        time.Time         `json:"capturedAt"`
	Title             string            `json:"title"`
	Content           string            `json:"content"`
	URLs              []string          `json:"urls,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	RawRelevanceScore float64           `json:"rawRelevanceScore,omitempty"`
}

// Fingerprint derives a stable capture id from source, title, and content.
// Sources use it when an upstream item carries no id of its own.
func Fingerprint(sourceID, title, content string) string {
	sum := blake3.Sum256([]byte(sourceID + "\x00" + title + "\x00" + content))
	return "cap-" + hex.EncodeToString(sum[:8])
}

// Context is the identity material captures are scored against.
type Context struct {
	CommitmentLabels []string
	IdentityThemes   []string
	VaultTopics      []string
	RecentThoughts   []string
}

// Policy bounds what one perception cycle may admit.
type Policy struct {
	MaxSignalsPerChannel   int     `yaml:"max_signals_per_channel" json:"maxSignalsPerChannel"`
	UmweltBudgetLines      int     `yaml:"umwelt_budget_lines" json:"umweltBudgetLines"`
	RelevanceFloor         float64 `yaml:"relevance_floor" json:"relevanceFloor"`
	BriefThreshold         float64 `yaml:"brief_threshold" json:"briefThreshold"`
	MaxInboxWritesPerCycle int     `yaml:"max_inbox_writes_per_cycle" json:"maxInboxWritesPerCycle"`
}

// DefaultPolicy returns the stock admission budgets.
func DefaultPolicy() Policy {
	return Policy{
		MaxSignalsPerChannel:   3,
		UmweltBudgetLines:      50,
		RelevanceFloor:         0.3,
		BriefThreshold:         0.6,
		MaxInboxWritesPerCycle: 10,
	}
}

// ScoredCapture pairs a capture with its identity-relevance score.
type ScoredCapture struct {
	Capture FeedCapture
	Score   float64
}

// Outcome is what admission hands back to the engine. Nothing here has
// touched disk yet; the engine applies the inbox writes.
type Outcome struct {
	Admitted []ScoredCapture
	Surfaced []ScoredCapture
	Filtered int
	Reason   string
}

// NoiseAlert recommends action on a source that has been filtered almost
// entirely for a sustained stretch.
type NoiseAlert struct {
	SourceID        string  `json:"sourceId"`
	FilterRate      float64 `json:"filterRate"`
	ConsecutiveDays int     `json:"consecutiveDays"`
	Recommendation  string  `json:"recommendation"`
}

func (a NoiseAlert) String() string {
	return fmt.Sprintf("%s: %.0f%% filtered for %d consecutive days", a.SourceID, a.FilterRate*100, a.ConsecutiveDays)
}
