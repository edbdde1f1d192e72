// Package commitment implements the commitment store and its surrounding
// analysis: the typed state machine with advancement signals, the
// per-commitment evaluator, the drift detector, and the commitment-aware
// task filter.
package commitment

import (
	"errors"
	"time"
)

// ErrInvalidTransition reports an illegal commitment state change.
var ErrInvalidTransition = errors.New("invalid commitment state transition")

// State is the commitment lifecycle state.
type State string

const (
	StateCandidate State = "candidate"
	StateActive    State = "active"
	StatePaused    State = "paused"
	StateSatisfied State = "satisfied"
	StateAbandoned State = "abandoned"
)

// validTransitions is the full transition table. Satisfied and abandoned
// are terminal.
var validTransitions = map[State][]State{
	StateCandidate: {StateActive},
	StateActive:    {StatePaused, StateSatisfied, StateAbandoned},
	StatePaused:    {StateActive, StateAbandoned},
}

// CanTransition reports whether from→to is legal.
func CanTransition(from, to State) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Horizon is the time scale of a commitment.
type Horizon string

const (
	HorizonSession Horizon = "session"
	HorizonWeek    Horizon = "week"
	HorizonQuarter Horizon = "quarter"
	HorizonLong    Horizon = "long"
)

// WindowDays returns the evaluation window for the horizon.
func (h Horizon) WindowDays() int {
	switch h {
	case HorizonSession:
		return 1
	case HorizonWeek:
		return 7
	case HorizonQuarter:
		return 90
	case HorizonLong:
		return 180
	default:
		return 7
	}
}

// DesireClass distinguishes commitments wanted for themselves from ones
// merely tolerated.
type DesireClass string

const (
	DesireThick   DesireClass = "thick"
	DesireThin    DesireClass = "thin"
	DesireUnknown DesireClass = "unknown"
)

// FrictionClass distinguishes friction that is part of the work from
// friction that is incidental to it.
type FrictionClass string

const (
	FrictionConstitutive FrictionClass = "constitutive"
	FrictionIncidental   FrictionClass = "incidental"
	FrictionUnknown      FrictionClass = "unknown"
)

// Actor identifies who proposed a transition.
type Actor string

const (
	ActorEngine Actor = "engine"
	ActorHuman  Actor = "human"
)

// SignalMethod distinguishes observed advancement from inferred.
type SignalMethod string

const (
	MethodDirect   SignalMethod = "direct"
	MethodInferred SignalMethod = "inferred"
)

// AdvancementThreshold is the relevance score above which a signal counts
// as real advancement and bumps lastAdvancedAt.
const AdvancementThreshold = 0.5

// MaxActiveCommitments is the sprawl ceiling.
const MaxActiveCommitments = 3

// StateTransition is one entry of a commitment's history.
type StateTransition struct {
	From       State     `json:"from"`
	To         State     `json:"to"`
	At         time.Time `json:"at"`
	Reason     string    `json:"reason"`
	ProposedBy Actor     `json:"proposedBy"`
	Accepted   bool      `json:"accepted"`
}

// AdvancementSignal is evidence that a commitment moved.
type AdvancementSignal struct {
	At             time.Time    `json:"at"`
	Action         string       `json:"action"`
	RelevanceScore float64      `json:"relevanceScore"`
	Method         SignalMethod `json:"method"`
}

// DriftSnapshot records a high-drift observation on a commitment.
type DriftSnapshot struct {
	At              time.Time `json:"at"`
	DriftScore      float64   `json:"driftScore"`
	ActivityOverlap float64   `json:"activityOverlap"`
	Summary         string    `json:"summary"`
}

// Commitment is a durable intention with priority, horizon, and history.
type Commitment struct {
	ID                   string              `json:"id"`
	Label                string              `json:"label"`
	State                State               `json:"state"`
	Priority             int                 `json:"priority"`
	Horizon              Horizon             `json:"horizon"`
	DesireClass          DesireClass         `json:"desireClass,omitempty"`
	FrictionClass        FrictionClass       `json:"frictionClass,omitempty"`
	Source               string              `json:"source"`
	LastAdvancedAt       time.Time           `json:"lastAdvancedAt"`
	Evidence             []string            `json:"evidence"`
	CreatedAt            *time.Time          `json:"createdAt,omitempty"`
	StateHistory         []StateTransition   `json:"stateHistory"`
	AdvancementSignals   []AdvancementSignal `json:"advancementSignals"`
	OutcomePattern       string              `json:"outcomePattern,omitempty"`
	DriftSnapshots       []DriftSnapshot     `json:"driftSnapshots,omitempty"`
	DesireClassRationale string              `json:"desireClassRationale,omitempty"`
}

// FileVersion is the commitments file schema version.
const FileVersion = 1

// File is the on-disk commitments document.
type File struct {
	Version         int          `json:"version"`
	Commitments     []Commitment `json:"commitments"`
	LastEvaluatedAt time.Time    `json:"lastEvaluatedAt"`
}

// Find returns the commitment with the given id, or nil.
func (f *File) Find(id string) *Commitment {
	for i := range f.Commitments {
		if f.Commitments[i].ID == id {
			return &f.Commitments[i]
		}
	}
	return nil
}

// Active returns the active commitments in file order.
func (f *File) Active() []Commitment {
	var out []Commitment
	for _, c := range f.Commitments {
		if c.State == StateActive {
			out = append(out, c)
		}
	}
	return out
}

// Paused returns the paused commitments in file order.
func (f *File) Paused() []Commitment {
	var out []Commitment
	for _, c := range f.Commitments {
		if c.State == StatePaused {
			out = append(out, c)
		}
	}
	return out
}
