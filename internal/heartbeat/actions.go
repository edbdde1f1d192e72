package heartbeat

import "github.com/boshu2/intent/internal/commitment"

// Action maps a flagged maintenance condition to the task that relieves it.
// TaskTarget is what lands on the queue; Skill and Summary travel to
// external planners that want to run the work themselves.
type Action struct {
	Name       string `json:"name"`
	TaskTarget string `json:"taskTarget"`
	Skill      string `json:"skill"`
	Summary    string `json:"summary"`
}

var conditionActions = map[string]Action{
	CondInbox: {
		Name:       "process_inbox",
		TaskTarget: "process-inbox",
		Skill:      "triage",
		Summary:    "Promote or discard accumulated inbox captures",
	},
	CondOrphans: {
		Name:       "connect_orphans",
		TaskTarget: "connect-orphans",
		Skill:      "linking",
		Summary:    "Link unconnected thoughts into the graph",
	},
	CondObservations: {
		Name:       "triage_observations",
		TaskTarget: "triage-observations",
		Skill:      "triage",
		Summary:    "Review pending observations and fold them into thoughts",
	},
	CondTensions: {
		Name:       "resolve_tensions",
		TaskTarget: "resolve-tensions",
		Skill:      "synthesis",
		Summary:    "Work through recorded tensions between thoughts",
	},
	CondSessions: {
		Name:       "mine_sessions",
		TaskTarget: "mine-sessions",
		Skill:      "mining",
		Summary:    "Extract durable thoughts from unprocessed session files",
	},
	CondStale: {
		Name:       "revisit_stale_thoughts",
		TaskTarget: "revisit-stale-thoughts",
		Skill:      "review",
		Summary:    "Revisit a vault whose newest thought has gone stale",
	},
}

// ActionFor returns the action for a condition name. Unknown conditions get
// a generic review action so new condition kinds degrade gracefully.
func ActionFor(condition string) Action {
	if a, ok := conditionActions[condition]; ok {
		return a
	}
	return Action{
		Name:       "review_" + condition,
		TaskTarget: "review-" + condition,
		Skill:      "review",
		Summary:    "Review flagged condition " + condition,
	}
}

// ExecutionPort describes how much authority an external orchestrator has
// over cycle output. The engine core never consults it; it exists so
// planners receive actions with consistent semantics.
type ExecutionPort struct {
	// Authority is "advise", "queue", or "execute".
	Authority string `json:"authority"`

	// AutoExecute whitelists action names the orchestrator may run
	// without queueing first. Only meaningful with execute authority.
	AutoExecute map[string]bool `json:"autoExecute,omitempty"`
}

// PlanningInput is the cycle summary handed to an external planning
// collaborator. It is a projection of Result plus queue and port context,
// serialized as JSON on the collaborator's stdin.
type PlanningInput struct {
	VaultID         string                  `json:"vaultId"`
	Slot            string                  `json:"slot"`
	Conditions      []Condition             `json:"conditions,omitempty"`
	Evaluations     []commitment.Evaluation `json:"evaluations,omitempty"`
	QueueExcerpt    []string                `json:"queueExcerpt,omitempty"`
	Recommendations []string                `json:"recommendations,omitempty"`
	Actions         []Action                `json:"actions,omitempty"`
	Port            ExecutionPort           `json:"port"`
}

// PlanningInputFrom projects a cycle result into planner input. Actions are
// derived from the flagged conditions in order.
func PlanningInputFrom(res *Result, vaultID string, queueExcerpt []string, port ExecutionPort) PlanningInput {
	in := PlanningInput{
		VaultID:         vaultID,
		Slot:            res.Slot,
		Conditions:      res.Conditions,
		Evaluations:     res.Evaluations,
		QueueExcerpt:    queueExcerpt,
		Recommendations: res.Recommendations,
		Port:            port,
	}
	for _, cond := range res.Conditions {
		in.Actions = append(in.Actions, ActionFor(cond.Name))
	}
	return in
}
