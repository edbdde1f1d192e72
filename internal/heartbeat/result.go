package heartbeat

import (
	"time"

	"github.com/boshu2/intent/internal/commitment"
	"github.com/boshu2/intent/internal/perception"
)

// Condition is one maintenance pressure the cycle detected: a count over its
// configured threshold, with the action that would relieve it.
type Condition struct {
	Name      string `json:"name"`
	Count     int    `json:"count"`
	Threshold int    `json:"threshold"`
	Action    string `json:"action"`
}

// TriggeredTask records one task the cycle touched, whether it ran or was
// surfaced as an advisory.
type TriggeredTask struct {
	TaskID   string `json:"taskId"`
	Target   string `json:"target"`
	Phase    string `json:"phase"`
	Executed bool   `json:"executed"`
	Advisory string `json:"advisory,omitempty"`
	Success  bool   `json:"success"`
	Detail   string `json:"detail,omitempty"`
}

// Counters aggregates what one cycle did.
type Counters struct {
	CapturesAdmitted int `json:"capturesAdmitted"`
	CapturesFiltered int `json:"capturesFiltered"`
	TasksExecuted    int `json:"tasksExecuted"`
	TasksSucceeded   int `json:"tasksSucceeded"`
	TasksFailed      int `json:"tasksFailed"`
	TasksAdvisory    int `json:"tasksAdvisory"`
	TasksDeferred    int `json:"tasksDeferred"`
	RepairsQueued    int `json:"repairsQueued"`
	RepairsSkipped   int `json:"repairsSkipped"`
	InboxSeeded      int `json:"inboxSeeded"`
	ThresholdTasks   int `json:"thresholdTasks"`
}

// ActionsOccurred reports whether the cycle changed vault state beyond
// bookkeeping. The brief and working-memory phases key off this.
func (ct Counters) ActionsOccurred() bool {
	return ct.CapturesAdmitted > 0 ||
		ct.TasksExecuted > 0 ||
		ct.InboxSeeded > 0 ||
		ct.ThresholdTasks > 0
}

// Result summarizes one heartbeat cycle end to end. Every Run returns one,
// including skipped and dry-run cycles.
type Result struct {
	StartedAt       time.Time               `json:"startedAt"`
	FinishedAt      time.Time               `json:"finishedAt"`
	Slot            string                  `json:"slot"`
	DryRun          bool                    `json:"dryRun,omitempty"`
	Skipped         bool                    `json:"skipped,omitempty"`
	PhasesRun       []string                `json:"phasesRun,omitempty"`
	Conditions      []Condition             `json:"conditions,omitempty"`
	Evaluations     []commitment.Evaluation `json:"evaluations,omitempty"`
	Triggered       []TriggeredTask         `json:"triggered,omitempty"`
	NoiseAlerts     []perception.NoiseAlert `json:"noiseAlerts,omitempty"`
	Counters        Counters                `json:"counters"`
	Recommendations []string                `json:"recommendations,omitempty"`
	BriefWritten    bool                    `json:"briefWritten"`
	BriefPath       string                  `json:"briefPath,omitempty"`
}

func newResult(now time.Time, slot string, dryRun bool) *Result {
	return &Result{StartedAt: now, Slot: slot, DryRun: dryRun}
}
