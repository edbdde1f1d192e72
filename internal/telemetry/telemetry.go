// Package telemetry appends structured engine events to the vault's
// append-only JSONL log. Emission never fails the caller: errors are
// logged at debug level and swallowed.
package telemetry

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/boshu2/intent/internal/vault"
)

// EventType enumerates the closed set of telemetry event types.
type EventType string

const (
	EventHeartbeatRun        EventType = "heartbeat_run"
	EventTaskExecuted        EventType = "task_executed"
	EventTaskFailed          EventType = "task_failed"
	EventRepairQueued        EventType = "repair_queued"
	EventCommitmentEvaluated EventType = "commitment_evaluated"
	EventEvaluationRun       EventType = "evaluation_run"
	EventPerceptionCycle     EventType = "perception_cycle"
	EventNoiseAlert          EventType = "noise_alert"
	EventBriefWritten        EventType = "brief_written"
	EventThresholdTriggered  EventType = "threshold_triggered"
)

// sessionBound lists event types that must carry a session id.
var sessionBound = map[EventType]bool{
	EventHeartbeatRun:    true,
	EventTaskExecuted:    true,
	EventTaskFailed:      true,
	EventRepairQueued:    true,
	EventPerceptionCycle: true,
	EventBriefWritten:    true,
}

// Event is one line of the telemetry log.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"type"`
	Data      map[string]any `json:"data"`
	SessionID string         `json:"sessionId,omitempty"`
}

// Recorder emits events for one engine process. A nil Recorder is a no-op.
type Recorder struct {
	store     *vault.Store
	sessionID string
	logger    *zap.Logger
	now       func() time.Time
}

// New returns a Recorder bound to a fresh session id.
func New(store *vault.Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		store:     store,
		sessionID: uuid.NewString(),
		logger:    logger,
		now:       time.Now,
	}
}

// SessionID returns the recorder's session identifier.
func (r *Recorder) SessionID() string {
	if r == nil {
		return ""
	}
	return r.sessionID
}

// Emit appends one event. All failures are swallowed; telemetry never
// influences control flow.
func (r *Recorder) Emit(eventType EventType, data map[string]any) {
	if r == nil || r.store == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}

	event := Event{
		Timestamp: r.now().UTC(),
		Type:      eventType,
		Data:      data,
	}
	if sessionBound[eventType] {
		event.SessionID = r.sessionID
	}

	if err := r.store.AppendJSONL(vault.TelemetryFile, event); err != nil {
		r.logger.Debug("telemetry append failed",
			zap.String("type", string(eventType)),
			zap.Error(err))
	}
}
