package heartbeat

import (
	"context"
	"encoding/json"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/boshu2/intent/internal/vault"
)

// Condition names, stable across config, telemetry, and planner output.
const (
	CondInbox        = "inbox"
	CondOrphans      = "orphans"
	CondObservations = "observations"
	CondTensions     = "tensions"
	CondSessions     = "unprocessed_sessions"
	CondStale        = "stale_thoughts"
)

// checkConditions counts each maintenance backlog and flags the ones
// strictly above their configured threshold.
func (e *Engine) checkConditions(ctx context.Context, c *cycle) ([]Condition, error) {
	type backlog struct {
		name      string
		count     int
		threshold int
	}
	th := e.cfg.Maintenance.Conditions

	counts := []backlog{
		{CondInbox, e.countMarkdown(vault.InboxDir), th.InboxThreshold},
		{CondObservations, e.countMarkdown(vault.ObservationsDir), th.ObservationThreshold},
		{CondTensions, e.countMarkdown(vault.TensionsDir), th.TensionThreshold},
		{CondSessions, e.countMineableSessions(), th.UnprocessedSessionsThreshold},
	}

	if eval, _, err := e.ensureGraph(ctx, c); err != nil {
		c.recommend("graph scan unavailable for orphan check: %v", err)
	} else {
		counts = append(counts, backlog{CondOrphans, len(eval.Orphans), th.OrphanThreshold})
	}

	if days := e.daysSinceNewestThought(); days >= 0 {
		counts = append(counts, backlog{CondStale, days, th.StaleDaysThreshold})
	}

	var flagged []Condition
	for _, ct := range counts {
		if ct.count <= ct.threshold {
			continue
		}
		flagged = append(flagged, Condition{
			Name:      ct.name,
			Count:     ct.count,
			Threshold: ct.threshold,
			Action:    ActionFor(ct.name).TaskTarget,
		})
	}
	return flagged, nil
}

func (e *Engine) countMarkdown(dir string) int {
	files, err := e.store.ListMarkdown(dir)
	if err != nil {
		e.logger.Warn("condition count failed", zap.String("dir", dir), zap.Error(err))
		return 0
	}
	return len(files)
}

// daysSinceNewestThought returns whole days since the most recent thought
// file changed, or -1 for a vault with no thoughts yet.
func (e *Engine) daysSinceNewestThought() int {
	newest := e.newestThoughtTime()
	if newest.IsZero() {
		return -1
	}
	return int(e.now().UTC().Sub(newest) / (24 * time.Hour))
}

func (e *Engine) countMineableSessions() int {
	names, err := e.store.ListDir(vault.SessionsDir)
	if err != nil {
		return 0
	}
	n := 0
	for _, name := range names {
		data, ok, err := e.store.Read(path.Join(vault.SessionsDir, name))
		if err != nil || !ok {
			continue
		}
		if mineableSession(name, data) {
			n++
		}
	}
	return n
}

// sessionMetadataKeys are JSON keys that carry bookkeeping only. A session
// whose every key is in this set has nothing worth mining.
var sessionMetadataKeys = map[string]bool{
	"id":         true,
	"sessionid":  true,
	"vaultid":    true,
	"status":     true,
	"date":       true,
	"timestamp":  true,
	"startedat":  true,
	"endedat":    true,
	"version":    true,
	"source":     true,
	"slot":       true,
	"durationms": true,
}

// mineableSession reports whether a session file has structured content
// worth extracting into thoughts. Markdown sessions are mineable when their
// body is non-empty. JSON sessions are stubs when their status says so or
// when every key is pure metadata.
func mineableSession(name string, data []byte) bool {
	if strings.HasSuffix(name, ".md") {
		note, _ := vault.ParseNote(string(data))
		return strings.TrimSpace(note.Body) != ""
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil || len(payload) == 0 {
		return false
	}

	if status, ok := payload["status"].(string); ok {
		s := strings.ToLower(status)
		if strings.Contains(s, "stub") || strings.Contains(s, "metadata") || strings.Contains(s, "no-content") {
			return false
		}
	}

	for key := range payload {
		if !sessionMetadataKeys[strings.ToLower(key)] {
			return true
		}
	}
	return false
}
