package perception

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"
)

// Poll failures carry one of these kinds so callers can classify them
// with errors.Is without knowing the source type.
var (
	ErrFeedTimeout = errors.New("feed poll timed out")
	ErrFeedPoll    = errors.New("feed poll failed")
)

// Source is one feed of external captures. Poll receives the persisted
// cursor for the source and returns only captures the cursor has not seen,
// plus the cursor state to persist. Implementations must honor ctx.
type Source interface {
	ID() string
	Poll(ctx context.Context, cursor SourceCursor) ([]FeedCapture, SourceCursor, error)
}

// captureBatch is the on-disk and on-stdout shape feeds emit. A bare JSON
// array of captures is accepted too.
type captureBatch struct {
	Captures []FeedCapture `json:"captures"`
}

// decodeCaptures parses a capture batch leniently: either {"captures":[…]}
// or a bare array. Captures without ids get a content fingerprint, and the
// sourceId is stamped on every capture.
func decodeCaptures(data []byte, sourceID string, now time.Time) ([]FeedCapture, error) {
	var batch captureBatch
	if err := json.Unmarshal(data, &batch); err != nil || batch.Captures == nil {
		var bare []FeedCapture
		if err := json.Unmarshal(data, &bare); err != nil {
			return nil, err
		}
		batch.Captures = bare
	}

	for i := range batch.Captures {
		c := &batch.Captures[i]
		c.SourceID = sourceID
		if c.ID == "" {
			c.ID = Fingerprint(sourceID, c.Title, c.Content)
		}
		if c.CapturedAt.IsZero() {
			c.CapturedAt = now
		}
	}
	return batch.Captures, nil
}

// dedupeAgainstCursor drops captures the cursor has seen and returns the
// survivors plus the observed cursor. Ordering is preserved.
func dedupeAgainstCursor(captures []FeedCapture, cursor SourceCursor) ([]FeedCapture, SourceCursor) {
	var fresh []FeedCapture
	var ids []string
	for _, c := range captures {
		if cursor.Seen(c.ID) {
			continue
		}
		fresh = append(fresh, c)
		ids = append(ids, c.ID)
	}
	return fresh, cursor.Observe(ids)
}

// PollAll polls every source sequentially and returns captures per source.
// The engine's perception phase wraps this with per-source concurrency; the
// sequential form exists for the capture CLI and tests.
func PollAll(ctx context.Context, sources []Source, cursors *CursorFile) (map[string][]FeedCapture, error) {
	sorted := make([]Source, len(sources))
	copy(sorted, sources)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID() < sorted[j].ID() })

	got := make(map[string][]FeedCapture)
	for _, src := range sorted {
		captures, next, err := src.Poll(ctx, cursors.Cursor(src.ID()))
		if err != nil {
			return got, err
		}
		cursors.SetCursor(src.ID(), next)
		got[src.ID()] = captures
	}
	return got, nil
}
