package perception

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/boshu2/intent/internal/vault"
)

// CursorTypeIDSet is the only cursor variant currently produced. The type
// tag stays in the file so later variants can coexist with old state.
const CursorTypeIDSet = "id-set"

// DefaultMaxRetained bounds the seen-id history per source.
const DefaultMaxRetained = 500

// SourceCursor is per-source polling state, tagged by type.
type SourceCursor struct {
	Type        string   `json:"type"`
	SeenIDs     []string `json:"seenIds,omitempty"`
	MaxRetained int      `json:"maxRetained,omitempty"`
}

// NewIDSetCursor returns an empty id-set cursor with the default retention.
func NewIDSetCursor() SourceCursor {
	return SourceCursor{Type: CursorTypeIDSet, SeenIDs: []string{}, MaxRetained: DefaultMaxRetained}
}

// Seen reports whether the cursor has recorded the id.
func (c SourceCursor) Seen(id string) bool {
	for _, s := range c.SeenIDs {
		if s == id {
			return true
		}
	}
	return false
}

// Observe unions ids into the cursor and prunes to the retention ceiling,
// dropping the oldest entries first. Pruning on every write keeps the
// cursor file bounded no matter how chatty a source is.
func (c SourceCursor) Observe(ids []string) SourceCursor {
	next := c
	if next.Type == "" {
		next.Type = CursorTypeIDSet
	}
	if next.MaxRetained <= 0 {
		next.MaxRetained = DefaultMaxRetained
	}

	known := make(map[string]bool, len(next.SeenIDs))
	merged := make([]string, 0, len(next.SeenIDs)+len(ids))
	for _, id := range next.SeenIDs {
		if !known[id] {
			known[id] = true
			merged = append(merged, id)
		}
	}
	for _, id := range ids {
		if !known[id] {
			known[id] = true
			merged = append(merged, id)
		}
	}

	if len(merged) > next.MaxRetained {
		merged = merged[len(merged)-next.MaxRetained:]
	}
	next.SeenIDs = merged
	return next
}

// CursorFile is ops/runtime/perception-cursors.json.
type CursorFile struct {
	Sources     map[string]SourceCursor `json:"sources"`
	LastUpdated time.Time               `json:"lastUpdated"`
}

// Cursor returns the cursor for a source, or a fresh id-set cursor.
func (f *CursorFile) Cursor(sourceID string) SourceCursor {
	if c, ok := f.Sources[sourceID]; ok {
		return c
	}
	return NewIDSetCursor()
}

// SetCursor stores the cursor for a source.
func (f *CursorFile) SetCursor(sourceID string, c SourceCursor) {
	if f.Sources == nil {
		f.Sources = make(map[string]SourceCursor)
	}
	f.Sources[sourceID] = c
}

// Store owns the perception state files under ops/runtime/.
type Store struct {
	store  *vault.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewStore returns a Store for the vault.
func NewStore(store *vault.Store, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{store: store, logger: logger, now: time.Now}
}

// LoadCursors reads the cursor file. Absent or malformed files yield an
// empty document.
func (s *Store) LoadCursors() (*CursorFile, error) {
	data, ok, err := s.store.Read(vault.CursorsFile)
	if err != nil {
		return nil, err
	}
	f := &CursorFile{Sources: map[string]SourceCursor{}}
	if !ok {
		return f, nil
	}
	if err := json.Unmarshal(data, f); err != nil {
		s.logger.Warn("cursor file malformed, starting empty", zap.Error(err))
		return &CursorFile{Sources: map[string]SourceCursor{}}, nil
	}
	if f.Sources == nil {
		f.Sources = map[string]SourceCursor{}
	}
	return f, nil
}

// WriteCursors persists the cursor file atomically.
func (s *Store) WriteCursors(f *CursorFile) error {
	f.LastUpdated = s.now()
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cursors: %w", err)
	}
	return s.store.WriteAtomic(vault.CursorsFile, data)
}
