package perception

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/boshu2/intent/internal/vault"
)

// FiledropSource reads capture batches dropped as JSON files under
// ops/feeds/<id>/. Consumed files are removed; malformed files are left in
// place for the human to inspect.
type FiledropSource struct {
	id     string
	store  *vault.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewFiledropSource returns a filedrop feed rooted at ops/feeds/<id>/.
func NewFiledropSource(id string, store *vault.Store, logger *zap.Logger) *FiledropSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FiledropSource{id: id, store: store, logger: logger, now: time.Now}
}

func (s *FiledropSource) ID() string { return s.id }

// Dir returns the vault-relative drop directory.
func (s *FiledropSource) Dir() string {
	return filepath.Join(vault.FeedsDir, s.id)
}

// Poll consumes every *.json batch in the drop directory in name order.
func (s *FiledropSource) Poll(ctx context.Context, cursor SourceCursor) ([]FeedCapture, SourceCursor, error) {
	dir := s.store.Abs(s.Dir())
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, cursor, nil
	}
	if err != nil {
		return nil, cursor, fmt.Errorf("feed %s: %w: %v", s.id, ErrFeedPoll, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var all []FeedCapture
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return all, cursor, err
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("filedrop batch unreadable", zap.String("file", name), zap.Error(err))
			continue
		}
		captures, err := decodeCaptures(data, s.id, s.now())
		if err != nil {
			s.logger.Warn("filedrop batch malformed, leaving in place", zap.String("file", name), zap.Error(err))
			continue
		}
		all = append(all, captures...)

		if err := os.Remove(path); err != nil {
			s.logger.Warn("filedrop batch not removed", zap.String("file", name), zap.Error(err))
		}
	}

	fresh, next := dedupeAgainstCursor(all, cursor)
	return fresh, next, nil
}
