package commitment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/boshu2/intent/internal/vault"
)

// Store owns ops/commitments.json.
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

// Load reads and migrates the commitments file. Absent or malformed files
// yield an empty version-1 document. Migration guarantees stateHistory and
// advancementSignals are non-nil and states fall back to candidate.
func (s *Store) Load() (*File, error) {
	data, ok, err := s.store.Read(vault.CommitmentsFile)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &File{Version: FileVersion, Commitments: []Commitment{}}, nil
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		s.logger.Warn("commitments file malformed, starting empty", zap.Error(err))
		return &File{Version: FileVersion, Commitments: []Commitment{}}, nil
	}

	migrate(&f)
	return &f, nil
}

// Write persists the commitments file atomically. Callers mutate under
// WithLock.
func (s *Store) Write(f *File) error {
	f.Version = FileVersion
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal commitments: %w", err)
	}
	return s.store.WriteAtomic(vault.CommitmentsFile, data)
}

// WithLock serializes commitment mutation through the vault's commitment lock.
func (s *Store) WithLock(ctx context.Context, fn func() error) error {
	return s.store.WithLock(ctx, vault.LockCommitment, fn)
}

// Update runs fn on a freshly loaded file under the commitment lock and
// persists the result.
func (s *Store) Update(ctx context.Context, fn func(*File) error) error {
	return s.WithLock(ctx, func() error {
		f, err := s.Load()
		if err != nil {
			return err
		}
		if err := fn(f); err != nil {
			return err
		}
		return s.Write(f)
	})
}

func migrate(f *File) {
	if f.Version == 0 {
		f.Version = FileVersion
	}
	if f.Commitments == nil {
		f.Commitments = []Commitment{}
	}
	for i := range f.Commitments {
		c := &f.Commitments[i]
		if c.StateHistory == nil {
			c.StateHistory = []StateTransition{}
		}
		if c.AdvancementSignals == nil {
			c.AdvancementSignals = []AdvancementSignal{}
		}
		if c.State == "" {
			c.State = StateCandidate
		}
		if c.Horizon == "" {
			c.Horizon = HorizonWeek
		}
	}
}

// RecordStateTransition verifies the transition against the table, appends
// it to the history, and updates the state. Illegal targets fail with
// ErrInvalidTransition.
func RecordStateTransition(c *Commitment, to State, reason string, proposedBy Actor, now time.Time) error {
	if !CanTransition(c.State, to) {
		return fmt.Errorf("%s → %s: %w", c.State, to, ErrInvalidTransition)
	}

	c.StateHistory = append(c.StateHistory, StateTransition{
		From:       c.State,
		To:         to,
		At:         now,
		Reason:     reason,
		ProposedBy: proposedBy,
		Accepted:   true,
	})
	c.State = to
	return nil
}

// RecordAdvancementSignal appends a signal; scores above the advancement
// threshold bump lastAdvancedAt.
func RecordAdvancementSignal(c *Commitment, action string, score float64, method SignalMethod, now time.Time) {
	c.AdvancementSignals = append(c.AdvancementSignals, AdvancementSignal{
		At:             now,
		Action:         action,
		RelevanceScore: score,
		Method:         method,
	})
	if score > AdvancementThreshold {
		c.LastAdvancedAt = now
	}
}

// NewCommitment builds a candidate commitment with a deterministic id
// derived from the slugified label. Collisions against existing ids get a
// stable numeric suffix, so ids survive re-migration unchanged.
func NewCommitment(label string, priority int, horizon Horizon, source string, existing []Commitment, now time.Time) Commitment {
	taken := make(map[string]bool, len(existing))
	for _, c := range existing {
		taken[c.ID] = true
	}

	base := vault.SlugOr(label, "commitment")
	id := base
	for n := 2; taken[id]; n++ {
		id = fmt.Sprintf("%s-%d", base, n)
	}

	created := now
	return Commitment{
		ID:                 id,
		Label:              label,
		State:              StateCandidate,
		Priority:           priority,
		Horizon:            horizon,
		DesireClass:        DesireUnknown,
		FrictionClass:      FrictionUnknown,
		Source:             source,
		Evidence:           []string{},
		CreatedAt:          &created,
		StateHistory:       []StateTransition{},
		AdvancementSignals: []AdvancementSignal{},
	}
}
