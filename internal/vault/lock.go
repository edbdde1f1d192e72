package vault

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// Lock kinds serializing mutation of the corresponding state file.
const (
	LockQueue      = "queue"
	LockCommitment = "commitment"
)

const lockMaxAttempts = 40

// lockBackoff computes retry delays for contended lock acquisition.
// Deterministic jitter keeps concurrent engines from thundering in step
// while staying reproducible in tests.
type lockBackoff struct {
	initial time.Duration
	factor  float64
	cap     time.Duration
}

var defaultLockBackoff = lockBackoff{
	initial: 25 * time.Millisecond,
	factor:  1.6,
	cap:     time.Second,
}

// delay returns the pause before retry `attempt` (0-based) on `kind`.
func (b lockBackoff) delay(kind string, attempt int) time.Duration {
	base := float64(b.initial) * math.Pow(b.factor, float64(attempt))
	if base > float64(b.cap) {
		base = float64(b.cap)
	}
	return time.Duration(base * jitterUnit(kind, attempt))
}

// jitterUnit maps (kind, attempt) to a deterministic factor in [0.5, 1.5).
func jitterUnit(kind string, attempt int) float64 {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", kind, attempt)))
	u := binary.BigEndian.Uint64(sum[:8])
	return 0.5 + float64(u)/float64(math.MaxUint64)
}

// WithLock runs fn while holding the exclusive advisory lock for kind at
// ops/locks/<kind>.lock. Acquisition retries with bounded backoff and
// honors context cancellation; the lock is released on all exit paths.
func (s *Store) WithLock(ctx context.Context, kind string, fn func() error) error {
	lockPath := s.Abs(filepath.Join(LocksDir, kind+".lock"))
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file %s: %w", kind, err)
	}
	defer func() {
		_ = file.Close() //nolint:errcheck // close releases the flock anyway
	}()

	acquired := false
	for attempt := 0; attempt < lockMaxAttempts; attempt++ {
		err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			acquired = true
			break
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) && !errors.Is(err, syscall.EAGAIN) {
			return fmt.Errorf("lock %s: %w", kind, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("lock %s: %w", kind, ctx.Err())
		case <-time.After(defaultLockBackoff.delay(kind, attempt)):
		}
	}
	if !acquired {
		return fmt.Errorf("lock %s: %w", kind, ErrLockBusy)
	}
	defer func() {
		_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN) //nolint:errcheck // unlock best-effort
	}()

	return fn()
}
