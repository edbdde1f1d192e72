// Package watch keeps a vault's heartbeat alive without a human in the
// loop. A daemon watches the vault's capture directories for markdown
// activity and fires a cycle once the writes settle, and a wall-clock
// scheduler fires the morning, evening, and overnight slot cycles at
// their configured times.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/boshu2/intent/internal/config"
	"github.com/boshu2/intent/internal/vault"
)

const (
	// DefaultDebounce is how long file activity must settle before it
	// triggers a cycle. Editors fire bursts of events per save.
	DefaultDebounce = 500 * time.Millisecond

	// defaultCooldown suppresses activity triggers right after a cycle
	// finishes, so the engine's own inbox writes do not retrigger it.
	defaultCooldown = 10 * time.Second

	// pidFile under ops/locks/ guards against two daemons on one vault.
	pidFile = "watch.pid"
)

// CycleFunc runs one heartbeat cycle for the given slot. The daemon logs a
// returned error and moves on; a failed cycle is retried at the next
// trigger, not immediately.
type CycleFunc func(ctx context.Context, slot string) error

// Daemon fires heartbeat cycles on vault file activity and at the
// configured slot times.
type Daemon struct {
	store    *vault.Store
	cycle    CycleFunc
	slots    config.SlotTimes
	debounce time.Duration
	cooldown time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	pending *time.Timer
	signals chan struct{}
}

// New returns a Daemon over the vault with default timings and no
// scheduled slots.
func New(store *vault.Store, cycle CycleFunc, logger *zap.Logger) *Daemon {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Daemon{
		store:    store,
		cycle:    cycle,
		debounce: DefaultDebounce,
		cooldown: defaultCooldown,
		logger:   logger,
		now:      time.Now,
		signals:  make(chan struct{}, 1),
	}
}

// WithSlots sets the HH:MM wall-clock times for scheduled cycles.
func (d *Daemon) WithSlots(slots config.SlotTimes) *Daemon {
	d.slots = slots
	return d
}

// WithDebounce overrides the activity settle window.
func (d *Daemon) WithDebounce(t time.Duration) *Daemon {
	d.debounce = t
	return d
}

// WithCooldown overrides the post-cycle suppression window. Zero disables
// suppression entirely.
func (d *Daemon) WithCooldown(t time.Duration) *Daemon {
	d.cooldown = t
	return d
}

// WithClock fixes the daemon clock.
func (d *Daemon) WithClock(now func() time.Time) *Daemon {
	d.now = now
	return d
}

// Run starts the daemon and blocks until ctx is cancelled. On startup it
// acquires the vault's PID lock and runs one catch-up cycle so a backlog
// accumulated while the daemon was down is handled immediately.
func (d *Daemon) Run(ctx context.Context) error {
	if d.cycle == nil {
		return fmt.Errorf("watch daemon needs a cycle func")
	}
	if err := d.store.EnsureLayout(); err != nil {
		return fmt.Errorf("ensure vault layout: %w", err)
	}

	pidPath := d.store.Abs(filepath.Join(vault.LocksDir, pidFile))
	if err := acquirePIDLock(pidPath); err != nil {
		return err
	}
	defer func() { _ = os.Remove(pidPath) }()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(d.store.Abs(vault.InboxDir)); err != nil {
		return fmt.Errorf("watch %s: %w", vault.InboxDir, err)
	}
	// Secondary watch. A vault is still serviceable without it.
	if err := watcher.Add(d.store.Abs(vault.ThoughtsDir)); err != nil {
		d.logger.Warn("thoughts dir not watched", zap.Error(err))
	}

	d.logger.Info("watch daemon started",
		zap.String("vault", d.store.Root()),
		zap.String("morning", d.slots.Morning),
		zap.String("evening", d.slots.Evening),
		zap.String("overnight", d.slots.Overnight))

	lastFinish := d.runCycle(ctx, "manual", "startup")

	var (
		slotTimer *time.Timer
		slotC     <-chan time.Time
		slotName  string
	)
	armSlot := func() {
		tick, ok := nextSlot(d.slots, d.now())
		if !ok {
			slotC = nil
			return
		}
		wait := tick.at.Sub(d.now())
		if slotTimer == nil {
			slotTimer = time.NewTimer(wait)
		} else {
			slotTimer.Reset(wait)
		}
		slotC = slotTimer.C
		slotName = tick.name
		d.logger.Debug("slot scheduled",
			zap.String("slot", tick.name), zap.Time("at", tick.at))
	}
	armSlot()
	defer func() {
		if slotTimer != nil {
			slotTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			d.stopDebounce()
			d.logger.Info("watch daemon stopped")
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher event stream closed")
			}
			if relevantEvent(ev) {
				d.bump()
			}

		case werr, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error stream closed")
			}
			d.logger.Warn("watcher error", zap.Error(werr))

		case <-d.signals:
			if d.cooldown > 0 && d.now().Sub(lastFinish) < d.cooldown {
				d.logger.Debug("activity inside cooldown ignored")
				continue
			}
			lastFinish = d.runCycle(ctx, "manual", "activity")

		case <-slotC:
			lastFinish = d.runCycle(ctx, slotName, "slot")
			armSlot()
		}
	}
}

// runCycle runs one cycle inline and returns its finish time. Signals that
// accumulated while the cycle ran are dropped; the cycle already saw that
// state on disk.
func (d *Daemon) runCycle(ctx context.Context, slot, trigger string) time.Time {
	d.logger.Info("cycle triggered",
		zap.String("slot", slot), zap.String("trigger", trigger))
	if err := d.cycle(ctx, slot); err != nil && ctx.Err() == nil {
		d.logger.Warn("cycle failed", zap.String("slot", slot), zap.Error(err))
	}
	select {
	case <-d.signals:
	default:
	}
	return d.now()
}

// bump restarts the debounce timer. A burst of events collapses into one
// signal sent after the window closes.
func (d *Daemon) bump() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending != nil {
		d.pending.Stop()
	}
	d.pending = time.AfterFunc(d.debounce, d.sendSignal)
}

// sendSignal is a non-blocking send; a signal already queued covers this one.
func (d *Daemon) sendSignal() {
	select {
	case d.signals <- struct{}{}:
	default:
	}
}

func (d *Daemon) stopDebounce() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
}

// relevantEvent reports whether a filesystem event looks like a markdown
// capture being written. Chmod noise, dotfiles, and editor swap files are
// ignored.
func relevantEvent(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return strings.HasSuffix(name, ".md")
}

// slotTick is one upcoming scheduled cycle.
type slotTick struct {
	name string
	at   time.Time
}

// nextSlot returns the earliest slot occurrence strictly after now.
// Malformed and empty slot times are skipped; ok is false when nothing is
// schedulable.
func nextSlot(slots config.SlotTimes, now time.Time) (slotTick, bool) {
	entries := []struct {
		name string
		hhmm string
	}{
		{"morning", slots.Morning},
		{"evening", slots.Evening},
		{"overnight", slots.Overnight},
	}
	var best slotTick
	for _, e := range entries {
		at, err := nextOccurrence(e.hhmm, now)
		if err != nil {
			continue
		}
		if best.at.IsZero() || at.Before(best.at) {
			best = slotTick{name: e.name, at: at}
		}
	}
	return best, !best.at.IsZero()
}

// nextOccurrence resolves an HH:MM wall-clock time to its next occurrence
// after now, in now's location. A slot landing exactly on now rolls to
// tomorrow.
func nextOccurrence(hhmm string, now time.Time) (time.Time, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return time.Time{}, err
	}
	at := time.Date(now.Year(), now.Month(), now.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, now.Location())
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at, nil
}

// acquirePIDLock refuses to start when another live daemon holds the lock.
// Stale and unreadable PID files are replaced.
func acquirePIDLock(path string) error {
	if data, err := os.ReadFile(path); err == nil {
		pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err == nil {
			if process, err := os.FindProcess(pid); err == nil {
				if err := process.Signal(syscall.Signal(0)); err == nil {
					return fmt.Errorf("another watch daemon is running (PID %d)", pid)
				}
			}
		}
		_ = os.Remove(path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600)
}
