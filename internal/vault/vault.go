// Package vault owns filesystem access and path conventions for a single
// knowledge vault: a directory of markdown notes plus JSON sidecar state
// under ops/. All mutation goes through atomic temp-file writes; shared
// state files are guarded by advisory locks (see lock.go).
package vault

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Vault-relative path conventions.
const (
	InboxDir        = "inbox"
	ThoughtsDir     = "thoughts"
	SelfDir         = "self"
	OpsDir          = "ops"
	LocksDir        = "ops/locks"
	RuntimeDir      = "ops/runtime"
	CyclesDir       = "ops/runtime/cycles"
	ObservationsDir = "ops/observations"
	TensionsDir     = "ops/tensions"
	SessionsDir     = "ops/sessions"
	EvaluationsDir  = "ops/evaluations"
	QueueArchiveDir = "ops/queue/archive"
	FeedsDir        = "ops/feeds"

	QueueFile         = "ops/queue/queue.json"
	CommitmentsFile   = "ops/commitments.json"
	TelemetryFile     = "ops/runtime/telemetry.jsonl"
	CursorsFile       = "ops/runtime/perception-cursors.json"
	NoiseFile         = "ops/runtime/perception-noise.json"
	MorningBriefFile  = "ops/morning-brief.md"
	MarkerFile        = "ops/.heartbeat-marker"
	ConfigFile        = "ops/config.yaml"
	IdentityFile      = "self/identity.md"
	GoalsFile         = "self/goals.md"
	WorkingMemoryFile = "self/working-memory.md"
)

const (
	// SlugMaxLength is the maximum length for file-safe slugs.
	SlugMaxLength = 50

	// SlugMinWordBoundary is the minimum length before trimming at a word boundary.
	SlugMinWordBoundary = 30
)

// Store provides file access rooted at a vault directory.
type Store struct {
	root string
}

// New returns a Store for the given vault root. The root is not validated;
// use EnsureLayout for new vaults or pkg/vault.Detect for existing ones.
func New(root string) *Store {
	return &Store{root: filepath.Clean(root)}
}

// Root returns the absolute vault root path.
func (s *Store) Root() string {
	return s.root
}

// ID returns a stable identifier for the vault, derived from its directory name.
func (s *Store) ID() string {
	return SlugOr(filepath.Base(s.root), "vault")
}

// Abs resolves a vault-relative path to an absolute one. Absolute inputs
// pass through unchanged.
func (s *Store) Abs(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(s.root, rel)
}

// Rel converts an absolute path inside the vault to a vault-relative one.
// Paths outside the vault are returned unchanged.
func (s *Store) Rel(abs string) string {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return abs
	}
	return rel
}

// EnsureLayout creates the standard vault directory tree.
func (s *Store) EnsureLayout() error {
	dirs := []string{
		InboxDir,
		ThoughtsDir,
		SelfDir,
		LocksDir,
		CyclesDir,
		ObservationsDir,
		TensionsDir,
		SessionsDir,
		EvaluationsDir,
		QueueArchiveDir,
		FeedsDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(s.Abs(dir), 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// Read returns the contents of a vault file. A missing file is not an
// error: ok is false and data is nil.
func (s *Store) Read(rel string) (data []byte, ok bool, err error) {
	data, err = os.ReadFile(s.Abs(rel))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", rel, err)
	}
	return data, true, nil
}

// Stat reports file info for a vault path; ok is false when absent.
func (s *Store) Stat(rel string) (info os.FileInfo, ok bool, err error) {
	info, err = os.Stat(s.Abs(rel))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("stat %s: %w", rel, err)
	}
	return info, true, nil
}

// Exists reports whether a vault path exists.
func (s *Store) Exists(rel string) bool {
	_, err := os.Stat(s.Abs(rel))
	return err == nil
}

// WriteAtomic writes data to a vault file via temp file + rename, so readers
// never observe a truncated file.
func (s *Store) WriteAtomic(rel string, data []byte) error {
	return s.WriteAtomicFunc(rel, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteAtomicFunc streams content to a temp file in the target directory,
// syncs, and renames into place. The temp file is removed on any failure.
func (s *Store) WriteAtomicFunc(rel string, writeFunc func(io.Writer) error) error {
	path := s.Abs(rel)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath) //nolint:errcheck // cleanup in error path
		}
	}()

	if err := writeFunc(tmpFile); err != nil {
		_ = tmpFile.Close() //nolint:errcheck // cleanup in error path
		return fmt.Errorf("write content: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close() //nolint:errcheck // cleanup in error path
		return fmt.Errorf("sync file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename to final: %w", err)
	}

	success = true
	return nil
}

// AppendJSONL appends one JSON line to a vault file. The single write plus
// O_APPEND keeps each line atomic even across concurrent appenders.
func (s *Store) AppendJSONL(rel string, v any) error {
	path := s.Abs(rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // sync already called, close best-effort
	}()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write line: %w", err)
	}

	return f.Sync()
}

// ReadJSONLines decodes each well-formed JSON line of a vault file into the
// slice pointed to by out's element type, skipping malformed lines. It
// reports how many lines were skipped.
func ReadJSONLines[T any](s *Store, rel string) (entries []T, skipped int, err error) {
	f, err := os.Open(s.Abs(rel))
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", rel, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry T
		if err := json.Unmarshal(line, &entry); err != nil {
			skipped++
			continue
		}
		entries = append(entries, entry)
	}

	return entries, skipped, scanner.Err()
}

// ListMarkdown returns vault-relative paths of all markdown files under dir,
// recursively, sorted for determinism.
func (s *Store) ListMarkdown(dir string) ([]string, error) {
	base := s.Abs(dir)
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return nil, nil
	}

	matches, err := doublestar.FilepathGlob(filepath.Join(base, "**", "*.md"))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", dir, err)
	}

	rels := make([]string, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		rels = append(rels, s.Rel(m))
	}
	sort.Strings(rels)
	return rels, nil
}

// ListDir returns the names of regular files directly under a vault
// directory. A missing directory yields an empty list.
func (s *Store) ListDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(s.Abs(dir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Move relocates a vault file, creating the destination directory. Used to
// archive consumed inbox items.
func (s *Store) Move(fromRel, toRel string) error {
	to := s.Abs(toRel)
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.Rename(s.Abs(fromRel), to); err != nil {
		return fmt.Errorf("move %s: %w", fromRel, err)
	}
	return nil
}

// Remove deletes a vault file if present.
func (s *Store) Remove(rel string) error {
	err := os.Remove(s.Abs(rel))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", rel, err)
	}
	return nil
}

// ResolveSelfFile returns the self/ path for a note name, falling back to
// ops/ when only the legacy location exists.
func (s *Store) ResolveSelfFile(name string) string {
	primary := filepath.Join(SelfDir, name)
	if s.Exists(primary) {
		return primary
	}
	fallback := filepath.Join(OpsDir, name)
	if s.Exists(fallback) {
		return fallback
	}
	return primary
}

// Slugify converts text to a file-safe slug: lowercase alphanumeric runs
// joined by single hyphens, bounded in length, trimmed at a word boundary
// where possible. Returns "" when nothing survives.
func Slugify(text string) string {
	var result strings.Builder
	lastHyphen := false
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			result.WriteRune(r)
			lastHyphen = false
		} else if !lastHyphen {
			result.WriteRune('-')
			lastHyphen = true
		}
	}

	s := strings.Trim(result.String(), "-")
	if len(s) <= SlugMaxLength {
		return s
	}
	s = s[:SlugMaxLength]
	if idx := strings.LastIndex(s, "-"); idx > SlugMinWordBoundary {
		s = s[:idx]
	}
	return s
}

// SlugOr slugifies text, substituting fallback when the result is empty.
func SlugOr(text, fallback string) string {
	if s := Slugify(text); s != "" {
		return s
	}
	return fallback
}
