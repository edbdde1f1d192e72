package perception

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/boshu2/intent/internal/vault"
)

func dropBatch(t *testing.T, vs *vault.Store, source, name, body string) string {
	t.Helper()
	dir := vs.Abs(filepath.Join(vault.FeedsDir, source))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFiledropSource_ConsumesBatches(t *testing.T) {
	vs := vault.New(t.TempDir())
	p1 := dropBatch(t, vs, "drop", "a.json", `{"captures":[{"title":"first","content":"one"}]}`)
	p2 := dropBatch(t, vs, "drop", "b.json", `[{"title":"second","content":"two"}]`)

	src := NewFiledropSource("drop", vs, nil)
	captures, cursor, err := src.Poll(context.Background(), NewIDSetCursor())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	if len(captures) != 2 {
		t.Fatalf("captures = %+v, want 2", captures)
	}
	if captures[0].Title != "first" || captures[1].Title != "second" {
		t.Errorf("order = %q, %q, want name order", captures[0].Title, captures[1].Title)
	}
	for _, c := range captures {
		if c.SourceID != "drop" {
			t.Errorf("sourceId = %q, want drop", c.SourceID)
		}
		if c.ID == "" {
			t.Error("capture without fingerprint id")
		}
		if c.CapturedAt.IsZero() {
			t.Error("capturedAt not stamped")
		}
		if !cursor.Seen(c.ID) {
			t.Errorf("cursor missing %s", c.ID)
		}
	}

	for _, p := range []string{p1, p2} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("consumed batch %s still present", p)
		}
	}
}

func TestFiledropSource_MalformedLeftInPlace(t *testing.T) {
	vs := vault.New(t.TempDir())
	bad := dropBatch(t, vs, "drop", "bad.json", `{not json`)
	dropBatch(t, vs, "drop", "ok.json", `[{"title":"fine","content":"x"}]`)

	src := NewFiledropSource("drop", vs, nil)
	captures, _, err := src.Poll(context.Background(), NewIDSetCursor())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(captures) != 1 || captures[0].Title != "fine" {
		t.Errorf("captures = %+v, want only the valid batch", captures)
	}
	if _, err := os.Stat(bad); err != nil {
		t.Errorf("malformed batch removed or unreadable: %v", err)
	}
}

func TestFiledropSource_CursorDeduplicates(t *testing.T) {
	vs := vault.New(t.TempDir())
	src := NewFiledropSource("drop", vs, nil)

	dropBatch(t, vs, "drop", "a.json", `[{"title":"repeat","content":"same"}]`)
	first, cursor, err := src.Poll(context.Background(), NewIDSetCursor())
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 {
		t.Fatalf("first poll = %+v", first)
	}

	// The same item dropped again fingerprints identically.
	dropBatch(t, vs, "drop", "a.json", `[{"title":"repeat","content":"same"}]`)
	second, _, err := src.Poll(context.Background(), cursor)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 0 {
		t.Errorf("second poll = %+v, want cursor to swallow the repeat", second)
	}
}

func TestFiledropSource_EmptyDir(t *testing.T) {
	vs := vault.New(t.TempDir())
	src := NewFiledropSource("drop", vs, nil)

	captures, _, err := src.Poll(context.Background(), NewIDSetCursor())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(captures) != 0 {
		t.Errorf("captures = %+v, want none", captures)
	}
}
