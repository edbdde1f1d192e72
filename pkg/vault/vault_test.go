package vault

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetect(t *testing.T) {
	tmpDir := t.TempDir()

	// No vault case
	if got := Detect(tmpDir); got != "" {
		t.Errorf("Detect() = %q, want empty string", got)
	}

	// Create self/identity.md to mark an engine-managed vault
	vaultDir := filepath.Join(tmpDir, "my-vault")
	selfDir := filepath.Join(vaultDir, "self")
	if err := os.MkdirAll(selfDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(selfDir, "identity.md"), []byte("# Identity\n"), 0644); err != nil {
		t.Fatal(err)
	}

	// Detect from vault root
	if got := Detect(vaultDir); got != vaultDir {
		t.Errorf("Detect(%q) = %q, want %q", vaultDir, got, vaultDir)
	}

	// Detect from subdirectory
	subDir := filepath.Join(vaultDir, "thoughts", "daily")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	if got := Detect(subDir); got != vaultDir {
		t.Errorf("Detect(%q) = %q, want %q", subDir, got, vaultDir)
	}
}

func TestDetect_ObsidianVault(t *testing.T) {
	tmpDir := t.TempDir()

	// A bare Obsidian vault counts as a root the engine can adopt.
	vaultDir := filepath.Join(tmpDir, "obsidian-vault")
	if err := os.MkdirAll(filepath.Join(vaultDir, ".obsidian"), 0755); err != nil {
		t.Fatal(err)
	}

	if got := Detect(vaultDir); got != vaultDir {
		t.Errorf("Detect(%q) = %q, want %q", vaultDir, got, vaultDir)
	}
	if Initialized(vaultDir) {
		t.Error("Initialized() = true, want false for a bare Obsidian vault")
	}
}

func TestInitialized(t *testing.T) {
	tmpDir := t.TempDir()

	// Empty string
	if Initialized("") {
		t.Error("Initialized(\"\") = true, want false")
	}

	// Plain directory
	if Initialized(tmpDir) {
		t.Error("Initialized() = true, want false for a plain directory")
	}

	// ops/ marks engine state
	vaultDir := filepath.Join(tmpDir, "vault")
	if err := os.MkdirAll(filepath.Join(vaultDir, "ops"), 0755); err != nil {
		t.Fatal(err)
	}
	if !Initialized(vaultDir) {
		t.Error("Initialized() = false, want true with ops/")
	}
}

func TestDetect_EmptyString(t *testing.T) {
	// Empty string should use the current working directory (os.Getwd)
	// and walk upward. We don't control cwd; just verify no panic.
	result := Detect("")
	_ = result
}

func TestIsInside(t *testing.T) {
	tmpDir := t.TempDir()

	if IsInside(tmpDir) {
		t.Error("IsInside() = true, want false")
	}

	vaultDir := filepath.Join(tmpDir, "vault")
	if err := os.MkdirAll(filepath.Join(vaultDir, "ops"), 0755); err != nil {
		t.Fatal(err)
	}

	if !IsInside(vaultDir) {
		t.Error("IsInside() = false, want true")
	}
}
