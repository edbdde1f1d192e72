// Package vault locates vault roots on disk. A vault root is either a tree
// the engine already manages (self/identity.md or ops/) or a bare Obsidian
// vault the engine can adopt.
package vault

import (
	"os"
	"path/filepath"
)

// Detect walks up from the given directory to find a vault root.
// Empty startDir means the working directory. Returns the vault path if
// found, empty string otherwise.
func Detect(startDir string) string {
	if startDir == "" {
		var err error
		startDir, err = os.Getwd()
		if err != nil {
			return ""
		}
	}

	dir := startDir
	for {
		if IsVault(dir) {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break // Reached root
		}
		dir = parent
	}

	return ""
}

// IsVault reports whether dir itself is a vault root.
func IsVault(dir string) bool {
	if dir == "" {
		return false
	}
	if fileExists(filepath.Join(dir, "self", "identity.md")) {
		return true
	}
	return dirExists(filepath.Join(dir, "ops")) || dirExists(filepath.Join(dir, ".obsidian"))
}

// Initialized reports whether the engine has state in the vault, as opposed
// to a bare Obsidian vault it has not adopted yet.
func Initialized(vaultPath string) bool {
	if vaultPath == "" {
		return false
	}
	return fileExists(filepath.Join(vaultPath, "self", "identity.md")) ||
		dirExists(filepath.Join(vaultPath, "ops"))
}

// IsInside returns true if the given directory is within a vault.
func IsInside(dir string) bool {
	return Detect(dir) != ""
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
