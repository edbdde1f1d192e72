package main

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/boshu2/intent/embedded"
	"github.com/boshu2/intent/internal/vault"
	vaultpath "github.com/boshu2/intent/pkg/vault"
)

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Scaffold a vault in the current directory",
	Long: `Set up a directory as an intent vault: layout, starter self files,
and a commented config.

This creates:
  inbox/                   Captures awaiting triage
  thoughts/                Durable notes (the graph)
  self/identity.md         Themes the engine scores captures against
  self/goals.md            Goals fed into the morning brief
  self/working-memory.md   Rolling context the engine appends to
  ops/config.yaml          Engine configuration (commented defaults)
  ops/                     Queue, commitments, runtime state, locks

Existing files are never overwritten. Run it on a plain directory, an
Obsidian vault, or an already-adopted vault; it only fills gaps.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := ""
	if len(args) == 1 {
		dir = args[0]
	}
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		dir = cwd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("create vault root: %w", err)
	}

	adopted := vaultpath.IsVault(abs) && !vaultpath.Initialized(abs)
	already := vaultpath.Initialized(abs)

	store := vault.New(abs)
	if err := store.EnsureLayout(); err != nil {
		return fmt.Errorf("create vault layout: %w", err)
	}

	written, err := extractTemplates(store)
	if err != nil {
		return err
	}

	printInitSummary(store, written, adopted, already)
	return nil
}

// extractTemplates writes every embedded starter file that does not already
// exist in the vault. Returns the vault-relative paths it wrote.
func extractTemplates(store *vault.Store) ([]string, error) {
	var written []string
	err := fs.WalkDir(embedded.Templates, "templates", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel := templateDest(path.Base(p))
		if store.Exists(rel) {
			VerbosePrintf("  exists, skipping: %s\n", rel)
			return nil
		}
		data, err := embedded.Templates.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read embedded %s: %w", p, err)
		}
		if err := store.WriteAtomic(rel, data); err != nil {
			return fmt.Errorf("write %s: %w", rel, err)
		}
		written = append(written, rel)
		return nil
	})
	return written, err
}

// templateDest maps an embedded starter file to its place in the vault.
// Config belongs under ops/; everything else is a self file.
func templateDest(name string) string {
	switch name {
	case "config.yaml":
		return vault.ConfigFile
	default:
		return path.Join(vault.SelfDir, name)
	}
}

func printInitSummary(store *vault.Store, written []string, adopted, already bool) {
	switch {
	case adopted:
		fmt.Printf("✓ Adopted existing vault at %s\n", store.Root())
	case already:
		fmt.Printf("✓ Vault at %s already initialized\n", store.Root())
	default:
		fmt.Printf("✓ Initialized vault at %s\n", store.Root())
	}
	if len(written) > 0 {
		fmt.Println()
		fmt.Println("Created:")
		for _, rel := range written {
			fmt.Printf("  %s\n", rel)
		}
	}
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Put your durable interests under '## Themes' in self/identity.md")
	fmt.Println("  2. intent commitments add \"<what you are working toward>\"")
	fmt.Println("  3. intent heartbeat --dry-run   (see what a cycle would do)")
	fmt.Println("  4. intent watch                 (keep it running)")
}
