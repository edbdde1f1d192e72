package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/boshu2/intent/internal/perception"
	"github.com/boshu2/intent/internal/vault"
)

var (
	captureTitle  string
	captureURLs   []string
	captureSource string
	captureFile   string
)

var captureCmd = &cobra.Command{
	Use:   "capture [text]",
	Short: "Drop a capture into a feed",
	Long: `Write a capture batch into ops/feeds/<source>/ for the next heartbeat
to pick up. Captures go through the same admission scoring as any feed:
irrelevant ones are filtered, relevant ones land in inbox/.

Text comes from the argument, or from stdin when the argument is '-'.
With --file, an already-prepared batch JSON is dropped as-is.

Examples:
  intent capture "idea: lock-free queue merge for the vault"
  pbpaste | intent capture - --title "pasted article" --url https://...
  intent capture --file batch.json --source rss`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCapture,
}

func init() {
	captureCmd.Flags().StringVar(&captureTitle, "title", "", "Capture title (default: first content line)")
	captureCmd.Flags().StringArrayVar(&captureURLs, "url", nil, "Source URL (repeatable)")
	captureCmd.Flags().StringVar(&captureSource, "source", "manual", "Feed the capture belongs to")
	captureCmd.Flags().StringVar(&captureFile, "file", "", "Drop this batch JSON file instead of building one")
	rootCmd.AddCommand(captureCmd)
}

func runCapture(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	var batch []byte
	var count int
	switch {
	case captureFile != "":
		if len(args) > 0 {
			return fmt.Errorf("--file and inline text are mutually exclusive")
		}
		batch, count, err = loadBatchFile(captureFile)
	case len(args) == 1:
		batch, count, err = buildBatch(args[0])
	default:
		return fmt.Errorf("nothing to capture: pass text, '-', or --file")
	}
	if err != nil {
		return err
	}

	rel := filepath.Join(vault.FeedsDir, captureSource, ulid.Make().String()+".json")
	if err := store.WriteAtomic(rel, batch); err != nil {
		return fmt.Errorf("write capture batch: %w", err)
	}

	fmt.Printf("✓ Dropped %d capture(s) into %s\n", count, rel)
	fmt.Println("  The next heartbeat will score them for admission.")
	return nil
}

// buildBatch wraps one piece of text as a single-capture batch.
func buildBatch(text string) ([]byte, int, error) {
	if text == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, 0, fmt.Errorf("read stdin: %w", err)
		}
		text = string(data)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, 0, fmt.Errorf("empty capture")
	}

	title := captureTitle
	if title == "" {
		title = titleFromContent(text)
	}
	capture := perception.FeedCapture{
		CapturedAt: time.Now().UTC(),
		Title:      title,
		Content:    text,
		URLs:       captureURLs,
	}
	data, err := json.MarshalIndent(struct {
		Captures []perception.FeedCapture `json:"captures"`
	}{[]perception.FeedCapture{capture}}, "", "  ")
	return data, 1, err
}

// loadBatchFile reads a prepared batch and checks it decodes before it is
// dropped where the engine will trust it.
func loadBatchFile(path string) ([]byte, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read batch: %w", err)
	}

	var batch struct {
		Captures []perception.FeedCapture `json:"captures"`
	}
	if err := json.Unmarshal(data, &batch); err != nil || batch.Captures == nil {
		var bare []perception.FeedCapture
		if err := json.Unmarshal(data, &bare); err != nil {
			return nil, 0, fmt.Errorf("%s is not a capture batch: %w", path, err)
		}
		batch.Captures = bare
	}
	if len(batch.Captures) == 0 {
		return nil, 0, fmt.Errorf("%s holds no captures", path)
	}
	return data, len(batch.Captures), nil
}

// titleFromContent derives a title from the first non-empty content line.
func titleFromContent(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "# "))
		if line == "" {
			continue
		}
		if len(line) > 80 {
			return line[:77] + "..."
		}
		return line
	}
	return "untitled capture"
}
