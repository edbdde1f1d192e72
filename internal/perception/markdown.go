package perception

import (
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"

	"github.com/boshu2/intent/internal/vault"
)

var htmlConverter = sync.OnceValue(func() *md.Converter {
	conv := md.NewConverter("", true, nil)
	conv.Use(plugin.GitHubFlavored())
	return conv
})

// captureBody returns the capture content as markdown, converting HTML
// content when the capture says so. Conversion failures fall back to the
// raw content; an unreadable capture still lands in the inbox.
func captureBody(c FeedCapture) string {
	if strings.EqualFold(c.Metadata["contentType"], "html") {
		if converted, err := htmlConverter().ConvertString(c.Content); err == nil {
			return converted
		}
	}
	return c.Content
}

// ToInboxMarkdown renders an admitted capture as an inbox note and suggests
// a vault-relative path for it: inbox/<date>-<slug>.md, falling back to the
// capture id when the title slugs to nothing.
func ToInboxMarkdown(c FeedCapture, score float64, now time.Time) (string, string, error) {
	slug := vault.SlugOr(c.Title, c.ID)
	rel := path.Join(vault.InboxDir, fmt.Sprintf("%s-%s.md", now.UTC().Format("2006-01-02"), slug))

	fm := map[string]any{
		"id":       c.ID,
		"source":   c.SourceID,
		"captured": c.CapturedAt.UTC().Format(time.RFC3339),
		"type":     "capture",
	}
	if score > 0 {
		fm["relevance"] = score
	}
	if len(c.URLs) > 0 {
		fm["urls"] = c.URLs
	}

	body := captureBody(c)
	if c.Title != "" {
		body = "# " + c.Title + "\n\n" + body
	}
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}

	content, err := vault.RenderNote(vault.Note{Frontmatter: fm, Body: body})
	if err != nil {
		return "", "", fmt.Errorf("render capture %s: %w", c.ID, err)
	}
	return rel, content, nil
}

// WriteInbox renders the capture and writes it into inbox/, suffixing the
// filename when a different capture already claimed it.
func WriteInbox(store *vault.Store, c FeedCapture, score float64, now time.Time) (string, error) {
	rel, content, err := ToInboxMarkdown(c, score, now)
	if err != nil {
		return "", err
	}

	base := strings.TrimSuffix(rel, ".md")
	for n := 2; store.Exists(rel); n++ {
		rel = fmt.Sprintf("%s-%d.md", base, n)
	}

	if err := store.WriteAtomic(rel, []byte(content)); err != nil {
		return "", err
	}
	return rel, nil
}
