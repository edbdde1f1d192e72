package vault

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Note is a markdown file split into YAML frontmatter and body.
type Note struct {
	Frontmatter map[string]any
	Body        string
}

const frontmatterFence = "---"

// ParseNote splits frontmatter from body. Parsing is total: malformed YAML
// yields an empty frontmatter map, the full text as body, and a warning.
func ParseNote(text string) (Note, []string) {
	note := Note{Frontmatter: map[string]any{}, Body: text}
	var warnings []string

	if !strings.HasPrefix(text, frontmatterFence+"\n") && text != frontmatterFence {
		return note, nil
	}

	rest := text[len(frontmatterFence):]
	rest = strings.TrimPrefix(rest, "\n")
	end := strings.Index(rest, "\n"+frontmatterFence)
	if end < 0 {
		warnings = append(warnings, "unterminated frontmatter fence")
		return note, warnings
	}

	header := rest[:end]
	body := rest[end+len("\n"+frontmatterFence):]
	body = strings.TrimPrefix(body, "\n")
	// One blank separator line after the fence is convention, not content.
	body = strings.TrimPrefix(body, "\n")

	fm := map[string]any{}
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		warnings = append(warnings, fmt.Sprintf("frontmatter yaml: %v", err))
		return note, warnings
	}
	if fm == nil {
		fm = map[string]any{}
	}

	note.Frontmatter = fm
	note.Body = body
	return note, warnings
}

// RenderNote serializes a note back to markdown with a YAML frontmatter
// header. Notes without frontmatter render as plain body.
func RenderNote(n Note) (string, error) {
	if len(n.Frontmatter) == 0 {
		return n.Body, nil
	}

	header, err := yaml.Marshal(n.Frontmatter)
	if err != nil {
		return "", fmt.Errorf("marshal frontmatter: %w", err)
	}

	var b strings.Builder
	b.WriteString(frontmatterFence)
	b.WriteString("\n")
	b.Write(header)
	b.WriteString(frontmatterFence)
	b.WriteString("\n\n")
	b.WriteString(n.Body)
	return b.String(), nil
}

// FrontmatterString returns the string value for key, or "".
func FrontmatterString(fm map[string]any, key string) string {
	switch v := fm[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case int, int64, float64, bool:
		return fmt.Sprintf("%v", v)
	default:
		return ""
	}
}

// FrontmatterList returns the list value for key. It accepts YAML lists,
// inline arrays, nested lists (unquoted wiki links parse as such), and a
// lone scalar, flattening everything to strings.
func FrontmatterList(fm map[string]any, key string) []string {
	return flattenStrings(fm[key])
}

func flattenStrings(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case []any:
		var out []string
		for _, item := range val {
			out = append(out, flattenStrings(item)...)
		}
		return out
	case []string:
		return val
	default:
		return []string{fmt.Sprintf("%v", val)}
	}
}

// TopicLinks returns the canonical link targets of a note's topics
// frontmatter. Entries may be bare names or "[[wiki-link]]" strings.
func TopicLinks(fm map[string]any) []string {
	var targets []string
	for _, raw := range FrontmatterList(fm, "topics") {
		t := strings.TrimSpace(raw)
		t = strings.TrimPrefix(t, "[[")
		t = strings.TrimSuffix(t, "]]")
		if target := CanonicalLink(t); target != "" {
			targets = append(targets, target)
		}
	}
	return targets
}

var wikiLinkRe = regexp.MustCompile(`\[\[([^\[\]]+)\]\]`)

// WikiLinks extracts canonical wiki-link targets from a markdown body,
// ignoring fenced code blocks. Order follows appearance; duplicates kept.
func WikiLinks(body string) []string {
	var links []string
	inFence := false
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		for _, m := range wikiLinkRe.FindAllStringSubmatch(line, -1) {
			if target := CanonicalLink(m[1]); target != "" {
				links = append(links, target)
			}
		}
	}
	return links
}

// CanonicalLink normalizes a raw wiki-link target: alias and anchor are
// dropped, then any path prefix and .md suffix, then lowercased.
func CanonicalLink(raw string) string {
	target := raw
	if idx := strings.Index(target, "|"); idx >= 0 {
		target = target[:idx]
	}
	if idx := strings.Index(target, "#"); idx >= 0 {
		target = target[:idx]
	}
	target = strings.TrimSpace(target)
	if idx := strings.LastIndex(target, "/"); idx >= 0 {
		target = target[idx+1:]
	}
	target = strings.TrimSuffix(target, ".md")
	return strings.ToLower(strings.TrimSpace(target))
}

// SectionBullets returns the "- " bullet lines under the given "## Heading"
// section, stopping at the next heading.
func SectionBullets(body, heading string) []string {
	var bullets []string
	inSection := false
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			inSection = strings.EqualFold(trimmed, heading)
			continue
		}
		if !inSection {
			continue
		}
		if strings.HasPrefix(trimmed, "- ") {
			bullets = append(bullets, strings.TrimPrefix(trimmed, "- "))
		}
	}
	return bullets
}

// TailLines returns the last n non-empty-trimmed lines of text.
func TailLines(text string, n int) []string {
	if n <= 0 || text == "" {
		return nil
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
