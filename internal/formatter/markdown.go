// Package formatter renders engine output for people and tools: tabwriter
// tables and JSON Lines for the CLI, and the template morning brief used
// when LLM synthesis is unavailable.
package formatter

import (
	"fmt"
	"io"
	"text/template"
	"time"
)

// BriefData holds everything the morning-brief template needs. The
// heartbeat engine assembles it from the cycle result.
type BriefData struct {
	// Date is the brief date (YYYY-MM-DD).
	Date string

	// Slot is the run slot that produced the brief.
	Slot string

	// Attention lists flagged conditions and failures.
	Attention []string

	// Commitments summarizes the active commitments.
	Commitments []BriefCommitment

	// Recommendations lists proposed next moves.
	Recommendations []string

	// Cycle counters.
	TasksExecuted  int
	TasksSucceeded int
	TasksFailed    int
	QueueDepth     int
}

// BriefCommitment is one active-commitment line in the brief.
type BriefCommitment struct {
	Label        string
	State        string
	Horizon      string
	LastAdvanced string
	Drifting     bool
}

// FallbackBrief renders the template morning brief. The LLM-synthesized
// brief replaces the body below the frontmatter when synthesis succeeds;
// this template is the deterministic fallback.
func FallbackBrief(w io.Writer, data *BriefData) error {
	tmpl, err := template.New("brief").Funcs(briefFuncs()).Parse(briefTemplate)
	if err != nil {
		return fmt.Errorf("parse template: %w", err)
	}
	return tmpl.Execute(w, data)
}

// Ago renders how long ago t was, relative to now. Zero times read "never".
func Ago(now, t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// briefFuncs returns custom template functions.
func briefFuncs() template.FuncMap {
	return template.FuncMap{
		"hasContent": func(s []string) bool {
			return len(s) > 0
		},
		"plural": func(n int) string {
			if n == 1 {
				return ""
			}
			return "s"
		},
	}
}

const briefTemplate = `---
date: {{ .Date }}
slot: {{ .Slot }}
type: morning-brief
source: template
---

# Morning Brief: {{ .Date }}

Cycle ran {{ .TasksExecuted }} task{{ plural .TasksExecuted }} ({{ .TasksSucceeded }} succeeded, {{ .TasksFailed }} failed); {{ .QueueDepth }} pending in queue.

## Attention Needed

{{- if hasContent .Attention }}
{{- range .Attention }}
- {{ . }}
{{- end }}
{{- else }}
- Nothing flagged this cycle.
{{- end }}

## Active Commitments

{{- if .Commitments }}
{{- range .Commitments }}
- **{{ .Label }}** ({{ .State }}, {{ .Horizon }}): last advanced {{ .LastAdvanced }}{{ if .Drifting }} [drifting]{{ end }}
{{- end }}
{{- else }}
- No active commitments.
{{- end }}

## Recommendations

{{- if hasContent .Recommendations }}
{{- range .Recommendations }}
- {{ . }}
{{- end }}
{{- else }}
- Review the inbox and promote one capture into a thought.
{{- end }}
`
