package graph

import (
	"fmt"
	"path"
	"strings"
	"text/template"
	"time"

	"github.com/boshu2/intent/internal/vault"
)

// RecordPath returns the vault-relative path of the evaluation record for
// the evaluation's day.
func RecordPath(eval Evaluation) string {
	return path.Join(vault.EvaluationsDir, eval.EvaluatedAt.UTC().Format("2006-01-02")+".md")
}

// RenderRecord renders an evaluation as an Obsidian-ready markdown note.
func RenderRecord(eval Evaluation) (string, error) {
	date := eval.EvaluatedAt.UTC().Format("2006-01-02")
	data := recordData{
		ID:             "evaluation-" + date,
		Date:           date,
		EvaluatedAt:    eval.EvaluatedAt.UTC().Format(time.RFC3339),
		ThoughtsScored: eval.ThoughtsScored,
		AvgImpactScore: eval.AvgImpactScore,
		OrphanRate:     eval.OrphanRate,
		Top:            eval.Top,
		Orphans:        eval.Orphans,
	}

	tmpl, err := template.New("evaluation").Funcs(recordFuncs()).Parse(recordTemplate)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render evaluation record: %w", err)
	}
	return b.String(), nil
}

// WriteRecord persists the evaluation record, overwriting any earlier run
// from the same day.
func WriteRecord(store *vault.Store, eval Evaluation) (string, error) {
	content, err := RenderRecord(eval)
	if err != nil {
		return "", err
	}
	rel := RecordPath(eval)
	if err := store.WriteAtomic(rel, []byte(content)); err != nil {
		return "", err
	}
	return rel, nil
}

type recordData struct {
	ID             string
	Date           string
	EvaluatedAt    string
	ThoughtsScored int
	AvgImpactScore float64
	OrphanRate     float64
	Top            []ThoughtScore
	Orphans        []ThoughtScore
}

func recordFuncs() template.FuncMap {
	return template.FuncMap{
		"score": func(v float64) string {
			return fmt.Sprintf("%.2f", v)
		},
		"percent": func(v float64) string {
			return fmt.Sprintf("%.0f%%", v*100)
		},
		"days": func(v float64) string {
			return fmt.Sprintf("%.0f", v)
		},
		"wikiLink": func(name string) string {
			return fmt.Sprintf("[[%s]]", name)
		},
		"hasScores": func(s []ThoughtScore) bool {
			return len(s) > 0
		},
	}
}

const recordTemplate = `---
id: {{ .ID }}
evaluatedAt: "{{ .EvaluatedAt }}"
thoughtsScored: {{ .ThoughtsScored }}
avgImpactScore: {{ score .AvgImpactScore }}
orphanRate: {{ score .OrphanRate }}
type: evaluation
---

# Thought Evaluation: {{ .Date }}

- **Thoughts scored:** {{ .ThoughtsScored }}
- **Average impact:** {{ score .AvgImpactScore }}
- **Orphan rate:** {{ percent .OrphanRate }}

{{- if hasScores .Top }}

## Top Thoughts

| Thought | Score | Links In | Maps |
|---------|-------|----------|------|
{{- range .Top }}
| {{ wikiLink .Name }} | {{ score .Score }} | {{ .IncomingLinks }} | {{ .MapMemberships }} |
{{- end }}
{{- end }}

{{- if hasScores .Orphans }}

## Orphans

| Thought | Age (days) | Score |
|---------|------------|-------|
{{- range .Orphans }}
| {{ wikiLink .Name }} | {{ days .AgeDays }} | {{ score .Score }} |
{{- end }}
{{- end }}
`
