package formatter

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSONL outputs values as JSON Lines: one object per line.
type JSONL struct {
	// Pretty enables indented JSON (not recommended for JSONL).
	Pretty bool
}

// NewJSONL creates a new JSONL formatter.
func NewJSONL() *JSONL {
	return &JSONL{}
}

// Format writes v as a JSON line.
func (j *JSONL) Format(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false) // don't escape < > & in content

	if j.Pretty {
		encoder.SetIndent("", "  ")
	}

	return encoder.Encode(v)
}

// Lines writes each item as its own JSON line. Used by the CLI's --json
// list outputs so downstream tools can stream-parse.
func Lines[T any](w io.Writer, items []T) error {
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	for i := range items {
		if err := encoder.Encode(items[i]); err != nil {
			return fmt.Errorf("encode line %d: %w", i, err)
		}
	}
	return nil
}
