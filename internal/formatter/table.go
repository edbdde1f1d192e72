package formatter

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/boshu2/intent/internal/commitment"
	"github.com/boshu2/intent/internal/queue"
)

// Table formats columnar output using tabwriter.
type Table struct {
	w             *tabwriter.Writer
	headers       []string
	maxWidth      map[int]int // column index -> max width (0 = unlimited)
	headerWritten bool
}

// NewTable creates a table that writes to w with the given column headers.
func NewTable(w io.Writer, headers ...string) *Table {
	return &Table{
		w:        tabwriter.NewWriter(w, 0, 0, 2, ' ', 0),
		headers:  headers,
		maxWidth: make(map[int]int),
	}
}

// SetMaxWidth sets the maximum display width for a column (0-indexed).
// Values exceeding the limit are truncated with "...".
func (t *Table) SetMaxWidth(col, width int) *Table {
	t.maxWidth[col] = width
	return t
}

// AddRow appends a data row. Extra values beyond the header count are ignored;
// missing values are filled with empty strings.
func (t *Table) AddRow(values ...string) {
	if !t.headerWritten {
		t.headerWritten = true
		t.writeLine(t.headers...)
		seps := make([]string, len(t.headers))
		for i, h := range t.headers {
			seps[i] = strings.Repeat("-", len(h))
		}
		t.writeLine(seps...)
	}

	cells := make([]string, len(t.headers))
	for i := range cells {
		if i < len(values) {
			cells[i] = t.truncate(i, values[i])
		}
	}
	t.writeLine(cells...)
}

// Render flushes the underlying tabwriter. Must be called after all AddRow calls.
func (t *Table) Render() error {
	return t.w.Flush()
}

func (t *Table) writeLine(cells ...string) {
	fmt.Fprintln(t.w, strings.Join(cells, "\t"))
}

func (t *Table) truncate(col int, s string) string {
	max, ok := t.maxWidth[col]
	if !ok || max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// QueueTable writes tasks as a table for `intent queue list`.
func QueueTable(w io.Writer, tasks []queue.Task) error {
	tbl := NewTable(w, "ID", "PHASE", "STATUS", "ATTEMPTS", "TARGET", "UPDATED")
	tbl.SetMaxWidth(0, 30)
	tbl.SetMaxWidth(4, 48)
	for i := range tasks {
		t := &tasks[i]
		tbl.AddRow(
			t.TaskID,
			string(t.Phase),
			string(t.Status),
			fmt.Sprintf("%d/%d", t.Attempts, t.MaxAttempts),
			t.Target,
			stamp(t.UpdatedAt),
		)
	}
	return tbl.Render()
}

// CommitmentTable writes commitments as a table for `intent commitments list`.
func CommitmentTable(w io.Writer, commitments []commitment.Commitment) error {
	tbl := NewTable(w, "ID", "LABEL", "STATE", "PRI", "HORIZON", "LAST ADVANCED")
	tbl.SetMaxWidth(1, 40)
	for i := range commitments {
		c := &commitments[i]
		tbl.AddRow(
			c.ID,
			c.Label,
			string(c.State),
			strconv.Itoa(c.Priority),
			string(c.Horizon),
			day(c.LastAdvancedAt),
		)
	}
	return tbl.Render()
}

// stamp renders a timestamp for table cells; zero times show as "-".
func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

// day renders a date for table cells; zero times show as "never".
func day(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format("2006-01-02")
}
