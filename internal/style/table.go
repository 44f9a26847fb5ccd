package style

import (
	"regexp"
	"strings"
)

// Alignment controls how a cell is padded within its column.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
	AlignCenter
)

// Column describes one table column.
type Column struct {
	Name  string
	Width int
	Align Alignment
}

// Table renders fixed-width columnar output with optional ANSI styling in
// cells. Widths are computed against the plain (ANSI-stripped) text so
// styled cells line up.
type Table struct {
	columns   []Column
	rows      [][]string
	headerSep bool
	indent    string
}

// NewTable creates a table with the given columns.
func NewTable(columns ...Column) *Table {
	return &Table{
		columns:   columns,
		headerSep: true,
		indent:    "  ",
	}
}

// SetIndent sets the prefix prepended to every rendered line.
func (t *Table) SetIndent(indent string) *Table {
	t.indent = indent
	return t
}

// SetHeaderSeparator toggles the rule under the header row.
func (t *Table) SetHeaderSeparator(sep bool) *Table {
	t.headerSep = sep
	return t
}

// AddRow appends a row. Missing cells are padded with empty strings; extra
// cells are dropped.
func (t *Table) AddRow(cells ...string) *Table {
	row := make([]string, len(t.columns))
	for i := range row {
		if i < len(cells) {
			row[i] = cells[i]
		}
	}
	t.rows = append(t.rows, row)
	return t
}

// Render produces the table as a string, one trailing newline per line.
func (t *Table) Render() string {
	if len(t.columns) == 0 {
		return ""
	}

	var b strings.Builder

	header := make([]string, len(t.columns))
	for i, col := range t.columns {
		header[i] = t.pad(Header.Render(col.Name), col.Name, col.Width, col.Align)
	}
	b.WriteString(t.indent + strings.Join(header, "  ") + "\n")

	if t.headerSep {
		sep := make([]string, len(t.columns))
		for i, col := range t.columns {
			sep[i] = strings.Repeat("─", col.Width)
		}
		b.WriteString(t.indent + Dim.Render(strings.Join(sep, "──")) + "\n")
	}

	for _, row := range t.rows {
		cells := make([]string, len(t.columns))
		for i, col := range t.columns {
			styled := row[i]
			plain := stripAnsi(styled)
			if len(plain) > col.Width && col.Width > 3 {
				plain = plain[:col.Width-3] + "..."
				styled = plain
			}
			cells[i] = t.pad(styled, plain, col.Width, col.Align)
		}
		b.WriteString(t.indent + strings.Join(cells, "  ") + "\n")
	}

	return b.String()
}

// pad aligns styled text inside width columns, measuring the plain text.
// Text at or over the width is returned unchanged.
func (t *Table) pad(styled, plain string, width int, align Alignment) string {
	gap := width - len(plain)
	if gap <= 0 {
		return styled
	}
	switch align {
	case AlignRight:
		return strings.Repeat(" ", gap) + styled
	case AlignCenter:
		left := gap / 2
		return strings.Repeat(" ", left) + styled + strings.Repeat(" ", gap-left)
	default:
		return styled + strings.Repeat(" ", gap)
	}
}

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// stripAnsi removes ANSI color/style escape sequences.
func stripAnsi(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}
