package output

import (
	"io"
	"strings"
	"unicode/utf8"
)

// Alignment is the horizontal placement of a cell within its column.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// TableColumn describes one column. Color, when set, picks a color per cell
// value; padding is computed on the plain text.
type TableColumn struct {
	Header string
	Align  Alignment
	Color  func(cell string) Color
}

// TableData is a header row plus data rows. Rows shorter than Columns are
// padded with empty cells and extra cells are dropped.
type TableData struct {
	Columns []TableColumn
	Rows    [][]string
}

const columnGap = "  "

// Table writes data as aligned columns under a bold header and a rule.
func (f *Formatter) Table(data TableData) error {
	if len(data.Columns) == 0 {
		return nil
	}

	widths := make([]int, len(data.Columns))
	for i, col := range data.Columns {
		widths[i] = utf8.RuneCountInString(col.Header)
	}
	for _, row := range data.Rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], utf8.RuneCountInString(row[i]))
		}
	}

	var b strings.Builder
	header := make([]string, len(data.Columns))
	rule := make([]string, len(data.Columns))
	for i, col := range data.Columns {
		header[i] = pad(col.Header, widths[i], col.Align)
		rule[i] = strings.Repeat("-", widths[i])
	}
	b.WriteString(f.Bold(strings.Join(header, columnGap)))
	b.WriteByte('\n')
	b.WriteString(strings.Join(rule, columnGap))
	b.WriteByte('\n')

	cells := make([]string, len(data.Columns))
	for _, row := range data.Rows {
		for i, col := range data.Columns {
			text := ""
			if i < len(row) {
				text = row[i]
			}
			cell := pad(text, widths[i], col.Align)
			if col.Color != nil {
				cell = f.Colorize(cell, col.Color(text))
			}
			cells[i] = cell
		}
		b.WriteString(strings.Join(cells, columnGap))
		b.WriteByte('\n')
	}

	return f.emit(func(w io.Writer) error {
		_, err := io.WriteString(w, b.String())
		return err
	})
}

func pad(text string, width int, align Alignment) string {
	n := width - utf8.RuneCountInString(text)
	if n <= 0 {
		return text
	}
	if align == AlignRight {
		return strings.Repeat(" ", n) + text
	}
	return text + strings.Repeat(" ", n)
}
