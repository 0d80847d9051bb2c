// Package output formats datasync CLI output as text, tables or JSON.
// A Formatter is safe for concurrent use.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Format is the --output mode.
type Format string

const (
	FormatText  Format = "text"
	FormatTable Format = "table"
	FormatJSON  Format = "json"
)

// ParseFormat parses an --output value. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatTable, FormatJSON:
		return f, nil
	default:
		return FormatText, fmt.Errorf("unknown format %q (want text, table or json)", s)
	}
}

// Formatter writes command output. The first write error is kept and every
// later write is dropped; Err reports it.
type Formatter struct {
	mu     sync.Mutex
	w      io.Writer
	format Format
	color  bool
	err    error
}

// Option configures a Formatter.
type Option func(*Formatter)

// WithWriter sets the destination. The default is stdout.
func WithWriter(w io.Writer) Option {
	return func(f *Formatter) { f.w = w }
}

// WithFormat sets the output mode.
func WithFormat(format Format) Option {
	return func(f *Formatter) { f.format = format }
}

// WithColor turns ANSI colors on or off.
func WithColor(enabled bool) Option {
	return func(f *Formatter) { f.color = enabled }
}

// NewFormatter returns a text formatter writing colored output to stdout
// unless options say otherwise.
func NewFormatter(opts ...Option) *Formatter {
	f := &Formatter{w: os.Stdout, format: FormatText, color: true}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Format returns the output mode.
func (f *Formatter) Format() Format {
	return f.format
}

// Err returns the first error met while writing.
func (f *Formatter) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// emit runs write under the lock unless an earlier write failed.
func (f *Formatter) emit(write func(w io.Writer) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.err = write(f.w)
	return f.err
}

func (f *Formatter) printf(format string, args ...any) {
	_ = f.emit(func(w io.Writer) error {
		_, err := fmt.Fprintf(w, format, args...)
		return err
	})
}

// Print writes formatted text as is.
func (f *Formatter) Print(format string, args ...any) {
	f.printf(format, args...)
}

// Println writes formatted text and a newline.
func (f *Formatter) Println(format string, args ...any) {
	f.printf(format+"\n", args...)
}

// Colorize wraps text in color when colors are on.
func (f *Formatter) Colorize(text string, color Color) string {
	if !f.color || color == "" || color == ColorReset {
		return text
	}
	return string(color) + text + string(ColorReset)
}

// Bold renders text in bold.
func (f *Formatter) Bold(text string) string { return f.Colorize(text, ColorBold) }

// Dim renders text in a muted style.
func (f *Formatter) Dim(text string) string { return f.Colorize(text, ColorDim) }

func (f *Formatter) status(mark string, color Color, format string, args []any) {
	f.Println("%s", f.Colorize(mark+" "+fmt.Sprintf(format, args...), color))
}

// Success prints a green check line.
func (f *Formatter) Success(format string, args ...any) { f.status("✓", ColorGreen, format, args) }

// Error prints a red cross line.
func (f *Formatter) Error(format string, args ...any) { f.status("✗", ColorRed, format, args) }

// Warning prints a yellow warning line.
func (f *Formatter) Warning(format string, args ...any) { f.status("⚠", ColorYellow, format, args) }

// Info prints a blue info line.
func (f *Formatter) Info(format string, args ...any) { f.status("ℹ", ColorBlue, format, args) }

// Header prints a bold title over a rule of the same width.
func (f *Formatter) Header(title string) {
	f.Println("%s\n%s", f.Bold(title), strings.Repeat("─", len([]rune(title))))
}

// Item prints an indented "key: value" line.
func (f *Formatter) Item(key, value string) {
	f.Println("  %s: %s", f.Dim(key), value)
}

// JSON writes v as indented JSON.
func (f *Formatter) JSON(v any) error {
	return f.emit(func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

// Render writes data as JSON in JSON mode and as the table otherwise.
// Listing commands build both forms and let --output pick.
func (f *Formatter) Render(data any, table TableData) error {
	if f.Format() == FormatJSON {
		return f.JSON(data)
	}
	return f.Table(table)
}
