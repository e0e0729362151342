package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// ANSI styles used by the command output.
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBold   = "\033[1m"
	ColorDim    = "\033[2m"
)

var ansiCodes = []string{ColorReset, ColorRed, ColorGreen, ColorYellow, ColorBold, ColorDim}

// Output writes human or JSON output for one command invocation.
type Output struct {
	w     io.Writer
	json  bool
	color bool
}

// NewOutput reads --json from cmd and enables colour only when writing to a terminal.
func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	w := cmd.OutOrStdout()
	return &Output{w: w, json: jsonMode, color: !jsonMode && isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

// IsJSON reports whether --json was given.
func (o *Output) IsJSON() bool { return o.json }

// JSON writes v as indented JSON.
func (o *Output) JSON(v interface{}) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (o *Output) Println(args ...interface{}) { fmt.Fprintln(o.w, args...) }

func (o *Output) Printf(format string, args ...interface{}) { fmt.Fprintf(o.w, format, args...) }

// Success, Bold and Dim print one styled line.
func (o *Output) Success(format string, args ...interface{}) { o.line(ColorGreen, format, args...) }
func (o *Output) Bold(format string, args ...interface{})    { o.line(ColorBold, format, args...) }
func (o *Output) Dim(format string, args ...interface{})     { o.line(ColorDim, format, args...) }

func (o *Output) line(style, format string, args ...interface{}) {
	fmt.Fprintln(o.w, o.ColoredString(style, fmt.Sprintf(format, args...)))
}

// ColoredString wraps text in style when colour is enabled.
func (o *Output) ColoredString(style, text string) string {
	if !o.color {
		return text
	}
	return style + text + ColorReset
}

// Table is a left-aligned, two-space separated table.
type Table struct {
	out     *Output
	headers []string
	rows    [][]string
	widths  []int
}

// NewTable creates a table with the given column headers.
func NewTable(out *Output, headers ...string) *Table {
	t := &Table{out: out, headers: headers, widths: make([]int, len(headers))}
	t.grow(headers)
	return t
}

// AddRow appends a row. Cells beyond the header count are dropped.
func (t *Table) AddRow(cells ...string) {
	if len(cells) > len(t.headers) {
		cells = cells[:len(t.headers)]
	}
	t.rows = append(t.rows, cells)
	t.grow(cells)
}

func (t *Table) grow(cells []string) {
	for i, c := range cells {
		if n := visibleLen(c); n > t.widths[i] {
			t.widths[i] = n
		}
	}
}

// Render writes the header, a dashed rule and every row.
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}
	header := make([]string, len(t.headers))
	rule := make([]string, len(t.headers))
	for i, h := range t.headers {
		header[i] = t.out.ColoredString(ColorBold, h)
		rule[i] = strings.Repeat("-", t.widths[i])
	}
	t.write(header)
	t.out.Println(t.out.ColoredString(ColorDim, strings.Join(rule, "  ")))
	for _, row := range t.rows {
		t.write(row)
	}
}

func (t *Table) write(cells []string) {
	var b strings.Builder
	for i, c := range cells {
		if i > 0 {
			b.WriteString("  ")
		}
		b.WriteString(c)
		b.WriteString(strings.Repeat(" ", t.widths[i]-visibleLen(c)))
	}
	t.out.Println(strings.TrimRight(b.String(), " "))
}

// visibleLen is the rune count of s without the escape codes above.
func visibleLen(s string) int {
	for _, code := range ansiCodes {
		s = strings.ReplaceAll(s, code, "")
	}
	return len([]rune(s))
}
