package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// Output handles formatted output for the CLI.
type Output struct {
	writer   io.Writer
	jsonMode bool

	green, red, yellow, cyan, bold, dim *color.Color
}

// NewOutput creates an Output for cmd. Color is disabled in JSON mode and
// when stdout is not a terminal.
func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return newOutput(cmd.OutOrStdout(), jsonMode, !jsonMode && isTerminal())
}

func newOutput(w io.Writer, jsonMode, colorEnabled bool) *Output {
	o := &Output{
		writer:   w,
		jsonMode: jsonMode,
		green:    color.New(color.FgGreen),
		red:      color.New(color.FgRed),
		yellow:   color.New(color.FgYellow),
		cyan:     color.New(color.FgCyan),
		bold:     color.New(color.Bold),
		dim:      color.New(color.Faint),
	}
	for _, c := range []*color.Color{o.green, o.red, o.yellow, o.cyan, o.bold, o.dim} {
		if colorEnabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return o
}

func isTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// IsJSON returns true if JSON output mode is enabled.
func (o *Output) IsJSON() bool {
	return o.jsonMode
}

// JSON outputs data as indented JSON.
func (o *Output) JSON(data interface{}) error {
	encoder := json.NewEncoder(o.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func (o *Output) Printf(format string, args ...interface{}) {
	fmt.Fprintf(o.writer, format, args...)
}

func (o *Output) Println(args ...interface{}) {
	fmt.Fprintln(o.writer, args...)
}

func (o *Output) Success(format string, args ...interface{}) { o.line(o.green, format, args...) }
func (o *Output) Error(format string, args ...interface{})   { o.line(o.red, format, args...) }
func (o *Output) Warning(format string, args ...interface{}) { o.line(o.yellow, format, args...) }
func (o *Output) Info(format string, args ...interface{})    { o.line(o.cyan, format, args...) }
func (o *Output) Bold(format string, args ...interface{})    { o.line(o.bold, format, args...) }
func (o *Output) Dim(format string, args ...interface{})     { o.line(o.dim, format, args...) }

func (o *Output) line(c *color.Color, format string, args ...interface{}) {
	c.Fprintln(o.writer, fmt.Sprintf(format, args...))
}

func (o *Output) Green(text string) string  { return o.green.Sprint(text) }
func (o *Output) Red(text string) string    { return o.red.Sprint(text) }
func (o *Output) Yellow(text string) string { return o.yellow.Sprint(text) }
func (o *Output) DimText(text string) string {
	return o.dim.Sprint(text)
}

// Change colors a signed value green or red.
func (o *Output) Change(value float64, text string) string {
	switch {
	case value > 0:
		return o.Green(text)
	case value < 0:
		return o.Red(text)
	default:
		return text
	}
}

// Table is a simple aligned table.
type Table struct {
	headers []string
	rows    [][]string
	output  *Output
}

// NewTable creates a table with the given headers.
func NewTable(output *Output, headers ...string) *Table {
	return &Table{headers: headers, output: output}
}

// AddRow adds a row to the table.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Render writes the table.
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = visibleLen(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && visibleLen(cell) > widths[i] {
				widths[i] = visibleLen(cell)
			}
		}
	}

	t.output.Println(t.output.bold.Sprint(t.join(t.headers, widths)))
	sep := make([]string, len(widths))
	for i, w := range widths {
		sep[i] = strings.Repeat("─", w)
	}
	t.output.Println(t.output.dim.Sprint(strings.Join(sep, "──")))
	for _, row := range t.rows {
		t.output.Println(t.join(row, widths))
	}
}

func (t *Table) join(cells []string, widths []int) string {
	parts := make([]string, 0, len(cells))
	for i, cell := range cells {
		if i >= len(widths) {
			break
		}
		pad := widths[i] - visibleLen(cell)
		if pad < 0 {
			pad = 0
		}
		parts = append(parts, cell+strings.Repeat(" ", pad))
	}
	return strings.TrimRight(strings.Join(parts, "  "), " ")
}

var ansi = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func visibleLen(s string) int {
	return len([]rune(ansi.ReplaceAllString(s, "")))
}
