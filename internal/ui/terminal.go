package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// DefaultWidth is used when stdout is not a terminal.
const DefaultWidth = 100

// IsStdoutTTY returns true when stdout is connected to a terminal.
func IsStdoutTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// TermWidth returns the terminal width, or DefaultWidth.
func TermWidth() int {
	if !IsStdoutTTY() {
		return DefaultWidth
	}
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return DefaultWidth
	}
	return w
}

// Truncate shortens s to at most width visible cells, ending in "…".
func Truncate(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes))+1 > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}

// Table writes aligned columns. Cells may contain styling; widths are
// measured in visible cells. The last column is truncated to fit width.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Append adds a row.
func (t *Table) Append(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// Render writes the table to w.
func (t *Table) Render(w io.Writer, width int) {
	cols := len(t.Headers)
	for _, r := range t.Rows {
		cols = max(cols, len(r))
	}
	if cols == 0 {
		return
	}
	widths := make([]int, cols)
	measure := func(row []string) {
		for i, c := range row {
			widths[i] = max(widths[i], lipgloss.Width(c))
		}
	}
	measure(t.Headers)
	for _, r := range t.Rows {
		measure(r)
	}

	line := func(row []string, style *lipgloss.Style) {
		var b strings.Builder
		b.WriteString("  ")
		used := 2
		for i := 0; i < cols; i++ {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			if i == cols-1 {
				cell = Truncate(cell, width-used)
			} else {
				cell += strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+2)
				used += widths[i] + 2
			}
			if style != nil {
				cell = style.Render(cell)
			}
			b.WriteString(cell)
		}
		fmt.Fprintln(w, strings.TrimRight(b.String(), " "))
	}

	if len(t.Headers) > 0 {
		line(t.Headers, &Muted)
	}
	for _, r := range t.Rows {
		line(r, nil)
	}
}
