// Package ui renders styled terminal output for the invsync CLI.
//
// Styles are dropped when stdout is not a terminal or NO_COLOR is set.
package ui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

var colorEnabled = term.IsTerminal(int(os.Stdout.Fd())) && os.Getenv("NO_COLOR") == ""

// SetColor forces styling on or off.
func SetColor(enabled bool) {
	colorEnabled = enabled
}

func render(style lipgloss.Style, s string) string {
	if !colorEnabled {
		return s
	}
	return style.Render(s)
}

// RenderAccent renders s in the accent color.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderPass renders s as a success.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn renders s as a warning.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderFail renders s as a failure.
func RenderFail(s string) string { return render(failStyle, s) }

// RenderMuted renders s de-emphasized.
func RenderMuted(s string) string { return render(mutedStyle, s) }

// Table renders rows as aligned columns under a styled header.
func Table(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if w := lipgloss.Width(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	writeRow := func(cells []string, style *lipgloss.Style) {
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			pad := strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
			if style != nil {
				cell = render(*style, cell)
			}
			b.WriteString(cell)
			if i < len(widths)-1 {
				b.WriteString(pad)
				b.WriteString("  ")
			}
		}
		b.WriteString("\n")
	}

	writeRow(header, &headerStyle)
	for _, row := range rows {
		writeRow(row, nil)
	}
	return b.String()
}

// PromptPassword reads a password from the terminal without echo. It
// returns false when stdin is not a terminal.
func PromptPassword(prompt string) (string, bool, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", false, nil
	}
	os.Stderr.WriteString(prompt)
	b, err := term.ReadPassword(fd)
	os.Stderr.WriteString("\n")
	if err != nil {
		return "", true, err
	}
	return string(b), true, nil
}
