package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#89b4fa"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#a6adc8")).Width(24)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#a6e3a1"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#f9e2af"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f38ba8"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#cdd6f4"))
	summaryStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#585b70")).Padding(0, 1)
)

// kv renders aligned label/value lines inside a bordered box.
func kv(title string, pairs ...[2]string) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(title))
	for _, p := range pairs {
		b.WriteString("\n")
		b.WriteString(labelStyle.Render(p[0]))
		b.WriteString(p[1])
	}
	return summaryStyle.Render(b.String())
}

// table prints rows with columns padded to their widest cell.
func table(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, r := range rows {
		for i, c := range r {
			if i < len(widths) && len(c) > widths[i] {
				widths[i] = len(c)
			}
		}
	}
	line := func(cells []string, style lipgloss.Style) {
		parts := make([]string, len(cells))
		for i, c := range cells {
			parts[i] = style.Render(fmt.Sprintf("%-*s", widths[i], c))
		}
		fmt.Fprintln(w, strings.Join(parts, "  "))
	}
	line(header, headerStyle)
	for _, r := range rows {
		line(r, lipgloss.NewStyle())
	}
}

func statusText(s string) string {
	switch s {
	case "reconciled", "success":
		return okStyle.Render(s)
	case "skipped":
		return warnStyle.Render(s)
	default:
		return errorStyle.Render(s)
	}
}
