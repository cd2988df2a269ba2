package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorGreen  = lipgloss.Color("42")
	colorYellow = lipgloss.Color("214")
	colorRed    = lipgloss.Color("196")
	colorGray   = lipgloss.Color("245")
	colorCyan   = lipgloss.Color("51")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorGray).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true)

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Reverse(true)

	dimStyle = lipgloss.NewStyle().Foreground(colorGray)

	helpStyle = lipgloss.NewStyle().Foreground(colorGray).MarginTop(1)

	statusStyles = map[string]lipgloss.Style{
		"pending":  lipgloss.NewStyle().Foreground(colorGray),
		"running":  lipgloss.NewStyle().Foreground(colorYellow),
		"complete": lipgloss.NewStyle().Foreground(colorGreen),
		"error":    lipgloss.NewStyle().Foreground(colorRed),
		"timeout":  lipgloss.NewStyle().Foreground(colorRed),
		"killed":   lipgloss.NewStyle().Foreground(colorRed),
	}
)

func statusStyle(status string) lipgloss.Style {
	if st, ok := statusStyles[status]; ok {
		return st
	}
	return dimStyle
}
