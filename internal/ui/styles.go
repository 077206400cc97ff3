// Package ui renders run reports and dependency listings for the terminal.
package ui

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Theme colors (Catppuccin Mocha inspired).
var (
	ColorPrimary = lipgloss.AdaptiveColor{Light: "#1e66f5", Dark: "#89b4fa"} // Blue
	ColorSuccess = lipgloss.AdaptiveColor{Light: "#40a02b", Dark: "#a6e3a1"} // Green
	ColorWarning = lipgloss.AdaptiveColor{Light: "#df8e1d", Dark: "#f9e2af"} // Yellow
	ColorError   = lipgloss.AdaptiveColor{Light: "#d20f39", Dark: "#f38ba8"} // Red
	ColorMuted   = lipgloss.AdaptiveColor{Light: "#6c6f85", Dark: "#6c7086"} // Overlay0
)

// Styles contains the lipgloss styles used for output.
type Styles struct {
	Title   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Info    lipgloss.Style
	Muted   lipgloss.Style
}

// NewStyles returns styles whose color profile matches w. Output that is
// not a terminal gets plain text.
func NewStyles(w io.Writer) Styles {
	r := lipgloss.NewRenderer(w)
	return Styles{
		Title: r.NewStyle().
			Bold(true).
			Foreground(ColorPrimary),

		Success: r.NewStyle().
			Foreground(ColorSuccess),

		Warning: r.NewStyle().
			Foreground(ColorWarning),

		Error: r.NewStyle().
			Foreground(ColorError).
			Bold(true),

		Info: r.NewStyle().
			Foreground(ColorPrimary),

		Muted: r.NewStyle().
			Foreground(ColorMuted),
	}
}
