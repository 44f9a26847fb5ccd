// Package style centralizes terminal output styling for the CLI.
package style

import "github.com/charmbracelet/lipgloss"

var (
	// Bold renders emphasized text (headers, result markers).
	Bold = lipgloss.NewStyle().Bold(true)

	// Dim renders secondary text (hints, paths, timestamps).
	Dim = lipgloss.NewStyle().Faint(true)

	// Header renders table headers.
	Header = lipgloss.NewStyle().Bold(true).Underline(false)

	// Success renders positive state.
	Success = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))

	// Warning renders degraded state.
	Warning = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))

	// Error renders failures.
	Error = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// Common line prefixes.
var (
	SuccessPrefix = Success.Render("✓")
	WarningPrefix = Warning.Render("⚠")
	ErrorPrefix   = Error.Render("✗")
)
