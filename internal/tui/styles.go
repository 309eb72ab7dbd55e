package tui

import "github.com/charmbracelet/lipgloss"

// Styles contains the lipgloss styles for the console.
type Styles struct {
	Tab       lipgloss.Style
	ActiveTab lipgloss.Style
	TabGap    lipgloss.Style

	Output lipgloss.Style
	Input  lipgloss.Style

	FlagOn  lipgloss.Style
	FlagOff lipgloss.Style

	StatusBar lipgloss.Style
	Muted     lipgloss.Style
	Error     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
}

func DefaultStyles() Styles {
	subtle := lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight := lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special := lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	muted := lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"}

	tabBorder := lipgloss.RoundedBorder()
	return Styles{
		Tab: lipgloss.NewStyle().
			Border(tabBorder, true, true, false, true).
			BorderForeground(subtle).
			Padding(0, 1),
		ActiveTab: lipgloss.NewStyle().
			Border(tabBorder, true, true, false, true).
			BorderForeground(highlight).
			Foreground(highlight).
			Bold(true).
			Padding(0, 1),
		TabGap: lipgloss.NewStyle().Foreground(subtle),

		Output: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(subtle),
		Input: lipgloss.NewStyle().MarginTop(1),

		FlagOn:  lipgloss.NewStyle().Foreground(special).Bold(true),
		FlagOff: lipgloss.NewStyle().Foreground(muted),

		StatusBar: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#343433", Dark: "#C1C6B2"}).
			Background(subtle).
			Padding(0, 1).
			MarginTop(1),
		Muted:   lipgloss.NewStyle().Foreground(muted),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
		Success: lipgloss.NewStyle().Foreground(special),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFCC66")),
	}
}
