package tui

import "github.com/charmbracelet/lipgloss"

const (
	colorPrimary   = lipgloss.Color("#7C3AED") // Purple
	colorSecondary = lipgloss.Color("#06B6D4") // Cyan
	colorSuccess   = lipgloss.Color("#22C55E") // Green
	colorDanger    = lipgloss.Color("#EF4444") // Red
	colorMuted     = lipgloss.Color("#6B7280") // Gray
)

var (
	styleHeader lipgloss.Style
	styleLine   lipgloss.Style
	styleFooter lipgloss.Style
	styleTitle  lipgloss.Style
	styleOK     lipgloss.Style
	styleFailed lipgloss.Style
	styleMuted  lipgloss.Style
)

func init() {
	styleHeader = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(colorMuted).
		MarginBottom(1)

	styleLine = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(colorPrimary).
		Padding(0, 1)

	styleFooter = lipgloss.NewStyle().
		Foreground(colorMuted).
		MarginTop(1)

	styleTitle = lipgloss.NewStyle().
		Bold(true).
		Foreground(colorSecondary)

	styleOK = lipgloss.NewStyle().Foreground(colorSuccess)
	styleFailed = lipgloss.NewStyle().Foreground(colorDanger)
	styleMuted = lipgloss.NewStyle().Foreground(colorMuted)
}
