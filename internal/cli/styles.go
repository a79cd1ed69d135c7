package cli

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/memvra/ctxbudget/internal/warning"
)

// Terminal styles, tuned for 256-color dark backgrounds. The default
// renderer drops color when stdout is not a terminal.
var (
	styleBold   = lipgloss.NewStyle().Bold(true)
	styleDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("114"))
	styleError  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("255"))
	styleBorder = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	levelColors = map[warning.Level]lipgloss.Color{
		warning.LevelNotice:   lipgloss.Color("75"),  // blue
		warning.LevelWarning:  lipgloss.Color("220"), // amber
		warning.LevelCritical: lipgloss.Color("196"), // red
	}
)

func disableColors() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// levelStyle renders a warning level badge.
func levelStyle(l warning.Level) lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(levelColors[l])
}
