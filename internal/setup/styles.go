package setup

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/yolodolo42/walletgate/internal/ui"
)

// The wizard shares the ui palette so its screens match the connect view
var (
	// Box style for welcome/complete screens
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ui.ColorBorder).
			Padding(1, 2)

	TitleStyle = ui.TitleStyle

	// Subtitle/description
	SubtitleStyle = lipgloss.NewStyle().
			Foreground(ui.ColorDim).
			Italic(true)

	SuccessStyle = ui.SuccessStyle
	ErrorStyle   = ui.ErrorStyle
	DimStyle     = ui.SelectorDim
	HelpStyle    = ui.HelpStyle

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(ui.ColorPrimary)
)
