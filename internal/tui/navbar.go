package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/cognito/internal/types"
)

// ListWidthPct is the percentage of terminal width used for the card list.
const ListWidthPct = 50

func renderNavbar(tab string, a types.Availability, shown, total int, query string, width int) string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	var aiStyle lipgloss.Style
	switch a {
	case types.AvailabilityReady:
		aiStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	case types.AvailabilityUnavailable:
		aiStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	default:
		aiStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	}

	count := fmt.Sprintf("%d cards", total)
	if query != "" {
		count = fmt.Sprintf("%d of %d cards for %q", shown, total, query)
	}
	left := " " + titleStyle.Render("Cognito") + "  " + dimStyle.Render(count)
	right := aiStyle.Render("AI: "+a.String()) + dimStyle.Render("  tab "+tab)

	gap := width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	padding := lipgloss.NewStyle().Width(gap)

	return left + padding.Render("") + right + " "
}
