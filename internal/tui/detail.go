package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/cognito/internal/types"
)

// DetailModel shows the selected card.
type DetailModel struct {
	Width  int
	Height int
}

var badgeColors = map[types.ProvenanceStatus]string{
	types.ProvenanceUnverified:  "245",
	types.ProvenancePending:     "214",
	types.ProvenanceAuthentic:   "42",
	types.ProvenanceCaution:     "220",
	types.ProvenanceManipulated: "196",
}

func provenanceBadge(p *types.ProvenanceResult) string {
	if p == nil {
		return ""
	}
	color, ok := badgeColors[p.Status]
	if !ok {
		color = "245"
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Bold(true).Render(string(p.Status))
}

func (m DetailModel) ViewCard(c *types.Card) string {
	if c == nil {
		return ""
	}

	labelStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	tagStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("33"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	var b strings.Builder

	b.WriteString(labelStyle.Render("Summary") + "\n")
	b.WriteString(wrap(c.Summary, m.Width) + "\n\n")

	b.WriteString(labelStyle.Render("Content") + "\n")
	if c.Type == types.CardImage {
		b.WriteString(dimStyle.Render(fmt.Sprintf("[image, %d bytes encoded]", len(c.Content))) + "\n\n")
	} else {
		b.WriteString(wrap(c.Content, m.Width) + "\n\n")
	}

	if c.SourceURL != "" {
		b.WriteString(labelStyle.Render("Source") + "\n")
		b.WriteString(wrap(c.SourceURL, m.Width) + "\n\n")
	}

	b.WriteString(labelStyle.Render("Tags") + "\n")
	if len(c.Tags) == 0 {
		b.WriteString(dimStyle.Render("none") + "\n\n")
	} else {
		tags := make([]string, len(c.Tags))
		for i, t := range c.Tags {
			tags[i] = tagStyle.Render("#" + t)
		}
		b.WriteString(strings.Join(tags, " ") + "\n\n")
	}

	if c.Type == types.CardImage {
		b.WriteString(labelStyle.Render("Provenance") + "\n")
		if c.Provenance == nil {
			b.WriteString(dimStyle.Render("not analyzed") + "\n")
		} else {
			b.WriteString(provenanceBadge(c.Provenance) + "\n")
			if c.Provenance.Findings != "" {
				b.WriteString(wrap(c.Provenance.Findings, m.Width) + "\n")
			}
		}
		b.WriteString("\n")
	}

	b.WriteString(dimStyle.Render("Saved " + c.Created().Format(time.DateTime)))
	return b.String()
}

// wrap breaks s into lines of at most width runes.
func wrap(s string, width int) string {
	if width <= 2 {
		return s
	}
	var out []string
	for _, line := range strings.Split(s, "\n") {
		r := []rune(line)
		for len(r) > width {
			out = append(out, string(r[:width]))
			r = r[width:]
		}
		out = append(out, string(r))
	}
	return strings.Join(out, "\n")
}
