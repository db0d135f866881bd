package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/lotas/cognito/internal/types"
)

// Markdown formats cards as a markdown document, oldest first.
func Markdown(cards []types.Card, now time.Time) string {
	var b strings.Builder

	n := len(cards)
	noun := "cards"
	if n == 1 {
		noun = "card"
	}
	fmt.Fprintf(&b, "# Research Notebook (%d %s)\n", n, noun)
	fmt.Fprintf(&b, "> Exported %s\n", now.Format("2006-01-02 15:04"))

	for _, c := range cards {
		title := c.Summary
		if title == "" {
			title = fmt.Sprintf("Card %d", c.ID)
		}
		fmt.Fprintf(&b, "\n## %s\n\n", title)

		meta := []string{string(c.Type), relativeTime(c.Created(), now)}
		if c.SourceURL != "" {
			meta = append(meta, fmt.Sprintf("[%s](%s)", extractDomain(c.SourceURL), c.SourceURL))
		}
		b.WriteString(strings.Join(meta, " · ") + "\n\n")

		switch c.Type {
		case types.CardImage:
			b.WriteString("*Image*\n")
		default:
			for _, line := range strings.Split(c.Content, "\n") {
				b.WriteString("> " + line + "\n")
			}
		}

		if len(c.Tags) > 0 {
			tags := make([]string, len(c.Tags))
			for i, t := range c.Tags {
				tags[i] = "`" + t + "`"
			}
			b.WriteString("\nTags: " + strings.Join(tags, " ") + "\n")
		}
		if c.Provenance != nil {
			fmt.Fprintf(&b, "\nProvenance: **%s**\n", c.Provenance.Status)
			if c.Provenance.Findings != "" {
				b.WriteString("\n" + c.Provenance.Findings + "\n")
			}
		}
	}

	return b.String()
}

func relativeTime(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
