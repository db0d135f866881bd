package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/cognito/internal/types"
)

// ListModel is the scrollable card list.
type ListModel struct {
	Cards  []types.Card
	Busy   map[int64]bool
	Cursor int
	Offset int // scroll offset
	Width  int
	Height int
}

// SetCards replaces the list, keeping the cursor on the same card id when
// it still exists.
func (m *ListModel) SetCards(cards []types.Card) {
	var keep int64
	if c := m.Selected(); c != nil {
		keep = c.ID
	}
	m.Cards = cards
	m.Cursor = 0
	for i, c := range cards {
		if c.ID == keep {
			m.Cursor = i
			break
		}
	}
	m.clamp()
}

// Selected returns the card under the cursor.
func (m ListModel) Selected() *types.Card {
	if m.Cursor < 0 || m.Cursor >= len(m.Cards) {
		return nil
	}
	return &m.Cards[m.Cursor]
}

func (m *ListModel) MoveUp() {
	if m.Cursor > 0 {
		m.Cursor--
	}
	m.clamp()
}

func (m *ListModel) MoveDown() {
	if m.Cursor < len(m.Cards)-1 {
		m.Cursor++
	}
	m.clamp()
}

func (m *ListModel) clamp() {
	if m.Cursor >= len(m.Cards) {
		m.Cursor = len(m.Cards) - 1
	}
	if m.Cursor < 0 {
		m.Cursor = 0
	}
	if m.Cursor < m.Offset {
		m.Offset = m.Cursor
	}
	if m.Height > 0 && m.Cursor >= m.Offset+m.Height {
		m.Offset = m.Cursor - m.Height + 1
	}
}

func (m ListModel) View() string {
	if len(m.Cards) == 0 {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("240")).
			Render("No cards yet. Right-click a selection, image or link to clip it.")
	}

	cursorStyle := lipgloss.NewStyle().Background(lipgloss.Color("62")).Foreground(lipgloss.Color("230"))
	typeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	busyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	end := len(m.Cards)
	if m.Height > 0 && m.Offset+m.Height < end {
		end = m.Offset + m.Height
	}

	var b strings.Builder
	for i := m.Offset; i < end; i++ {
		c := m.Cards[i]
		kind := "txt"
		if c.Type == types.CardImage {
			kind = "img"
		}
		line := fmt.Sprintf("%s %s", typeStyle.Render(kind), c.Summary)
		if m.Busy[c.ID] {
			line += busyStyle.Render(" …")
		}
		if m.Width > 4 && lipgloss.Width(line) > m.Width {
			line = truncate(line, m.Width)
		}
		if i == m.Cursor {
			line = cursorStyle.Render(line)
		}
		b.WriteString(line)
		if i < end-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}
