// Package tui renders the side panel: the card list, the selected card,
// the model status, and a query box.
package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/cognito/internal/types"
)

// Controller is the panel workflow the view triggers.
type Controller interface {
	Refresh(ctx context.Context)
	RegenerateTags(ctx context.Context, id int64) error
	AnalyzeProvenance(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	Seed(ctx context.Context) error
	Query(ctx context.Context, q string) ([]types.Card, error)
}

// --- Messages ---

type opDoneMsg struct {
	id  int64
	err error
}

type queryResultMsg struct {
	query string
	cards []types.Card
	err   error
}

type clearStatusMsg struct{}

// --- Model ---

type Model struct {
	ctrl   Controller
	bridge *Bridge
	tab    string

	all          []types.Card
	availability types.Availability

	list   ListModel
	detail DetailModel

	querying   bool
	queryInput string
	query      string
	filtered   bool

	status string
	width  int
	height int
}

// NewModel builds the panel view. tab is shown in the top bar.
func NewModel(ctrl Controller, bridge *Bridge, tab string) Model {
	return Model{
		ctrl:   ctrl,
		bridge: bridge,
		tab:    tab,
		list:   ListModel{Busy: make(map[int64]bool)},
	}
}

func (m Model) Init() tea.Cmd {
	ctrl := m.ctrl
	return tea.Batch(
		listenBridge(m.bridge),
		func() tea.Msg {
			ctrl.Refresh(context.Background())
			return nil
		},
	)
}

// runOp marks a card busy and runs op in the background.
func (m *Model) runOp(id int64, op func(ctx context.Context, id int64) error) tea.Cmd {
	if m.list.Busy[id] {
		return nil
	}
	m.list.Busy[id] = true
	return func() tea.Msg {
		return opDoneMsg{id: id, err: op(context.Background(), id)}
	}
}

func (m Model) runQuery(q string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		cards, err := ctrl.Query(context.Background(), q)
		return queryResultMsg{query: q, cards: cards, err: err}
	}
}

func clearStatusAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return clearStatusMsg{} })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		listWidth := m.width * ListWidthPct / 100
		paneHeight := m.height - 5 // top bar + bottom bar + borders
		m.list.Width = listWidth
		m.list.Height = paneHeight
		m.detail.Width = m.width - listWidth - 4
		m.detail.Height = paneHeight
		return m, nil

	case tea.KeyMsg:
		if m.querying {
			return m.updateQueryInput(msg)
		}

		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			m.list.MoveUp()
		case "down", "j":
			m.list.MoveDown()
		case "/":
			m.querying = true
			m.queryInput = m.query
		case "esc":
			if m.filtered {
				m.filtered = false
				m.query = ""
				m.list.SetCards(m.all)
			}
		case "r":
			ctrl := m.ctrl
			return m, func() tea.Msg {
				ctrl.Refresh(context.Background())
				return nil
			}
		case "t":
			if c := m.list.Selected(); c != nil {
				return m, m.runOp(c.ID, m.ctrl.RegenerateTags)
			}
		case "p":
			if c := m.list.Selected(); c != nil && c.Type == types.CardImage {
				return m, m.runOp(c.ID, m.ctrl.AnalyzeProvenance)
			}
		case "d":
			if c := m.list.Selected(); c != nil {
				return m, m.runOp(c.ID, m.ctrl.Delete)
			}
		case "S":
			ctrl := m.ctrl
			return m, func() tea.Msg {
				return opDoneMsg{err: ctrl.Seed(context.Background())}
			}
		}
		return m, nil

	case cardsMsg:
		m.all = msg.cards
		if m.filtered {
			// Filtered results are recomputed against the new list.
			return m, tea.Batch(listenBridge(m.bridge), m.runQuery(m.query))
		}
		m.list.SetCards(msg.cards)
		return m, listenBridge(m.bridge)

	case availabilityMsg:
		m.availability = msg.a
		return m, listenBridge(m.bridge)

	case errMsg:
		m.status = msg.err.Error()
		return m, tea.Batch(listenBridge(m.bridge), clearStatusAfter(5*time.Second))

	case opDoneMsg:
		delete(m.list.Busy, msg.id)
		if msg.err != nil {
			m.status = msg.err.Error()
			return m, clearStatusAfter(5 * time.Second)
		}
		return m, nil

	case queryResultMsg:
		if msg.err != nil {
			m.status = msg.err.Error()
			return m, clearStatusAfter(5 * time.Second)
		}
		if msg.query != m.query {
			return m, nil
		}
		m.filtered = msg.query != ""
		m.list.SetCards(msg.cards)
		return m, nil

	case clearStatusMsg:
		m.status = ""
		return m, nil
	}

	return m, nil
}

func (m Model) updateQueryInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.querying = false
		m.query = m.queryInput
		if m.query == "" {
			m.filtered = false
			m.list.SetCards(m.all)
			return m, nil
		}
		m.status = "Searching…"
		return m, tea.Batch(m.runQuery(m.query), clearStatusAfter(2*time.Second))
	case tea.KeyEsc:
		m.querying = false
		m.queryInput = ""
	case tea.KeyBackspace:
		if r := []rune(m.queryInput); len(r) > 0 {
			m.queryInput = string(r[:len(r)-1])
		}
	case tea.KeySpace:
		m.queryInput += " "
	case tea.KeyRunes:
		m.queryInput += string(msg.Runes)
	case tea.KeyCtrlC:
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) View() string {
	top := renderNavbar(m.tab, m.availability, len(m.list.Cards), len(m.all), m.query, m.width)

	listBorder := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Width(m.list.Width).
		Height(m.list.Height)

	detailBorder := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(m.detail.Width).
		Height(m.detail.Height)

	left := listBorder.Render(m.list.View())
	right := detailBorder.Render(m.detail.ViewCard(m.list.Selected()))
	panes := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	bottomStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Padding(0, 1)
	var bottom string
	switch {
	case m.querying:
		bottom = lipgloss.NewStyle().Padding(0, 1).Render(fmt.Sprintf("query: %s▏  enter search · esc cancel", m.queryInput))
	case m.status != "":
		bottom = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Padding(0, 1).Render(m.status)
	default:
		text := "↑↓/jk navigate · t retag · p provenance · d delete · / query · r refresh · S demo · q quit"
		if m.filtered {
			text = "esc clear query · " + text
		}
		bottom = bottomStyle.Render(text)
	}

	return lipgloss.JoinVertical(lipgloss.Left, top, panes, bottom)
}
