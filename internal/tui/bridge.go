package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lotas/cognito/internal/types"
)

type cardsMsg struct{ cards []types.Card }
type availabilityMsg struct{ a types.Availability }
type errMsg struct{ err error }

// Bridge is the panel view that forwards updates into the program.
type Bridge struct {
	ch        chan tea.Msg
	done      chan struct{}
	closeOnce sync.Once
}

// NewBridge returns a bridge with room for a burst of updates.
func NewBridge() *Bridge {
	return &Bridge{ch: make(chan tea.Msg, 64), done: make(chan struct{})}
}

// Close is called once the program has exited. Later updates are discarded.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

func (b *Bridge) send(msg tea.Msg) {
	select {
	case b.ch <- msg:
	case <-b.done:
	}
}

func (b *Bridge) ShowCards(cards []types.Card)          { b.send(cardsMsg{cards: cards}) }
func (b *Bridge) ShowAvailability(a types.Availability) { b.send(availabilityMsg{a: a}) }
func (b *Bridge) ShowError(err error)                   { b.send(errMsg{err: err}) }

func listenBridge(b *Bridge) tea.Cmd {
	return func() tea.Msg {
		return <-b.ch
	}
}
