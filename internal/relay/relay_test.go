package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/lotas/cognito/internal/protocol"
	"github.com/lotas/cognito/internal/types"
)

type fakeExt struct {
	mu   sync.Mutex
	cmds []protocol.OutgoingMsg
}

func (e *fakeExt) Send(ctx context.Context, m protocol.OutgoingMsg) error {
	e.mu.Lock()
	e.cmds = append(e.cmds, m)
	e.mu.Unlock()
	return nil
}

func (e *fakeExt) commands() []protocol.OutgoingMsg {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]protocol.OutgoingMsg(nil), e.cmds...)
}

type fakePort struct {
	name    string
	sendErr error

	mu     sync.Mutex
	sent   []protocol.PortMessage
	closed string
}

func (p *fakePort) Name() string { return p.name }

func (p *fakePort) Send(ctx context.Context, m protocol.PortMessage) error {
	if p.sendErr != nil {
		return p.sendErr
	}
	p.mu.Lock()
	p.sent = append(p.sent, m)
	p.mu.Unlock()
	return nil
}

func (p *fakePort) Close(reason string) {
	p.mu.Lock()
	p.closed = reason
	p.mu.Unlock()
}

func (p *fakePort) messages() []protocol.PortMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.PortMessage(nil), p.sent...)
}

func (p *fakePort) closedWith() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func startRelay(t *testing.T, opts Options) (*Relay, *fakeExt) {
	t.Helper()
	ext := &fakeExt{}
	opts.Registerer = prometheus.NewRegistry()
	r := New(ext, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r, ext
}

// settle waits until the actor has processed everything submitted so far.
func settle(t *testing.T, r *Relay) {
	t.Helper()
	require.NoError(t, r.call(context.Background(), func() {}))
}

func click(tab protocol.TabID, text string) protocol.IncomingMsg {
	return protocol.IncomingMsg{
		Type: protocol.EventContextMenuClick,
		Info: &protocol.ClickInfo{MenuItemID: types.MenuSaveSelection, SelectionText: text, PageURL: "http://x.com"},
		Tab:  &protocol.Tab{ID: tab, WindowID: 1, URL: "http://x.com", Title: "X"},
	}
}

func ready(tab protocol.TabID) []byte {
	b, _ := json.Marshal(protocol.PortMessage{Type: protocol.PanelReady, OriginalTabID: tab})
	return b
}

func requireState(t *testing.T, r *Relay, tab protocol.TabID, want State) {
	t.Helper()
	got, err := r.State(context.Background(), tab)
	require.NoError(t, err)
	require.Equal(t, want, got, "tab %d", tab)
}

func TestInstallMenusIsIdempotent(t *testing.T) {
	r, ext := startRelay(t, Options{})

	require.NoError(t, r.HandleExtension(protocol.IncomingMsg{Type: protocol.EventInstalled}))
	require.NoError(t, r.HandleExtension(protocol.IncomingMsg{Type: protocol.EventInstalled}))
	settle(t, r)

	// Replay the commands the way the extension would.
	menus := map[string]protocol.MenuItem{}
	for _, c := range ext.commands() {
		switch c.Action {
		case protocol.ActionRemoveAllMenus:
			menus = map[string]protocol.MenuItem{}
		case protocol.ActionCreateMenu:
			_, dup := menus[c.Menu.ID]
			require.False(t, dup, "menu %s created twice without removal", c.Menu.ID)
			menus[c.Menu.ID] = *c.Menu
		}
	}
	require.Len(t, menus, 3)
	require.Contains(t, menus, types.MenuSaveSelection)
	require.Contains(t, menus, types.MenuSaveImage)
	require.Contains(t, menus, types.MenuSaveLink)
	require.Equal(t, []string{"selection"}, menus[types.MenuSaveSelection].Contexts)
}

func TestHandshakeDeliversOnce(t *testing.T) {
	r, ext := startRelay(t, Options{})
	requireState(t, r, 7, Idle)

	require.NoError(t, r.HandleExtension(click(7, "Q3 revenue up 15%")))
	requireState(t, r, 7, Queued)

	cmds := ext.commands()
	require.Len(t, cmds, 1)
	require.Equal(t, protocol.ActionOpenSidePanel, cmds[0].Action)
	require.Equal(t, protocol.TabID(7), cmds[0].TabID)

	port := &fakePort{name: "7"}
	require.NoError(t, r.Connect(port))
	requireState(t, r, 7, Connected)

	msgs := port.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, protocol.SetContextTabID, msgs[0].Type)
	require.Equal(t, protocol.TabID(7), msgs[0].OriginalTabID)

	require.NoError(t, r.PortMessage(port, ready(7)))
	requireState(t, r, 7, Ready)

	msgs = port.messages()
	require.Len(t, msgs, 2)
	require.Equal(t, protocol.InitializeWithContent, msgs[1].Type)
	require.Equal(t, "Q3 revenue up 15%", msgs[1].Payload.SelectionText)
	require.Equal(t, "http://x.com", msgs[1].Payload.SourcePageURL)
	require.Equal(t, "X", msgs[1].Payload.SourcePageTitle)
	_, pending := r.Pending(7)
	require.False(t, pending)

	// A second ready acknowledgment has nothing to deliver.
	require.NoError(t, r.PortMessage(port, ready(7)))
	settle(t, r)
	require.Len(t, port.messages(), 2)

	require.Equal(t, 1.0, testutil.ToFloat64(r.Metrics().Queued))
	require.Equal(t, 1.0, testutil.ToFloat64(r.Metrics().Delivered))
}

func TestDisconnectKeepsQueue(t *testing.T) {
	r, _ := startRelay(t, Options{})

	require.NoError(t, r.HandleExtension(click(5, "keep me")))
	first := &fakePort{name: "5"}
	require.NoError(t, r.Connect(first))
	require.NoError(t, r.Disconnect(first))
	requireState(t, r, 5, Disconnected)

	p, ok := r.Pending(5)
	require.True(t, ok)
	require.Equal(t, "keep me", p.SelectionText)

	second := &fakePort{name: "5"}
	require.NoError(t, r.Connect(second))
	require.NoError(t, r.PortMessage(second, ready(5)))
	settle(t, r)

	msgs := second.messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "keep me", msgs[1].Payload.SelectionText)
	require.Len(t, first.messages(), 1)
}

func TestDisconnectWithoutQueueIsIdle(t *testing.T) {
	r, _ := startRelay(t, Options{})
	port := &fakePort{name: "3"}
	require.NoError(t, r.Connect(port))
	require.NoError(t, r.PortMessage(port, ready(3)))
	require.NoError(t, r.Disconnect(port))
	requireState(t, r, 3, Idle)
	require.Equal(t, 0.0, testutil.ToFloat64(r.Metrics().Ports))
}

func TestClickWhileReadyDeliversImmediately(t *testing.T) {
	r, ext := startRelay(t, Options{})
	port := &fakePort{name: "9"}
	require.NoError(t, r.Connect(port))
	require.NoError(t, r.PortMessage(port, ready(9)))

	require.NoError(t, r.HandleExtension(click(9, "late clip")))
	settle(t, r)

	msgs := port.messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "late clip", msgs[1].Payload.SelectionText)
	require.Len(t, ext.commands(), 1)
	requireState(t, r, 9, Ready)
}

func TestNewerClipReplacesQueued(t *testing.T) {
	r, _ := startRelay(t, Options{})
	require.NoError(t, r.HandleExtension(click(4, "first")))
	require.NoError(t, r.HandleExtension(click(4, "second")))

	port := &fakePort{name: "4"}
	require.NoError(t, r.Connect(port))
	require.NoError(t, r.PortMessage(port, ready(4)))
	settle(t, r)

	msgs := port.messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "second", msgs[1].Payload.SelectionText)
	require.Equal(t, 1.0, testutil.ToFloat64(r.Metrics().Dropped.WithLabelValues("replaced")))
}

func TestTabsAreIndependent(t *testing.T) {
	r, _ := startRelay(t, Options{})
	require.NoError(t, r.HandleExtension(click(1, "one")))
	require.NoError(t, r.HandleExtension(click(2, "two")))

	p2 := &fakePort{name: "2"}
	require.NoError(t, r.Connect(p2))
	require.NoError(t, r.PortMessage(p2, ready(2)))
	settle(t, r)

	require.Equal(t, "two", p2.messages()[1].Payload.SelectionText)
	requireState(t, r, 1, Queued)
	requireState(t, r, 2, Ready)

	tabs, err := r.Tabs(context.Background())
	require.NoError(t, err)
	require.Equal(t, []TabStatus{
		{Tab: 1, State: "queued", Pending: true},
		{Tab: 2, State: "ready", Pending: false},
	}, tabs)
}

func TestDesyncIsIgnored(t *testing.T) {
	r, _ := startRelay(t, Options{})

	bad := &fakePort{name: "not-a-tab"}
	require.NoError(t, r.Connect(bad))
	settle(t, r)
	require.Equal(t, "bad port name", bad.closedWith())
	require.Empty(t, bad.messages())

	require.NoError(t, r.HandleExtension(click(6, "queued")))
	port := &fakePort{name: "6"}
	require.NoError(t, r.Connect(port))

	require.NoError(t, r.PortMessage(port, []byte(`{"type":"PANEL_READY","originalTabId":"x"}`)))
	require.NoError(t, r.PortMessage(port, []byte(`garbage`)))
	require.NoError(t, r.PortMessage(port, ready(8)))
	require.NoError(t, r.PortMessage(&fakePort{name: "6"}, ready(6)))
	settle(t, r)

	require.Len(t, port.messages(), 1, "no delivery before a matching ready")
	requireState(t, r, 6, Connected)
	_, ok := r.Pending(6)
	require.True(t, ok)
	require.Equal(t, 5.0, testutil.ToFloat64(r.Metrics().Desync))

	// Ready for a tab with nothing queued delivers nothing.
	other := &fakePort{name: "11"}
	require.NoError(t, r.Connect(other))
	require.NoError(t, r.PortMessage(other, ready(11)))
	settle(t, r)
	require.Len(t, other.messages(), 1)

	require.NoError(t, r.HandleExtension(protocol.IncomingMsg{Type: "bogus"}))
	require.NoError(t, r.HandleExtension(protocol.IncomingMsg{Type: protocol.EventContextMenuClick}))
	settle(t, r)
	require.Equal(t, 7.0, testutil.ToFloat64(r.Metrics().Desync))
}

func TestSendFailureDropsOnce(t *testing.T) {
	r, _ := startRelay(t, Options{})
	require.NoError(t, r.HandleExtension(click(2, "lost")))
	port := &fakePort{name: "2", sendErr: errors.New("broken pipe")}
	require.NoError(t, r.Connect(port))
	require.NoError(t, r.PortMessage(port, ready(2)))
	settle(t, r)

	_, ok := r.Pending(2)
	require.False(t, ok)
	require.Equal(t, 1.0, testutil.ToFloat64(r.Metrics().Dropped.WithLabelValues("send_error")))
	require.Equal(t, 0.0, testutil.ToFloat64(r.Metrics().Delivered))
}

func TestPendingExpires(t *testing.T) {
	r, _ := startRelay(t, Options{PendingTTL: 20 * time.Millisecond, SweepInterval: 5 * time.Millisecond})
	require.NoError(t, r.HandleExtension(click(3, "stale")))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(r.Metrics().Dropped.WithLabelValues("expired")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	requireState(t, r, 3, Idle)

	port := &fakePort{name: "3"}
	require.NoError(t, r.Connect(port))
	require.NoError(t, r.PortMessage(port, ready(3)))
	settle(t, r)
	require.Len(t, port.messages(), 1)
}

func TestExpiredEntryIsCountedWhenReplaced(t *testing.T) {
	r, _ := startRelay(t, Options{PendingTTL: 20 * time.Millisecond, SweepInterval: time.Hour})
	require.NoError(t, r.HandleExtension(click(6, "old")))
	settle(t, r)
	time.Sleep(40 * time.Millisecond)

	require.NoError(t, r.HandleExtension(click(6, "new")))
	settle(t, r)

	require.Equal(t, 1.0, testutil.ToFloat64(r.Metrics().Dropped.WithLabelValues("expired")))
	require.Equal(t, 0.0, testutil.ToFloat64(r.Metrics().Dropped.WithLabelValues("replaced")))
	p, ok := r.Pending(6)
	require.True(t, ok)
	require.Equal(t, "new", p.SelectionText)
}

func TestActionAndActivation(t *testing.T) {
	r, ext := startRelay(t, Options{})

	_, ok := r.ActiveTab()
	require.False(t, ok)

	require.NoError(t, r.HandleExtension(protocol.IncomingMsg{Type: protocol.EventTabActivated, TabID: 12, WindowID: 2}))
	require.NoError(t, r.HandleExtension(protocol.IncomingMsg{Type: protocol.EventActionClicked, Tab: &protocol.Tab{ID: 12, WindowID: 2}}))
	settle(t, r)

	tab, ok := r.ActiveTab()
	require.True(t, ok)
	require.Equal(t, protocol.TabID(12), tab)

	cmds := ext.commands()
	require.Len(t, cmds, 1)
	require.Equal(t, protocol.ActionOpenSidePanel, cmds[0].Action)
	require.Equal(t, int64(2), cmds[0].WindowID)
	requireState(t, r, 12, Idle)
}

func TestClosedRelay(t *testing.T) {
	r := New(&fakeExt{}, Options{Registerer: prometheus.NewRegistry()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	port := &fakePort{name: "1"}
	require.NoError(t, r.Connect(port))
	settle(t, r)
	cancel()
	require.NoError(t, <-done)

	require.Equal(t, "relay stopped", port.closedWith())
	require.ErrorIs(t, r.HandleExtension(click(1, "x")), ErrClosed)
	_, err := r.State(context.Background(), 1)
	require.ErrorIs(t, err, ErrClosed)
}
