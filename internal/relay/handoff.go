package relay

import (
	"github.com/lotas/cognito/internal/applog"
	"github.com/lotas/cognito/internal/protocol"
)

// HandleExtension processes one message from the extension.
func (r *Relay) HandleExtension(m protocol.IncomingMsg) error {
	return r.submit(func() {
		switch m.Type {
		case protocol.EventInstalled:
			r.installMenus()
		case protocol.EventContextMenuClick:
			r.click(m)
		case protocol.EventActionClicked:
			tab, window := tabOf(m)
			if tab <= 0 {
				r.desync("action without tab")
				return
			}
			r.openPanel(tab, window)
		case protocol.EventTabActivated:
			tab, _ := tabOf(m)
			if tab <= 0 {
				r.desync("activation without tab")
				return
			}
			r.active.Store(int64(tab))
		case protocol.EventResponse:
			if m.OK != nil && !*m.OK {
				applog.Warn("relay.ext.failed", "id", m.ID, "error", m.Error)
			}
		default:
			r.desync("unknown extension message", "type", m.Type)
		}
	})
}

func tabOf(m protocol.IncomingMsg) (protocol.TabID, int64) {
	if m.Tab != nil && m.Tab.ID > 0 {
		return m.Tab.ID, m.Tab.WindowID
	}
	return m.TabID, m.WindowID
}

// installMenus replaces the whole menu set, so repeating it is harmless.
func (r *Relay) installMenus() {
	r.sendExt(protocol.NewCommand(protocol.ActionRemoveAllMenus))
	for _, item := range protocol.Menus {
		cmd := protocol.NewCommand(protocol.ActionCreateMenu)
		cmd.Menu = &item
		r.sendExt(cmd)
	}
	applog.Info("relay.menus", "count", len(protocol.Menus))
}

func (r *Relay) openPanel(tab protocol.TabID, window int64) {
	cmd := protocol.NewCommand(protocol.ActionOpenSidePanel)
	cmd.TabID = tab
	cmd.WindowID = window
	r.sendExt(cmd)
}

// click queues the payload for its tab and asks for the panel. A panel
// that is already ready for the tab receives it at once.
func (r *Relay) click(m protocol.IncomingMsg) {
	tab, window := tabOf(m)
	if tab <= 0 {
		r.desync("click without tab")
		return
	}
	payload := m.Payload()
	if payload.MenuItemID == "" {
		r.desync("click without menu item", "tab", tab)
		return
	}

	if r.pending.put(tab, payload) {
		r.metrics.Dropped.WithLabelValues("replaced").Inc()
		applog.Warn("relay.replaced", "tab", tab)
	}
	r.metrics.Queued.Inc()
	applog.Info("relay.queued", "tab", tab, "menu", payload.MenuItemID)

	st := r.tab(tab)
	r.openPanel(tab, window)
	if st.port != nil && st.ready {
		r.flush(tab, st)
	}
}

// Connect registers a panel port. The port name must be the panel's tab id.
func (r *Relay) Connect(p Port) error {
	return r.submit(func() {
		tab, err := protocol.ParseTabID(p.Name())
		if err != nil {
			r.desync("bad port name", "name", p.Name())
			p.Close("bad port name")
			return
		}

		st := r.tab(tab)
		if st.port != nil {
			applog.Info("relay.port.replaced", "tab", tab)
			st.port.Close("replaced")
		} else {
			r.metrics.Ports.Inc()
		}
		st.port = p
		st.ready = false
		st.disconnected = false
		applog.Info("relay.connected", "tab", tab)

		if err := r.sendPort(p, protocol.PortMessage{Type: protocol.SetContextTabID, OriginalTabID: tab}); err != nil {
			applog.Error("relay.port.send", err, "tab", tab)
		}
	})
}

// PortMessage handles one raw message received on p.
func (r *Relay) PortMessage(p Port, data []byte) error {
	return r.submit(func() {
		tab, err := protocol.ParseTabID(p.Name())
		if err != nil {
			r.desync("bad port name", "name", p.Name())
			return
		}
		st, ok := r.tabs[tab]
		if !ok || st.port != p {
			r.desync("message on unregistered port", "tab", tab)
			return
		}
		m, err := protocol.DecodePort(data)
		if err != nil {
			r.desync("unparseable port message", "tab", tab, "err", err)
			return
		}
		if m.Type != protocol.PanelReady {
			r.desync("unexpected port message", "tab", tab, "type", m.Type)
			return
		}
		if m.OriginalTabID != tab {
			r.desync("ready for another tab", "tab", tab, "echo", m.OriginalTabID)
			return
		}
		st.ready = true
		applog.Info("relay.ready", "tab", tab)
		r.flush(tab, st)
	})
}

// Disconnect unregisters p. A payload still queued for its tab stays queued.
func (r *Relay) Disconnect(p Port) error {
	return r.submit(func() {
		tab, err := protocol.ParseTabID(p.Name())
		if err != nil {
			return
		}
		st, ok := r.tabs[tab]
		if !ok || st.port != p {
			return
		}
		st.port = nil
		st.ready = false
		r.metrics.Ports.Dec()
		if _, pending := r.pending.peek(tab); pending {
			st.disconnected = true
		} else {
			delete(r.tabs, tab)
		}
		applog.Info("relay.disconnected", "tab", tab)
	})
}

// flush delivers the queued payload for tab, at most once. The entry is
// removed before the send.
func (r *Relay) flush(tab protocol.TabID, st *tabState) {
	payload, ok := r.pending.claim(tab)
	if !ok {
		return
	}
	err := r.sendPort(st.port, protocol.PortMessage{
		Type:          protocol.InitializeWithContent,
		OriginalTabID: tab,
		Payload:       &payload,
	})
	if err != nil {
		r.metrics.Dropped.WithLabelValues("send_error").Inc()
		applog.Error("relay.flush", err, "tab", tab)
		return
	}
	r.metrics.Delivered.Inc()
	applog.Info("relay.flush", "tab", tab, "menu", payload.MenuItemID)
}
