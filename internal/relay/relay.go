// Package relay is the always-on background side of the extension. It
// owns context-menu registration, the per-tab pending-content table, and
// the port handshake that hands queued clips to a ready side panel.
//
// All state is owned by one actor goroutine (Run). Public methods submit
// events to it and never touch state directly.
package relay

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lotas/cognito/internal/applog"
	"github.com/lotas/cognito/internal/protocol"
	"github.com/lotas/cognito/internal/types"
)

// ErrClosed is returned once Run has stopped.
var ErrClosed = errors.New("relay closed")

// State is a tab's position in the handoff state machine.
type State int

const (
	Idle State = iota
	Queued
	Connected
	Ready
	Disconnected
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Connected:
		return "connected"
	case Ready:
		return "ready"
	case Disconnected:
		return "disconnected"
	default:
		return "idle"
	}
}

// Port is a named, bidirectional channel to one side panel.
type Port interface {
	Name() string
	Send(ctx context.Context, m protocol.PortMessage) error
	Close(reason string)
}

// Extension receives relay commands (menu installation, opening the panel).
type Extension interface {
	Send(ctx context.Context, m protocol.OutgoingMsg) error
}

// Options configures a Relay.
type Options struct {
	PendingTTL    time.Duration
	SweepInterval time.Duration
	SendTimeout   time.Duration
	Registerer    prometheus.Registerer
}

// Defaults for zero Options fields.
const (
	DefaultPendingTTL    = 10 * time.Minute
	DefaultSweepInterval = time.Minute
	DefaultSendTimeout   = 5 * time.Second
)

type tabState struct {
	port         Port
	ready        bool
	disconnected bool
}

// TabStatus is a point-in-time view of one tab.
type TabStatus struct {
	Tab     protocol.TabID `json:"tab"`
	State   string         `json:"state"`
	Pending bool           `json:"pending"`
}

// Relay coordinates clips between the extension and side panels.
type Relay struct {
	ext     Extension
	opts    Options
	pending *pendingTable
	metrics *Metrics

	events chan func()
	done   chan struct{}

	// owned by Run
	tabs map[protocol.TabID]*tabState

	active atomic.Int64
}

// New creates a relay. Call Run to start it.
func New(ext Extension, opts Options) *Relay {
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = DefaultPendingTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	r := &Relay{
		ext:    ext,
		opts:   opts,
		events: make(chan func(), 256),
		done:   make(chan struct{}),
		tabs:   make(map[protocol.TabID]*tabState),
	}
	r.pending = newPendingTable(opts.PendingTTL, r.expired)
	r.metrics = newMetrics(opts.Registerer, func() float64 { return float64(r.pending.len()) })
	return r
}

// Metrics exposes the relay counters.
func (r *Relay) Metrics() *Metrics {
	return r.metrics
}

// Run processes events until ctx is done, sweeping expired payloads on
// every tick. Open ports are closed on return.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()
	defer close(r.done)

	applog.Info("relay.start", "ttl", r.opts.PendingTTL)
	for {
		select {
		case <-ctx.Done():
			for tab, st := range r.tabs {
				if st.port != nil {
					st.port.Close("relay stopped")
					r.metrics.Ports.Dec()
				}
				delete(r.tabs, tab)
			}
			applog.Info("relay.stop")
			return nil
		case fn := <-r.events:
			fn()
		case <-ticker.C:
			r.pending.sweep()
		}
	}
}

func (r *Relay) submit(fn func()) error {
	select {
	case <-r.done:
		return ErrClosed
	default:
	}
	select {
	case r.events <- fn:
		return nil
	case <-r.done:
		return ErrClosed
	}
}

// call runs fn on the actor and waits for it.
func (r *Relay) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := r.submit(func() { fn(); close(finished) }); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveTab returns the most recently activated tab.
func (r *Relay) ActiveTab() (protocol.TabID, bool) {
	id := r.active.Load()
	return protocol.TabID(id), id > 0
}

// Pending returns the payload queued for tab, if any.
func (r *Relay) Pending(tab protocol.TabID) (types.ClipPayload, bool) {
	return r.pending.peek(tab)
}

// State returns the handoff state of tab.
func (r *Relay) State(ctx context.Context, tab protocol.TabID) (State, error) {
	var s State
	err := r.call(ctx, func() { s = r.stateOf(tab) })
	return s, err
}

// Tabs lists every tab the relay is tracking, ordered by id.
func (r *Relay) Tabs(ctx context.Context) ([]TabStatus, error) {
	var out []TabStatus
	err := r.call(ctx, func() {
		for tab := range r.tabs {
			_, pending := r.pending.peek(tab)
			out = append(out, TabStatus{Tab: tab, State: r.stateOf(tab).String(), Pending: pending})
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Tab < out[j].Tab })
	return out, err
}

func (r *Relay) stateOf(tab protocol.TabID) State {
	st := r.tabs[tab]
	_, pending := r.pending.peek(tab)
	switch {
	case st != nil && st.port != nil && st.ready:
		return Ready
	case st != nil && st.port != nil:
		return Connected
	case st != nil && st.disconnected:
		return Disconnected
	case pending:
		return Queued
	default:
		return Idle
	}
}

func (r *Relay) tab(tab protocol.TabID) *tabState {
	st, ok := r.tabs[tab]
	if !ok {
		st = &tabState{}
		r.tabs[tab] = st
	}
	return st
}

func (r *Relay) desync(event string, kv ...any) {
	r.metrics.Desync.Inc()
	applog.Warn("relay.desync", append([]any{"reason", event}, kv...)...)
}

func (r *Relay) sendExt(m protocol.OutgoingMsg) {
	if r.ext == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.SendTimeout)
	defer cancel()
	if err := r.ext.Send(ctx, m); err != nil {
		applog.Error("relay.ext.send", err, "action", m.Action)
	}
}

func (r *Relay) sendPort(p Port, m protocol.PortMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.SendTimeout)
	defer cancel()
	return p.Send(ctx, m)
}

// expired runs on the actor during a sweep.
func (r *Relay) expired(tab protocol.TabID) {
	r.metrics.Dropped.WithLabelValues("expired").Inc()
	if st, ok := r.tabs[tab]; ok && st.port == nil {
		delete(r.tabs, tab)
	}
}
