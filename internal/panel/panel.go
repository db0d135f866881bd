// Package panel is the side panel's orchestration: it answers the relay's
// handshake, tracks model availability, holds or dispatches delivered
// clips, and republishes the whole card list after every change.
package panel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lotas/cognito/internal/applog"
	"github.com/lotas/cognito/internal/protocol"
	"github.com/lotas/cognito/internal/types"
)

// Port is the panel end of the relay connection.
type Port interface {
	Send(ctx context.Context, m protocol.PortMessage) error
	Recv(ctx context.Context) (protocol.PortMessage, error)
	Close() error
}

// Capturer turns a delivered payload into a stored card.
type Capturer interface {
	Handle(ctx context.Context, p types.ClipPayload) (int64, error)
}

// Checker answers whether the model can serve prompts.
type Checker interface {
	Available(ctx context.Context) bool
}

// Notebook is the card workflow the panel drives.
type Notebook interface {
	Cards(ctx context.Context) ([]types.Card, error)
	RegenerateTags(ctx context.Context, id int64) (*types.Card, error)
	AnalyzeProvenance(ctx context.Context, id int64, onPending func()) (*types.Card, error)
	Query(ctx context.Context, q string) ([]types.Card, error)
	Delete(ctx context.Context, id int64) error
	Clear(ctx context.Context) error
	SeedDemo(ctx context.Context, now time.Time) ([]int64, error)
}

// View receives everything the panel renders.
type View interface {
	ShowCards(cards []types.Card)
	ShowAvailability(a types.Availability)
	ShowError(err error)
}

// Controller is safe for concurrent use.
type Controller struct {
	capture  Capturer
	ai       Checker
	notebook Notebook
	view     View

	mu           sync.Mutex
	availability types.Availability
	held         *types.ClipPayload
	tab          protocol.TabID
}

// New returns a controller with availability unknown.
func New(capture Capturer, ai Checker, nb Notebook, view View) *Controller {
	return &Controller{capture: capture, ai: ai, notebook: nb, view: view}
}

// Availability returns the current tri-state.
func (c *Controller) Availability() types.Availability {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.availability
}

// Held returns the payload waiting for availability, if any.
func (c *Controller) Held() (types.ClipPayload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held == nil {
		return types.ClipPayload{}, false
	}
	return *c.held, true
}

// Tab returns the tab id the relay assigned, or 0 before the handshake.
func (c *Controller) Tab() protocol.TabID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tab
}

// CheckAvailability asks the model once and applies the result.
func (c *Controller) CheckAvailability(ctx context.Context) {
	if c.ai.Available(ctx) {
		c.SetAvailability(ctx, types.AvailabilityReady)
	} else {
		c.SetAvailability(ctx, types.AvailabilityUnavailable)
	}
}

// SetAvailability records a resolved availability. A held payload is
// dispatched when the model becomes ready. When it resolves unavailable,
// image and link clips still go through in degraded mode and selection
// clips are dropped.
func (c *Controller) SetAvailability(ctx context.Context, a types.Availability) {
	c.mu.Lock()
	c.availability = a
	held := c.held
	if held != nil && a != types.AvailabilityUnknown {
		c.held = nil
	}
	c.mu.Unlock()

	applog.Info("panel.availability", "state", a)
	c.view.ShowAvailability(a)

	if held == nil || a == types.AvailabilityUnknown {
		return
	}
	c.apply(ctx, a, *held)
}

// apply runs the policy for a resolved availability: everything is
// dispatched, except selection clips while the model is unavailable.
func (c *Controller) apply(ctx context.Context, a types.Availability, p types.ClipPayload) {
	if a == types.AvailabilityUnavailable && p.MenuItemID == types.MenuSaveSelection {
		applog.Warn("panel.drop", "menu", p.MenuItemID, "reason", "model unavailable")
		return
	}
	c.dispatch(ctx, p)
}

// Deliver handles a payload from the relay. It is held while availability
// is unknown, a newer delivery replacing a held one. Once availability is
// resolved the same policy as SetAvailability applies.
func (c *Controller) Deliver(ctx context.Context, p types.ClipPayload) {
	c.mu.Lock()
	a := c.availability
	if a == types.AvailabilityUnknown {
		if c.held != nil {
			applog.Info("panel.held.replaced", "menu", c.held.MenuItemID)
		}
		c.held = &p
		c.mu.Unlock()
		applog.Info("panel.held", "menu", p.MenuItemID)
		return
	}
	c.mu.Unlock()
	c.apply(ctx, a, p)
}

func (c *Controller) dispatch(ctx context.Context, p types.ClipPayload) {
	id, err := c.capture.Handle(ctx, p)
	if err != nil {
		applog.Error("panel.capture", err, "menu", p.MenuItemID)
		c.view.ShowError(err)
		return
	}
	if id == 0 {
		return
	}
	c.Refresh(ctx)
}

// Refresh re-reads every card and republishes the list.
func (c *Controller) Refresh(ctx context.Context) {
	cards, err := c.notebook.Cards(ctx)
	if err != nil {
		applog.Error("panel.refresh", err)
		c.view.ShowError(err)
		return
	}
	c.view.ShowCards(cards)
}

func (c *Controller) after(ctx context.Context, err error) error {
	if err != nil {
		c.view.ShowError(err)
		return err
	}
	c.Refresh(ctx)
	return nil
}

// RegenerateTags retags one card.
func (c *Controller) RegenerateTags(ctx context.Context, id int64) error {
	_, err := c.notebook.RegenerateTags(ctx, id)
	return c.after(ctx, err)
}

// AnalyzeProvenance runs provenance analysis on one card. The list is
// republished once with the pending badge and again with the verdict.
func (c *Controller) AnalyzeProvenance(ctx context.Context, id int64) error {
	_, err := c.notebook.AnalyzeProvenance(ctx, id, func() { c.Refresh(ctx) })
	return c.after(ctx, err)
}

// Delete removes one card.
func (c *Controller) Delete(ctx context.Context, id int64) error {
	return c.after(ctx, c.notebook.Delete(ctx, id))
}

// Clear removes every card.
func (c *Controller) Clear(ctx context.Context) error {
	return c.after(ctx, c.notebook.Clear(ctx))
}

// Seed replaces the notebook with the demo cards.
func (c *Controller) Seed(ctx context.Context) error {
	_, err := c.notebook.SeedDemo(ctx, time.Now())
	return c.after(ctx, err)
}

// Query filters the notebook. The result is returned, not published.
func (c *Controller) Query(ctx context.Context, q string) ([]types.Card, error) {
	cards, err := c.notebook.Query(ctx, q)
	if err != nil {
		c.view.ShowError(err)
	}
	return cards, err
}

// Serve runs the port side of the handshake until the port fails or ctx
// is done. Every content delivery goes through Deliver.
func (c *Controller) Serve(ctx context.Context, port Port) error {
	go func() {
		<-ctx.Done()
		port.Close()
	}()

	for {
		m, err := port.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, protocol.ErrMalformed) {
				applog.Warn("panel.desync", "err", err)
				continue
			}
			return fmt.Errorf("port closed: %w", err)
		}

		switch m.Type {
		case protocol.SetContextTabID:
			c.mu.Lock()
			c.tab = m.OriginalTabID
			c.mu.Unlock()
			if err := port.Send(ctx, protocol.PortMessage{Type: protocol.PanelReady, OriginalTabID: m.OriginalTabID}); err != nil {
				return fmt.Errorf("send ready: %w", err)
			}
			applog.Info("panel.ready", "tab", m.OriginalTabID)
		case protocol.InitializeWithContent:
			if tab := c.Tab(); tab != 0 && m.OriginalTabID != tab {
				applog.Warn("panel.desync", "tab", tab, "content_for", m.OriginalTabID)
				continue
			}
			c.Deliver(ctx, *m.Payload)
		default:
			applog.Warn("panel.desync", "type", m.Type)
		}
	}
}
