// Package notebook runs the per-card augmentation workflow on top of the
// card store: tag regeneration, provenance analysis, query, and deletion.
package notebook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lotas/cognito/internal/ai"
	"github.com/lotas/cognito/internal/applog"
	"github.com/lotas/cognito/internal/datauri"
	"github.com/lotas/cognito/internal/storage"
	"github.com/lotas/cognito/internal/types"
)

var (
	// ErrBusy is returned when another operation on the same card is in flight.
	ErrBusy = errors.New("card is busy")
	// ErrNotImage is returned by AnalyzeProvenance for text cards.
	ErrNotImage = errors.New("provenance analysis requires an image card")
)

// resetTimeout bounds the write that clears a stuck pending verdict.
const resetTimeout = 5 * time.Second

// Store is the card store as seen by the notebook.
type Store interface {
	Insert(ctx context.Context, c types.Card) (int64, error)
	List(ctx context.Context) ([]types.Card, error)
	Get(ctx context.Context, id int64) (*types.Card, error)
	Replace(ctx context.Context, c *types.Card) error
	Delete(ctx context.Context, id int64) error
	Clear(ctx context.Context) error
}

// Notebook serializes augmentation per card. Operations on different cards
// run concurrently.
type Notebook struct {
	store Store
	ai    *ai.Gateway

	mu   sync.Mutex
	busy map[int64]bool
}

// New returns a notebook over store.
func New(store Store, gw *ai.Gateway) *Notebook {
	return &Notebook{store: store, ai: gw, busy: make(map[int64]bool)}
}

// Busy reports whether an operation on id is in flight.
func (n *Notebook) Busy(id int64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.busy[id]
}

func (n *Notebook) acquire(id int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.busy[id] {
		return fmt.Errorf("card %d: %w", id, ErrBusy)
	}
	n.busy[id] = true
	return nil
}

func (n *Notebook) release(id int64) {
	n.mu.Lock()
	delete(n.busy, id)
	n.mu.Unlock()
}

func (n *Notebook) load(ctx context.Context, id int64) (*types.Card, error) {
	c, err := n.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("card %d: %w", id, storage.ErrNotFound)
	}
	return c, nil
}

func (n *Notebook) replace(ctx context.Context, c *types.Card) error {
	if err := n.store.Replace(ctx, c); err != nil {
		if errors.Is(err, storage.ErrStale) || errors.Is(err, storage.ErrNotFound) {
			applog.Warn("storage.stale", "id", c.ID, "err", err)
		}
		return err
	}
	return nil
}

// Cards returns every card in canonical order.
func (n *Notebook) Cards(ctx context.Context) ([]types.Card, error) {
	return n.store.List(ctx)
}

// RegenerateTags replaces a card's tags with freshly generated ones. Text
// cards are tagged from their content, image cards from their summary.
func (n *Notebook) RegenerateTags(ctx context.Context, id int64) (*types.Card, error) {
	if err := n.acquire(id); err != nil {
		return nil, err
	}
	defer n.release(id)

	c, err := n.load(ctx, id)
	if err != nil {
		return nil, err
	}
	source := c.Content
	if c.Type == types.CardImage {
		source = c.Summary
	}
	c.Tags = n.ai.Tag(ctx, source)
	if err := n.replace(ctx, c); err != nil {
		return nil, err
	}
	applog.Info("notebook.tags", "id", id, "tags", strings.Join(c.Tags, ","))
	return c, nil
}

// AnalyzeProvenance marks an image card pending, runs the forensic prompt,
// and stores the verdict. The pending state is visible to readers while the
// model runs. onPending, if set, is called after the pending write.
func (n *Notebook) AnalyzeProvenance(ctx context.Context, id int64, onPending func()) (*types.Card, error) {
	if err := n.acquire(id); err != nil {
		return nil, err
	}
	defer n.release(id)

	c, err := n.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Type != types.CardImage {
		return nil, fmt.Errorf("card %d: %w", id, ErrNotImage)
	}
	_, image, err := datauri.Decode(c.Content)
	if err != nil {
		return nil, fmt.Errorf("card %d: %w", id, err)
	}

	c.Provenance = &types.ProvenanceResult{Status: types.ProvenancePending}
	if err := n.replace(ctx, c); err != nil {
		return nil, err
	}
	if onPending != nil {
		onPending()
	}

	res := n.ai.AnalyzeProvenance(ctx, image)
	c.Provenance = &res
	if err := n.replace(ctx, c); err != nil {
		n.resetPending(ctx, id)
		return nil, err
	}
	applog.Info("notebook.provenance", "id", id, "status", res.Status)
	return c, nil
}

// resetPending moves a card left pending by a failed verdict write back to
// unverified. It still runs when ctx is already cancelled.
func (n *Notebook) resetPending(ctx context.Context, id int64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resetTimeout)
	defer cancel()

	c, err := n.store.Get(ctx, id)
	if err != nil || c == nil {
		return
	}
	if c.Provenance == nil || c.Provenance.Status != types.ProvenancePending {
		return
	}
	c.Provenance = &types.ProvenanceResult{Status: types.ProvenanceUnverified, Findings: ai.FindingsError}
	if err := n.replace(ctx, c); err != nil {
		applog.Error("notebook.provenance.reset", err, "id", id)
		return
	}
	applog.Warn("notebook.provenance.reset", "id", id)
}

// Query returns the cards relevant to q in canonical order. An empty query
// returns every card.
func (n *Notebook) Query(ctx context.Context, q string) ([]types.Card, error) {
	cards, err := n.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(q) == "" {
		return cards, nil
	}
	return n.ai.FilterCards(ctx, q, cards), nil
}

// Delete removes a card. Unknown ids are a no-op; a card with an operation
// in flight is refused.
func (n *Notebook) Delete(ctx context.Context, id int64) error {
	if err := n.acquire(id); err != nil {
		return err
	}
	defer n.release(id)
	if err := n.store.Delete(ctx, id); err != nil {
		return err
	}
	applog.Info("notebook.delete", "id", id)
	return nil
}

// Clear removes every card.
func (n *Notebook) Clear(ctx context.Context) error {
	if err := n.store.Clear(ctx); err != nil {
		return err
	}
	applog.Info("notebook.clear")
	return nil
}
