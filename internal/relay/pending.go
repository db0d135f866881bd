package relay

import (
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/lotas/cognito/internal/applog"
	"github.com/lotas/cognito/internal/protocol"
	"github.com/lotas/cognito/internal/types"
)

// entry is one queued payload. claimed is set before a deliberate removal
// so the eviction hook can tell delivery from expiry.
type entry struct {
	payload types.ClipPayload
	claimed atomic.Bool
}

// pendingTable maps source tab to the newest unclaimed payload. Entries
// expire after ttl; the owner calls sweep to evict them.
type pendingTable struct {
	c *cache.Cache
}

func newPendingTable(ttl time.Duration, onExpire func(protocol.TabID)) *pendingTable {
	c := cache.New(ttl, 0)
	c.OnEvicted(func(key string, v any) {
		e := v.(*entry)
		if e.claimed.Load() {
			return
		}
		tab, _ := protocol.ParseTabID(key)
		applog.Warn("relay.expired", "tab", key, "menu", e.payload.MenuItemID)
		if onExpire != nil {
			onExpire(tab)
		}
	})
	return &pendingTable{c: c}
}

// put queues p for tab, replacing any older payload. It reports whether one
// was replaced. Expired entries are evicted first so they count as expired,
// not replaced.
func (t *pendingTable) put(tab protocol.TabID, p types.ClipPayload) bool {
	t.sweep()
	_, replaced := t.c.Get(tab.String())
	t.c.SetDefault(tab.String(), &entry{payload: p})
	return replaced
}

// claim removes and returns the payload for tab.
func (t *pendingTable) claim(tab protocol.TabID) (types.ClipPayload, bool) {
	v, ok := t.c.Get(tab.String())
	if !ok {
		return types.ClipPayload{}, false
	}
	e := v.(*entry)
	if !e.claimed.CompareAndSwap(false, true) {
		return types.ClipPayload{}, false
	}
	t.c.Delete(tab.String())
	return e.payload, true
}

func (t *pendingTable) peek(tab protocol.TabID) (types.ClipPayload, bool) {
	v, ok := t.c.Get(tab.String())
	if !ok {
		return types.ClipPayload{}, false
	}
	return v.(*entry).payload, true
}

func (t *pendingTable) len() int {
	return t.c.ItemCount()
}

// sweep drops expired entries now.
func (t *pendingTable) sweep() {
	t.c.DeleteExpired()
}
