package ghost

import (
	"container/list"
	"sync"
)

// entry is a single cached ghost profile, keyed by Zulip user ID.
type entry struct {
	zulipUserID  int64
	matrixUserID string
	displayName  *string
	avatarURL    *string
}

// lru is a fixed-capacity least-recently-used cache of ghost profiles. It
// mirrors the bounded-map-with-cleanup shape of the teacher's PostTracker,
// generalized to evict the single oldest entry instead of periodically
// sweeping by age, since ghost profiles have no natural expiry.
type lru struct {
	mu       sync.Mutex
	capacity int
	items    map[int64]*list.Element
	order    *list.List // front = most recently used
}

func newLRU(capacity int) *lru {
	return &lru{
		capacity: capacity,
		items:    make(map[int64]*list.Element, capacity),
		order:    list.New(),
	}
}

func (c *lru) get(zulipUserID int64) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[zulipUserID]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry), true
}

func (c *lru) put(e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[e.zulipUserID]; ok {
		el.Value = e
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(e)
	c.items[e.zulipUserID] = el

	if len(c.items) > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).zulipUserID)
		}
	}
}

func (c *lru) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
