package pubsub

// seenCache is a bounded FIFO set of redemption IDs already dispatched in
// this process lifetime. When the bound is reached the oldest ID is evicted.
// The durable ledger remains authoritative across restarts; this cache only
// bounds duplicate processing within one process.
//
// Not safe for concurrent use; the dispatcher's worker goroutine is the sole
// owner.
type seenCache struct {
	ids   map[string]struct{}
	order []string
	limit int
}

func newSeenCache(limit int) *seenCache {
	return &seenCache{
		ids:   make(map[string]struct{}, limit),
		limit: limit,
	}
}

func (c *seenCache) Contains(id string) bool {
	_, ok := c.ids[id]
	return ok
}

// Add inserts an ID, evicting the oldest entry when full. Adding an ID that
// is already present is a no-op.
func (c *seenCache) Add(id string) {
	if _, ok := c.ids[id]; ok {
		return
	}
	if len(c.order) >= c.limit {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.ids, oldest)
	}
	c.ids[id] = struct{}{}
	c.order = append(c.order, id)
}

func (c *seenCache) Len() int {
	return len(c.ids)
}
