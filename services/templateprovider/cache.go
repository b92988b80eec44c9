package templateprovider

import (
	"sync"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

// cacheEntry is one template held by the TemplateCache.
type cacheEntry struct {
	template  BlockTemplate
	prevHash  chainhash.Hash
	fees      int64
	createdAt time.Time
}

// TemplateCache is the template store shared across peers: a mutex-guarded map
// from monotonically assigned template_id to its BlockTemplate handle. Peers
// reference entries by id only; entries built on a superseded tip are retained
// while any peer still lists their id among its pending templates, or for
// pruneGrace after they were built. A peer's pending list keeps ids across tip
// changes until FIFO eviction or disconnect, so such entries can outlive the
// moment every peer has received the new prev hash.
type TemplateCache struct {
	mu      sync.Mutex
	nextID  uint64
	entries map[uint64]*cacheEntry
}

// NewTemplateCache constructs an empty cache. The first assigned template_id is 1
// so that 0 can mean "no template sent yet" in peer state.
func NewTemplateCache() *TemplateCache {
	return &TemplateCache{
		nextID:  1,
		entries: make(map[uint64]*cacheEntry),
	}
}

// Insert stores a template and returns its newly assigned template_id.
func (c *TemplateCache) Insert(template BlockTemplate, prevHash chainhash.Hash, fees int64, now time.Time) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++

	c.entries[id] = &cacheEntry{
		template:  template,
		prevHash:  prevHash,
		fees:      fees,
		createdAt: now,
	}

	return id
}

// Get looks up a template by id.
func (c *TemplateCache) Get(id uint64) (BlockTemplate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}

	return e.template, true
}

// Entry looks up a template by id together with the prev hash it was built on.
func (c *TemplateCache) Entry(id uint64) (BlockTemplate, chainhash.Hash, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return nil, chainhash.Hash{}, false
	}

	return e.template, e.prevHash, true
}

// Remove drops one entry.
func (c *TemplateCache) Remove(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, id)
}

// pruneGrace is how long a superseded template survives pruning, so solutions
// already in flight when the tip changed can still be looked up.
const pruneGrace = 10 * time.Second

// PruneStale removes every entry built on a prev hash other than tip, unless it
// is younger than pruneGrace or referenced reports a peer still holds its id. The
// referenced callback is invoked without the cache lock held, so it may take
// other locks freely.
func (c *TemplateCache) PruneStale(tip chainhash.Hash, now time.Time, referenced func(id uint64) bool) {
	c.mu.Lock()

	stale := make([]uint64, 0, len(c.entries))

	for id, e := range c.entries {
		if e.prevHash != tip && now.Sub(e.createdAt) >= pruneGrace {
			stale = append(stale, id)
		}
	}
	c.mu.Unlock()

	for _, id := range stale {
		if !referenced(id) {
			c.Remove(id)
		}
	}
}

// Len reports how many templates are cached.
func (c *TemplateCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
