package mcpmgr

import (
	"sync"
	"time"
)

type cachedToolSet struct {
	serverID  string
	tools     []Tool
	fetchedAt time.Time
	ttl       time.Duration
}

func (c *cachedToolSet) fresh(now time.Time) bool {
	return now.Sub(c.fetchedAt) < c.ttl
}

// cacheGen identifies the clears a fetch started after. A fetch may only
// store its result while the generation it observed is still current.
type cacheGen struct {
	global uint64
	server uint64
}

// toolCache holds one tool list per server id. Entries are replaced wholesale
// and never edited in place.
type toolCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*cachedToolSet

	global uint64
	gens   map[string]uint64
}

func newToolCache(ttl time.Duration) *toolCache {
	return &toolCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*cachedToolSet),
		gens:    make(map[string]uint64),
	}
}

// generation returns the current generation for serverID. Every clear that
// covers serverID moves it.
func (c *toolCache) generation(serverID string) cacheGen {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cacheGen{global: c.global, server: c.gens[serverID]}
}

// get returns a copy of the cached tools for serverID when the entry is
// younger than the TTL.
func (c *toolCache) get(serverID string) ([]Tool, bool) {
	c.mu.RLock()
	entry, ok := c.entries[serverID]
	c.mu.RUnlock()
	if !ok || !entry.fresh(c.now()) {
		return nil, false
	}
	return cloneTools(entry.tools), true
}

// put stores tools for serverID unless the cache was cleared for it since
// gen was taken. It reports whether the entry was written.
func (c *toolCache) put(serverID string, gen cacheGen, tools []Tool) bool {
	entry := &cachedToolSet{
		serverID:  serverID,
		tools:     cloneTools(tools),
		fetchedAt: c.now(),
		ttl:       c.ttl,
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen.global != c.global || gen.server != c.gens[serverID] {
		return false
	}
	c.entries[serverID] = entry
	return true
}

// clear drops the entry for serverID, or every entry when serverID is empty,
// and invalidates fetches already in flight for them.
func (c *toolCache) clear(serverID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if serverID == "" {
		c.entries = make(map[string]*cachedToolSet)
		c.global++
		return
	}
	delete(c.entries, serverID)
	c.gens[serverID]++
}

func (c *toolCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func cloneTools(tools []Tool) []Tool {
	if tools == nil {
		return nil
	}
	out := make([]Tool, len(tools))
	copy(out, tools)
	return out
}
