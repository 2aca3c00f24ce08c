package sync

import (
	"sync"
	"time"
)

// Dedup records provider message ids that were already forwarded. It exists
// because a delta feed's continuation token can resend items the engine has
// already delivered; polling providers never consult it.
type Dedup interface {
	// Seen reports whether the id was recorded within the TTL, dropping
	// the entry if it has expired.
	Seen(account, messageID string) bool

	// Record marks the id as forwarded now.
	Record(account, messageID string)
}

// DedupCache is the in-memory Dedup used process-wide. Eviction is
// opportunistic: when an insert pushes the map past maxEntries, all expired
// entries are swept. No background timer.
type DedupCache struct {
	mu         sync.Mutex
	entries    map[string]time.Time
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

func NewDedupCache(ttl time.Duration, maxEntries int) *DedupCache {
	return &DedupCache{
		entries:    make(map[string]time.Time),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func dedupKey(account, messageID string) string {
	return account + ":" + messageID
}

func (c *DedupCache) Seen(account, messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := dedupKey(account, messageID)
	seenAt, ok := c.entries[key]
	if !ok {
		return false
	}
	if c.now().Sub(seenAt) > c.ttl {
		delete(c.entries, key)
		return false
	}
	return true
}

func (c *DedupCache) Record(account, messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		now := c.now()
		for key, seenAt := range c.entries {
			if now.Sub(seenAt) > c.ttl {
				delete(c.entries, key)
			}
		}
	}
	c.entries[dedupKey(account, messageID)] = c.now()
}

// Len returns the current entry count.
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
