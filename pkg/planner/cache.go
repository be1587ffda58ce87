package planner

import (
	"sync"
	"time"

	"github.com/kubeminder/kubeminder/pkg/models"
)

// cacheKey identifies one synthesis request. An incident republished with
// the same identity inside the TTL reuses the stored plan instead of
// spending another LLM call.
type cacheKey struct {
	incidentID string
	title      string
	service    string
}

func keyFor(inc *models.Incident) cacheKey {
	return cacheKey{
		incidentID: inc.ID,
		title:      inc.Title,
		service:    inc.AffectedService,
	}
}

// cacheEntry holds a synthesized plan with a timestamp for TTL expiration.
type cacheEntry struct {
	plan     *models.Plan
	storedAt time.Time
}

// planCache is a thread-safe in-memory plan cache with TTL expiration.
// Expired entries are cleaned up lazily on Get, no background goroutine.
type planCache struct {
	mu      sync.RWMutex
	entries map[cacheKey]*cacheEntry
	ttl     time.Duration
}

// newPlanCache creates a cache with the given TTL.
func newPlanCache(ttl time.Duration) *planCache {
	return &planCache{
		entries: make(map[cacheKey]*cacheEntry),
		ttl:     ttl,
	}
}

// Get returns the cached plan if present and not expired.
func (c *planCache) Get(inc *models.Incident) (*models.Plan, bool) {
	key := keyFor(inc)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if time.Since(entry.storedAt) > c.ttl {
		// Expired, clean up lazily. Re-check under the write lock: a
		// concurrent Set may have replaced the entry with a fresh one
		// between RUnlock and Lock.
		c.mu.Lock()
		if current, ok := c.entries[key]; ok && time.Since(current.storedAt) > c.ttl {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return entry.plan, true
}

// Set stores the plan with the current timestamp.
func (c *planCache) Set(inc *models.Incident, plan *models.Plan) {
	c.mu.Lock()
	c.entries[keyFor(inc)] = &cacheEntry{
		plan:     plan,
		storedAt: time.Now(),
	}
	c.mu.Unlock()
}
