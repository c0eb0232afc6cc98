package marketdata

import (
	"sync"
	"time"
)

// Cache holds the last fetched quote per product symbol and throttles
// upstream attempts. TTL governs freshness; MinInterval bounds how often a
// symbol may be refetched regardless of freshness.
type Cache struct {
	TTL         time.Duration
	MinInterval time.Duration

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	quote       Quote
	hasQuote    bool
	fetchedAt   time.Time
	attemptedAt time.Time
}

type lookup int

const (
	lookupFresh lookup = iota
	lookupStale
	lookupThrottled
)

func NewCache(ttl, minInterval time.Duration) *Cache {
	return &Cache{TTL: ttl, MinInterval: minInterval, entries: make(map[string]*cacheEntry)}
}

// lookup reports whether symbol can be served fresh, must be refetched, or
// is inside the throttle window. The cached quote is returned when present.
func (c *Cache) lookup(symbol string, now time.Time) (Quote, bool, lookup) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[symbol]
	if !ok {
		return Quote{}, false, lookupStale
	}
	if e.hasQuote && now.Sub(e.fetchedAt) < c.TTL {
		return e.quote, true, lookupFresh
	}
	if !e.attemptedAt.IsZero() && now.Sub(e.attemptedAt) < c.MinInterval {
		return e.quote, e.hasQuote, lookupThrottled
	}
	return e.quote, e.hasQuote, lookupStale
}

// reserve records an upstream attempt for the symbols about to be fetched.
func (c *Cache) reserve(symbols []string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range symbols {
		e, ok := c.entries[s]
		if !ok {
			e = &cacheEntry{}
			c.entries[s] = e
		}
		e.attemptedAt = now
	}
}

func (c *Cache) put(q Quote, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[q.Symbol]
	if !ok {
		e = &cacheEntry{attemptedAt: now}
		c.entries[q.Symbol] = e
	}
	e.quote = q
	e.hasQuote = true
	e.fetchedAt = now
}

// stale returns the last cached quote regardless of age.
func (c *Cache) stale(symbol string) (Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[symbol]
	if !ok || !e.hasQuote {
		return Quote{}, false
	}
	return e.quote, true
}

// fetchedAt is when symbol was last priced upstream; zero if never.
func (c *Cache) fetchedAt(symbol string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[symbol]
	if !ok || !e.hasQuote {
		return time.Time{}, false
	}
	return e.fetchedAt, true
}
