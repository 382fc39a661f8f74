package weather

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is how long a snapshot is served from the cache.
const DefaultCacheTTL = 10 * time.Minute

// cacheEntry is written once and never modified.
type cacheEntry struct {
	snap    *Snapshot
	expires time.Time
}

// CachedGateway serves repeated lookups for the same normalised location
// from memory until the entry expires. Concurrent misses for one key share
// a single upstream call. Errors are never cached.
type CachedGateway struct {
	next  Gateway
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewCachedGateway wraps next with a ttl cache. ttl <= 0 selects
// DefaultCacheTTL.
func NewCachedGateway(next Gateway, ttl time.Duration) *CachedGateway {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedGateway{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Fetch implements Gateway.
func (g *CachedGateway) Fetch(ctx context.Context, location string, opts Options) (*Snapshot, error) {
	key := cacheKey(location, opts)
	if snap, ok := g.lookup(key); ok {
		return snap, nil
	}

	ch := g.group.DoChan(key, func() (any, error) {
		if snap, ok := g.lookup(key); ok {
			return snap, nil
		}
		snap, err := g.next.Fetch(context.WithoutCancel(ctx), Normalize(location), opts)
		if err != nil {
			return nil, err
		}
		g.mu.Lock()
		g.entries[key] = cacheEntry{snap: snap, expires: g.now().Add(g.ttl)}
		g.mu.Unlock()
		return snap, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	}
}

// Len returns the number of live entries.
func (g *CachedGateway) Len() int {
	now := g.now()
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, e := range g.entries {
		if now.Before(e.expires) {
			n++
		}
	}
	return n
}

func (g *CachedGateway) lookup(key string) (*Snapshot, bool) {
	g.mu.RLock()
	e, ok := g.entries[key]
	g.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !g.now().Before(e.expires) {
		g.mu.Lock()
		if cur, ok := g.entries[key]; ok && cur.expires == e.expires {
			delete(g.entries, key)
		}
		g.mu.Unlock()
		return nil, false
	}
	return e.snap, true
}

func cacheKey(location string, opts Options) string {
	key := Normalize(location)
	if opts.AirQuality {
		key += "|aqi"
	}
	return key
}
