package cache

import (
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
)

// lruEntry is one front-cache slot: the rows an earlier SQLite lookup
// returned, plus the instant they stop being valid. The front cache
// never recomputes TTL from wall-clock deltas; it trusts the expiry
// instant computed at insertion time so a stale hit is detected without
// touching SQLite.
type lruEntry struct {
	rows     []Row
	expireAt int64
}

// FrontCache is a bounded in-process accelerator sitting in front of the
// SQLite answer lookup. It is never a source of truth: a miss here
// always falls through to the durable Store, and nothing is lost by
// disabling or clearing it.
type FrontCache struct {
	lru *lru.Cache[string, lruEntry]
}

// NewFrontCache returns a FrontCache holding at most size keyed entries.
// A size of 0 is rejected by the underlying LRU; callers that want the
// front cache disabled should simply not construct one.
func NewFrontCache(size int) (*FrontCache, error) {
	c, err := lru.New[string, lruEntry](size)
	if err != nil {
		return nil, err
	}
	return &FrontCache{lru: c}, nil
}

func frontKey(name string, rtype uint16) string {
	return lowerName(name) + "|" + strconv.Itoa(int(rtype))
}

// Get returns the cached rows for (name, type) if present and not yet
// expired as of now. An expired entry is evicted and treated as a miss.
func (c *FrontCache) Get(name string, rtype uint16, now int64) ([]Row, bool) {
	key := frontKey(name, rtype)
	entry, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if now >= entry.expireAt {
		c.lru.Remove(key)
		return nil, false
	}
	return entry.rows, true
}

// Put populates the front cache for (name, type) with rows, computing
// the entry's expiry as the minimum TTL deadline among them.
func (c *FrontCache) Put(name string, rtype uint16, rows []Row) {
	if len(rows) == 0 {
		return
	}
	expireAt := rows[0].InsertionTime + int64(rows[0].TTL)
	for _, r := range rows[1:] {
		if end := r.InsertionTime + int64(r.TTL); end < expireAt {
			expireAt = end
		}
	}
	c.lru.Add(frontKey(name, rtype), lruEntry{rows: rows, expireAt: expireAt})
}

// Len returns the number of keyed entries currently held.
func (c *FrontCache) Len() int {
	return c.lru.Len()
}

// Invalidate drops the front-cache entry for (name, type), used when a
// fresh write supersedes whatever rows were cached for that key — the
// front cache only checks expiry on Get, so a deduplicating re-insert
// within TTL would otherwise keep serving the superseded row.
func (c *FrontCache) Invalidate(name string, rtype uint16) {
	c.lru.Remove(frontKey(name, rtype))
}
