package cache

import (
	"math"
	"strconv"
	"sync"

	bloomfilter "github.com/bits-and-blooms/bloom/v3"
)

// NegativeCache tracks (name, type) pairs that recently produced
// NameError from an upstream probe, so the resolver can skip straight
// to the root servers instead of wasting a SQL join on a delegation
// search that is known to repeatedly dead-end. A hit never answers a
// query by itself — bloom filters false-positive — it only short-cuts
// the delegation lookup. Disabling or resetting it never affects
// correctness, only how many SQL joins are attempted.
type NegativeCache struct {
	mu sync.RWMutex
	bf *bloomfilter.BloomFilter
}

// NewNegativeCache sizes a filter for capacity expected entries at
// fpRate false-positive probability, using the standard formulas
// m = -(n ln p) / (ln 2)^2 and k = (m/n) ln 2.
func NewNegativeCache(capacity uint, fpRate float64) *NegativeCache {
	m, k := sizeFilter(capacity, fpRate)
	return &NegativeCache{bf: bloomfilter.New(m, k)}
}

func sizeFilter(n uint, p float64) (uint, uint) {
	if n == 0 {
		n = 1
	}
	if !(p > 0 && p < 1) {
		p = 0.01
	}
	ln2 := math.Ln2
	m := uint(math.Ceil(-float64(n) * math.Log(p) / (ln2 * ln2)))
	if m == 0 {
		m = 1
	}
	k := uint(math.Max(1, math.Round((float64(m)/float64(n))*ln2)))
	return m, k
}

func negativeKey(name string, rtype uint16) []byte {
	return []byte(lowerName(name) + "|" + strconv.Itoa(int(rtype)))
}

// MarkNameError records that (name, type) produced NameError from an
// upstream probe.
func (c *NegativeCache) MarkNameError(name string, rtype uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bf.Add(negativeKey(name, rtype))
}

// MightBeNameError reports whether (name, type) was previously marked.
// A false result is certain; a true result may be a false positive.
func (c *NegativeCache) MightBeNameError(name string, rtype uint16) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bf.Test(negativeKey(name, rtype))
}

// Reset clears all recorded entries.
func (c *NegativeCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bf.ClearAll()
}
