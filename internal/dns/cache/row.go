// Package cache implements the record store described by the resolver's
// cache schema: a durable SQLite table of (name, type, ttl, insertion_time,
// data, ns) rows, an in-process LRU accelerator in front of answer lookups,
// and a bloom filter that short-circuits repeat NXDOMAIN probing.
package cache

import "github.com/mwalters/cachedns/internal/dns/domain"

// Row is one cache row: a serialized record plus the bookkeeping needed
// to expire and key it. Data is the record exactly as it would appear on
// the wire — self-contained, with no outside compression pointers. NS is
// set only when Type is domain.RRTypeNS, to the NS target name; it is
// empty for every other row.
type Row struct {
	Name          string
	Type          domain.RRType
	TTL           uint32
	InsertionTime int64
	Data          []byte
	NS            string
}

// Expired reports whether the row's TTL has elapsed as of now (a Unix
// epoch second), per the invariant "now - insertion_time <= ttl".
func (r Row) Expired(now int64) bool {
	return now-r.InsertionTime > int64(r.TTL)
}
