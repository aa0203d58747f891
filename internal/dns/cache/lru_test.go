package cache

import (
	"testing"

	"github.com/mwalters/cachedns/internal/dns/domain"
	"github.com/stretchr/testify/require"
)

func TestFrontCacheHitAndMiss(t *testing.T) {
	fc, err := NewFrontCache(16)
	require.NoError(t, err)

	_, ok := fc.Get("example.com.", uint16(domain.RRTypeA), 1000)
	require.False(t, ok)

	rows := []Row{{Name: "example.com.", Type: domain.RRTypeA, TTL: 300, InsertionTime: 1000, Data: []byte{1, 2, 3, 4}}}
	fc.Put("example.com.", uint16(domain.RRTypeA), rows)

	got, ok := fc.Get("Example.COM.", uint16(domain.RRTypeA), 1000)
	require.True(t, ok)
	require.Equal(t, rows, got)
}

func TestFrontCacheExpiresEvenWithoutEviction(t *testing.T) {
	fc, err := NewFrontCache(16)
	require.NoError(t, err)

	rows := []Row{{Name: "example.com.", Type: domain.RRTypeA, TTL: 10, InsertionTime: 1000, Data: []byte{1, 2, 3, 4}}}
	fc.Put("example.com.", uint16(domain.RRTypeA), rows)

	_, ok := fc.Get("example.com.", uint16(domain.RRTypeA), 1011)
	require.False(t, ok, "a row past its computed expiry must be treated as a miss even though the LRU hasn't evicted it")
}

func TestFrontCacheInvalidateDropsSupersededEntry(t *testing.T) {
	fc, err := NewFrontCache(16)
	require.NoError(t, err)

	rows := []Row{{Name: "example.com.", Type: domain.RRTypeA, TTL: 300, InsertionTime: 1000, Data: []byte{1, 2, 3, 4}}}
	fc.Put("example.com.", uint16(domain.RRTypeA), rows)

	fc.Invalidate("Example.COM.", uint16(domain.RRTypeA))

	_, ok := fc.Get("example.com.", uint16(domain.RRTypeA), 1000)
	require.False(t, ok, "an invalidated key must miss even though its TTL hasn't elapsed")
}
