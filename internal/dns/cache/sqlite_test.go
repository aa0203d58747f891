package cache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mwalters/cachedns/internal/dns/common/log"
	"github.com/mwalters/cachedns/internal/dns/domain"
	"github.com/mwalters/cachedns/internal/dns/wire"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	return NewSQLiteStore(path, log.NewNoopLogger())
}

func TestInsertDedupKeepsLatest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r1 := Row{Name: "example.com.", Type: domain.RRTypeA, TTL: 300, InsertionTime: 1000, Data: []byte{1, 1, 1, 1}}
	r2 := Row{Name: "example.com.", Type: domain.RRTypeA, TTL: 300, InsertionTime: 1000, Data: []byte{2, 2, 2, 2}}

	require.NoError(t, s.Insert(ctx, r1, 1000))
	require.NoError(t, s.Insert(ctx, r2, 1000))

	rows, err := s.LookupAnswer(ctx, "example.com.", uint16(domain.RRTypeA), 1000)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, []byte{2, 2, 2, 2}, rows[0].Data)
}

func TestSweepDeletesExpiredRows(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Insert(ctx, Row{
		Name: "stale.example.", Type: domain.RRTypeA, TTL: 0, InsertionTime: 1000, Data: []byte{1, 2, 3, 4},
	}, 1000))

	require.NoError(t, s.Sweep(ctx, 1001))

	rows, err := s.LookupAnswer(ctx, "stale.example.", uint16(domain.RRTypeA), 1001)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestLookupAnswerCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Insert(ctx, Row{
		Name: "Example.COM.", Type: domain.RRTypeA, TTL: 300, InsertionTime: 1000, Data: []byte{9, 9, 9, 9},
	}, 1000))

	rows, err := s.LookupAnswer(ctx, "example.com.", uint16(domain.RRTypeA), 1000)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestLookupDelegateJoinsNSAndGlue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Glue Data must be a self-contained wire-encoded record, exactly as
	// resolver.insertRecord writes it via wire.EncodeRecord — not a bare
	// address blob — so this test exercises the real read/write path.
	glueData, err := wire.EncodeRecord(domain.NewRecord(
		"ns1.example.com.", domain.RRTypeA, domain.RRClassIN, 300, []byte{199, 43, 135, 53},
	))
	require.NoError(t, err)

	nsRow := Row{
		Name: "example.com.", Type: domain.RRTypeNS, TTL: 300, InsertionTime: 1000,
		Data: []byte("ns1.example.com."), NS: "ns1.example.com.",
	}
	glueRow := Row{
		Name: "ns1.example.com.", Type: domain.RRTypeA, TTL: 300, InsertionTime: 1000,
		Data: glueData,
	}
	require.NoError(t, s.Insert(ctx, nsRow, 1000))
	require.NoError(t, s.Insert(ctx, glueRow, 1000))

	delegations, err := s.LookupDelegate(ctx, "example.com.", 1000)
	require.NoError(t, err)
	require.Len(t, delegations, 1)
	require.Equal(t, "199.43.135.53", delegations[0].Addr)
}

func TestStatCountsOnlyLiveRows(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Insert(ctx, Row{Name: "a.example.", Type: domain.RRTypeA, TTL: 300, InsertionTime: 1000, Data: []byte{1, 1, 1, 1}}, 1000))
	require.NoError(t, s.Insert(ctx, Row{Name: "b.example.", Type: domain.RRTypeA, TTL: 0, InsertionTime: 1000, Data: []byte{2, 2, 2, 2}}, 1000))

	count, err := s.Stat(ctx, 1001)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
