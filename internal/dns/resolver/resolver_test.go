package resolver

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mwalters/cachedns/internal/dns/cache"
	"github.com/mwalters/cachedns/internal/dns/common/log"
	"github.com/mwalters/cachedns/internal/dns/domain"
	"github.com/mwalters/cachedns/internal/dns/wire"
)

// fakeStore is an in-memory Store for tests that don't need real SQLite
// durability semantics, only the behavior the resolver relies on.
type fakeStore struct {
	rows []cache.Row
}

func (f *fakeStore) Sweep(ctx context.Context, now int64) error { return nil }

func (f *fakeStore) Insert(ctx context.Context, row cache.Row, now int64) error {
	out := f.rows[:0]
	for _, r := range f.rows {
		if r.Name == row.Name && r.Type == row.Type && r.NS == row.NS {
			continue
		}
		out = append(out, r)
	}
	f.rows = append(out, row)
	return nil
}

func (f *fakeStore) LookupAnswer(ctx context.Context, name string, rtype uint16, now int64) ([]cache.Row, error) {
	var out []cache.Row
	for _, r := range f.rows {
		if r.Name == name && uint16(r.Type) == rtype && !r.Expired(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) LookupDelegate(ctx context.Context, suffix string, now int64) ([]cache.Delegation, error) {
	var ns []cache.Row
	for _, r := range f.rows {
		if r.Type == domain.RRTypeNS && r.Name == suffix && !r.Expired(now) {
			ns = append(ns, r)
		}
	}
	var out []cache.Delegation
	for _, n := range ns {
		for _, a := range f.rows {
			if a.Type == domain.RRTypeA && a.Name == n.NS && !a.Expired(now) {
				rec, err := wire.DecodeRecord(a.Data)
				if err != nil {
					continue
				}
				out = append(out, cache.Delegation{Zone: n.Name, Addr: rec.AsIP().String()})
			}
		}
	}
	return out, nil
}

// fakeUpstream is a scripted authoritative-style TCP server bound to its
// own loopback address, so tests can tell multiple fake servers apart
// by IP the way the resolver distinguishes real root and delegate
// servers.
type fakeUpstream struct {
	ip string
	ln net.Listener
}

func startFakeUpstream(t *testing.T, ip string, handle func(domain.Message) domain.Message) *fakeUpstream {
	t.Helper()
	ln, err := net.Listen("tcp", net.JoinHostPort(ip, "0"))
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				reqBytes, err := wire.ReadTCPFrame(conn)
				if err != nil {
					return
				}
				req, _, err := wire.Parse(reqBytes)
				if err != nil {
					return
				}
				resp := handle(req)
				respBytes, err := wire.Serialize(resp)
				if err != nil {
					return
				}
				_ = wire.WriteTCPFrame(conn, respBytes)
			}()
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return &fakeUpstream{ip: ip, ln: ln}
}

// dialerFor routes the resolver's fixed "addr:53" dial targets to
// whatever ephemeral port each fake upstream actually bound, keyed by
// the loopback IP the resolver believes it's dialing.
func dialerFor(servers ...*fakeUpstream) Dialer {
	byIP := make(map[string]string, len(servers))
	for _, s := range servers {
		byIP[s.ip] = s.ln.Addr().String()
	}
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			return nil, err
		}
		real, ok := byIP[host]
		if !ok {
			return nil, fmt.Errorf("no fake upstream bound for %s", host)
		}
		return (&net.Dialer{}).DialContext(ctx, network, real)
	}
}

func newTestResolver(t *testing.T, store Store, roots []string, dialer Dialer) *Resolver {
	t.Helper()
	front, err := cache.NewFrontCache(64)
	require.NoError(t, err)
	return NewResolver(Options{
		Store:           store,
		RootServers:     roots,
		Dialer:          dialer,
		UpstreamTimeout: 2 * time.Second,
		Logger:          log.NewNoopLogger(),
		Front:           front,
		Negative:        cache.NewNegativeCache(1000, 0.01),
	})
}

func buildQuery(id uint16, name string, qtype domain.RRType) []byte {
	msg := domain.Message{
		Header:    domain.Header{ID: id, RD: true, QDCount: 1},
		Questions: []domain.Question{{Name: name, Type: qtype, Class: domain.RRClassIN}},
	}
	raw, _ := wire.Serialize(msg)
	return raw
}

func TestResolveNotImplementedOnMultipleQuestions(t *testing.T) {
	r := newTestResolver(t, &fakeStore{}, nil, nil)

	msg := domain.Message{
		Header: domain.Header{ID: 0x1234, RD: true, QDCount: 2},
		Questions: []domain.Question{
			{Name: "example.com.", Type: domain.RRTypeA, Class: domain.RRClassIN},
			{Name: "example.org.", Type: domain.RRTypeA, Class: domain.RRClassIN},
		},
	}
	raw, err := wire.Serialize(msg)
	require.NoError(t, err)

	respBytes := r.Resolve(context.Background(), raw)
	resp, _, err := wire.Parse(respBytes)
	require.NoError(t, err)

	require.Equal(t, uint16(0x1234), resp.Header.ID)
	require.True(t, resp.Header.QR)
	require.Equal(t, domain.NotImplemented, resp.Header.RCode)
	require.Empty(t, resp.Answers)
}

func TestResolveNotImplementedOnUnsupportedType(t *testing.T) {
	r := newTestResolver(t, &fakeStore{}, nil, nil)

	raw := buildQuery(7, "example.com.", domain.RRTypeMX)
	respBytes := r.Resolve(context.Background(), raw)
	resp, _, err := wire.Parse(respBytes)
	require.NoError(t, err)
	require.Equal(t, domain.NotImplemented, resp.Header.RCode)
}

func TestResolveFormatErrorOnMalformedRequest(t *testing.T) {
	r := newTestResolver(t, &fakeStore{}, nil, nil)

	respBytes := r.Resolve(context.Background(), []byte{0x99, 0x88})
	resp, _, err := wire.Parse(respBytes)
	require.NoError(t, err)
	require.Equal(t, uint16(0x9988), resp.Header.ID)
	require.Equal(t, domain.FormatError, resp.Header.RCode)
}

func TestResolveCacheHitProducesNoUpstreamTraffic(t *testing.T) {
	store := &fakeStore{}
	rec := domain.NewRecord("example.com.", domain.RRTypeA, domain.RRClassIN, 3600, []byte{93, 184, 216, 34})
	data, err := wire.EncodeRecord(rec)
	require.NoError(t, err)
	store.rows = append(store.rows, cache.Row{
		Name: "example.com.", Type: domain.RRTypeA, TTL: 3600, InsertionTime: time.Now().Unix(), Data: data,
	})

	r := newTestResolver(t, store, nil, func(ctx context.Context, network, address string) (net.Conn, error) {
		t.Fatal("no upstream traffic expected on a cache hit")
		return nil, nil
	})

	raw := buildQuery(42, "example.com.", domain.RRTypeA)
	respBytes := r.Resolve(context.Background(), raw)
	resp, _, err := wire.Parse(respBytes)
	require.NoError(t, err)

	require.Equal(t, domain.NoError, resp.Header.RCode)
	require.True(t, resp.Header.QR)
	require.False(t, resp.Header.AA)
	require.True(t, resp.Header.RA)
	require.Len(t, resp.Answers, 1)
	require.Equal(t, []byte{93, 184, 216, 34}, resp.Answers[0].RData)
}

func TestResolveFrontCacheDoesNotServeSupersededRow(t *testing.T) {
	store := &fakeStore{}
	stale := domain.NewRecord("example.com.", domain.RRTypeA, domain.RRClassIN, 3600, []byte{1, 1, 1, 1})
	staleData, err := wire.EncodeRecord(stale)
	require.NoError(t, err)
	now := time.Now().Unix()
	store.rows = append(store.rows, cache.Row{
		Name: "example.com.", Type: domain.RRTypeA, TTL: 3600, InsertionTime: now, Data: staleData,
	})

	r := newTestResolver(t, store, nil, nil)

	// Warm the front cache with the stale row.
	raw := buildQuery(1, "example.com.", domain.RRTypeA)
	resp1, _, err := wire.Parse(r.Resolve(context.Background(), raw))
	require.NoError(t, err)
	require.Equal(t, []byte{1, 1, 1, 1}, resp1.Answers[0].RData)

	// A fresh probe result for the same (name, type) must invalidate the
	// front-cache entry, not leave the superseded row servable for the
	// rest of its TTL.
	r.insertRecord(context.Background(), domain.NewRecord(
		"example.com.", domain.RRTypeA, domain.RRClassIN, 3600, []byte{2, 2, 2, 2},
	), now)

	resp2, _, err := wire.Parse(r.Resolve(context.Background(), buildQuery(2, "example.com.", domain.RRTypeA)))
	require.NoError(t, err)
	require.Equal(t, []byte{2, 2, 2, 2}, resp2.Answers[0].RData)
}

func TestResolveRootBootstrapWithReferral(t *testing.T) {
	leafIP := "127.0.0.3"
	leaf := startFakeUpstream(t, leafIP, func(req domain.Message) domain.Message {
		ans := domain.NewRecord("example.com.", domain.RRTypeA, domain.RRClassIN, 300, []byte{93, 184, 216, 34})
		return domain.Message{
			Header:    domain.Header{ID: req.Header.ID, QR: true, QDCount: 1},
			Questions: req.Questions,
			Answers:   []domain.Record{ans},
		}
	})

	rootIP := "127.0.0.2"
	root := startFakeUpstream(t, rootIP, func(req domain.Message) domain.Message {
		nsRec := domain.NewRecord("example.com.", domain.RRTypeNS, domain.RRClassIN, 300, []byte("a.iana-servers.net."))
		glue := domain.NewRecord("a.iana-servers.net.", domain.RRTypeA, domain.RRClassIN, 300, net.ParseIP(leafIP).To4())
		return domain.Message{
			Header:     domain.Header{ID: req.Header.ID, QR: true, QDCount: 1},
			Questions:  req.Questions,
			Authority:  []domain.Record{nsRec},
			Additional: []domain.Record{glue},
		}
	})

	store := &fakeStore{}
	r := newTestResolver(t, store, []string{rootIP}, dialerFor(root, leaf))

	raw := buildQuery(99, "example.com.", domain.RRTypeA)
	respBytes := r.Resolve(context.Background(), raw)
	resp, _, err := wire.Parse(respBytes)
	require.NoError(t, err)

	require.Equal(t, domain.NoError, resp.Header.RCode)
	require.Len(t, resp.Answers, 1)
	require.Equal(t, []byte{93, 184, 216, 34}, resp.Answers[0].RData)
}

func TestResolveAllUpstreamsFailProducesServerFailure(t *testing.T) {
	r := newTestResolver(t, &fakeStore{}, []string{"127.0.0.1"}, func(ctx context.Context, network, address string) (net.Conn, error) {
		return nil, context.DeadlineExceeded
	})

	raw := buildQuery(55, "nowhere.example.", domain.RRTypeA)
	respBytes := r.Resolve(context.Background(), raw)
	resp, _, err := wire.Parse(respBytes)
	require.NoError(t, err)
	require.Equal(t, domain.ServerFailure, resp.Header.RCode)
}

func TestResolveRefusedWhenUpstreamRefuses(t *testing.T) {
	refusing := startFakeUpstream(t, "127.0.0.4", func(req domain.Message) domain.Message {
		return domain.Message{
			Header:    domain.Header{ID: req.Header.ID, QR: true, QDCount: 1, RCode: domain.Refused},
			Questions: req.Questions,
		}
	})

	r := newTestResolver(t, &fakeStore{}, []string{"127.0.0.4"}, dialerFor(refusing))

	raw := buildQuery(12, "blocked.example.", domain.RRTypeA)
	respBytes := r.Resolve(context.Background(), raw)
	resp, _, err := wire.Parse(respBytes)
	require.NoError(t, err)
	require.Equal(t, domain.Refused, resp.Header.RCode)
}
