// Package resolver implements the iterative DNS resolution engine: a
// single request/response operation that walks the delegation hierarchy
// from cached hints or the configured root servers down to an answer,
// using the record cache as both answer cache and delegation store.
package resolver

import (
	"context"
	"net"

	"github.com/mwalters/cachedns/internal/dns/cache"
)

// Store is the subset of cache.Store the resolver depends on. Declaring
// it here (rather than importing cache.Store directly into call sites)
// keeps the resolver's dependency surface explicit and substitutable in
// tests.
type Store interface {
	Sweep(ctx context.Context, now int64) error
	Insert(ctx context.Context, row cache.Row, now int64) error
	LookupAnswer(ctx context.Context, name string, rtype uint16, now int64) ([]cache.Row, error)
	LookupDelegate(ctx context.Context, suffix string, now int64) ([]cache.Delegation, error)
}

// Dialer establishes a network connection, matching net.Dialer's
// DialContext signature so the default can be swapped for a fake in
// tests without touching real sockets.
type Dialer func(ctx context.Context, network, address string) (net.Conn, error)
