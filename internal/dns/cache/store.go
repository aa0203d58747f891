package cache

import "context"

// Delegation is a candidate upstream name server surfaced by a cached NS
// row joined against its glue A record: the address to dial and the zone
// it was found to serve.
type Delegation struct {
	Zone string
	Addr string
}

// Store is the durable record cache: both the answer cache and the
// delegation hint store the resolver walks to pick its next upstream
// target. Implementations must survive a missing, corrupt, or
// unwritable backing store by returning an error that the caller logs
// and treats as an empty result — the cache is never the reason a
// resolution aborts.
type Store interface {
	// Sweep deletes every row whose TTL has elapsed as of now.
	Sweep(ctx context.Context, now int64) error

	// Insert writes row, first deleting any existing row with the same
	// (name, type, ns) triple so at most one current row exists per key.
	Insert(ctx context.Context, row Row, now int64) error

	// LookupAnswer returns every non-expired row with the given name
	// (case-insensitive) and type.
	LookupAnswer(ctx context.Context, name string, rtype uint16, now int64) ([]Row, error)

	// LookupDelegate returns delegations for suffix, joining NS rows
	// whose name matches suffix with A rows for their ns target. An
	// empty result means no cached delegation exists for that suffix.
	LookupDelegate(ctx context.Context, suffix string, now int64) ([]Delegation, error)

	// Stat reports the current number of live (non-expired) rows, for
	// the admin surface.
	Stat(ctx context.Context, now int64) (rowCount int, err error)

	// Dump returns up to limit non-expired rows starting at offset, for
	// the admin surface's cache inspection endpoint.
	Dump(ctx context.Context, now int64, offset, limit int) ([]Row, error)

	// Close releases any resources held by the store.
	Close() error
}
