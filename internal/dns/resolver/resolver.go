package resolver

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/mwalters/cachedns/internal/dns/cache"
	"github.com/mwalters/cachedns/internal/dns/common/log"
	"github.com/mwalters/cachedns/internal/dns/common/utils"
	"github.com/mwalters/cachedns/internal/dns/domain"
	"github.com/mwalters/cachedns/internal/dns/wire"
)

// maxRecursion bounds the outer iterative loop: the number of times a
// single client question is re-tried against a freshly warmed cache
// before the resolver gives up.
const maxRecursion = 10

// maxGlueDepth bounds the depth of nested "warm the cache" lookups
// performed for NS targets that arrive without glue.
const maxGlueDepth = 5

// FrontCache is the subset of cache.FrontCache the resolver depends on.
type FrontCache interface {
	Get(name string, rtype uint16, now int64) ([]cache.Row, bool)
	Put(name string, rtype uint16, rows []cache.Row)
	Invalidate(name string, rtype uint16)
}

// NegativeCache is the subset of cache.NegativeCache the resolver
// depends on.
type NegativeCache interface {
	MarkNameError(name string, rtype uint16)
	MightBeNameError(name string, rtype uint16) bool
}

// Clock supplies the current time, substitutable in tests.
type Clock interface {
	Now() time.Time
}

// Options configures a Resolver.
type Options struct {
	Store           Store
	RootServers     []string
	Dialer          Dialer
	UpstreamTimeout time.Duration
	Clock           Clock
	Logger          log.Logger
	Front           FrontCache
	Negative        NegativeCache
	Metrics         *Metrics
}

// Resolver is the iterative DNS resolution engine. Resolve itself holds
// no lock: callers are expected to reach it through a Mailbox, which
// gives the actor model's single-consumer mailbox its Go shape by
// draining one request at a time off a channel. Called directly from
// more than one goroutine, Resolve is not safe for concurrent use.
type Resolver struct {
	store    Store
	roots    []string
	dial     Dialer
	timeout  time.Duration
	clock    Clock
	log      log.Logger
	front    FrontCache
	negative NegativeCache
	metrics  *Metrics
	rng      *rand.Rand
}

// NewResolver constructs a Resolver from opts, filling in defaults for
// anything left zero-valued.
func NewResolver(opts Options) *Resolver {
	dial := opts.Dialer
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	timeout := opts.UpstreamTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &Resolver{
		store:    opts.Store,
		roots:    opts.RootServers,
		dial:     dial,
		timeout:  timeout,
		clock:    opts.Clock,
		log:      logger,
		front:    opts.Front,
		negative: opts.Negative,
		metrics:  metrics,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Metrics returns the resolver's counters, for the admin surface.
func (r *Resolver) Metrics() *Metrics {
	return r.metrics
}

// outcome classifies what a single answer() attempt produced.
type outcome int

const (
	outcomeAnswer outcome = iota
	outcomeRetry
	outcomeFail
)

// Resolve is the resolver's single request/response operation: sweep,
// parse, resolve iteratively, and serialize a response. It never
// returns an error to its caller — every failure mode the spec
// distinguishes is surfaced as a wire-format DNS response instead, the
// way a real resolver behaves toward a client that can't be told
// "internal error" out of band.
func (r *Resolver) Resolve(ctx context.Context, request []byte) []byte {
	r.metrics.QueriesReceived.Add(1)
	now := r.now()

	if r.store != nil {
		if err := r.store.Sweep(ctx, now); err != nil {
			r.log.Warn(map[string]any{"error": err.Error()}, "cache sweep failed, continuing without sweep")
		}
	}

	parsed, _, err := wire.Parse(request)
	if err != nil {
		return r.formatErrorResponse(request)
	}

	if len(parsed.Questions) != 1 || !parsed.Questions[0].Type.Answerable() {
		resp := parsed.AsResponse().WithRCode(domain.NotImplemented)
		out, err := wire.Serialize(resp)
		if err != nil {
			return r.formatErrorResponse(request)
		}
		return out
	}

	question := parsed.Questions[0]
	base := parsed.AsResponse().WithRA(true).WithAA(false).WithSections(nil, nil, nil)

	records, rcode := r.resolveSafely(ctx, question, now)
	final := base.WithRCode(rcode)
	if rcode == domain.NoError {
		final = final.WithSections(records, nil, nil)
	}

	out, err := wire.Serialize(final)
	if err != nil {
		r.log.Error(map[string]any{"error": err.Error()}, "failed to serialize response")
		return r.formatErrorResponse(request)
	}
	return out
}

// resolveSafely runs the iterative loop behind a recover, so a panic
// anywhere in resolution surfaces as ServerFailure rather than crashing
// the resolver goroutine.
func (r *Resolver) resolveSafely(ctx context.Context, q domain.Question, now int64) (records []domain.Record, rcode domain.RCode) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error(map[string]any{"panic": fmt.Sprint(rec), "name": q.Name, "type": q.Type.String()}, "unhandled panic during resolution")
			records, rcode = nil, domain.ServerFailure
		}
	}()
	return r.resolveQuestion(ctx, q, now)
}

func (r *Resolver) formatErrorResponse(request []byte) []byte {
	resp := domain.Message{
		Header: domain.Header{ID: wire.PeekID(request), QR: true, RCode: domain.FormatError},
	}
	out, err := wire.Serialize(resp)
	if err != nil {
		// Not reachable for a header-only message, but never panic
		// toward a client over a serialization bug.
		return nil
	}
	return out
}

// resolveQuestion runs the outer iterative loop: at most maxRecursion
// rounds, each calling answer() at the top level and consuming one
// round whenever answer() reports a referral it just warmed the cache
// with.
func (r *Resolver) resolveQuestion(ctx context.Context, q domain.Question, now int64) ([]domain.Record, domain.RCode) {
	for i := 0; i < maxRecursion; i++ {
		records, out, rcode := r.answer(ctx, q, now, 0)
		switch out {
		case outcomeAnswer:
			return records, domain.NoError
		case outcomeFail:
			return nil, rcode
		case outcomeRetry:
			continue
		}
	}
	r.metrics.GiveUps.Add(1)
	return nil, domain.NoError
}

// answer resolves a single question one step: a cache hit answers
// directly; otherwise it picks upstream targets and probes them in
// order. recursionLvl tracks nested "warm the cache" calls made while
// resolving NS glue, capped at maxGlueDepth; it is unrelated to the
// outer iteration count in resolveQuestion.
func (r *Resolver) answer(ctx context.Context, q domain.Question, now int64, recursionLvl int) ([]domain.Record, outcome, domain.RCode) {
	rows, err := r.lookupAnswer(ctx, q.Name, uint16(q.Type), now)
	if err != nil {
		r.log.Warn(map[string]any{"error": err.Error(), "name": q.Name}, "cache answer lookup failed, continuing without cache")
	} else if len(rows) > 0 {
		r.metrics.CacheHits.Add(1)
		return rowsToRecords(rows), outcomeAnswer, domain.NoError
	}

	candidates := r.chooseCandidates(ctx, q, now)
	return r.probeRound(ctx, q, now, candidates, recursionLvl)
}

// lookupAnswer checks the in-process front cache before falling
// through to the durable store, per the front cache's role as a pure
// accelerant over SQLite lookups.
func (r *Resolver) lookupAnswer(ctx context.Context, name string, rtype uint16, now int64) ([]cache.Row, error) {
	if r.front != nil {
		if rows, ok := r.front.Get(name, rtype, now); ok {
			return rows, nil
		}
	}
	if r.store == nil {
		return nil, nil
	}
	rows, err := r.store.LookupAnswer(ctx, name, rtype, now)
	if err != nil {
		return nil, err
	}
	if r.front != nil && len(rows) > 0 {
		r.front.Put(name, rtype, rows)
	}
	return rows, nil
}

// chooseCandidates picks the upstream servers to probe for q: the
// cached delegation for the most specific matching suffix, or the
// configured roots (shuffled) if nothing is cached. A negative-cache
// hit for q skips the delegation search entirely, since names that
// reliably dead-end don't benefit from the suffix walk.
func (r *Resolver) chooseCandidates(ctx context.Context, q domain.Question, now int64) []string {
	if r.negative != nil && r.negative.MightBeNameError(q.Name, uint16(q.Type)) {
		return r.shuffledRoots()
	}
	if r.store != nil {
		for _, suffix := range utils.DomainSuffixes(q.Name) {
			delegations, err := r.store.LookupDelegate(ctx, suffix, now)
			if err != nil {
				r.log.Warn(map[string]any{"error": err.Error(), "suffix": suffix}, "delegation lookup failed, continuing without cache")
				continue
			}
			if len(delegations) > 0 {
				addrs := make([]string, len(delegations))
				for i, d := range delegations {
					addrs[i] = d.Addr
				}
				return addrs
			}
		}
	}
	return r.shuffledRoots()
}

func (r *Resolver) shuffledRoots() []string {
	roots := append([]string(nil), r.roots...)
	r.rng.Shuffle(len(roots), func(i, j int) { roots[i], roots[j] = roots[j], roots[i] })
	return roots
}

// probeRound tries each candidate server in order for q, inserting
// every record any response carries into the cache before classifying
// the round's outcome per the spec's RCODE/answers/authority rules.
func (r *Resolver) probeRound(ctx context.Context, q domain.Question, now int64, candidates []string, recursionLvl int) ([]domain.Record, outcome, domain.RCode) {
	anyClean := false
	for _, addr := range candidates {
		resp, err := r.probe(ctx, addr, q)
		if err != nil {
			r.metrics.ProbeFailures.Add(1)
			r.log.Debug(map[string]any{"error": err.Error(), "server": addr, "name": q.Name}, "upstream probe failed")
			continue
		}
		anyClean = true

		for _, rec := range resp.Records() {
			r.insertRecord(ctx, rec, now)
		}

		switch resp.Header.RCode {
		case domain.NameError:
			if r.negative != nil {
				r.negative.MarkNameError(q.Name, uint16(q.Type))
			}
			return nil, outcomeFail, domain.NameError
		case domain.Refused:
			return nil, outcomeFail, domain.Refused
		}

		if len(resp.Answers) > 0 {
			return resp.Answers, outcomeAnswer, domain.NoError
		}

		if len(resp.Authority) > 0 {
			r.warmGlue(ctx, resp, now, recursionLvl+1)
			return nil, outcomeRetry, domain.NoError
		}
	}

	if !anyClean {
		return nil, outcomeFail, domain.ServerFailure
	}
	return nil, outcomeFail, domain.NameError
}

// warmGlue resolves an A record for every NS target in resp's authority
// section that doesn't already have glue in the additional section,
// purely to populate the cache with the delegation the outer loop will
// pick up on its next iteration. Results are discarded; only the side
// effect of probing (and caching) matters. Depth is capped so a
// pathological referral chain can't recurse unbounded.
func (r *Resolver) warmGlue(ctx context.Context, resp domain.Message, now int64, recursionLvl int) {
	if recursionLvl > maxGlueDepth {
		return
	}

	glued := make(map[string]bool, len(resp.Additional))
	for _, rec := range resp.Additional {
		if rec.Type == domain.RRTypeA {
			glued[utils.CanonicalDNSName(rec.Name)] = true
		}
	}

	for _, auth := range resp.Authority {
		if auth.Type != domain.RRTypeNS {
			continue
		}
		target := utils.CanonicalDNSName(string(auth.RData))
		if glued[target] {
			continue
		}
		nsQ := domain.Question{Name: target, Type: domain.RRTypeA, Class: domain.RRClassIN}
		r.answer(ctx, nsQ, now, recursionLvl)
	}
}

// probe opens a fresh TCP connection to addr:53, sends a single
// non-recursive query for q, and returns the parsed response.
func (r *Resolver) probe(ctx context.Context, addr string, q domain.Question) (domain.Message, error) {
	dialCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	conn, err := r.dial(dialCtx, "tcp", net.JoinHostPort(addr, "53"))
	if err != nil {
		return domain.Message{}, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(r.timeout)); err != nil {
		return domain.Message{}, fmt.Errorf("set deadline for %s: %w", addr, err)
	}

	id := uint16(r.rng.Intn(1 << 16))
	raw, err := wire.Serialize(domain.NewQueryMessage(id, q))
	if err != nil {
		return domain.Message{}, fmt.Errorf("encode query for %s: %w", addr, err)
	}
	if err := wire.WriteTCPFrame(conn, raw); err != nil {
		return domain.Message{}, fmt.Errorf("write query to %s: %w", addr, err)
	}
	r.metrics.ProbesSent.Add(1)

	respBytes, err := wire.ReadTCPFrame(conn)
	if err != nil {
		return domain.Message{}, fmt.Errorf("read response from %s: %w", addr, err)
	}
	resp, _, err := wire.Parse(respBytes)
	if err != nil {
		return domain.Message{}, fmt.Errorf("parse response from %s: %w", addr, err)
	}
	if resp.Header.ID != id {
		return domain.Message{}, fmt.Errorf("response id mismatch from %s", addr)
	}
	return resp, nil
}

// insertRecord writes rec into the cache as a self-contained wire row.
// Cache failures are logged and swallowed: the cache is never the
// reason a resolution aborts.
func (r *Resolver) insertRecord(ctx context.Context, rec domain.Record, now int64) {
	if r.front != nil {
		r.front.Invalidate(rec.Name, uint16(rec.Type))
	}
	if r.store == nil {
		return
	}
	data, err := wire.EncodeRecord(rec)
	if err != nil {
		r.log.Warn(map[string]any{"error": err.Error(), "name": rec.Name}, "failed to encode record for cache insert")
		return
	}
	row := cache.Row{
		Name:          rec.Name,
		Type:          rec.Type,
		TTL:           rec.TTL,
		InsertionTime: now,
		Data:          data,
	}
	if rec.Type == domain.RRTypeNS {
		row.NS = string(rec.RData)
	}
	if err := r.store.Insert(ctx, row, now); err != nil {
		r.log.Warn(map[string]any{"error": err.Error(), "name": rec.Name}, "cache insert failed, continuing without caching")
	}
}

func rowsToRecords(rows []cache.Row) []domain.Record {
	out := make([]domain.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := wire.DecodeRecord(row.Data)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (r *Resolver) now() int64 {
	if r.clock == nil {
		return time.Now().Unix()
	}
	return r.clock.Now().Unix()
}
