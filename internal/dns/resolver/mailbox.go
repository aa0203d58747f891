package resolver

import "context"

// job pairs one request with the channel its response goes back on,
// matching the "request+response-channel pairs" the actor model passes
// between mailboxes.
type job struct {
	ctx      context.Context
	request  []byte
	response chan<- []byte
}

// Mailbox wraps a Resolver in the single-consumer goroutine the
// concurrency model calls for: every listener goroutine sends its
// query down the same unbuffered channel, and one worker goroutine
// drains it, so only one Resolve ever executes at a time regardless of
// how many listeners are running. Mailbox itself implements
// transport.Resolver, so listeners depend on it exactly the way they'd
// depend on the Resolver directly.
type Mailbox struct {
	resolver *Resolver
	requests chan job
	done     chan struct{}
}

// NewMailbox starts the worker goroutine draining r's requests. Stop
// must be called to release it.
func NewMailbox(r *Resolver) *Mailbox {
	m := &Mailbox{
		resolver: r,
		requests: make(chan job),
		done:     make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Mailbox) run() {
	defer close(m.done)
	for j := range m.requests {
		j.response <- m.resolver.Resolve(j.ctx, j.request)
	}
}

// Resolve sends request to the mailbox worker and blocks for its
// response, or returns a FormatError response immediately if ctx is
// canceled before the worker picks up the job.
func (m *Mailbox) Resolve(ctx context.Context, request []byte) []byte {
	resp := make(chan []byte, 1)
	select {
	case m.requests <- job{ctx: ctx, request: request, response: resp}:
	case <-ctx.Done():
		return m.resolver.formatErrorResponse(request)
	}
	return <-resp
}

// Metrics exposes the wrapped Resolver's counters, for the admin
// surface.
func (m *Mailbox) Metrics() *Metrics {
	return m.resolver.Metrics()
}

// Stop closes the request channel and waits for the worker to drain
// and exit. It must only be called once, after every sender has
// stopped.
func (m *Mailbox) Stop() {
	close(m.requests)
	<-m.done
}
