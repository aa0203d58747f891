// Package transport implements the DNS ingress listeners: UDP and TCP
// sockets that accept client traffic, hand raw query bytes to the
// resolver, and frame the raw response bytes back per RFC 1035.
//
// Each listener is a single long-lived worker with its own socket, the
// way the spec's actor model maps onto goroutines: it blocks for one
// client interaction at a time and forwards synchronously to the
// resolver, which is itself a serial executor. There is no per-packet
// or per-connection fan-out; concurrency across listeners comes from
// running UDP and TCP as independent goroutines, not from parallelism
// within either one.
package transport

import "context"

// Resolver is the single operation a listener depends on: take raw
// query bytes, return raw response bytes. The resolver package's
// Resolver type satisfies this directly.
type Resolver interface {
	Resolve(ctx context.Context, request []byte) []byte
}

// Protocol selects which listener(s) a server starts, matching the
// `protocol` configuration option.
type Protocol string

const (
	ProtocolTCP  Protocol = "tcp"
	ProtocolUDP  Protocol = "udp"
	ProtocolBoth Protocol = "both"
)
