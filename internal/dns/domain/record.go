package domain

import (
	"fmt"
	"net"
)

// Record is a DNS resource record as it appears on the wire:
// (rname, rtype, rclass, ttl, rdlength, rdata).
//
// For NS records, RData holds a canonical dotted name (UTF-8 text, not
// wire-compressed bytes) — see the wire package's name normalization.
// For every other type RData is the raw rdata bytes exactly as received.
// RDLength always equals len(RData), as the data model requires. The
// wire encoder does not read it: it writes the length of the rdata it
// actually emits (for NS, the re-encoded name).
type Record struct {
	Name     string
	Type     RRType
	Class    RRClass
	TTL      uint32
	RDLength uint16
	RData    []byte
}

// NewRecord constructs a Record, computing RDLength from the rdata slice.
func NewRecord(name string, rtype RRType, class RRClass, ttl uint32, rdata []byte) Record {
	return Record{
		Name:     name,
		Type:     rtype,
		Class:    class,
		TTL:      ttl,
		RDLength: uint16(len(rdata)),
		RData:    rdata,
	}
}

// AsIP interprets RData as an IPv4 or IPv6 address, as appropriate for
// A and AAAA records. It returns nil for any other length or type.
func (r Record) AsIP() net.IP {
	switch len(r.RData) {
	case 4:
		return net.IP(r.RData).To4()
	case 16:
		return net.IP(r.RData)
	default:
		return nil
	}
}

// String renders a short diagnostic form of the record for logging.
func (r Record) String() string {
	return fmt.Sprintf("%s %s %s ttl=%d rdlength=%d", r.Name, r.Class, r.Type, r.TTL, r.RDLength)
}
