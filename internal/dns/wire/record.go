package wire

import (
	"encoding/binary"

	"github.com/mwalters/cachedns/internal/dns/domain"
)

// EncodeRecord returns the self-contained wire form of a single record:
// no outside compression pointers, safe to store in the cache and
// re-decode without the packet it came from.
func EncodeRecord(r domain.Record) ([]byte, error) {
	return encodeRecord(nil, r)
}

// DecodeRecord decodes a record previously produced by EncodeRecord (or
// any other self-contained record buffer with no compression pointers).
func DecodeRecord(data []byte) (domain.Record, error) {
	r, _, err := decodeRecord(data, 0)
	return r, err
}

// decodeQuestion reads a single question-section entry starting at offset.
func decodeQuestion(data []byte, offset int) (domain.Question, int, error) {
	name, offset, err := decodeName(data, offset)
	if err != nil {
		return domain.Question{}, 0, err
	}
	if offset+4 > len(data) {
		return domain.Question{}, 0, ErrMalformed
	}
	qtype := binary.BigEndian.Uint16(data[offset : offset+2])
	qclass := binary.BigEndian.Uint16(data[offset+2 : offset+4])
	offset += 4

	return domain.Question{
		Name:  name,
		Type:  domain.RRType(qtype),
		Class: domain.RRClass(qclass),
	}, offset, nil
}

// encodeQuestion appends the wire form of q to buf.
func encodeQuestion(buf []byte, q domain.Question) ([]byte, error) {
	nameBytes, err := encodeName(q.Name)
	if err != nil {
		return nil, err
	}
	buf = append(buf, nameBytes...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(q.Type))
	buf = binary.BigEndian.AppendUint16(buf, uint16(q.Class))
	return buf, nil
}

// decodeRecord reads a single resource record starting at offset. For NS
// records, rdata is decoded as a compressed name anchored at the rdata's
// own offset and stored as its canonical UTF-8 text; RDLength is updated
// to match. This is what lets a cached NS row be reused without the
// packet it was read from.
func decodeRecord(data []byte, offset int) (domain.Record, int, error) {
	name, offset, err := decodeName(data, offset)
	if err != nil {
		return domain.Record{}, 0, err
	}
	if offset+10 > len(data) {
		return domain.Record{}, 0, ErrMalformed
	}

	rtype := domain.RRType(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2
	rclass := domain.RRClass(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2
	ttl := binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4
	rdlength := binary.BigEndian.Uint16(data[offset : offset+2])
	offset += 2

	if offset+int(rdlength) > len(data) {
		return domain.Record{}, 0, ErrMalformed
	}
	rdataEnd := offset + int(rdlength)

	if rtype == domain.RRTypeNS {
		nsName, nsEnd, err := decodeName(data, offset)
		if err != nil {
			return domain.Record{}, 0, err
		}
		// A literal (uncompressed) name must consume exactly rdlength
		// bytes. A compressed one only spends two bytes locally (the
		// pointer itself) and may resolve anywhere in the buffer, so its
		// end offset is not checked against rdataEnd.
		if !nameHasPointer(data, offset) && nsEnd != rdataEnd {
			return domain.Record{}, 0, ErrMalformed
		}
		rec := domain.NewRecord(name, rtype, rclass, ttl, []byte(nsName))
		return rec, rdataEnd, nil
	}

	rdata := make([]byte, rdlength)
	copy(rdata, data[offset:rdataEnd])
	return domain.NewRecord(name, rtype, rclass, ttl, rdata), rdataEnd, nil
}

// nameHasPointer reports whether the name encoded at offset uses a
// compression pointer anywhere in its label chain (a cheap walk; it does
// not itself validate the chain, decodeName already did that).
func nameHasPointer(data []byte, offset int) bool {
	for offset < len(data) {
		length := int(data[offset])
		if length == 0 {
			return false
		}
		if length&0xC0 == 0xC0 {
			return true
		}
		offset += 1 + length
	}
	return false
}

// encodeRecord appends the wire form of r to buf. NS rdata, stored as
// canonical text, is re-encoded as literal labels; every other type's
// RData is written verbatim.
func encodeRecord(buf []byte, r domain.Record) ([]byte, error) {
	nameBytes, err := encodeName(r.Name)
	if err != nil {
		return nil, err
	}
	buf = append(buf, nameBytes...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(r.Type))
	buf = binary.BigEndian.AppendUint16(buf, uint16(r.Class))
	buf = binary.BigEndian.AppendUint32(buf, r.TTL)

	rdata := r.RData
	if r.Type == domain.RRTypeNS {
		encoded, err := encodeName(string(r.RData))
		if err != nil {
			return nil, err
		}
		rdata = encoded
	}

	if len(rdata) > 0xFFFF {
		return nil, ErrMalformed
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(rdata)))
	buf = append(buf, rdata...)
	return buf, nil
}
