package wire

import (
	"encoding/binary"

	"github.com/mwalters/cachedns/internal/dns/domain"
)

const headerSize = 12

// PeekID extracts the transaction id from a message too malformed to
// parse otherwise, so a FormatError response can still echo it. It
// returns 0 if data doesn't even hold the 2-byte id field.
func PeekID(data []byte) uint16 {
	if len(data) < 2 {
		return 0
	}
	return binary.BigEndian.Uint16(data[0:2])
}

// Parse reads a complete DNS message from data, returning the decoded
// Message and the offset immediately past its last byte. It fails with
// ErrMalformed if any declared section count requires bytes beyond the
// buffer, or if name decoding detects a malformed or runaway compression
// chain.
func Parse(data []byte) (domain.Message, int, error) {
	if len(data) < headerSize {
		return domain.Message{}, 0, ErrMalformed
	}

	id := binary.BigEndian.Uint16(data[0:2])
	flags := binary.BigEndian.Uint16(data[2:4])
	qd := binary.BigEndian.Uint16(data[4:6])
	an := binary.BigEndian.Uint16(data[6:8])
	ns := binary.BigEndian.Uint16(data[8:10])
	ar := binary.BigEndian.Uint16(data[10:12])

	header := domain.HeaderFromFlags(id, flags, qd, an, ns, ar)
	offset := headerSize

	questions := make([]domain.Question, 0, qd)
	for i := 0; i < int(qd); i++ {
		q, newOffset, err := decodeQuestion(data, offset)
		if err != nil {
			return domain.Message{}, 0, err
		}
		questions = append(questions, q)
		offset = newOffset
	}

	answers, offset, err := decodeRecords(data, offset, int(an))
	if err != nil {
		return domain.Message{}, 0, err
	}
	authority, offset, err := decodeRecords(data, offset, int(ns))
	if err != nil {
		return domain.Message{}, 0, err
	}
	additional, offset, err := decodeRecords(data, offset, int(ar))
	if err != nil {
		return domain.Message{}, 0, err
	}

	return domain.Message{
		Header:     header,
		Questions:  questions,
		Answers:    answers,
		Authority:  authority,
		Additional: additional,
	}, offset, nil
}

func decodeRecords(data []byte, offset int, count int) ([]domain.Record, int, error) {
	records := make([]domain.Record, 0, count)
	for i := 0; i < count; i++ {
		r, newOffset, err := decodeRecord(data, offset)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, r)
		offset = newOffset
	}
	return records, offset, nil
}

// Serialize writes a Message to its wire form. Section counts in the
// header are recomputed from the actual section lengths, which are
// authoritative over any stale Header counts the caller may be carrying.
func Serialize(m domain.Message) ([]byte, error) {
	h := m.Header
	h.QDCount = uint16(len(m.Questions))
	h.ANCount = uint16(len(m.Answers))
	h.NSCount = uint16(len(m.Authority))
	h.ARCount = uint16(len(m.Additional))

	buf := make([]byte, 0, headerSize+64)
	buf = binary.BigEndian.AppendUint16(buf, h.ID)
	buf = binary.BigEndian.AppendUint16(buf, h.Flags())
	buf = binary.BigEndian.AppendUint16(buf, h.QDCount)
	buf = binary.BigEndian.AppendUint16(buf, h.ANCount)
	buf = binary.BigEndian.AppendUint16(buf, h.NSCount)
	buf = binary.BigEndian.AppendUint16(buf, h.ARCount)

	var err error
	for _, q := range m.Questions {
		buf, err = encodeQuestion(buf, q)
		if err != nil {
			return nil, err
		}
	}
	for _, r := range m.Answers {
		buf, err = encodeRecord(buf, r)
		if err != nil {
			return nil, err
		}
	}
	for _, r := range m.Authority {
		buf, err = encodeRecord(buf, r)
		if err != nil {
			return nil, err
		}
	}
	for _, r := range m.Additional {
		buf, err = encodeRecord(buf, r)
		if err != nil {
			return nil, err
		}
	}

	return buf, nil
}
