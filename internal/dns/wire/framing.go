package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxTCPMessage bounds a single TCP-framed DNS message, matching the
// 16-bit length prefix's own ceiling.
const maxTCPMessage = 0xFFFF

// ReadTCPFrame reads one 2-byte big-endian length prefix followed by
// exactly that many bytes from r.
func ReadTCPFrame(r io.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read tcp length prefix: %w", err)
	}
	n := binary.BigEndian.Uint16(lenBuf[:])

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read tcp frame body: %w", err)
	}
	return body, nil
}

// WriteTCPFrame writes data to w preceded by its 2-byte big-endian
// length prefix.
func WriteTCPFrame(w io.Writer, data []byte) error {
	if len(data) > maxTCPMessage {
		return fmt.Errorf("message too large for tcp framing: %d bytes", len(data))
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write tcp length prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write tcp frame body: %w", err)
	}
	return nil
}
