package wire

import (
	"encoding/binary"
	"strings"
)

// decodeName reads a (possibly compressed) domain name from data starting
// at offset, returning the canonical dotted-label text, the trailing dot,
// and the offset immediately past the name as it appears in the buffer —
// following a compression pointer leaves the caller's cursor two bytes
// past the pointer itself, never past whatever the pointer leads to.
func decodeName(data []byte, offset int) (string, int, error) {
	name, end, _, err := decodeNameDepth(data, offset, 0)
	return name, end, err
}

func decodeNameDepth(data []byte, offset int, depth int) (string, int, int, error) {
	if depth > maxPointerDepth {
		return "", 0, depth, ErrMalformed
	}

	var labels []string
	cursor := offset
	consumedPointer := false
	end := -1

	for {
		if cursor >= len(data) {
			return "", 0, depth, ErrMalformed
		}
		length := int(data[cursor])

		if length == 0 {
			cursor++
			if end == -1 {
				end = cursor
			}
			break
		}

		if length&0xC0 == 0xC0 {
			if cursor+1 >= len(data) {
				return "", 0, depth, ErrMalformed
			}
			ptr := int(binary.BigEndian.Uint16(data[cursor:cursor+2]) & 0x3FFF)
			if end == -1 {
				end = cursor + 2
			}
			depth++
			if depth > maxPointerDepth {
				return "", 0, depth, ErrMalformed
			}
			suffix, _, newDepth, err := decodeNameDepth(data, ptr, depth)
			if err != nil {
				return "", 0, newDepth, err
			}
			depth = newDepth
			if suffix != "." && suffix != "" {
				labels = append(labels, strings.TrimSuffix(suffix, "."))
			}
			consumedPointer = true
			break
		}

		cursor++
		if cursor+length > len(data) {
			return "", 0, depth, ErrMalformed
		}
		labels = append(labels, string(data[cursor:cursor+length]))
		cursor += length
	}

	_ = consumedPointer
	if len(labels) == 0 {
		return ".", end, depth, nil
	}
	return strings.Join(labels, ".") + ".", end, depth, nil
}

// encodeName writes name as literal length-prefixed labels terminated by
// a zero byte. It never emits compression pointers. "." encodes as the
// single zero byte.
func encodeName(name string) ([]byte, error) {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return []byte{0}, nil
	}

	labels := strings.Split(name, ".")
	out := make([]byte, 0, len(name)+len(labels)+1)
	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 {
			return nil, ErrMalformed
		}
		out = append(out, byte(len(label)))
		out = append(out, label...)
	}
	out = append(out, 0)
	return out, nil
}
