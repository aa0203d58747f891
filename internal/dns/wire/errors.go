// Package wire implements DNS message parsing and serialization: header,
// question and resource-record encoding, and compressed-name decoding, as
// specified by RFC 1035.
package wire

import "errors"

// ErrMalformed is returned whenever the codec cannot make sense of input
// bytes: a field runs past the buffer, a name pointer is out of range, or
// a compression chain loops or runs too deep.
var ErrMalformed = errors.New("malformed dns message")

// maxPointerDepth caps the number of compression-pointer hops a single
// name decode may follow before it is treated as malformed. Real
// messages never nest anywhere near this deep; it exists purely to
// bound adversarial input.
const maxPointerDepth = 128
