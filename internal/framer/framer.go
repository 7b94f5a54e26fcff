// Package framer turns a byte stream of arbitrary chunking into a stream of
// length-prefixed payload buffers, and conversely prefixes payload buffers
// with their length for writing.
package framer

import (
	"encoding/binary"
	"fmt"
)

// HeaderLen is the size in bytes of the length prefix.
const HeaderLen = 4

// MaxPayloadLen bounds a single frame's payload so a corrupt or hostile
// stream cannot force an unbounded allocation.
const MaxPayloadLen = 1 << 30

// Framer incrementally decodes length-prefixed packets from a byte stream.
// It holds exactly one partially-built frame between calls to Feed.
type Framer struct {
	header       [HeaderLen]byte
	headerFilled int

	length        uint32
	payload       []byte
	payloadFilled int
	haveLength    bool

	done bool
}

// New creates a Framer ready to accept bytes via Feed.
func New() *Framer {
	return &Framer{}
}

// Feed consumes chunk and returns zero or more complete payloads, in order.
// A payload of length zero is a legal emission. Feed may be called
// repeatedly with chunks of any size, including chunks that straddle frame
// boundaries or contain several frames at once.
func (f *Framer) Feed(chunk []byte) ([][]byte, error) {
	var out [][]byte

	for len(chunk) > 0 {
		if !f.haveLength {
			n := copy(f.header[f.headerFilled:], chunk)
			f.headerFilled += n
			chunk = chunk[n:]

			if f.headerFilled < HeaderLen {
				break
			}

			f.length = binary.LittleEndian.Uint32(f.header[:])
			if f.length > MaxPayloadLen {
				return out, fmt.Errorf("framer: payload length %d exceeds maximum %d", f.length, MaxPayloadLen)
			}
			f.haveLength = true
			f.payload = make([]byte, f.length)
			f.payloadFilled = 0

			if f.length == 0 {
				out = append(out, f.payload)
				f.reset()
				continue
			}
		}

		n := copy(f.payload[f.payloadFilled:], chunk)
		f.payloadFilled += n
		chunk = chunk[n:]

		if f.payloadFilled == int(f.length) {
			out = append(out, f.payload)
			f.reset()
		}
	}

	return out, nil
}

func (f *Framer) reset() {
	f.headerFilled = 0
	f.haveLength = false
	f.payload = nil
	f.payloadFilled = 0
}

// Frame prefixes payload with its 4-byte little-endian length and returns
// the combined buffer, ready to write to the peer's stdin. It performs a
// single allocation of len(payload)+4 and one copy.
func Frame(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, fmt.Errorf("framer: payload length %d exceeds maximum %d", len(payload), MaxPayloadLen)
	}
	out := make([]byte, HeaderLen+len(payload))
	binary.LittleEndian.PutUint32(out[:HeaderLen], uint32(len(payload)))
	copy(out[HeaderLen:], payload)
	return out, nil
}
