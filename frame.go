package netmux

import "encoding/binary"

// MaxScratchSize is the widest a varint length prefix can ever be: 10 bytes
// covers any length up to 2^63.
const MaxScratchSize = binary.MaxVarintLen64

// maxReasonableFrame guards against a corrupt/hostile length prefix pinning
// unbounded memory; 64 MiB comfortably exceeds any legitimate single message
// this engine is designed to carry.
const maxReasonableFrame = 64 << 20

// EncodeSize writes the varint-encoded length of message into scratch (which
// must have capacity MaxScratchSize) and returns the used prefix slice. No
// heap allocation on this path: scratch is caller-provided.
func EncodeSize(message []byte, scratch []byte) []byte {
	scratch = scratch[:cap(scratch)]
	n := binary.PutUvarint(scratch[:MaxScratchSize], uint64(len(message)))
	return scratch[:n]
}

// Decoder reassembles varint-length-prefixed messages across arbitrary
// chunk boundaries. Zero value is
// ready to use. Not safe for concurrent use from multiple goroutines; a
// FramedTCP Remote owns exactly one.
type Decoder struct {
	buf      []byte
	expected int
	haveSize bool
}

// Decode feeds data into the decoder, invoking onMessage once per complete
// message found (in arrival order), and retains any undelivered suffix
// internally. Decode(nil, ...) is a no-op that does not alter state.
//
// Invariant: after Decode returns, the retained buffer holds only the
// undelivered suffix — never bytes belonging to an already-delivered message.
func (d *Decoder) Decode(data []byte, onMessage func([]byte)) error {
	if len(data) == 0 {
		return nil
	}

	if len(d.buf) == 0 {
		// Fast path: decode directly out of the caller's slice; only a
		// trailing partial prefix or body is copied into the retained buffer.
		return d.consume(data, onMessage)
	}

	// Slow path: a partial prefix/body is already retained; accumulate
	// until it can be delivered, then hand any remainder to consume.
	d.buf = append(d.buf, data...)
	buffered := d.buf
	d.buf = nil
	return d.consume(buffered, onMessage)
}

// consume repeatedly decodes complete messages out of data, retaining
// whatever trailing partial prefix or body remains.
func (d *Decoder) consume(data []byte, onMessage func([]byte)) error {
	for {
		if len(data) == 0 {
			return nil
		}

		var size uint64
		var n int
		if d.haveSize {
			size, n = uint64(d.expected), 0
		} else {
			v, vn := binary.Uvarint(data)
			switch {
			case vn == 0:
				// Not enough bytes yet for the length prefix.
				d.buf = append(d.buf, data...)
				return nil
			case vn < 0:
				return ErrInvalidFrame
			}
			size, n = v, vn
			if size > maxReasonableFrame {
				return ErrInvalidFrame
			}
		}

		body := data[n:]
		if uint64(len(body)) < size {
			d.expected = int(size)
			d.haveSize = true
			d.buf = append(d.buf[:0], body...)
			return nil
		}

		d.haveSize = false
		d.expected = 0
		onMessage(body[:size])
		data = body[size:]
	}
}
