package cnl

import (
	"encoding/binary"
	"fmt"
	"iter"

	"github.com/kstaniek/go-can-udp-bridge/internal/can"
)

// Reader lazily yields the frames of one inbound batch. A decode failure ends
// the sequence: after a bad length nothing that follows can be located.
type Reader struct {
	buf       []byte
	remaining uint16
	seq       uint8
	err       error
}

// TryRead validates the batch header in b. It returns (nil, nil) when the
// version or opcode is not ours, so foreign traffic can be ignored.
// The reader aliases b; b must not change while the reader is in use.
func TryRead(b []byte) (*Reader, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: batch header needs %d bytes, have %d", ErrTruncated, HeaderSize, len(b))
	}
	if b[0] != Version || b[1] != OpData {
		return nil, nil
	}
	return &Reader{
		buf:       b[HeaderSize:],
		seq:       b[2],
		remaining: binary.BigEndian.Uint16(b[3:HeaderSize]),
	}, nil
}

// Remaining is the number of frames the header still promises.
func (r *Reader) Remaining() int { return int(r.remaining) }

// Sequence is the batch sequence number (informational).
func (r *Reader) Sequence() uint8 { return r.seq }

// Err reports why decoding stopped early, if it did.
func (r *Reader) Err() error { return r.err }

// Next decodes the next frame. It returns false once the batch is drained or
// corrupt.
func (r *Reader) Next() (can.Frame, bool) {
	if r.remaining == 0 {
		return can.Frame{}, false
	}
	r.remaining--
	fr, n, err := DecodeFrame(r.buf)
	if err != nil {
		r.err = err
		r.remaining = 0
		r.buf = nil
		return can.Frame{}, false
	}
	r.buf = r.buf[n:]
	return fr, true
}

// Frames returns the remaining frames as a single-use sequence.
func (r *Reader) Frames() iter.Seq[can.Frame] {
	return func(yield func(can.Frame) bool) {
		for {
			fr, ok := r.Next()
			if !ok || !yield(fr) {
				return
			}
		}
	}
}
