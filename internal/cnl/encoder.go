package cnl

import (
	"encoding/binary"

	"github.com/kstaniek/go-can-udp-bridge/internal/can"
)

// Encoder accumulates frames into one in-progress batch. It is not safe for
// concurrent use; the send path owns it exclusively.
type Encoder struct {
	seq   uint8
	count int
	buf   []byte
}

// NewEncoder returns an encoder holding an empty batch with sequence 0.
func NewEncoder() *Encoder {
	e := &Encoder{}
	e.reset()
	return e
}

func (e *Encoder) reset() {
	e.buf = make([]byte, HeaderSize, MaxDatagramSize)
	e.buf[0] = Version
	e.buf[1] = OpData
	e.buf[2] = e.seq
	// count at [3:5] stays zero until Finalize
	e.count = 0
}

// Push appends fr to the batch. No budget check is done here; callers compare
// Size()+EncodedSize(fr) against their limit first.
func (e *Encoder) Push(fr can.Frame) {
	e.buf = AppendFrame(e.buf, fr)
	e.count++
}

// Size is the encoded size of the batch so far, header included.
func (e *Encoder) Size() int { return len(e.buf) }

// Count is the number of frames pushed since the last Finalize.
func (e *Encoder) Count() int { return e.count }

// Sequence is the sequence number the next Finalize will stamp.
func (e *Encoder) Sequence() uint8 { return e.seq }

// Finalize completes the batch and returns it. The returned slice belongs to
// the caller; the encoder starts a fresh batch with the next sequence number
// before returning.
func (e *Encoder) Finalize() []byte {
	out := e.buf
	binary.BigEndian.PutUint16(out[3:HeaderSize], uint16(e.count))
	e.seq++
	e.reset()
	return out
}
