package socketcan

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kstaniek/go-can-udp-bridge/internal/can"
)

// Kernel record sizes.
const (
	classicMTU = 16 // sizeof(struct can_frame)
	fdMTU      = 72 // sizeof(struct canfd_frame)
)

var (
	ErrShortRead  = errors.New("socketcan: short read")
	ErrShortWrite = errors.New("socketcan: short write")
	ErrFDDisabled = errors.New("socketcan: CAN FD frames not enabled on socket")
)

// marshalFrame writes fr into buf using the kernel layout and returns the
// record size (16 for classic, 72 for FD).
//
//	struct can_frame:    can_id u32 [0:4] | len u8 [4] | pad, res0, len8_dlc [5:8] | data [8:16]
//	struct canfd_frame:  can_id u32 [0:4] | len u8 [4] | flags [5] | res0, res1 [6:8] | data [8:72]
//
// The kernel uses host byte order for can_id.
func marshalFrame(fr can.Frame, buf *[fdMTU]byte) (int, error) {
	if err := fr.Validate(); err != nil {
		return 0, err
	}
	*buf = [fdMTU]byte{}
	binary.NativeEndian.PutUint32(buf[0:4], fr.CANID)
	buf[4] = fr.Len
	copy(buf[8:], fr.Payload())
	if fr.FD {
		buf[5] = fr.Flags | can.CANFD_FDF
		return fdMTU, nil
	}
	return classicMTU, nil
}

// unmarshalFrame decodes one kernel record; the record size selects the kind.
func unmarshalFrame(b []byte, fr *can.Frame) error {
	var max int
	switch len(b) {
	case classicMTU:
		max = can.CAN_MAX_DLEN
	case fdMTU:
		max = can.CANFD_MAX_DLEN
	default:
		return fmt.Errorf("%w: %d bytes", ErrShortRead, len(b))
	}
	ln := int(b[4])
	if ln > max {
		return fmt.Errorf("%w: %d", can.ErrInvalidLen, ln)
	}
	*fr = can.Frame{}
	fr.CANID = binary.NativeEndian.Uint32(b[0:4])
	fr.Len = uint8(ln)
	if len(b) == fdMTU {
		fr.FD = true
		fr.Flags = b[5] &^ can.CANFD_FDF
	}
	copy(fr.Data[:ln], b[8:8+ln])
	return nil
}
