package can

import (
	"errors"
	"fmt"
)

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// Payload limits and CAN FD flags (struct canfd_frame.flags).
const (
	CAN_MAX_DLEN   = 8
	CANFD_MAX_DLEN = 64

	CANFD_BRS = 0x01 // bit rate switch
	CANFD_ESI = 0x02 // error state indicator
	CANFD_FDF = 0x04 // marks a CAN FD frame in the kernel's canfd_frame
)

var (
	ErrInvalidID  = errors.New("can: invalid identifier")
	ErrInvalidLen = errors.New("can: invalid data length")
	ErrFDFlags    = errors.New("can: remote/error flag on CAN FD frame")
	ErrFlags      = errors.New("can: FD flags on classic frame")
)

// Frame is a CAN or CAN FD frame holder used across the bridge.
// can_id contains EFF/RTR/ERR flags in its upper bits like SocketCAN.
// Len is payload length (0..8 classic, 0..64 FD); only the first Len bytes are valid.
// Flags is only meaningful when FD is set.
type Frame struct {
	CANID uint32
	Len   uint8
	Flags uint8
	FD    bool
	Data  [CANFD_MAX_DLEN]byte
}

// NewClassic builds a classic data frame. Ids above 11 bits get CAN_EFF_FLAG.
func NewClassic(id uint32, data []byte) (Frame, error) {
	var f Frame
	if len(data) > CAN_MAX_DLEN {
		return f, fmt.Errorf("%w: %d", ErrInvalidLen, len(data))
	}
	f.CANID = withEFF(id)
	f.Len = uint8(len(data))
	copy(f.Data[:], data)
	return f, f.Validate()
}

// NewFD builds a CAN FD frame. Ids above 11 bits get CAN_EFF_FLAG.
func NewFD(id uint32, flags uint8, data []byte) (Frame, error) {
	var f Frame
	if len(data) > CANFD_MAX_DLEN {
		return f, fmt.Errorf("%w: %d", ErrInvalidLen, len(data))
	}
	f.CANID = withEFF(id)
	f.FD = true
	f.Flags = flags
	f.Len = uint8(len(data))
	copy(f.Data[:], data)
	return f, f.Validate()
}

func withEFF(id uint32) uint32 {
	if id&CAN_EFF_MASK > CAN_SFF_MASK {
		id |= CAN_EFF_FLAG
	}
	return id
}

// ID returns the identifier without flag bits.
func (f Frame) ID() uint32 {
	if f.IsExtended() {
		return f.CANID & CAN_EFF_MASK
	}
	return f.CANID & CAN_SFF_MASK
}

func (f Frame) IsExtended() bool { return f.CANID&CAN_EFF_FLAG != 0 }
func (f Frame) IsRemote() bool   { return f.CANID&CAN_RTR_FLAG != 0 }
func (f Frame) IsError() bool    { return f.CANID&CAN_ERR_FLAG != 0 }

// MaxLen is the payload ceiling for the frame kind.
func (f Frame) MaxLen() int {
	if f.FD {
		return CANFD_MAX_DLEN
	}
	return CAN_MAX_DLEN
}

// Payload returns the valid part of Data. The slice aliases the receiver copy.
func (f *Frame) Payload() []byte {
	n := int(f.Len)
	if n > len(f.Data) {
		n = len(f.Data)
	}
	return f.Data[:n]
}

// Validate reports whether the frame can be put on the bus or the wire.
func (f Frame) Validate() error {
	if int(f.Len) > f.MaxLen() {
		return fmt.Errorf("%w: %d > %d", ErrInvalidLen, f.Len, f.MaxLen())
	}
	// error frames carry error class bits in the full 29-bit field
	if !f.IsExtended() && !f.IsError() && f.CANID&CAN_EFF_MASK > CAN_SFF_MASK {
		return fmt.Errorf("%w: 0x%X exceeds 11 bits without EFF", ErrInvalidID, f.CANID&CAN_EFF_MASK)
	}
	if f.FD {
		if f.CANID&(CAN_RTR_FLAG|CAN_ERR_FLAG) != 0 {
			return ErrFDFlags
		}
		return nil
	}
	if f.Flags != 0 {
		return ErrFlags
	}
	return nil
}

func (f Frame) CopyShallow() Frame { // handy for tests
	var g Frame
	g.CANID, g.Len, g.Flags, g.FD = f.CANID, f.Len, f.Flags, f.FD
	copy(g.Data[:], f.Data[:])
	return g
}

// Equal compares the identifier, kind, flags and the valid payload bytes.
func (f Frame) Equal(g Frame) bool {
	if f.CANID != g.CANID || f.Len != g.Len || f.FD != g.FD || f.Flags != g.Flags {
		return false
	}
	return string(f.Payload()) == string(g.Payload())
}
