package cnl

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kstaniek/go-can-udp-bridge/internal/can"
)

// Protocol constants for cannelloni-over-UDP batches.
const (
	Version = 2

	OpData = 0x0
	OpAck  = 0x1 // reserved, not implemented
	OpNack = 0x2 // reserved, not implemented

	// HeaderSize is version(1) + opcode(1) + sequence(1) + count(2).
	HeaderSize = 5

	// MaxDatagramSize keeps a batch under common path MTUs without IP fragmentation.
	MaxDatagramSize = 508

	fdMarker  = 0x80
	lenMask   = 0x7F
	idSize    = 4
	classicHd = idSize + 1 // id + len
	fdHd      = idSize + 2 // id + len + flags
)

var (
	// ErrTruncated is returned when fewer bytes remain than a frame or header needs.
	ErrTruncated = errors.New("cannelloni: truncated input")
	// ErrMalformedLength is returned when a length exceeds the frame kind's maximum.
	ErrMalformedLength = errors.New("cannelloni: malformed length")
	// ErrFDFlags is returned when an FD frame id carries remote/error flags.
	ErrFDFlags = errors.New("cannelloni: remote/error flag on FD frame")
)

// EncodedSize returns the exact number of bytes AppendFrame writes for fr.
func EncodedSize(fr can.Frame) int {
	if fr.FD {
		return fdHd + int(fr.Len)
	}
	return classicHd + int(fr.Len)
}

// AppendFrame appends the wire form of fr to dst.
// Classic: [id u32 BE][len][data]; FD: [id u32 BE][len|0x80][flags][data].
// fr must be valid (see can.Frame.Validate).
func AppendFrame(dst []byte, fr can.Frame) []byte {
	dst = binary.BigEndian.AppendUint32(dst, fr.CANID)
	if fr.FD {
		dst = append(dst, fr.Len|fdMarker, fr.Flags)
	} else {
		dst = append(dst, fr.Len)
	}
	return append(dst, fr.Payload()...)
}

// EncodeFrame returns the wire form of a single frame.
func EncodeFrame(fr can.Frame) []byte {
	return AppendFrame(make([]byte, 0, EncodedSize(fr)), fr)
}

// DecodeFrame decodes one frame from the start of b and returns it together
// with the number of bytes it occupied.
func DecodeFrame(b []byte) (can.Frame, int, error) {
	var f can.Frame
	if len(b) < classicHd {
		return f, 0, fmt.Errorf("%w: header needs %d bytes, have %d", ErrTruncated, classicHd, len(b))
	}
	f.CANID = binary.BigEndian.Uint32(b[:idSize])
	lb := b[idSize]
	ln := int(lb & lenMask)
	off := classicHd
	if lb&fdMarker != 0 {
		if ln > can.CANFD_MAX_DLEN {
			return f, 0, fmt.Errorf("%w: fd length %d", ErrMalformedLength, ln)
		}
		if f.CANID&(can.CAN_RTR_FLAG|can.CAN_ERR_FLAG) != 0 {
			return f, 0, fmt.Errorf("%w: id 0x%08X", ErrFDFlags, f.CANID)
		}
		if len(b) < fdHd {
			return f, 0, fmt.Errorf("%w: fd header needs %d bytes, have %d", ErrTruncated, fdHd, len(b))
		}
		f.FD = true
		f.Flags = b[idSize+1]
		off = fdHd
	} else if ln > can.CAN_MAX_DLEN {
		return f, 0, fmt.Errorf("%w: classic length %d", ErrMalformedLength, ln)
	}
	if len(b)-off < ln {
		return f, 0, fmt.Errorf("%w: payload needs %d bytes, have %d", ErrTruncated, ln, len(b)-off)
	}
	f.Len = uint8(ln)
	copy(f.Data[:ln], b[off:off+ln])
	return f, off + ln, nil
}
