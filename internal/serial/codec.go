package serial

import (
	"bytes"
	"encoding/binary"

	"github.com/kstaniek/go-can-udp-bridge/internal/can"
	"github.com/kstaniek/go-can-udp-bridge/internal/metrics"
)

// Ampio UART envelope: [0x2D, 0xD4, len+1, data..., checksum]
// checksum = (len+1) + 0x2D + sum(data) (mod 256)
const (
	pre0 = 0x2D
	pre1 = 0xD4

	insSendExt = 2 // INS: CAN UART SEND WITH EXT ID

	// ln = dataBytes + 1(checksum), dataBytes = ID(4) + PAYLOAD(0..8) on RX
	minLn = 4 + 0 + 1
	maxLn = 4 + 8 + 1

	// reclaimThreshold bounds the capacity kept by the RX accumulator after
	// bursts of line noise.
	reclaimThreshold = 16 * 1024
)

func envelope(data []byte) []byte {
	n := len(data)
	frame := make([]byte, n+4)
	frame[0] = pre0
	frame[1] = pre1
	frame[2] = byte(n + 1)
	sum := frame[2] + pre0
	for i, b := range data {
		frame[3+i] = b
		sum += b
	}
	frame[3+n] = sum
	return frame
}

// Encode builds the TX envelope for a classic frame:
// INS(1) + FLAGS/DLC(1) + ID(4 BE) + PAYLOAD(0..8).
func Encode(f can.Frame) []byte {
	id := f.CANID & can.CAN_EFF_MASK
	tab := make([]byte, 0, 6+can.CAN_MAX_DLEN)
	tab = append(tab, insSendExt, 0x80+f.Len)
	tab = binary.BigEndian.AppendUint32(tab, id)
	tab = append(tab, f.Payload()...)
	return envelope(tab)
}

// Decoder reassembles RX frames from the UART byte stream. Bytes are added
// with Write; Next returns complete frames one at a time.
//
// Example RX frame (DLC=8):
// 2D D4 - preamble
// 0D    - len = 13 = can_id(4) + payload(8) + checksum(1)
// 00 00 00 02 - CAN ID = 0x00000002
// FE 10 19 09 19 04 01 20 - payload (8 bytes)
// AA    - checksum = 0x2D + len + sum(data bytes after len)
type Decoder struct {
	acc bytes.Buffer
}

func (d *Decoder) Write(p []byte) (int, error) { return d.acc.Write(p) }

// Buffered is the number of undecoded bytes held.
func (d *Decoder) Buffered() int { return d.acc.Len() }

// Next returns the next complete frame, or false when more input is needed.
// Garbage and checksum failures are skipped one byte at a time.
func (d *Decoder) Next() (can.Frame, bool) {
	header := []byte{pre0, pre1}
	for {
		data := d.acc.Bytes()
		if len(data) < 3 { // need preamble + len
			d.reclaim()
			return can.Frame{}, false
		}
		i := bytes.Index(data, header)
		if i < 0 {
			// keep last byte in case the next chunk starts with the second preamble byte
			last := data[len(data)-1]
			d.acc.Reset()
			_ = d.acc.WriteByte(last)
			return can.Frame{}, false
		}
		if i > 0 {
			d.acc.Next(i)
			continue
		}
		ln := int(data[2])
		if ln < minLn || ln > maxLn {
			metrics.IncError(metrics.ErrSerialDecode)
			d.acc.Next(1)
			continue
		}
		req := 3 + ln
		if len(data) < req {
			return can.Frame{}, false
		}
		sum := uint(pre0) + uint(data[2])
		for _, b := range data[3 : req-1] {
			sum += uint(b)
		}
		if byte(sum) != data[req-1] {
			metrics.IncError(metrics.ErrSerialDecode)
			d.acc.Next(1)
			continue
		}
		payload := data[7 : req-1]
		var f can.Frame
		f.CANID = binary.BigEndian.Uint32(data[3:7]) | can.CAN_EFF_FLAG
		f.Len = uint8(len(payload))
		copy(f.Data[:], payload)
		d.acc.Next(req)
		return f, true
	}
}

func (d *Decoder) reclaim() {
	if d.acc.Cap() <= reclaimThreshold {
		return
	}
	rest := append([]byte(nil), d.acc.Bytes()...)
	d.acc = bytes.Buffer{}
	_, _ = d.acc.Write(rest)
}
