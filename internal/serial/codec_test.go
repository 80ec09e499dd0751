package serial

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/kstaniek/go-can-udp-bridge/internal/can"
	"github.com/kstaniek/go-can-udp-bridge/internal/metrics"
)

// build an RX-wire frame: data := ID(4) | PAYLOAD(0..8), then envelope with 2D D4 LEN ... CRC
func rxWire(id uint32, payload []byte) []byte {
	data := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(data[:4], id&can.CAN_EFF_MASK)
	copy(data[4:], payload)
	return envelope(data)
}

func f(id uint32, data ...byte) can.Frame {
	var fr can.Frame
	fr.CANID = (id & can.CAN_EFF_MASK) | can.CAN_EFF_FLAG
	fr.Len = uint8(len(data))
	copy(fr.Data[:], data)
	return fr
}

func TestDecoder_RoundTrip_Chunked(t *testing.T) {
	want := []can.Frame{
		f(0x0001E5A, 0x34, 0x7B, 0x70, 0xD7, 0x94, 0x10, 0x0D, 0xF7),
		f(0x0001F55, 0xA1, 0xB2, 0xC3, 0xD4, 0xE5, 0xF6),
		f(0x0123456),
		f(0x01ABCDE, 0xDE, 0xAD, 0xBE),
	}
	stream := []byte{0x00, 0x2D, 0x11} // leading noise
	for _, fr := range want {
		stream = append(stream, rxWire(fr.CANID, fr.Payload())...)
	}

	var dec Decoder
	var got []can.Frame
	// Feed in irregular small chunks to stress preamble alignment & partials.
	chunkSizes := []int{1, 2, 3, 4, 5, 7, 11}
	cs := 0
	for pos := 0; pos < len(stream); {
		n := chunkSizes[cs%len(chunkSizes)]
		cs++
		if pos+n > len(stream) {
			n = len(stream) - pos
		}
		_, _ = dec.Write(stream[pos : pos+n])
		pos += n
		for {
			fr, ok := dec.Next()
			if !ok {
				break
			}
			got = append(got, fr)
		}
	}
	if len(got) != len(want) {
		t.Fatalf("decoded %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("frame %d mismatch\n got  id=0x%X len=%d data=% X\n want id=0x%X len=%d data=% X",
				i, got[i].CANID, got[i].Len, got[i].Payload(),
				want[i].CANID, want[i].Len, want[i].Payload())
		}
	}
}

func TestDecoder_ChecksumMismatchCounted(t *testing.T) {
	before := metrics.Snap().Errors
	frame := rxWire(1, []byte{0xAA})
	frame[len(frame)-1] ^= 0xFF
	var dec Decoder
	_, _ = dec.Write(frame)
	if _, ok := dec.Next(); ok {
		t.Fatalf("corrupt frame decoded")
	}
	if after := metrics.Snap().Errors; after <= before {
		t.Fatalf("expected error metric increment, before=%d after=%d", before, after)
	}
}

func TestEncode_Envelope(t *testing.T) {
	fr := f(0x123, 0x01, 0x02)
	got := Encode(fr)
	want := []byte{0x2D, 0xD4, 9, 2, 0x82, 0, 0, 0x01, 0x23, 0x01, 0x02}
	var sum byte = 9 + 0x2D
	for _, b := range want[3:] {
		sum += b
	}
	want = append(want, sum)
	if !bytes.Equal(got, want) {
		t.Fatalf("envelope % X want % X", got, want)
	}
}
