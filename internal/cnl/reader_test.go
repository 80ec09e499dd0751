package cnl

import (
	"errors"
	"testing"

	"github.com/kstaniek/go-can-udp-bridge/internal/can"
)

func encodeBatch(frames ...can.Frame) ([]byte, []int) {
	e := NewEncoder()
	ends := make([]int, 0, len(frames))
	for _, fr := range frames {
		e.Push(fr)
		ends = append(ends, e.Size())
	}
	return e.Finalize(), ends
}

func TestTryRead_VersionGate(t *testing.T) {
	good, _ := encodeBatch(mkFrame(1, 2), mkFrame(2, 3))
	for _, mutate := range []func([]byte){
		func(b []byte) { b[0] = Version + 1 },
		func(b []byte) { b[0] = 1 },
		func(b []byte) { b[1] = OpAck },
		func(b []byte) { b[1] = OpNack },
	} {
		b := append([]byte(nil), good...)
		mutate(b)
		r, err := TryRead(b)
		if err != nil || r != nil {
			t.Fatalf("expected silent mismatch, got r=%v err=%v", r, err)
		}
	}
}

func TestTryRead_ShortHeader(t *testing.T) {
	if _, err := TryRead([]byte{Version, OpData, 0, 0}); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestReader_CorruptionContainment(t *testing.T) {
	frames := []can.Frame{mkFrame(1, 8), mkFDFrame(2, 33, 0), mkFrame(3, 4), mkFrame(4, 0), mkFDFrame(5, 64, 1)}
	wire, ends := encodeBatch(frames...)
	for k := 0; k < len(frames); k++ {
		// cut somewhere inside frame k+1, or right after frame k for the last
		cut := ends[k] + 3
		if cut > len(wire) {
			cut = ends[k]
		}
		r, err := TryRead(wire[:cut])
		if err != nil || r == nil {
			t.Fatalf("k=%d: TryRead r=%v err=%v", k, r, err)
		}
		got := 0
		for fr := range r.Frames() {
			if !fr.Equal(frames[got]) {
				t.Fatalf("k=%d: frame %d mismatch", k, got)
			}
			got++
		}
		if got != k+1 {
			t.Fatalf("k=%d: decoded %d frames want %d", k, got, k+1)
		}
		if r.Remaining() != 0 {
			t.Fatalf("k=%d: remaining %d after stop", k, r.Remaining())
		}
		if k+1 < len(frames) && !errors.Is(r.Err(), ErrTruncated) {
			t.Fatalf("k=%d: expected truncation cause, got %v", k, r.Err())
		}
	}
}

func TestReader_MalformedLengthStops(t *testing.T) {
	wire, ends := encodeBatch(mkFrame(1, 2), mkFrame(2, 2), mkFrame(3, 2))
	wire[ends[0]+4] = 0x0F // length byte of frame 2
	r, _ := TryRead(wire)
	if _, ok := r.Next(); !ok {
		t.Fatalf("first frame should decode")
	}
	if _, ok := r.Next(); ok {
		t.Fatalf("corrupt frame decoded")
	}
	if _, ok := r.Next(); ok {
		t.Fatalf("reader resynchronised after corruption")
	}
	if !errors.Is(r.Err(), ErrMalformedLength) {
		t.Fatalf("expected ErrMalformedLength, got %v", r.Err())
	}
}

func TestReader_EarlyBreak(t *testing.T) {
	wire, _ := encodeBatch(mkFrame(1, 1), mkFrame(2, 1), mkFrame(3, 1))
	r, _ := TryRead(wire)
	for range r.Frames() {
		break
	}
	if r.Remaining() != 2 {
		t.Fatalf("remaining %d want 2", r.Remaining())
	}
	n := 0
	for range r.Frames() {
		n++
	}
	if n != 2 {
		t.Fatalf("resumed with %d frames want 2", n)
	}
}
