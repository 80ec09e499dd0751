package serial

import (
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-can-udp-bridge/internal/can"
)

// fakePort implements Port for tests.
type fakePort struct {
	mu     sync.Mutex
	reads  [][]byte
	idx    int
	writes [][]byte
	err    error
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.idx >= len(p.reads) {
		if p.err != nil {
			return 0, p.err
		}
		// after delivering all data, behave like a read timeout
		time.Sleep(time.Millisecond)
		return 0, io.EOF
	}
	n := copy(b, p.reads[p.idx])
	p.idx++
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (p *fakePort) Close() error { return nil }

func TestDevice_ReadFrameOneAtATime(t *testing.T) {
	a, b := f(0x10, 1, 2), f(0x20, 3)
	both := append(rxWire(a.CANID, a.Payload()), rxWire(b.CANID, b.Payload())...)
	d := NewDevice(&fakePort{reads: [][]byte{both[:5], both[5:]}})
	for i, want := range []can.Frame{a, b} {
		var got can.Frame
		if err := d.ReadFrame(&got); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !got.Equal(want) {
			t.Fatalf("frame %d mismatch: %+v", i, got)
		}
	}
}

func TestDevice_ReadErrorSurfaced(t *testing.T) {
	boom := errors.New("boom")
	d := NewDevice(&fakePort{err: boom})
	var fr can.Frame
	if err := d.ReadFrame(&fr); !errors.Is(err, boom) {
		t.Fatalf("expected port error, got %v", err)
	}
	_ = d.Close()
	if err := d.ReadFrame(&fr); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("expected os.ErrClosed after Close, got %v", err)
	}
}

func TestDevice_WriteFrame(t *testing.T) {
	p := &fakePort{}
	d := NewDevice(p)
	fr := f(0x123, 9, 8, 7)
	if err := d.WriteFrame(fr); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if len(p.writes) != 1 || string(p.writes[0]) != string(Encode(fr)) {
		t.Fatalf("unexpected writes %v", p.writes)
	}
	fd, _ := can.NewFD(1, 0, []byte{1})
	if err := d.WriteFrame(fd); !errors.Is(err, ErrFDUnsupported) {
		t.Fatalf("expected ErrFDUnsupported, got %v", err)
	}
	if err := d.WriteFrame(can.Frame{CANID: 1 | can.CAN_RTR_FLAG}); !errors.Is(err, ErrRemoteUnsupported) {
		t.Fatalf("expected ErrRemoteUnsupported, got %v", err)
	}
}
