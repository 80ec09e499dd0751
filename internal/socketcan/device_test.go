//go:build linux

package socketcan

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/kstaniek/go-can-udp-bridge/internal/can"
)

// TestDeviceVCAN exchanges one frame between two sockets on vcan0.
// Skipped when no virtual CAN interface is configured.
func TestDeviceVCAN(t *testing.T) {
	writer, err := Open("vcan0", true)
	if err != nil {
		t.Skipf("vcan0 unavailable: %v", err)
	}
	defer writer.Close()
	reader, err := Open("vcan0", true)
	if err != nil {
		t.Skipf("vcan0 unavailable: %v", err)
	}
	defer reader.Close()

	fr, _ := can.NewClassic(13, []byte{1, 3, 3, 7})
	got := make(chan can.Frame, 1)
	errc := make(chan error, 1)
	go func() {
		var in can.Frame
		if err := reader.ReadFrame(&in); err != nil {
			errc <- err
			return
		}
		got <- in
	}()
	if err := writer.WriteFrame(fr); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	select {
	case in := <-got:
		if !in.Equal(fr) {
			t.Fatalf("unexpected frame %+v", in)
		}
	case err := <-errc:
		t.Fatalf("ReadFrame: %v", err)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for frame")
	}
}

func TestDeviceCloseUnblocksRead(t *testing.T) {
	d, err := Open("vcan0", false)
	if err != nil {
		t.Skipf("vcan0 unavailable: %v", err)
	}
	errc := make(chan error, 1)
	go func() {
		var fr can.Frame
		errc <- d.ReadFrame(&fr)
	}()
	time.Sleep(20 * time.Millisecond)
	_ = d.Close()
	select {
	case err := <-errc:
		if !errors.Is(err, os.ErrClosed) {
			t.Fatalf("expected os.ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ReadFrame still blocked after Close")
	}
	fd, _ := can.NewFD(1, 0, []byte{1})
	if err := d.WriteFrame(fd); !errors.Is(err, ErrFDDisabled) {
		t.Fatalf("expected ErrFDDisabled, got %v", err)
	}
}
