package serial

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-can-udp-bridge/internal/can"
)

const readBufSize = 4096 // per read() buffer

var (
	// ErrFDUnsupported is returned when writing a CAN FD frame to the UART adapter.
	ErrFDUnsupported = errors.New("serial: CAN FD not supported by adapter")
	// ErrRemoteUnsupported is returned for remote-request frames.
	ErrRemoteUnsupported = errors.New("serial: remote frames not supported by adapter")
)

// Device exposes an Ampio UART CAN adapter as a one-frame-at-a-time source
// and sink. ReadFrame must be called from a single goroutine; WriteFrame may
// be called concurrently with it.
type Device struct {
	port   Port
	dec    Decoder
	buf    []byte
	wmu    sync.Mutex
	closed atomic.Bool
}

func NewDevice(p Port) *Device {
	return &Device{port: p, buf: make([]byte, readBufSize)}
}

// ReadFrame returns the next frame decoded from the port. Read timeouts (EOF
// from the port) are waited out; any other port error is returned.
func (d *Device) ReadFrame(fr *can.Frame) error {
	for {
		if f, ok := d.dec.Next(); ok {
			*fr = f
			return nil
		}
		n, err := d.port.Read(d.buf)
		if n > 0 {
			_, _ = d.dec.Write(d.buf[:n])
		}
		if err != nil {
			if d.closed.Load() {
				return os.ErrClosed
			}
			if errors.Is(err, io.EOF) {
				continue
			}
			return fmt.Errorf("serial read: %w", err)
		}
	}
}

// WriteFrame writes one classic frame envelope.
func (d *Device) WriteFrame(fr can.Frame) error {
	if d.closed.Load() {
		return os.ErrClosed
	}
	if fr.FD {
		return ErrFDUnsupported
	}
	if fr.IsRemote() {
		return ErrRemoteUnsupported
	}
	if err := fr.Validate(); err != nil {
		return err
	}
	d.wmu.Lock()
	defer d.wmu.Unlock()
	if _, err := d.port.Write(Encode(fr)); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	return nil
}

func (d *Device) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	return d.port.Close()
}
