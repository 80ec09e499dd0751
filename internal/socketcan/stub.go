//go:build !linux

package socketcan

import (
	"errors"

	"github.com/kstaniek/go-can-udp-bridge/internal/can"
)

// ErrUnsupported is returned by Open on platforms without SocketCAN.
var ErrUnsupported = errors.New("socketcan: unsupported on this platform")

// Device is a placeholder so non-linux builds compile.
type Device struct{}

func Open(iface string, enableFD bool) (*Device, error) { return nil, ErrUnsupported }

func (d *Device) FD() bool                      { return false }
func (d *Device) Close() error                  { return nil }
func (d *Device) ReadFrame(fr *can.Frame) error { return ErrUnsupported }
func (d *Device) WriteFrame(fr can.Frame) error { return ErrUnsupported }
