//go:build linux

package socketcan

import (
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-can-udp-bridge/internal/can"
)

// Device is a raw SocketCAN socket. The descriptor is non-blocking and
// registered with the Go netpoller: ReadFrame and WriteFrame park the calling
// goroutine until the socket is ready, then move exactly one frame.
type Device struct {
	f      *os.File
	rc     syscall.RawConn
	fd     bool
	closed atomic.Bool
}

// Open binds a raw CAN socket to iface. With enableFD the socket also carries
// CAN FD frames when the kernel supports it.
func Open(iface string, enableFD bool) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	fdOn := 0
	if enableFD {
		fdOn = 1
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, fdOn); err != nil {
		// Older kernels may not know this option; ignore ENOPROTOOPT
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("set CAN_RAW_FD_FRAMES=%d: %w", fdOn, err)
		}
		enableFD = false
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	f := os.NewFile(uintptr(fd), "can@"+iface)
	rc, err := f.SyscallConn()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("syscall conn(can@%s): %w", iface, err)
	}
	return &Device{f: f, rc: rc, fd: enableFD}, nil
}

// FD reports whether the socket carries CAN FD frames.
func (d *Device) FD() bool { return d.fd }

func (d *Device) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	return d.f.Close()
}

// ReadFrame waits for the socket to become readable and reads one frame.
// Errors are returned as-is; retrying is up to the caller.
func (d *Device) ReadFrame(fr *can.Frame) error {
	var buf [fdMTU]byte
	var n int
	var rerr error
	err := d.rc.Read(func(fd uintptr) bool {
		n, rerr = unix.Read(int(fd), buf[:])
		return rerr != unix.EAGAIN
	})
	if err == nil {
		err = rerr
	}
	if err != nil {
		if d.closed.Load() {
			return os.ErrClosed
		}
		return fmt.Errorf("read(can): %w", err)
	}
	return unmarshalFrame(buf[:n], fr)
}

// WriteFrame waits for the socket to become writable and writes one frame.
func (d *Device) WriteFrame(fr can.Frame) error {
	if fr.FD && !d.fd {
		return ErrFDDisabled
	}
	var buf [fdMTU]byte
	size, err := marshalFrame(fr, &buf)
	if err != nil {
		return err
	}
	var n int
	var werr error
	err = d.rc.Write(func(fd uintptr) bool {
		n, werr = unix.Write(int(fd), buf[:size])
		return werr != unix.EAGAIN
	})
	if err == nil {
		err = werr
	}
	if err != nil {
		if d.closed.Load() {
			return os.ErrClosed
		}
		return fmt.Errorf("write(can): %w", err)
	}
	if n != size {
		return fmt.Errorf("%w: %d of %d", ErrShortWrite, n, size)
	}
	return nil
}
