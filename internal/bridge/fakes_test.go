package bridge

import (
	"context"
	"net"
	"net/netip"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-can-udp-bridge/internal/can"
	"github.com/kstaniek/go-can-udp-bridge/internal/cnl"
	"github.com/kstaniek/go-can-udp-bridge/internal/logging"
)

type readResult struct {
	fr  can.Frame
	err error
}

// fakeDevice delivers queued reads and records writes.
type fakeDevice struct {
	in       chan readResult
	wrote    chan can.Frame
	writeErr func(can.Frame) error
	done     chan struct{}
	once     sync.Once
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		in:    make(chan readResult, 64),
		wrote: make(chan can.Frame, 64),
		done:  make(chan struct{}),
	}
}

func (d *fakeDevice) ReadFrame(fr *can.Frame) error {
	select {
	case <-d.done:
		return os.ErrClosed
	default:
	}
	select {
	case r := <-d.in:
		if r.err != nil {
			return r.err
		}
		*fr = r.fr
		return nil
	case <-d.done:
		return os.ErrClosed
	}
}

func (d *fakeDevice) WriteFrame(fr can.Frame) error {
	if d.writeErr != nil {
		if err := d.writeErr(fr); err != nil {
			return err
		}
	}
	d.wrote <- fr
	return nil
}

func (d *fakeDevice) Close() error {
	d.once.Do(func() { close(d.done) })
	return nil
}

func (d *fakeDevice) closed() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

type datagram struct {
	b   []byte
	src netip.AddrPort
}

// fakeEndpoint queues inbound datagrams and captures outbound ones.
type fakeEndpoint struct {
	self    netip.AddrPort
	in      chan datagram
	out     chan []byte
	sendErr func() error
	done    chan struct{}
	once    sync.Once
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{
		self: netip.MustParseAddrPort("10.0.0.1:20000"),
		in:   make(chan datagram, 64),
		out:  make(chan []byte, 64),
		done: make(chan struct{}),
	}
}

func (e *fakeEndpoint) Send(b []byte) error {
	select {
	case <-e.done:
		return net.ErrClosed
	default:
	}
	if e.sendErr != nil {
		if err := e.sendErr(); err != nil {
			return err
		}
	}
	e.out <- slices.Clone(b)
	return nil
}

func (e *fakeEndpoint) Receive(b []byte) (int, netip.AddrPort, error) {
	select {
	case d := <-e.in:
		return copy(b, d.b), d.src, nil
	case <-e.done:
		return 0, netip.AddrPort{}, net.ErrClosed
	}
}

func (e *fakeEndpoint) IsSelf(src netip.AddrPort) bool { return src == e.self }

func (e *fakeEndpoint) Close() error {
	e.once.Do(func() { close(e.done) })
	return nil
}

func (e *fakeEndpoint) closed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

var peer = netip.MustParseAddrPort("10.0.0.2:20000")

func classic(t testing.TB, id uint32, data ...byte) can.Frame {
	t.Helper()
	fr, err := can.NewClassic(id, data)
	if err != nil {
		t.Fatalf("NewClassic: %v", err)
	}
	return fr
}

func fd64(t testing.TB, id uint32) can.Frame {
	t.Helper()
	fr, err := can.NewFD(id, can.CANFD_BRS, make([]byte, 64))
	if err != nil {
		t.Fatalf("NewFD: %v", err)
	}
	return fr
}

func batch(frames ...can.Frame) []byte {
	enc := cnl.NewEncoder()
	for _, fr := range frames {
		enc.Push(fr)
	}
	return enc.Finalize()
}

func decode(t testing.TB, b []byte) []can.Frame {
	t.Helper()
	r, err := cnl.TryRead(b)
	if err != nil || r == nil {
		t.Fatalf("TryRead: r=%v err=%v", r, err)
	}
	var out []can.Frame
	for fr := range r.Frames() {
		out = append(out, fr)
	}
	if r.Err() != nil {
		t.Fatalf("batch decode stopped: %v", r.Err())
	}
	return out
}

func recvDatagram(t testing.TB, ep *fakeEndpoint, within time.Duration) []byte {
	t.Helper()
	select {
	case b := <-ep.out:
		return b
	case <-time.After(within):
		t.Fatalf("no datagram within %v", within)
		return nil
	}
}

func recvWrite(t testing.TB, dev *fakeDevice, within time.Duration) can.Frame {
	t.Helper()
	select {
	case fr := <-dev.wrote:
		return fr
	case <-time.After(within):
		t.Fatalf("no CAN write within %v", within)
		return can.Frame{}
	}
}

// start runs a bridge in the background. The returned channel yields Run's
// result; cancel stops the bridge.
func start(t *testing.T, dev *fakeDevice, ep *fakeEndpoint, opts ...Option) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	b := New(dev, ep, opts...)
	go func() { errc <- b.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, errc
}

func waitRun(t testing.TB, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}
