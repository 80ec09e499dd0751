// Package bridge moves CAN frames between a bus device and a UDP endpoint:
// frames read from the bus are batched into datagrams, and received
// datagrams are replayed onto the bus.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/kstaniek/go-can-udp-bridge/internal/can"
	"github.com/kstaniek/go-can-udp-bridge/internal/cnl"
	"github.com/kstaniek/go-can-udp-bridge/internal/logging"
)

// Device is a CAN frame source and sink moving one frame per call.
// ReadFrame and WriteFrame may run concurrently; Close unblocks both.
type Device interface {
	ReadFrame(*can.Frame) error
	WriteFrame(can.Frame) error
	Close() error
}

// Endpoint is the UDP side: datagrams out to the peer, datagrams in with
// their source, and recognition of our own sender.
type Endpoint interface {
	Send([]byte) error
	Receive([]byte) (int, netip.AddrPort, error)
	IsSelf(netip.AddrPort) bool
	Close() error
}

const (
	DefaultForceAfter = 50 * time.Millisecond
	// minBudget fits the header plus one maximal FD frame.
	minBudget   = cnl.HeaderSize + 6 + can.CANFD_MAX_DLEN
	recvBufSize = 64 * 1024

	rxBackoffMin = 20 * time.Millisecond
	rxBackoffMax = 500 * time.Millisecond
)

// sleepFn waits out a read backoff; it returns false when ctx ends first.
var sleepFn = func(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Bridge runs the send and receive paths between one Device and one Endpoint.
type Bridge struct {
	dev        Device
	ep         Endpoint
	forceAfter time.Duration
	budget     int
	logger     *slog.Logger
}

type Option func(*Bridge)

// WithForceAfter bounds how long a partially filled batch may wait.
func WithForceAfter(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.forceAfter = d
		}
	}
}

// WithBudget sets the datagram size limit. Values outside
// [header+largest frame, 508] are ignored.
func WithBudget(n int) Option {
	return func(b *Bridge) {
		if n >= minBudget && n <= cnl.MaxDatagramSize {
			b.budget = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

func New(dev Device, ep Endpoint, opts ...Option) *Bridge {
	b := &Bridge{
		dev:        dev,
		ep:         ep,
		forceAfter: DefaultForceAfter,
		budget:     cnl.MaxDatagramSize,
		logger:     logging.L(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Run bridges until ctx is cancelled or either path fails fatally. Run owns
// the device and the endpoint and closes both before returning. Cancellation
// is a clean stop and returns nil; otherwise the first fatal error is
// returned, prefixed with the path it ended.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var closeOnce sync.Once
	closeAll := func() {
		closeOnce.Do(func() {
			_ = b.dev.Close()
			_ = b.ep.Close()
		})
	}
	stop := context.AfterFunc(ctx, closeAll)
	defer stop()

	b.logger.Info("bridge_start", "force_after", b.forceAfter, "budget", b.budget)

	frames := make(chan can.Frame)
	results := make(chan error, 3)
	var wg sync.WaitGroup
	spawn := func(path string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := fn(ctx)
			if err != nil {
				err = fmt.Errorf("%s: %w", path, err)
			}
			results <- err
		}()
	}
	spawn("send", func(ctx context.Context) error { return b.readCAN(ctx, frames) })
	spawn("send", func(ctx context.Context) error { return b.sendLoop(ctx, frames) })
	spawn("recv", b.recvLoop)

	first := <-results
	cancel()
	closeAll()
	wg.Wait()
	close(results)
	for err := range results {
		if first == nil {
			first = err
		}
	}
	if first != nil {
		b.logger.Error("bridge_stop", "error", first)
		return first
	}
	b.logger.Info("bridge_stop")
	return nil
}
