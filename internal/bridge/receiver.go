package bridge

import (
	"context"
	"fmt"

	"github.com/kstaniek/go-can-udp-bridge/internal/cnl"
	"github.com/kstaniek/go-can-udp-bridge/internal/metrics"
)

// recvLoop replays received batches onto the bus. Our own datagrams and
// foreign protocol versions are dropped; a frame the device refuses is
// skipped and the rest of the batch still goes out.
func (b *Bridge) recvLoop(ctx context.Context) error {
	buf := make([]byte, recvBufSize)
	for {
		n, src, err := b.ep.Receive(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isClosed(err) {
				wrap := fmt.Errorf("%w: %v", ErrUDPRecv, err)
				metrics.IncError(mapErrToMetric(wrap))
				return wrap
			}
			metrics.IncError(metrics.ErrUDPRecv)
			b.logger.Warn("udp_recv_error", "error", err)
			continue
		}
		metrics.AddUDPRx(n)
		if b.ep.IsSelf(src) {
			metrics.IncSelfDrop()
			continue
		}
		r, err := cnl.TryRead(buf[:n])
		if r == nil {
			metrics.IncProtocolDrop()
			b.logger.Debug("datagram_dropped", "src", src, "bytes", n, "error", err)
			continue
		}
		written, failed := 0, 0
		for fr := range r.Frames() {
			if err := b.dev.WriteFrame(fr); err != nil {
				failed++
				metrics.IncError(metrics.ErrCANWrite)
				b.logger.Debug("can_write_error", "error", err, "can_id", fmt.Sprintf("0x%X", fr.CANID))
				continue
			}
			written++
			metrics.IncCANTx()
		}
		if err := r.Err(); err != nil {
			metrics.IncMalformed()
			b.logger.Warn("malformed_batch", "src", src, "seq", r.Sequence(), "written", written, "error", err)
		}
		if failed > 0 {
			b.logger.Warn("can_write_failed", "src", src, "seq", r.Sequence(), "failed", failed, "written", written)
		}
	}
}
