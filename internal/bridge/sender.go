package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/kstaniek/go-can-udp-bridge/internal/can"
	"github.com/kstaniek/go-can-udp-bridge/internal/cnl"
	"github.com/kstaniek/go-can-udp-bridge/internal/metrics"
)

// readCAN reads one frame at a time and hands it to the send loop. The
// handover is unbuffered so no frame is read ahead of the batch. out is
// closed on return.
func (b *Bridge) readCAN(ctx context.Context, out chan<- can.Frame) error {
	defer close(out)
	backoff := rxBackoffMin
	for {
		var fr can.Frame
		if err := b.dev.ReadFrame(&fr); err != nil {
			if ctx.Err() != nil { // shutting down
				return nil
			}
			if isClosed(err) {
				wrap := fmt.Errorf("%w: %v", ErrCANRead, err)
				metrics.IncError(mapErrToMetric(wrap))
				return wrap
			}
			metrics.IncError(metrics.ErrCANRead)
			b.logger.Warn("can_read_error", "error", err, "backoff", backoff)
			if !sleepFn(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, rxBackoffMax)
			continue
		}
		backoff = rxBackoffMin
		metrics.IncCANRx()
		select {
		case out <- fr:
		case <-ctx.Done():
			return nil
		}
	}
}

// sendLoop batches frames and flushes when the next frame would exceed the
// budget or when the force-flush timer fires. Only one of the two events is
// taken per iteration; the other stays pending for the next.
func (b *Bridge) sendLoop(ctx context.Context, in <-chan can.Frame) error {
	enc := cnl.NewEncoder()
	var (
		timer  *time.Timer
		timerC <-chan time.Time // nil while disarmed
	)
	disarm := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, timerC = nil, nil
	}
	arm := func() {
		disarm()
		timer = time.NewTimer(b.forceAfter)
		timerC = timer.C
	}
	defer disarm()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timerC:
			timer, timerC = nil, nil
			if err := b.flush(enc, metrics.FlushTimer); err != nil {
				return err
			}
		case fr, ok := <-in:
			if !ok {
				return nil
			}
			if enc.Size()+cnl.EncodedSize(fr) > b.budget {
				if enc.Count() > 0 {
					if err := b.flush(enc, metrics.FlushBudget); err != nil {
						return err
					}
				}
				enc.Push(fr)
				arm()
				continue
			}
			enc.Push(fr)
			if timerC == nil {
				arm()
			}
		}
	}
}

// flush finalizes the current batch and sends it. Send failures drop the
// batch; only a closed socket is fatal.
func (b *Bridge) flush(enc *cnl.Encoder, reason string) error {
	frames := enc.Count()
	seq := enc.Sequence()
	buf := enc.Finalize()
	if err := b.ep.Send(buf); err != nil {
		if isClosed(err) {
			wrap := fmt.Errorf("%w: %v", ErrUDPSend, err)
			metrics.IncError(mapErrToMetric(wrap))
			return wrap
		}
		metrics.IncError(metrics.ErrUDPSend)
		b.logger.Warn("udp_send_error", "error", err, "frames", frames, "seq", seq)
		return nil
	}
	metrics.AddUDPTx(len(buf))
	metrics.ObserveFlush(reason, frames)
	b.logger.Debug("batch_sent", "reason", reason, "frames", frames, "bytes", len(buf), "seq", seq)
	return nil
}
