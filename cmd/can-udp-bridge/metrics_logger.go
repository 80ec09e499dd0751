package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-can-udp-bridge/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"can_rx", snap.CANRx,
					"can_tx", snap.CANTx,
					"udp_tx", snap.UDPTx,
					"udp_rx", snap.UDPRx,
					"flush_budget", snap.BudgetFlushes,
					"flush_timer", snap.TimerFlushes,
					"self_drops", snap.SelfDrops,
					"protocol_drops", snap.ProtocolDrops,
					"malformed", snap.Malformed,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
