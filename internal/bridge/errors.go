package bridge

import (
	"errors"
	"net"
	"os"

	"github.com/kstaniek/go-can-udp-bridge/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrCANRead = errors.New("can_read")
	ErrUDPSend = errors.New("udp_send")
	ErrUDPRecv = errors.New("udp_recv")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrCANRead):
		return metrics.ErrCANRead
	case errors.Is(err, ErrUDPSend):
		return metrics.ErrUDPSend
	case errors.Is(err, ErrUDPRecv):
		return metrics.ErrUDPRecv
	default:
		return "other"
	}
}

// isClosed reports errors that mean the device or socket is gone for good.
func isClosed(err error) bool {
	return errors.Is(err, os.ErrClosed) || errors.Is(err, net.ErrClosed)
}
