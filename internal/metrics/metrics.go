package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kstaniek/go-can-udp-bridge/internal/logging"
)

// Prometheus counters
var (
	CANRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_rx_frames_total",
		Help: "Total CAN frames read from the bus backend.",
	})
	CANTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_tx_frames_total",
		Help: "Total CAN frames written to the bus backend.",
	})
	UDPTxDatagrams = promauto.NewCounter(prometheus.CounterOpts{
		Name: "udp_tx_datagrams_total",
		Help: "Total batch datagrams sent.",
	})
	UDPRxDatagrams = promauto.NewCounter(prometheus.CounterOpts{
		Name: "udp_rx_datagrams_total",
		Help: "Total datagrams received (before filtering).",
	})
	UDPTxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "udp_tx_bytes_total",
		Help: "Total bytes sent in batch datagrams.",
	})
	UDPRxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "udp_rx_bytes_total",
		Help: "Total bytes received in datagrams.",
	})
	Flushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_flushes_total",
		Help: "Batch flushes by trigger.",
	}, []string{"reason"})
	BatchFrames = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "batch_frames",
		Help:    "Frames per flushed batch.",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
	})
	SelfDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "udp_self_drops_total",
		Help: "Datagrams dropped because they originated from this bridge.",
	})
	ProtocolDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "udp_protocol_drops_total",
		Help: "Datagrams dropped for unknown version or opcode.",
	})
	MalformedBatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_batches_total",
		Help: "Batches whose frame decoding stopped early (truncated or invalid length).",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Flush reasons.
const (
	FlushBudget = "budget"
	FlushTimer  = "timer"
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrCANRead      = "can_read"
	ErrCANWrite     = "can_write"
	ErrUDPSend      = "udp_send"
	ErrUDPRecv      = "udp_recv"
	ErrSerialDecode = "serial_decode"
)

// NewRouter returns the HTTP handler serving /metrics and /ready.
func NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	return r
}

// StartHTTP serves metrics and readiness on addr in the background.
func StartHTTP(addr string) *http.Server {
	srv := &http.Server{
		Addr:    addr,
		Handler: NewRouter(),
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localCANRx      uint64
	localCANTx      uint64
	localUDPTx      uint64
	localUDPRx      uint64
	localUDPTxBytes uint64
	localUDPRxBytes uint64
	localFlushBud   uint64
	localFlushTmr   uint64
	localSelfDrop   uint64
	localProtoDrop  uint64
	localMalformed  uint64
	localErrors     uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	CANRx         uint64
	CANTx         uint64
	UDPTx         uint64
	UDPRx         uint64
	UDPTxBytes    uint64
	UDPRxBytes    uint64
	BudgetFlushes uint64
	TimerFlushes  uint64
	SelfDrops     uint64
	ProtocolDrops uint64
	Malformed     uint64
	Errors        uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		CANRx:         atomic.LoadUint64(&localCANRx),
		CANTx:         atomic.LoadUint64(&localCANTx),
		UDPTx:         atomic.LoadUint64(&localUDPTx),
		UDPRx:         atomic.LoadUint64(&localUDPRx),
		UDPTxBytes:    atomic.LoadUint64(&localUDPTxBytes),
		UDPRxBytes:    atomic.LoadUint64(&localUDPRxBytes),
		BudgetFlushes: atomic.LoadUint64(&localFlushBud),
		TimerFlushes:  atomic.LoadUint64(&localFlushTmr),
		SelfDrops:     atomic.LoadUint64(&localSelfDrop),
		ProtocolDrops: atomic.LoadUint64(&localProtoDrop),
		Malformed:     atomic.LoadUint64(&localMalformed),
		Errors:        atomic.LoadUint64(&localErrors),
	}
}

// Wrapper helpers to keep call sites simple.
func IncCANRx() {
	CANRxFrames.Inc()
	atomic.AddUint64(&localCANRx, 1)
}

func IncCANTx() {
	CANTxFrames.Inc()
	atomic.AddUint64(&localCANTx, 1)
}

// AddUDPTx records one sent datagram of n bytes.
func AddUDPTx(n int) {
	UDPTxDatagrams.Inc()
	UDPTxBytes.Add(float64(n))
	atomic.AddUint64(&localUDPTx, 1)
	atomic.AddUint64(&localUDPTxBytes, uint64(n))
}

// AddUDPRx records one received datagram of n bytes.
func AddUDPRx(n int) {
	UDPRxDatagrams.Inc()
	UDPRxBytes.Add(float64(n))
	atomic.AddUint64(&localUDPRx, 1)
	atomic.AddUint64(&localUDPRxBytes, uint64(n))
}

// ObserveFlush records a flushed batch of frames frames.
func ObserveFlush(reason string, frames int) {
	Flushes.WithLabelValues(reason).Inc()
	BatchFrames.Observe(float64(frames))
	switch reason {
	case FlushBudget:
		atomic.AddUint64(&localFlushBud, 1)
	case FlushTimer:
		atomic.AddUint64(&localFlushTmr, 1)
	}
}

func IncSelfDrop() {
	SelfDrops.Inc()
	atomic.AddUint64(&localSelfDrop, 1)
}

func IncProtocolDrop() {
	ProtocolDrops.Inc()
	atomic.AddUint64(&localProtoDrop, 1)
}

func IncMalformed() {
	MalformedBatches.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register label series so dashboards see zeros before the first event.
	for _, lbl := range []string{
		ErrCANRead, ErrCANWrite, ErrUDPSend, ErrUDPRecv, ErrSerialDecode,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	for _, r := range []string{FlushBudget, FlushTimer} {
		Flushes.WithLabelValues(r).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
