package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/ampiolabs/uart-link-gateway/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	FramesOK = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_frames_ok_total",
		Help: "Total wire frames that passed CRC validation.",
	})
	FramesLenErr = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_frames_len_error_total",
		Help: "Total frames rejected for a LEN byte of zero or above the configured ceiling.",
	})
	FramesCRCErr = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_frames_crc_error_total",
		Help: "Total frames rejected for a CRC mismatch.",
	})
	FramesBudgetErr = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_frames_budget_error_total",
		Help: "Total frames aborted for exceeding the per-frame byte budget.",
	})
	RingDroppedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_ring_dropped_bytes_total",
		Help: "Total raw bytes evicted from the RX ring before the drain worker could consume them.",
	})
	QueueDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_queue_dropped_frames_total",
		Help: "Total decoded frames dropped because the delivery queue was full.",
	})
	TxFramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_tx_frames_total",
		Help: "Total frames successfully transmitted.",
	})
	TxBusyRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_tx_busy_total",
		Help: "Total SendFrame calls rejected because a transmission was already in flight.",
	})
	TxTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_tx_timeout_total",
		Help: "Total SendFrame calls that did not complete before their timeout.",
	})
	SinkPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sink_published_total",
		Help: "Total decoded records published to the downstream sink.",
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

// Error label constants (stable label values to bound cardinality)
const (
	ErrPortRead  = "port_read"
	ErrPortWrite = "port_write"
	ErrSinkWrite = "sink_write"
	ErrTLVDecode = "tlv_decode"
)

// StartHTTP serves Prometheus metrics at /metrics and a readiness probe at
// /ready on addr.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for cheap in-process logging without scraping.
var (
	localOK        uint64
	localLenErr    uint64
	localCRCErr    uint64
	localBudgetErr uint64
	localRingDrop  uint64
	localQueueDrop uint64
	localTxSent    uint64
	localTxBusy    uint64
	localTxTimeout uint64
	localSinkPub   uint64
	localErrors    uint64
)

// Snapshot is a cheap copy of the local counters.
type Snapshot struct {
	FramesOK        uint64
	FramesLenErr    uint64
	FramesCRCErr    uint64
	FramesBudgetErr uint64
	RingDrops       uint64
	QueueDrops      uint64
	TxSent          uint64
	TxBusy          uint64
	TxTimeouts      uint64
	SinkPublished   uint64
	Errors          uint64
}

func Snap() Snapshot {
	return Snapshot{
		FramesOK:        atomic.LoadUint64(&localOK),
		FramesLenErr:    atomic.LoadUint64(&localLenErr),
		FramesCRCErr:    atomic.LoadUint64(&localCRCErr),
		FramesBudgetErr: atomic.LoadUint64(&localBudgetErr),
		RingDrops:       atomic.LoadUint64(&localRingDrop),
		QueueDrops:      atomic.LoadUint64(&localQueueDrop),
		TxSent:          atomic.LoadUint64(&localTxSent),
		TxBusy:          atomic.LoadUint64(&localTxBusy),
		TxTimeouts:      atomic.LoadUint64(&localTxTimeout),
		SinkPublished:   atomic.LoadUint64(&localSinkPub),
		Errors:          atomic.LoadUint64(&localErrors),
	}
}

// AddFrameCounters folds a link.Counters-shaped delta into the Prometheus and
// local mirrors. Callers pass the deltas since the last sample, not a
// cumulative total.
func AddFrameCounters(ok, lenErr, crcErr, budgetErr, ringDrop, queueDrop uint64) {
	if ok > 0 {
		FramesOK.Add(float64(ok))
		atomic.AddUint64(&localOK, ok)
	}
	if lenErr > 0 {
		FramesLenErr.Add(float64(lenErr))
		atomic.AddUint64(&localLenErr, lenErr)
	}
	if crcErr > 0 {
		FramesCRCErr.Add(float64(crcErr))
		atomic.AddUint64(&localCRCErr, crcErr)
	}
	if budgetErr > 0 {
		FramesBudgetErr.Add(float64(budgetErr))
		atomic.AddUint64(&localBudgetErr, budgetErr)
	}
	if ringDrop > 0 {
		RingDroppedBytes.Add(float64(ringDrop))
		atomic.AddUint64(&localRingDrop, ringDrop)
	}
	if queueDrop > 0 {
		QueueDroppedFrames.Add(float64(queueDrop))
		atomic.AddUint64(&localQueueDrop, queueDrop)
	}
}

func IncTxSent() {
	TxFramesSent.Inc()
	atomic.AddUint64(&localTxSent, 1)
}

func IncTxBusy() {
	TxBusyRejections.Inc()
	atomic.AddUint64(&localTxBusy, 1)
}

func IncTxTimeout() {
	TxTimeouts.Inc()
	atomic.AddUint64(&localTxTimeout, 1)
}

func IncSinkPublished() {
	SinkPublished.Inc()
	atomic.AddUint64(&localSinkPub, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrPortRead, ErrPortWrite, ErrSinkWrite, ErrTLVDecode} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}
