package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-xmodem/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	FramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xmodem_frames_sent_total",
		Help: "Total data frames transmitted by the sender, retransmissions included.",
	})
	FramesAcked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xmodem_frames_acked_total",
		Help: "Total data frames acknowledged by the peer.",
	})
	FramesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xmodem_frames_accepted_total",
		Help: "Total data frames validated and delivered by the receiver.",
	})
	FramesDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xmodem_frames_duplicate_total",
		Help: "Total retransmitted frames re-acknowledged without delivery.",
	})
	FramesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xmodem_frames_rejected_total",
		Help: "Frames answered with NAK, by reason.",
	}, []string{"reason"})
	Retransmissions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xmodem_retries_total",
		Help: "Total non-ACK outcomes counted against retry ceilings.",
	})
	Cancels = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xmodem_cancels_total",
		Help: "CAN sequences sent or received.",
	}, []string{"direction"})
	Transfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xmodem_transfers_total",
		Help: "Completed sessions by role and result.",
	}, []string{"role", "result"})
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xmodem_sessions_active",
		Help: "Sessions currently running.",
	})
	TransportRxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transport_rx_bytes_total",
		Help: "Bytes moved from the transport into the ring buffer.",
	})
	TransportTxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transport_tx_bytes_total",
		Help: "Bytes written to the transport.",
	})
	RingFull = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ring_full_total",
		Help: "Times the waiter found the ring buffer full and paused.",
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
	ErrTransportRead  = "transport_read"
	ErrTransportWrite = "transport_write"
	ErrAccept         = "tcp_accept"
	ErrListen         = "tcp_listen"
	ErrSourceRead     = "source_read"
	ErrSinkWrite      = "sink_write"
)

// Frame rejection reasons.
const (
	RejectShort    = "short"
	RejectHeader   = "header"
	RejectSequence = "sequence"
	RejectTrailer  = "trailer"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
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

// Local mirrored counters for periodic logging without scraping.
var (
	localFramesSent  uint64
	localFramesAcked uint64
	localAccepted    uint64
	localDuplicate   uint64
	localRejected    uint64
	localRetries     uint64
	localCancels     uint64
	localRxBytes     uint64
	localTxBytes     uint64
	localRingFull    uint64
	localErrors      uint64
	localSessions    int64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	FramesSent     uint64
	FramesAcked    uint64
	FramesAccepted uint64
	Duplicates     uint64
	Rejected       uint64
	Retries        uint64
	Cancels        uint64
	RxBytes        uint64
	TxBytes        uint64
	RingFull       uint64
	Errors         uint64 // sum across error labels
	Sessions       int64
}

func Snap() Snapshot {
	return Snapshot{
		FramesSent:     atomic.LoadUint64(&localFramesSent),
		FramesAcked:    atomic.LoadUint64(&localFramesAcked),
		FramesAccepted: atomic.LoadUint64(&localAccepted),
		Duplicates:     atomic.LoadUint64(&localDuplicate),
		Rejected:       atomic.LoadUint64(&localRejected),
		Retries:        atomic.LoadUint64(&localRetries),
		Cancels:        atomic.LoadUint64(&localCancels),
		RxBytes:        atomic.LoadUint64(&localRxBytes),
		TxBytes:        atomic.LoadUint64(&localTxBytes),
		RingFull:       atomic.LoadUint64(&localRingFull),
		Errors:         atomic.LoadUint64(&localErrors),
		Sessions:       atomic.LoadInt64(&localSessions),
	}
}

func IncFrameSent() {
	FramesSent.Inc()
	atomic.AddUint64(&localFramesSent, 1)
}

func IncFrameAcked() {
	FramesAcked.Inc()
	atomic.AddUint64(&localFramesAcked, 1)
}

func IncFrameAccepted() {
	FramesAccepted.Inc()
	atomic.AddUint64(&localAccepted, 1)
}

func IncFrameDuplicate() {
	FramesDuplicate.Inc()
	atomic.AddUint64(&localDuplicate, 1)
}

// IncFrameRejected counts a NAKed frame under one of the Reject* reasons.
func IncFrameRejected(reason string) {
	FramesRejected.WithLabelValues(reason).Inc()
	atomic.AddUint64(&localRejected, 1)
}

func IncRetry() {
	Retransmissions.Inc()
	atomic.AddUint64(&localRetries, 1)
}

// IncCancel counts a CAN sequence; direction is "sent" or "received".
func IncCancel(direction string) {
	Cancels.WithLabelValues(direction).Inc()
	atomic.AddUint64(&localCancels, 1)
}

func IncTransfer(role, result string) { Transfers.WithLabelValues(role, result).Inc() }

// SessionStarted and SessionEnded track the active session gauge.
func SessionStarted() {
	SessionsActive.Inc()
	atomic.AddInt64(&localSessions, 1)
}

func SessionEnded() {
	SessionsActive.Dec()
	atomic.AddInt64(&localSessions, -1)
}

func AddRxBytes(n int) {
	TransportRxBytes.Add(float64(n))
	atomic.AddUint64(&localRxBytes, uint64(n))
}

func AddTxBytes(n int) {
	TransportTxBytes.Add(float64(n))
	atomic.AddUint64(&localTxBytes, uint64(n))
}

func IncRingFull() {
	RingFull.Inc()
	atomic.AddUint64(&localRingFull, 1)
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
		ErrTransportRead, ErrTransportWrite, ErrAccept, ErrListen,
		ErrSourceRead, ErrSinkWrite,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	for _, r := range []string{RejectShort, RejectHeader, RejectSequence, RejectTrailer} {
		FramesRejected.WithLabelValues(r).Add(0)
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
