package receiver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Frame error labels.
const (
	frameErrTooLarge  = "too_large"
	frameErrTruncated = "truncated"
	frameErrIO        = "io"
)

// Metrics are the Prometheus collectors a Server updates. A nil *Metrics
// records nothing.
type Metrics struct {
	connections  prometheus.Counter
	active       prometheus.Gauge
	files        prometheus.Counter
	bytes        prometheus.Counter
	frameErrors  *prometheus.CounterVec
	fileDuration prometheus.Histogram
}

// NewMetrics creates the receiver collectors and registers them with reg.
//
// Parameters:
//   - reg: Registerer to add the collectors to (e.g. prometheus.NewRegistry())
//
// Returns:
//   - The registered *Metrics
//   - An error if a collector with the same name is already registered
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "filexfer",
			Subsystem: "receiver",
			Name:      "connections_total",
			Help:      "Accepted sender connections.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "filexfer",
			Subsystem: "receiver",
			Name:      "active_connections",
			Help:      "Sender connections currently being served.",
		}),
		files: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "filexfer",
			Subsystem: "receiver",
			Name:      "files_total",
			Help:      "Files received completely.",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "filexfer",
			Subsystem: "receiver",
			Name:      "bytes_total",
			Help:      "File content bytes received, excluding length headers.",
		}),
		frameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "filexfer",
			Subsystem: "receiver",
			Name:      "frame_errors_total",
			Help:      "Frames that were not stored.",
		}, []string{"reason"}),
		fileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "filexfer",
			Subsystem: "receiver",
			Name:      "file_duration_seconds",
			Help:      "Time from length header to last content byte.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	for _, c := range []prometheus.Collector{m.connections, m.active, m.files, m.bytes, m.frameErrors, m.fileDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
	m.active.Inc()
}

func (m *Metrics) connClosed() {
	if m == nil {
		return
	}
	m.active.Dec()
}

func (m *Metrics) fileReceived(n uint64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.files.Inc()
	m.bytes.Add(float64(n))
	m.fileDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) frameFailed(reason string) {
	if m == nil {
		return
	}
	m.frameErrors.WithLabelValues(reason).Inc()
}
