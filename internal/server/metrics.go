package server

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks control plane activity. A nil *Metrics records nothing.
type Metrics struct {
	// Requests counts API calls by endpoint and error code.
	Requests *prometheus.CounterVec
	// Duration tracks handler latency by endpoint.
	Duration *prometheus.HistogramVec
	// InitStatus counts init_upload outcomes.
	// Labels: status=[uploading, completed, storagelimit, perfilemaxlimit]
	InitStatus *prometheus.CounterVec
	// ConfirmedBytes counts bytes confirmed through upload_part.
	ConfirmedBytes prometheus.Counter
	// StoredBytes is the account usage after the last completed upload.
	StoredBytes prometheus.Gauge
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudattach_api_requests_total",
				Help: "Total control plane requests by endpoint and error code",
			},
			[]string{"endpoint", "code"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cloudattach_api_request_duration_seconds",
				Help:    "Control plane request duration by endpoint",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		InitStatus: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudattach_init_upload_total",
				Help: "init_upload outcomes by upload status",
			},
			[]string{"status"},
		),
		ConfirmedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cloudattach_confirmed_bytes_total",
			Help: "Bytes confirmed by upload_part",
		}),
		StoredBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cloudattach_stored_bytes",
			Help: "Bytes stored for the account",
		}),
	}
	reg.MustRegister(m.Requests, m.Duration, m.InitStatus, m.ConfirmedBytes, m.StoredBytes)
	return m
}

func (m *Metrics) observe(endpoint string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(endpoint, codeLabel(code)).Inc()
	m.Duration.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (m *Metrics) initStatus(status string) {
	if m == nil {
		return
	}
	m.InitStatus.WithLabelValues(status).Inc()
}

func (m *Metrics) confirmed(n int64) {
	if m == nil {
		return
	}
	m.ConfirmedBytes.Add(float64(n))
}

func (m *Metrics) stored(usage int64) {
	if m == nil {
		return
	}
	m.StoredBytes.Set(float64(usage))
}

func codeLabel(code int) string {
	if code == 0 {
		return "ok"
	}
	return strconv.Itoa(code)
}
