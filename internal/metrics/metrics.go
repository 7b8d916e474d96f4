// Package metrics holds the Prometheus collectors shared by the storage
// engine, the ingestor and the HTTP surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "attic"

// Metrics is a set of collectors registered against one registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Operations    *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
	DecodedFrames prometheus.Gauge
	Orphans       prometheus.Counter
	SweptFiles    prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Storage operations by name and outcome.",
		}, []string{"op", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Storage operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"op"}),
		DecodedFrames: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "decoded_frames",
			Help:      "Decoded images currently held in memory.",
		}),
		Orphans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphans_recorded_total",
			Help:      "Source files left behind after a successful transfer.",
		}),
		SweptFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_deleted_files_total",
			Help:      "Files removed by bulk sweeps.",
		}),
	}

	reg.MustRegister(m.Operations, m.Duration, m.DecodedFrames, m.Orphans, m.SweptFiles)
	return m
}

// Observe records one finished operation. Call it as
//
//	defer m.Observe("move", time.Now(), &err)
func (m *Metrics) Observe(op string, start time.Time, errp *error) {
	if m == nil {
		return
	}

	outcome := "ok"
	if errp != nil && *errp != nil {
		outcome = "error"
	}
	m.Operations.WithLabelValues(op, outcome).Inc()
	m.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) FrameDecoded() {
	if m != nil {
		m.DecodedFrames.Inc()
	}
}

func (m *Metrics) FrameReleased() {
	if m != nil {
		m.DecodedFrames.Dec()
	}
}

func (m *Metrics) OrphanRecorded() {
	if m != nil {
		m.Orphans.Inc()
	}
}

func (m *Metrics) FilesSwept(n int) {
	if m != nil && n > 0 {
		m.SweptFiles.Add(float64(n))
	}
}
