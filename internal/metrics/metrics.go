// Package metrics holds the Prometheus collectors for ingestion and upstream model calls.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "knosi"

type Metrics struct {
	ingestTotal      *prometheus.CounterVec // by status: unchanged, created, updated, error
	ingestDuration   prometheus.Histogram
	batchesTotal     prometheus.Counter
	chunksTotal      prometheus.Counter
	upstreamErrors   *prometheus.CounterVec   // by error kind
	upstreamDuration *prometheus.HistogramVec // by call: embed, generate, extract
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_total",
			Help:      "Ingestions by outcome",
		}, []string{"status"}),
		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "End-to-end ingestion duration",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 180, 600, 1800},
		}),
		batchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_batches_total",
			Help:      "Page batches sent to the extraction service",
		}),
		chunksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_indexed_total",
			Help:      "Chunks written to the index",
		}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Failed calls to model services by error kind",
		}, []string{"kind"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_call_duration_seconds",
			Help:      "Model service call latency",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 300},
		}, []string{"call"}),
	}

	for _, c := range []prometheus.Collector{
		m.ingestTotal, m.ingestDuration, m.batchesTotal, m.chunksTotal, m.upstreamErrors, m.upstreamDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ObserveIngest(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ingestTotal.WithLabelValues(status).Inc()
	m.ingestDuration.Observe(d.Seconds())
}

func (m *Metrics) IncBatches() {
	if m == nil {
		return
	}
	m.batchesTotal.Inc()
}

func (m *Metrics) AddChunks(n int) {
	if m == nil {
		return
	}
	m.chunksTotal.Add(float64(n))
}

// ObserveUpstream records one model call; kind is empty on success.
func (m *Metrics) ObserveUpstream(call string, d time.Duration, kind string) {
	if m == nil {
		return
	}
	m.upstreamDuration.WithLabelValues(call).Observe(d.Seconds())
	if kind != "" {
		m.upstreamErrors.WithLabelValues(kind).Inc()
	}
}
