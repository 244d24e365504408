package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "seismic_locator"

// Metrics holds the Prometheus counters, histograms, and gauges for the locate pipeline.
type Metrics struct {
	JobsConsumed    prometheus.Counter
	ResultsProduced prometheus.Counter
	JobsFailed      *prometheus.CounterVec // labels: stage
	PipelineRunning prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Waveform decoding metrics.
	BlocksDecoded prometheus.Counter
	BlocksSkipped prometheus.Counter

	// FDSN metrics.
	FDSNRequests        *prometheus.CounterVec   // labels: kind={station,dataselect}, outcome={success,error,empty}
	FDSNCache           *prometheus.CounterVec   // labels: result={hit,miss}
	FDSNRequestDuration *prometheus.HistogramVec // labels: kind

	LocateDuration prometheus.Histogram
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		JobsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_consumed_total",
			Help:      "Total locate jobs read from the source topic.",
		}),
		ResultsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_produced_total",
			Help:      "Total locate results written to the sink topic.",
		}),
		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Locate jobs that produced a failed result, by stage.",
		}, []string{"stage"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of jobs per batch extracted from Kafka.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-transform-load cycle.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		BlocksDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_decoded_total",
			Help:      "miniSEED records decoded.",
		}),
		BlocksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_skipped_total",
			Help:      "miniSEED records skipped after a recoverable decode error.",
		}),
		FDSNRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fdsn_requests_total",
			Help:      "FDSN web-service requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
		FDSNCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fdsn_cache_total",
			Help:      "FDSN cache lookups by result.",
		}, []string{"result"}),
		FDSNRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fdsn_request_duration_seconds",
			Help:      "FDSN web-service request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"kind"}),
		LocateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "locate_duration_seconds",
			Help:      "Time spent in pick, delay and solve for one event.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}

	prometheus.MustRegister(
		m.JobsConsumed,
		m.ResultsProduced,
		m.JobsFailed,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.BlocksDecoded,
		m.BlocksSkipped,
		m.FDSNRequests,
		m.FDSNCache,
		m.FDSNRequestDuration,
		m.LocateDuration,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return NewLocalMetrics()
}

// NewLocalMetrics creates unregistered Metrics for one-shot commands that
// never serve /metrics.
func NewLocalMetrics() *Metrics {
	return &Metrics{
		JobsConsumed:            prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "jobs_consumed_total"}),
		ResultsProduced:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "results_produced_total"}),
		JobsFailed:              prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "jobs_failed_total"}, []string{"stage"}),
		PipelineRunning:         prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "pipeline_running"}),
		BatchSize:               prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "batch_size"}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "batch_processing_duration_seconds"}),
		BlocksDecoded:           prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "blocks_decoded_total"}),
		BlocksSkipped:           prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "blocks_skipped_total"}),
		FDSNRequests:            prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "fdsn_requests_total"}, []string{"kind", "outcome"}),
		FDSNCache:               prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "fdsn_cache_total"}, []string{"result"}),
		FDSNRequestDuration:     prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: "fdsn_request_duration_seconds"}, []string{"kind"}),
		LocateDuration:          prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "locate_duration_seconds"}),
	}
}
