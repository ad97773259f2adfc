package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the dc_* Prometheus metric set shared by all stages.
type Metrics struct {
	TargetsProcessed *prometheus.CounterVec // dc_targets_processed_total{pipeline,status}
	FilesDownloaded  *prometheus.CounterVec // dc_files_downloaded_total{pipeline,strategy}
	BytesDownloaded  *prometheus.CounterVec // dc_bytes_downloaded_total{pipeline}
	Errors           *prometheus.CounterVec // dc_errors_total{pipeline,error_type}
	DownloadDuration *prometheus.HistogramVec
	PipelineActive   *prometheus.GaugeVec
}

// NewMetrics registers the metric set on the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TargetsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dc_targets_processed_total",
			Help: "Targets processed by pipeline and final status.",
		}, []string{"pipeline", "status"}),
		FilesDownloaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dc_files_downloaded_total",
			Help: "Files fetched by pipeline and strategy.",
		}, []string{"pipeline", "strategy"}),
		BytesDownloaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dc_bytes_downloaded_total",
			Help: "Payload bytes written by pipeline.",
		}, []string{"pipeline"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dc_errors_total",
			Help: "Per-target errors by pipeline and error type.",
		}, []string{"pipeline", "error_type"}),
		DownloadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dc_download_duration_seconds",
			Help:    "Download duration by pipeline and strategy.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"pipeline", "strategy"}),
		PipelineActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dc_pipeline_active",
			Help: "Whether a pipeline is currently running.",
		}, []string{"pipeline"}),
	}
	reg.MustRegister(
		m.TargetsProcessed, m.FilesDownloaded, m.BytesDownloaded,
		m.Errors, m.DownloadDuration, m.PipelineActive,
	)
	return m
}
