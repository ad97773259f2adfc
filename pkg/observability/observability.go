// Package observability bundles the logger, tracer, and metric set every
// stage carries. There are no package-level singletons: each run constructs
// one Obs and threads it through explicitly, and a disabled exporter leaves
// all recording calls as no-ops.
package observability

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config selects which signals a run emits.
type Config struct {
	ServiceName   string
	OTLPEndpoint  string
	MetricsServer bool
	MetricsAddr   string
	Quiet         bool
}

// FromEnv reads the observability environment contract.
func FromEnv() Config {
	cfg := Config{
		ServiceName:  os.Getenv("OTEL_SERVICE_NAME"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		MetricsAddr:  ":9090",
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "datacollector"
	}
	if os.Getenv("DC_METRICS_SERVER") == "1" {
		cfg.MetricsServer = true
	}
	return cfg
}

// Obs is the per-run observability context.
type Obs struct {
	Log     *slog.Logger
	Metrics *Metrics

	tracer         trace.Tracer
	tracerProvider *sdktrace.TracerProvider
	metricsSrv     *http.Server
}

// Noop returns an Obs that records nothing. Log output is discarded.
func Noop() *Obs {
	return &Obs{
		Log:     slog.New(slog.DiscardHandler),
		Metrics: NewMetrics(prometheus.NewRegistry()),
		tracer:  noop.NewTracerProvider().Tracer("datacollector"),
	}
}

// New builds the run observability context. An unreachable OTLP endpoint
// logs a warning and disables tracing rather than failing the run.
func New(ctx context.Context, cfg Config) *Obs {
	level := slog.LevelInfo
	if cfg.Quiet {
		level = slog.LevelWarn
	}
	o := &Obs{
		Log: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}

	registry := prometheus.NewRegistry()
	o.Metrics = NewMetrics(registry)
	if cfg.MetricsServer {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		o.metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := o.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				o.Log.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	if cfg.OTLPEndpoint != "" {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			o.Log.Warn("otlp exporter unavailable, tracing disabled", "error", err)
		} else {
			res, _ := resource.Merge(resource.Default(),
				resource.NewWithAttributes(semconv.SchemaURL,
					semconv.ServiceName(cfg.ServiceName)))
			o.tracerProvider = sdktrace.NewTracerProvider(
				sdktrace.WithBatcher(exporter),
				sdktrace.WithResource(res),
			)
			o.tracer = o.tracerProvider.Tracer(cfg.ServiceName)
		}
	}
	if o.tracer == nil {
		o.tracer = noop.NewTracerProvider().Tracer(cfg.ServiceName)
	}
	return o
}

// StartSpan opens a span named after the operation.
func (o *Obs) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, name, opts...)
}

// Shutdown flushes the tracer and stops the metrics server.
func (o *Obs) Shutdown(ctx context.Context) {
	if o.tracerProvider != nil {
		if err := o.tracerProvider.Shutdown(ctx); err != nil {
			o.Log.Warn("tracer shutdown", "error", err)
		}
	}
	if o.metricsSrv != nil {
		if err := o.metricsSrv.Shutdown(ctx); err != nil {
			o.Log.Warn("metrics server shutdown", "error", err)
		}
	}
}
