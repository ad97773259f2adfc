package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNoop records nothing but accepts every call.
func TestNoop(t *testing.T) {
	o := Noop()

	ctx, span := o.StartSpan(context.Background(), "classify.target")
	span.End()
	require.NotNil(t, ctx)

	o.Log.Info("discarded")
	o.Metrics.TargetsProcessed.WithLabelValues("classify", "ok").Inc()
	o.Shutdown(context.Background())
}

func TestNew_WithoutEndpointDisablesTracing(t *testing.T) {
	o := New(context.Background(), Config{ServiceName: "dc-test", Quiet: true})
	_, span := o.StartSpan(context.Background(), "acquire.target")
	assert.False(t, span.SpanContext().IsValid(), "noop tracer emits invalid span contexts")
	span.End()
	o.Shutdown(context.Background())
}

func TestNewMetrics_RegistersAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.TargetsProcessed.WithLabelValues("acquire_green", "ok").Add(3)
	m.BytesDownloaded.WithLabelValues("acquire_green").Add(2048)

	assert.Equal(t, 3.0, testutil.ToFloat64(
		m.TargetsProcessed.WithLabelValues("acquire_green", "ok")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(
		m.BytesDownloaded.WithLabelValues("acquire_green")))
}

func TestFromEnv(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("DC_METRICS_SERVER", "")
	cfg := FromEnv()
	assert.Equal(t, "datacollector", cfg.ServiceName)
	assert.False(t, cfg.MetricsServer)
	assert.Equal(t, ":9090", cfg.MetricsAddr)

	t.Setenv("OTEL_SERVICE_NAME", "dc-fleet")
	t.Setenv("DC_METRICS_SERVER", "1")
	cfg = FromEnv()
	assert.Equal(t, "dc-fleet", cfg.ServiceName)
	assert.True(t, cfg.MetricsServer)
}
