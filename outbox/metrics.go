package outbox

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/overtonx/catalog-service/outbox"

// Metric names emitted by the outbox components.
const (
	metricClaimed        = "outbox.dispatch.claimed"
	metricSucceeded      = "outbox.dispatch.succeeded"
	metricFailed         = "outbox.dispatch.failed"
	metricAbandoned      = "outbox.dispatch.abandoned"
	metricInterrupted    = "outbox.dispatch.interrupted"
	metricRetries        = "outbox.dispatch.retries"
	metricCycleErrors    = "outbox.dispatch.cycle_errors"
	metricCycleDuration  = "outbox.dispatch.cycle_duration"
	metricPublishLatency = "outbox.dispatch.publish_duration"
	metricBatchSize      = "outbox.dispatch.batch_size"
	metricRecovered      = "outbox.reconcile.recovered"
	metricReplayed       = "outbox.replay.replayed"
	metricPurged         = "outbox.cleanup.purged"
)

// NopMetricsCollector is a metrics collector that does nothing.
type NopMetricsCollector struct{}

func NewNopMetricsCollector() *NopMetricsCollector {
	return &NopMetricsCollector{}
}

func (m *NopMetricsCollector) IncrementCounter(name string, tags map[string]string) {}

func (m *NopMetricsCollector) RecordDuration(name string, duration time.Duration, tags map[string]string) {
}

func (m *NopMetricsCollector) RecordGauge(name string, value float64, tags map[string]string) {}

// OpenTelemetryMetricsCollector records outbox metrics through an OpenTelemetry meter.
// Instruments are created lazily on first use.
type OpenTelemetryMetricsCollector struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
	gauges     map[string]metric.Float64Gauge
}

// NewOpenTelemetryMetricsCollector uses the global meter provider.
func NewOpenTelemetryMetricsCollector() *OpenTelemetryMetricsCollector {
	return NewOpenTelemetryMetricsCollectorWithMeter(otel.Meter(meterName))
}

func NewOpenTelemetryMetricsCollectorWithMeter(meter metric.Meter) *OpenTelemetryMetricsCollector {
	return &OpenTelemetryMetricsCollector{
		meter:      meter,
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		gauges:     make(map[string]metric.Float64Gauge),
	}
}

func (m *OpenTelemetryMetricsCollector) IncrementCounter(name string, tags map[string]string) {
	counter, err := m.counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), 1, metric.WithAttributes(toAttributes(tags)...))
}

// RecordDuration records seconds.
func (m *OpenTelemetryMetricsCollector) RecordDuration(name string, duration time.Duration, tags map[string]string) {
	histogram, err := m.histogram(name)
	if err != nil {
		return
	}
	histogram.Record(context.Background(), duration.Seconds(), metric.WithAttributes(toAttributes(tags)...))
}

func (m *OpenTelemetryMetricsCollector) RecordGauge(name string, value float64, tags map[string]string) {
	gauge, err := m.gauge(name)
	if err != nil {
		return
	}
	gauge.Record(context.Background(), value, metric.WithAttributes(toAttributes(tags)...))
}

func (m *OpenTelemetryMetricsCollector) counter(name string) (metric.Int64Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.counters[name]; ok {
		return c, nil
	}
	c, err := m.meter.Int64Counter(name, metric.WithUnit("{record}"))
	if err != nil {
		return nil, err
	}
	m.counters[name] = c
	return c, nil
}

func (m *OpenTelemetryMetricsCollector) histogram(name string) (metric.Float64Histogram, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.histograms[name]; ok {
		return h, nil
	}
	h, err := m.meter.Float64Histogram(name, metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	m.histograms[name] = h
	return h, nil
}

func (m *OpenTelemetryMetricsCollector) gauge(name string) (metric.Float64Gauge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g, ok := m.gauges[name]; ok {
		return g, nil
	}
	g, err := m.meter.Float64Gauge(name)
	if err != nil {
		return nil, err
	}
	m.gauges[name] = g
	return g, nil
}

func toAttributes(tags map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(tags))
	for key, value := range tags {
		attrs = append(attrs, attribute.String(key, value))
	}
	return attrs
}
