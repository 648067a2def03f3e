package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxlane/maestro/core"
)

// Metrics implements core.Metrics on an OpenTelemetry meter. Instruments are
// created on first use and cached by name; creation failures degrade to
// no-ops rather than failing the caller.
type Metrics struct {
	meter  metric.Meter
	logger core.Logger

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	histograms map[string]metric.Float64Histogram
	gauges     map[string]metric.Float64UpDownCounter
}

// NewMetrics creates a metrics recorder over an OpenTelemetry meter.
func NewMetrics(meter metric.Meter, logger core.Logger) *Metrics {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Metrics{
		meter:      meter,
		logger:     logger,
		counters:   make(map[string]metric.Float64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		gauges:     make(map[string]metric.Float64UpDownCounter),
	}
}

// Counter increments a counter by one.
func (m *Metrics) Counter(name string, labels map[string]string) {
	m.mu.Lock()
	c, ok := m.counters[name]
	if !ok {
		var err error
		c, err = m.meter.Float64Counter(name)
		if err != nil {
			m.mu.Unlock()
			m.instrumentError(name, err)
			return
		}
		m.counters[name] = c
	}
	m.mu.Unlock()
	c.Add(context.Background(), 1, metric.WithAttributes(toAttributes(labels)...))
}

// Histogram records one observation.
func (m *Metrics) Histogram(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	h, ok := m.histograms[name]
	if !ok {
		var err error
		h, err = m.meter.Float64Histogram(name)
		if err != nil {
			m.mu.Unlock()
			m.instrumentError(name, err)
			return
		}
		m.histograms[name] = h
	}
	m.mu.Unlock()
	h.Record(context.Background(), value, metric.WithAttributes(toAttributes(labels)...))
}

// Gauge adds delta to an up/down counter (positive or negative).
func (m *Metrics) Gauge(name string, delta float64, labels map[string]string) {
	m.mu.Lock()
	g, ok := m.gauges[name]
	if !ok {
		var err error
		g, err = m.meter.Float64UpDownCounter(name)
		if err != nil {
			m.mu.Unlock()
			m.instrumentError(name, err)
			return
		}
		m.gauges[name] = g
	}
	m.mu.Unlock()
	g.Add(context.Background(), delta, metric.WithAttributes(toAttributes(labels)...))
}

func (m *Metrics) instrumentError(name string, err error) {
	m.logger.Warn("Failed to create metric instrument", map[string]interface{}{
		"operation": "metric_instrument",
		"metric":    name,
		"error":     err.Error(),
	})
}

func toAttributes(labels map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}
