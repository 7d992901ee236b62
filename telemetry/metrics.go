package telemetry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/metric"
)

// MetricInstruments caches the counter/histogram instruments RecordMetric
// creates lazily on first use, keyed by metric name. A meter only allows one
// instrument registration per name, so every recorder after the first reuses
// the cached handle instead of re-registering.
type MetricInstruments struct {
	meter      metric.Meter
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
	mu         sync.RWMutex
}

// NewMetricInstruments creates an instrument cache backed by meter.
func NewMetricInstruments(meter metric.Meter) *MetricInstruments {
	return &MetricInstruments{
		meter:      meter,
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

// RecordCounter increments a monotonic counter, creating it on first use.
func (m *MetricInstruments) RecordCounter(ctx context.Context, name string, value int64, opts ...metric.AddOption) error {
	m.mu.RLock()
	counter, ok := m.counters[name]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if counter, ok = m.counters[name]; !ok {
			var err error
			counter, err = m.meter.Int64Counter(name)
			if err != nil {
				m.mu.Unlock()
				return fmt.Errorf("creating counter %s: %w", name, err)
			}
			m.counters[name] = counter
		}
		m.mu.Unlock()
	}
	counter.Add(ctx, value, opts...)
	return nil
}

// RecordHistogram records a value distribution, creating the histogram on
// first use. The orchestrator's per-query elapsed time flows through this
// path; nothing records step durations.
func (m *MetricInstruments) RecordHistogram(ctx context.Context, name string, value float64, opts ...metric.RecordOption) error {
	m.mu.RLock()
	histogram, ok := m.histograms[name]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if histogram, ok = m.histograms[name]; !ok {
			var err error
			histogram, err = m.meter.Float64Histogram(name)
			if err != nil {
				m.mu.Unlock()
				return fmt.Errorf("creating histogram %s: %w", name, err)
			}
			m.histograms[name] = histogram
		}
		m.mu.Unlock()
	}
	histogram.Record(ctx, value, opts...)
	return nil
}

// isDurationMetric heuristically routes a metric name to a histogram
// instrument rather than a counter: anything describing elapsed time gets a
// distribution, everything else accumulates.
func isDurationMetric(name string) bool {
	for _, suffix := range []string{"_ms", ".elapsed_ms", ".duration", "_duration"} {
		if strings.Contains(name, suffix) {
			return true
		}
	}
	return false
}

// Orchestrator-specific metric name constants, named the way a caller would
// search Grafana for them: component.noun.unit.
const (
	MetricQueryElapsedMs       = "orchestrator.query.elapsed_ms"
	MetricQueryFailures        = "orchestrator.query.failures"
	MetricStepElapsedMs        = "executor.step.elapsed_ms"
	MetricStepRetries          = "executor.step.retries"
	MetricToolInvocations      = "registry.tool.invocations"
	MetricSessionSweepEvicted  = "session.sweep.evicted"
)
