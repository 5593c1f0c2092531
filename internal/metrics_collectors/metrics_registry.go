package metrics_collectors

import (
	"context"
	"sync"
)

// Metric is one collected value as reported on the metrics endpoint.
type Metric struct {
	Value       interface{} `json:"value"`
	Unit        string      `json:"unit"`
	Description string      `json:"description,omitempty"`
}

// The registry will manage all metric collectors and provide a way to add them dynamically.
type MetricsRegistry struct {
	mu         sync.RWMutex
	collectors map[string]MetricCollector
}

// NewMetricsRegistry creates a new MetricsRegistry instance.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		collectors: make(map[string]MetricCollector),
	}
}

// Register adds a new metric collector to the registry.
func (r *MetricsRegistry) Register(collector MetricCollector) {
	r.mu.Lock()
	r.collectors[collector.Name()] = collector
	r.mu.Unlock()
}

// GetCollectors returns a copy of the registered collectors.
func (r *MetricsRegistry) GetCollectors() map[string]MetricCollector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]MetricCollector, len(r.collectors))
	for name, c := range r.collectors {
		out[name] = c
	}
	return out
}

// Snapshot collects every registered metric. Collectors that yield nothing are skipped.
func (r *MetricsRegistry) Snapshot(ctx context.Context) map[string]Metric {
	out := make(map[string]Metric)
	for name, c := range r.GetCollectors() {
		v := c.Collect(ctx)
		if v == nil {
			continue
		}
		out[name] = Metric{Value: v, Unit: c.Unit(), Description: c.Description()}
	}
	return out
}
