package metrics_collectors

import "context"

// MetricCollector defines the interface for collecting a specific metric.
type MetricCollector interface {
	Name() string                            // Name of the metric (e.g., "connections", "process")
	Collect(ctx context.Context) interface{} // Collect the metric data; nil when unavailable
	Unit() string                            // Unit of the metric (e.g., "count", "bytes")
	Description() string                     // Description of the metric
}
