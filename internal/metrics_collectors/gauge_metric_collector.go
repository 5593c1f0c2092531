package metrics_collectors

import "context"

// GaugeMetricCollector reports an integer read from a running engine component,
// such as the number of open connections or queued notifications.
type GaugeMetricCollector struct {
	MetricName string
	MetricUnit string
	Summary    string
	Read       func() int
}

func (g *GaugeMetricCollector) Name() string {
	return g.MetricName
}

func (g *GaugeMetricCollector) Collect(ctx context.Context) interface{} {
	if g.Read == nil {
		return nil
	}
	return g.Read()
}

func (g *GaugeMetricCollector) Unit() string {
	if g.MetricUnit == "" {
		return "count"
	}
	return g.MetricUnit
}

func (g *GaugeMetricCollector) Description() string {
	return g.Summary
}
