package metrics_collectors

import (
	"context"
	"runtime"

	"github.com/rs/zerolog"
)

// GoroutineMetricCollector collects the number of active goroutines.
type GoroutineMetricCollector struct {
	Logger zerolog.Logger
}

func (g *GoroutineMetricCollector) Name() string {
	return "goroutines"
}

// Collect retrieves the number of active goroutines. Each open device
// connection holds two.
func (g *GoroutineMetricCollector) Collect(ctx context.Context) interface{} {
	n := runtime.NumGoroutine()
	g.Logger.Debug().Int("goroutines", n).Msg("Goroutine count collected")
	return n
}

func (g *GoroutineMetricCollector) Unit() string {
	return "count"
}

func (g *GoroutineMetricCollector) Description() string {
	return "Number of active goroutines in the runtime."
}
