package metrics_collectors

import (
	"context"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/process"
)

// ProcessMetrics is the resource usage of the engine process.
type ProcessMetrics struct {
	CPUUsage   float64 `json:"cpu_percent"`
	Memory     float64 `json:"rss_bytes"`
	OpenFiles  int32   `json:"open_files"`
	NumThreads int32   `json:"threads"`
}

// ProcessMetricCollector collects CPU, memory and descriptor usage of the
// current process. Each device websocket holds one descriptor.
type ProcessMetricCollector struct {
	Logger zerolog.Logger

	once sync.Once
	proc *process.Process
	err  error
}

func (p *ProcessMetricCollector) Name() string {
	return "process"
}

func (p *ProcessMetricCollector) Collect(ctx context.Context) interface{} {
	p.once.Do(func() {
		p.proc, p.err = process.NewProcess(int32(os.Getpid()))
	})
	if p.err != nil {
		p.Logger.Error().Err(p.err).Msg("Failed to open current process")
		return nil
	}

	m := &ProcessMetrics{}
	if cpuPercent, err := p.proc.CPUPercentWithContext(ctx); err == nil {
		m.CPUUsage = cpuPercent
	} else {
		p.Logger.Warn().Err(err).Msg("Failed to get CPU usage")
	}
	if memInfo, err := p.proc.MemoryInfoWithContext(ctx); err == nil {
		m.Memory = float64(memInfo.RSS)
	} else {
		p.Logger.Warn().Err(err).Msg("Failed to get memory information")
	}
	if fds, err := p.proc.NumFDsWithContext(ctx); err == nil {
		m.OpenFiles = fds
	} else {
		p.Logger.Debug().Err(err).Msg("Failed to count open files")
	}
	if threads, err := p.proc.NumThreadsWithContext(ctx); err == nil {
		m.NumThreads = threads
	}

	p.Logger.Debug().Float64("cpu_percent", m.CPUUsage).Float64("rss_bytes", m.Memory).Msg("Process metrics collected")
	return m
}

func (p *ProcessMetricCollector) Unit() string {
	return "varied (CPU: %, Memory: bytes, files and threads: count)"
}

func (p *ProcessMetricCollector) Description() string {
	return "CPU usage, resident memory, open descriptors and threads of the engine process."
}
