package metrics

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

const selfSampleInterval = 30 * time.Second

// RunSelfSampler periodically samples the agent process's CPU and memory
// into the self gauges until ctx is cancelled.
func (a *Agent) RunSelfSampler(ctx context.Context, log *zap.Logger) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn("self sampler unavailable", zap.Error(err))
		return
	}

	ticker := time.NewTicker(selfSampleInterval)
	defer ticker.Stop()

	sample := func() {
		if cpu, err := proc.CPUPercent(); err == nil {
			a.SelfCPUPercent.Set(cpu)
		}
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			a.SelfMemBytes.Set(float64(mem.RSS))
		}
	}

	sample()
	for {
		select {
		case <-ticker.C:
			sample()
		case <-ctx.Done():
			return
		}
	}
}
