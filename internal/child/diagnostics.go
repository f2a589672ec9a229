package child

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// RunDiagnostics periodically samples the child's CPU and memory usage and
// folds it into the server's debug log, purely as an operational aid; it
// has no bearing on protocol correctness. It returns when ctx is done.
func (p *Process) RunDiagnostics(ctx context.Context, interval time.Duration) {
	proc, err := process.NewProcess(int32(p.PID()))
	if err != nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cpuPct, err := proc.CPUPercent()
			if err != nil {
				return
			}
			memInfo, err := proc.MemoryInfo()
			if err != nil {
				return
			}
			slog.Debug("child diagnostics",
				"pid", p.PID(),
				"cpu_percent", cpuPct,
				"rss_bytes", memInfo.RSS,
			)
		}
	}
}
