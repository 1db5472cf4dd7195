package metrics

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemStats is a point-in-time view of the host, reported by /health.
type SystemStats struct {
	CPUPercent        float64 `json:"cpu_percent"`
	MemoryUsedBytes   uint64  `json:"memory_used_bytes"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	Goroutines        int     `json:"goroutines"`
}

// ReadSystemStats never blocks on sampling: CPU usage is measured since
// the previous call. Fields that cannot be read stay zero.
func ReadSystemStats(ctx context.Context) SystemStats {
	stats := SystemStats{Goroutines: runtime.NumGoroutine()}

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		stats.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemoryUsedBytes = vm.Used
		stats.MemoryUsedPercent = vm.UsedPercent
	}
	return stats
}
