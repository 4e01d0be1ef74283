package server

import (
	"context"
	goruntime "runtime"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"

	"github.com/fiberfleet/distrun/internal/base"
)

func numGoroutine() int { return goruntime.NumGoroutine() }

// NodeHealth is a read-only diagnostic snapshot of the local process,
// logged by the comm thread for operators — it is never a scheduling
// input, since spec.md specifies no fairness or placement heuristics.
// Adapts cluster/hardware.go's PeerAvaibility/PeerHardware (which feed a
// work-distribution decision there) into pure observability here.
type NodeHealth struct {
	CPUPercent     float64
	MemUsedPercent float64
	MemAvailable   uint64
	NumGoroutine   int
	SampledAt      time.Time
}

// SampleNodeHealth reads the current CPU/memory snapshot, matching
// cluster/hardware.go's CurrentPeerHardware/UpdateResources use of
// gopsutil's cpu.PercentWithContext/mem.VirtualMemory.
func SampleNodeHealth(ctx context.Context) (NodeHealth, error) {
	var health NodeHealth

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return health, err
	}
	health.MemUsedPercent = vm.UsedPercent
	health.MemAvailable = vm.Available

	cpuUsages, err := cpu.PercentWithContext(ctx, 50*time.Millisecond, false)
	if err != nil {
		return health, err
	}
	if len(cpuUsages) > 0 {
		health.CPUPercent = cpuUsages[0]
	}

	health.NumGoroutine = numGoroutine()
	health.SampledAt = time.Now()
	return health, nil
}

// LogNodeHealth samples and logs a diagnostic line, grounded on
// cluster/hardware.go's PeerHardware.String()/LogVerbose reporting.
func LogNodeHealth(ctx context.Context) {
	health, err := SampleNodeHealth(ctx)
	if err != nil {
		base.LogWarning(LogServer, "node health sample failed: %v", err)
		return
	}
	base.LogInfo(LogServer, "node health: cpu=%.1f%% mem_used=%.1f%% mem_avail=%d goroutines=%d",
		health.CPUPercent, health.MemUsedPercent, health.MemAvailable, health.NumGoroutine)
}
