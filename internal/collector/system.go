package collector

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"HouseholdTelemetryAPI/internal/models"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostProbe is the subset of host statistics the system collector reads.
type HostProbe interface {
	CPUPercent(ctx context.Context) (float64, error)
	CPUCount(ctx context.Context) (int, error)
	LoadAvg(ctx context.Context) (float64, error)
	Memory(ctx context.Context) (*mem.VirtualMemoryStat, error)
	Uptime(ctx context.Context) (uint64, error)
}

// GopsutilProbe reads host statistics through gopsutil.
type GopsutilProbe struct{}

func (GopsutilProbe) CPUPercent(ctx context.Context) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(pct) == 0 {
		return 0, nil
	}
	return pct[0], nil
}

func (GopsutilProbe) CPUCount(ctx context.Context) (int, error) {
	return cpu.CountsWithContext(ctx, true)
}

func (GopsutilProbe) LoadAvg(ctx context.Context) (float64, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return avg.Load1, nil
}

func (GopsutilProbe) Memory(ctx context.Context) (*mem.VirtualMemoryStat, error) {
	return mem.VirtualMemoryWithContext(ctx)
}

func (GopsutilProbe) Uptime(ctx context.Context) (uint64, error) {
	return host.UptimeWithContext(ctx)
}

type SystemCollector struct {
	probe HostProbe
	now   func() time.Time
}

func NewSystemCollector(probe HostProbe) *SystemCollector {
	if probe == nil {
		probe = GopsutilProbe{}
	}
	return &SystemCollector{probe: probe, now: time.Now}
}

// Collect reads CPU and memory figures. CPU usage and memory are required;
// load average, core count and uptime fall back to zero or the runtime view
// on platforms that do not expose them.
func (c *SystemCollector) Collect(ctx context.Context) (*models.SystemMetrics, error) {
	cpuPct, err := c.probe.CPUPercent(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get CPU usage: %w", err)
	}

	memStats, err := c.probe.Memory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get memory stats: %w", err)
	}

	cores, err := c.probe.CPUCount(ctx)
	if err != nil || cores <= 0 {
		cores = runtime.NumCPU()
	}

	loadAvg, _ := c.probe.LoadAvg(ctx)
	uptime, _ := c.probe.Uptime(ctx)

	return &models.SystemMetrics{
		CPULoad:    loadAvg,
		CPUCount:   cores,
		CPUUsage:   cpuPct,
		MemUsedPct: memStats.UsedPercent,
		MemTotal:   memStats.Total,
		MemUsed:    memStats.Used,
		Uptime:     uptime,
		Goroutines: runtime.NumGoroutine(),
		Timestamp:  c.now(),
	}, nil
}
