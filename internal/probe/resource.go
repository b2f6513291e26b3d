package probe

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/stewardops/steward/internal/config"
	"github.com/stewardops/steward/internal/types"
)

// ResourceProbe reports host CPU, memory, disk, and (optionally) NVIDIA GPU
// utilization. CPU/memory/disk come from gopsutil; GPU metrics are queried
// through nvidia-smi's CSV interface since that is the stable surface across
// driver versions.
type ResourceProbe struct {
	cfg config.ResourceProbeConfig

	mu   sync.Mutex
	last types.Snapshot
}

// NewResourceProbe creates the host resource probe.
func NewResourceProbe(cfg config.ResourceProbeConfig) *ResourceProbe {
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}
	return &ResourceProbe{cfg: cfg}
}

// Name implements Probe.
func (p *ResourceProbe) Name() string { return "resource" }

// Status implements Probe.
func (p *ResourceProbe) Status(ctx context.Context) (types.Snapshot, error) {
	metrics := make(map[string]any)

	// Interval 0 = non-blocking sample since the previous call; the poll
	// cadence provides the measurement window.
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		metrics["cpu_percent"] = round1(percents[0])
	} else if err != nil {
		return types.Snapshot{}, fmt.Errorf("reading cpu: %w", err)
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("reading memory: %w", err)
	}
	metrics["memory_percent"] = round1(vm.UsedPercent)

	du, err := disk.UsageWithContext(ctx, p.cfg.DiskPath)
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("reading disk %s: %w", p.cfg.DiskPath, err)
	}
	metrics["disk_percent"] = round1(du.UsedPercent)

	if p.cfg.GPUEnabled {
		if gpu, err := queryGPU(ctx); err == nil {
			metrics["gpu_temp"] = gpu.temp
			metrics["gpu_utilization"] = gpu.utilization
			metrics["gpu_memory_used_mb"] = gpu.memoryUsedMB
			metrics["gpu_memory_total_mb"] = gpu.memoryTotalMB
			metrics["gpu_power_watts"] = gpu.powerWatts
		}
		// A missing or failing nvidia-smi degrades to no GPU metrics rather
		// than failing the whole probe: CPU boxes are a supported setup.
	}

	snap := types.Snapshot{
		Probe:   p.Name(),
		TakenAt: time.Now(),
		Metrics: metrics,
	}

	p.mu.Lock()
	p.last = snap
	p.mu.Unlock()

	return snap, nil
}

// Alerts implements Probe.
func (p *ResourceProbe) Alerts(snap types.Snapshot) []types.Alert {
	var alerts []types.Alert
	check := func(metric string, maxVal float64, format string) {
		v, ok := snap.Metrics[metric].(float64)
		if !ok || maxVal <= 0 || v <= maxVal {
			return
		}
		alerts = append(alerts, types.Alert{
			Metric:   metric,
			Severity: types.SeverityWarning,
			Message:  fmt.Sprintf(format, v),
			Source:   p.Name(),
		})
	}

	check("cpu_percent", p.cfg.CPUMax, "CPU high: %.1f%%")
	check("memory_percent", p.cfg.MemoryMax, "Memory high: %.1f%%")
	check("disk_percent", p.cfg.DiskMax, "Disk high: %.1f%%")
	check("gpu_temp", p.cfg.GPUTempMax, "GPU temp high: %.0fC")
	check("gpu_utilization", p.cfg.GPUUtilMax, "GPU util high: %.0f%%")
	return alerts
}

// SummaryLine implements Probe.
func (p *ResourceProbe) SummaryLine() string {
	p.mu.Lock()
	snap := p.last
	p.mu.Unlock()

	if snap.Metrics == nil {
		return "resource: no data yet"
	}

	gpuPart := "GPU n/a"
	if util, ok := snap.Metrics["gpu_utilization"].(float64); ok {
		temp, _ := snap.Metrics["gpu_temp"].(float64)
		gpuPart = fmt.Sprintf("GPU %.0f%% @ %.0fC", util, temp)
	}
	return fmt.Sprintf("resource: CPU %.0f%%, RAM %.0f%%, Disk %.0f%%, %s",
		floatOr(snap.Metrics["cpu_percent"]),
		floatOr(snap.Metrics["memory_percent"]),
		floatOr(snap.Metrics["disk_percent"]),
		gpuPart)
}

type gpuReading struct {
	utilization   float64
	temp          float64
	memoryUsedMB  float64
	memoryTotalMB float64
	powerWatts    float64
}

func queryGPU(ctx context.Context) (gpuReading, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=utilization.gpu,temperature.gpu,memory.used,memory.total,power.draw",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		return gpuReading{}, fmt.Errorf("nvidia-smi: %w", err)
	}

	fields := strings.Split(strings.TrimSpace(string(out)), ",")
	if len(fields) < 5 {
		return gpuReading{}, fmt.Errorf("nvidia-smi: unexpected output %q", string(out))
	}

	parse := func(s string) float64 {
		v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return v
	}
	return gpuReading{
		utilization:   parse(fields[0]),
		temp:          parse(fields[1]),
		memoryUsedMB:  parse(fields[2]),
		memoryTotalMB: parse(fields[3]),
		powerWatts:    parse(fields[4]),
	}, nil
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

func floatOr(v any) float64 {
	f, _ := v.(float64)
	return f
}
