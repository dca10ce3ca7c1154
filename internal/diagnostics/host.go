package diagnostics

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostInfo is a best-effort view of the machine. Fields that could not be
// read stay zero.
type HostInfo struct {
	Hostname   string  `json:"hostname,omitempty"`
	Platform   string  `json:"platform,omitempty"`
	Kernel     string  `json:"kernel,omitempty"`
	CPUModel   string  `json:"cpu_model,omitempty"`
	CPUThreads int     `json:"cpu_threads"`
	LoadAvg1   float64 `json:"load_avg_1"`

	MemTotalMB     float64 `json:"mem_total_mb"`
	MemAvailableMB float64 `json:"mem_available_mb"`
	MemPercent     float64 `json:"mem_percent"`

	DiskPath    string  `json:"disk_path"`
	DiskFreeGB  float64 `json:"disk_free_gb"`
	DiskPercent float64 `json:"disk_percent"`

	GoVersion  string  `json:"go_version"`
	Goroutines int     `json:"goroutines"`
	HeapMB     float64 `json:"heap_mb"`
}

// Probe reads host information.
type Probe interface {
	Host(ctx context.Context, path string) HostInfo
}

// SystemProbe reads the local machine through gopsutil.
type SystemProbe struct{}

// Host collects what it can; path selects the filesystem to report.
func (SystemProbe) Host(ctx context.Context, path string) HostInfo {
	info := HostInfo{
		DiskPath:   path,
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	info.HeapMB = float64(ms.HeapAlloc) / 1024 / 1024

	if h, err := host.InfoWithContext(ctx); err == nil {
		info.Hostname = h.Hostname
		info.Platform = h.Platform + " " + h.PlatformVersion
		info.Kernel = h.KernelVersion
	}
	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		info.CPUModel = cpus[0].ModelName
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.CPUThreads = n
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		info.LoadAvg1 = avg.Load1
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemTotalMB = float64(vm.Total) / 1024 / 1024
		info.MemAvailableMB = float64(vm.Available) / 1024 / 1024
		info.MemPercent = vm.UsedPercent
	}
	if path != "" {
		if du, err := disk.UsageWithContext(ctx, path); err == nil {
			info.DiskFreeGB = float64(du.Free) / 1024 / 1024 / 1024
			info.DiskPercent = du.UsedPercent
		}
	}
	return info
}
