package system

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"syscall"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// InitResourceLimits raises the open-file limit so concurrent uploads and
// rasterized pages do not exhaust descriptors.
func InitResourceLimits(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		logger.Warn("cannot read open file limit", "error", err)
		return
	}

	want := uint64(4096)
	if rLimit.Cur >= want {
		return
	}
	rLimit.Cur = want
	if rLimit.Cur > rLimit.Max {
		rLimit.Cur = rLimit.Max
	}

	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		logger.Warn("cannot raise open file limit", "error", err)
		return
	}
	logger.Info("open file limit raised", "limit", rLimit.Cur)
}

// EnsureDataDir creates the working directory for temporary artifacts and
// checks that it is writable.
func EnsureDataDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("data dir %s is not writable: %w", dir, err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// Snapshot is a point-in-time view of host resources.
type Snapshot struct {
	Goroutines     int     `json:"goroutines"`
	CPUs           int     `json:"cpus"`
	MemTotal       uint64  `json:"mem_total_bytes"`
	MemAvailable   uint64  `json:"mem_available_bytes"`
	MemUsedPercent float64 `json:"mem_used_percent"`
	DiskFree       uint64  `json:"disk_free_bytes"`
	DiskUsedPct    float64 `json:"disk_used_percent"`
}

// TakeSnapshot collects memory, CPU and data-dir disk usage. Fields that
// cannot be read on this platform stay zero; the error reports the first
// failure.
func TakeSnapshot(ctx context.Context, dataDir string) (Snapshot, error) {
	s := Snapshot{Goroutines: runtime.NumGoroutine()}
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	n, err := cpu.CountsWithContext(ctx, true)
	keep(err)
	s.CPUs = n

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemTotal = vm.Total
		s.MemAvailable = vm.Available
		s.MemUsedPercent = vm.UsedPercent
	} else {
		keep(err)
	}

	if dataDir != "" {
		if du, err := disk.UsageWithContext(ctx, dataDir); err == nil {
			s.DiskFree = du.Free
			s.DiskUsedPct = du.UsedPercent
		} else {
			keep(err)
		}
	}

	return s, firstErr
}
