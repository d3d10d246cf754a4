// Package sysinfo reports host disk and Go runtime figures.
package sysinfo

import (
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

type DiskUsage struct {
	Path       string  `json:"path"`
	TotalBytes uint64  `json:"total_bytes"`
	FreeBytes  uint64  `json:"free_bytes"`
	UsedPct    float64 `json:"used_pct"`
}

func (d DiskUsage) FreeMB() uint64 { return d.FreeBytes / (1 << 20) }

// Disk returns usage of the filesystem holding path.
func Disk(path string) (DiskUsage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return DiskUsage{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := uint64(st.Bsize)
	d := DiskUsage{
		Path:       path,
		TotalBytes: uint64(st.Blocks) * bsize,
		FreeBytes:  uint64(st.Bavail) * bsize,
	}
	if d.TotalBytes > 0 {
		d.UsedPct = float64(d.TotalBytes-uint64(st.Bfree)*bsize) / float64(d.TotalBytes) * 100
	}
	return d, nil
}

type RuntimeStats struct {
	GoVersion      string `json:"go_version"`
	OS             string `json:"os"`
	Arch           string `json:"arch"`
	NumCPU         int    `json:"num_cpu"`
	Goroutines     int    `json:"goroutines"`
	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
	SysBytes       uint64 `json:"sys_bytes"`
	NumGC          uint32 `json:"num_gc"`
	PID            int    `json:"pid"`
}

func (r RuntimeStats) HeapMB() uint64 { return r.HeapAllocBytes / (1 << 20) }

func Runtime() RuntimeStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return RuntimeStats{
		GoVersion:      runtime.Version(),
		OS:             runtime.GOOS,
		Arch:           runtime.GOARCH,
		NumCPU:         runtime.NumCPU(),
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: ms.HeapAlloc,
		SysBytes:       ms.Sys,
		NumGC:          ms.NumGC,
		PID:            os.Getpid(),
	}
}

// Hostname returns the host name or "unknown".
func Hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
