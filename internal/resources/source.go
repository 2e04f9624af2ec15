// Package resources samples host-level metric families (CPU, memory, disk,
// processes) and appends one row per family per iteration.
package resources

import (
	"context"
	"strconv"
)

// CPUSample holds aggregate CPU utilisation percentages.
type CPUSample struct {
	User    float64
	Nice    float64
	System  float64
	IOWait  float64
	SoftIRQ float64
}

// MemorySample values are in KiB.
type MemorySample struct {
	Used     uint64
	Cached   uint64
	Buffers  uint64
	SwapFree uint64
}

// DiskSample holds the used space of the root filesystem in KiB.
type DiskSample struct {
	Used uint64
}

// ProcessSample counts processes in the zombie state.
type ProcessSample struct {
	Zombies int
}

// Source is one way of introspecting the host. Implementations own their
// parsing contract; the sampler loop only sees typed samples.
type Source interface {
	CPU(ctx context.Context) (CPUSample, error)
	Memory(ctx context.Context) (MemorySample, error)
	Disk(ctx context.Context) (DiskSample, error)
	Processes(ctx context.Context) (ProcessSample, error)
}

func (s CPUSample) fields() []string {
	return []string{pct(s.User), pct(s.Nice), pct(s.System), pct(s.IOWait), pct(s.SoftIRQ)}
}

func (s MemorySample) fields() []string {
	return []string{kib(s.Used), kib(s.Cached), kib(s.Buffers), kib(s.SwapFree)}
}

func pct(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

func kib(v uint64) string { return strconv.FormatUint(v, 10) }
