package resources

import (
	"context"
	"fmt"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// HostSource samples the host through gopsutil instead of external
// utilities. CPU percentages are computed over the interval since the
// previous call; the first call reports averages since boot, like mpstat
// without an interval argument.
type HostSource struct {
	rootPath string

	mu   sync.Mutex
	last *cpu.TimesStat
}

func NewHostSource() *HostSource {
	return &HostSource{rootPath: "/"}
}

func (s *HostSource) CPU(ctx context.Context) (CPUSample, error) {
	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return CPUSample{}, fmt.Errorf("sample cpu: %w", err)
	}
	if len(times) == 0 {
		return CPUSample{}, fmt.Errorf("sample cpu: no aggregate times")
	}
	cur := times[0]

	s.mu.Lock()
	defer s.mu.Unlock()

	delta := cur
	if s.last != nil {
		delta = subTimes(cur, *s.last)
	}
	s.last = &cur
	return cpuPercentages(delta), nil
}

func subTimes(a, b cpu.TimesStat) cpu.TimesStat {
	return cpu.TimesStat{
		User:      a.User - b.User,
		Nice:      a.Nice - b.Nice,
		System:    a.System - b.System,
		Idle:      a.Idle - b.Idle,
		Iowait:    a.Iowait - b.Iowait,
		Irq:       a.Irq - b.Irq,
		Softirq:   a.Softirq - b.Softirq,
		Steal:     a.Steal - b.Steal,
		Guest:     a.Guest - b.Guest,
		GuestNice: a.GuestNice - b.GuestNice,
	}
}

// cpuPercentages mirrors mpstat: guest time is already part of user time in
// /proc/stat and is not counted twice.
func cpuPercentages(t cpu.TimesStat) CPUSample {
	total := t.User + t.Nice + t.System + t.Idle + t.Iowait + t.Irq + t.Softirq + t.Steal
	if total <= 0 {
		return CPUSample{}
	}
	p := func(v float64) float64 { return v / total * 100 }
	return CPUSample{
		User:    p(t.User - t.Guest),
		Nice:    p(t.Nice - t.GuestNice),
		System:  p(t.System),
		IOWait:  p(t.Iowait),
		SoftIRQ: p(t.Softirq),
	}
}

func (s *HostSource) Memory(ctx context.Context) (MemorySample, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return MemorySample{}, fmt.Errorf("sample memory: %w", err)
	}
	swap, err := mem.SwapMemoryWithContext(ctx)
	if err != nil {
		return MemorySample{}, fmt.Errorf("sample swap: %w", err)
	}
	return MemorySample{
		Used:     vm.Used / 1024,
		Cached:   vm.Cached / 1024,
		Buffers:  vm.Buffers / 1024,
		SwapFree: swap.Free / 1024,
	}, nil
}

func (s *HostSource) Disk(ctx context.Context) (DiskSample, error) {
	usage, err := disk.UsageWithContext(ctx, s.rootPath)
	if err != nil {
		return DiskSample{}, fmt.Errorf("sample disk %s: %w", s.rootPath, err)
	}
	return DiskSample{Used: usage.Used / 1024}, nil
}

func (s *HostSource) Processes(ctx context.Context) (ProcessSample, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return ProcessSample{}, fmt.Errorf("list processes: %w", err)
	}
	n := 0
	for _, p := range procs {
		status, err := p.StatusWithContext(ctx)
		if err != nil {
			// Exited between listing and inspection.
			continue
		}
		for _, st := range status {
			if st == process.Zombie {
				n++
				break
			}
		}
	}
	return ProcessSample{Zombies: n}, nil
}
