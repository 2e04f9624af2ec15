package resources

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ThaysonScript/software-aging-v2/internal/shell"
)

// Default introspection commands used by CommandSource.
const (
	MpstatCommand  = "mpstat"
	FreeCommand    = "free"
	MeminfoCommand = "cat /proc/meminfo"
	DfCommand      = "df -Pk"
	PsCommand      = "ps aux"
)

// CommandSource samples the host by running the sysstat/procps utilities
// through an Executor. Parsing contract:
//
//   - CPU: the mpstat row whose CPU column is "all"; relative to that
//     column, %usr is +1, %nice +2, %sys +3, %iowait +4 and %soft +6
//     (sysstat layout "TIME CPU %usr %nice %sys %iowait %irq %soft ...").
//     Anchoring on "all" keeps the positions valid with 12h locales.
//   - Memory: "used" is column 3 of the "Mem:" row of free; Cached,
//     Buffers and SwapFree come from /proc/meminfo. All KiB.
//   - Disk: column 3 (used 1K-blocks) of the df -Pk row mounted on "/".
//   - Processes: rows of ps aux whose STAT column (8) contains 'Z'.
type CommandSource struct {
	exec shell.Executor
}

func NewCommandSource(exec shell.Executor) *CommandSource {
	return &CommandSource{exec: exec}
}

func (s *CommandSource) CPU(ctx context.Context) (CPUSample, error) {
	out, err := s.exec.Execute(ctx, MpstatCommand)
	if err != nil {
		return CPUSample{}, fmt.Errorf("sample cpu: %w", err)
	}
	return parseMpstat(out)
}

func (s *CommandSource) Memory(ctx context.Context) (MemorySample, error) {
	freeOut, err := s.exec.Execute(ctx, FreeCommand)
	if err != nil {
		return MemorySample{}, fmt.Errorf("sample memory: %w", err)
	}
	used, err := parseFreeUsed(freeOut)
	if err != nil {
		return MemorySample{}, err
	}

	meminfo, err := s.exec.Execute(ctx, MeminfoCommand)
	if err != nil {
		return MemorySample{}, fmt.Errorf("sample memory: %w", err)
	}
	fields, err := parseMeminfo(meminfo, "Cached", "Buffers", "SwapFree")
	if err != nil {
		return MemorySample{}, err
	}
	return MemorySample{
		Used:     used,
		Cached:   fields["Cached"],
		Buffers:  fields["Buffers"],
		SwapFree: fields["SwapFree"],
	}, nil
}

func (s *CommandSource) Disk(ctx context.Context) (DiskSample, error) {
	out, err := s.exec.Execute(ctx, DfCommand)
	if err != nil {
		return DiskSample{}, fmt.Errorf("sample disk: %w", err)
	}
	used, err := parseDfRootUsed(out)
	if err != nil {
		return DiskSample{}, err
	}
	return DiskSample{Used: used}, nil
}

func (s *CommandSource) Processes(ctx context.Context) (ProcessSample, error) {
	out, err := s.exec.Execute(ctx, PsCommand)
	if err != nil {
		return ProcessSample{}, fmt.Errorf("sample processes: %w", err)
	}
	return ProcessSample{Zombies: countZombies(out)}, nil
}

func parseMpstat(out string) (CPUSample, error) {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		idx := -1
		for i, f := range fields {
			if f == "all" {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		if len(fields) < idx+7 {
			return CPUSample{}, fmt.Errorf("parse mpstat: short row %q", line)
		}
		vals := make([]float64, 0, 5)
		for _, off := range []int{1, 2, 3, 4, 6} {
			v, err := parseFloat(fields[idx+off])
			if err != nil {
				return CPUSample{}, fmt.Errorf("parse mpstat column %d: %w", idx+off, err)
			}
			vals = append(vals, v)
		}
		return CPUSample{User: vals[0], Nice: vals[1], System: vals[2], IOWait: vals[3], SoftIRQ: vals[4]}, nil
	}
	return CPUSample{}, fmt.Errorf("parse mpstat: no aggregate row")
}

// parseFloat accepts both decimal separators printed by sysstat.
func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
}

func parseFreeUsed(out string) (uint64, error) {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 3 && fields[0] == "Mem:" {
			v, err := strconv.ParseUint(fields[2], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("parse free used: %w", err)
			}
			return v, nil
		}
	}
	return 0, fmt.Errorf("parse free: no Mem row")
}

func parseMeminfo(out string, keys ...string) (map[string]uint64, error) {
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	got := make(map[string]uint64, len(keys))
	for _, line := range strings.Split(out, "\n") {
		name, rest, ok := strings.Cut(line, ":")
		if !ok || !want[name] {
			continue
		}
		if _, seen := got[name]; seen {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return nil, fmt.Errorf("parse meminfo %s: empty value", name)
		}
		v, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse meminfo %s: %w", name, err)
		}
		got[name] = v
	}
	for _, k := range keys {
		if _, ok := got[k]; !ok {
			return nil, fmt.Errorf("parse meminfo: missing %s", k)
		}
	}
	return got, nil
}

func parseDfRootUsed(out string) (uint64, error) {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 6 && fields[len(fields)-1] == "/" {
			v, err := strconv.ParseUint(fields[2], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("parse df used: %w", err)
			}
			return v, nil
		}
	}
	return 0, fmt.Errorf("parse df: root filesystem not found")
}

func countZombies(out string) int {
	n := 0
	for i, line := range strings.Split(out, "\n") {
		if i == 0 {
			continue // header
		}
		fields := strings.Fields(line)
		if len(fields) >= 8 && strings.Contains(fields[7], "Z") {
			n++
		}
	}
	return n
}
