package resources

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ThaysonScript/software-aging-v2/internal/csvlog"
	"github.com/ThaysonScript/software-aging-v2/internal/timing"
)

// Log files written under the log directory, one per metric family.
const (
	CPUFile     = "cpu.csv"
	MemoryFile  = "memory.csv"
	DiskFile    = "disk.csv"
	ProcessFile = "process.csv"
)

var (
	cpuHeader     = []string{"usr", "nice", "sys", "iowait", "soft", "time"}
	memoryHeader  = []string{"used", "cached", "buffers", "swap", "time"}
	diskHeader    = []string{"used", "time"}
	processHeader = []string{"zombies", "time"}
)

// Sampler is the resource sampling loop. Each iteration takes one
// timestamp, samples every metric family in a fixed order and appends one
// row per family.
type Sampler struct {
	source   Source
	sink     csvlog.Appender
	dir      string
	interval time.Duration
	stamper  *timing.Stamper
	tolerate bool
}

// SamplerOption configures a Sampler.
type SamplerOption func(*Sampler)

// WithClock overrides the clock used for row timestamps.
func WithClock(c timing.Clock) SamplerOption {
	return func(s *Sampler) { s.stamper = timing.NewStamper(c) }
}

// WithTolerateErrors keeps the loop running after a failed iteration.
func WithTolerateErrors(v bool) SamplerOption {
	return func(s *Sampler) { s.tolerate = v }
}

func NewSampler(source Source, sink csvlog.Appender, dir string, interval time.Duration, opts ...SamplerOption) *Sampler {
	s := &Sampler{
		source:   source,
		sink:     sink,
		dir:      dir,
		interval: interval,
		stamper:  timing.NewStamper(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run samples until ctx is cancelled. A failed iteration ends the loop with
// its error unless errors are tolerated.
func (s *Sampler) Run(ctx context.Context) error {
	log := slog.With("component", "resources")
	log.Info("Resource sampling started.", "dir", s.dir, "interval", s.interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		if err := s.SampleOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !s.tolerate {
				return err
			}
			log.Warn("Resource sample failed.", "err", err)
		}
		timer.Reset(s.interval)
	}
}

// SampleOnce runs a single iteration. The first failing family aborts the
// remaining writes of the iteration.
func (s *Sampler) SampleOnce(ctx context.Context) error {
	stamp := s.stamper.Stamp()

	cpu, err := s.source.CPU(ctx)
	if err != nil {
		return err
	}
	if err := s.write(CPUFile, cpuHeader, append(cpu.fields(), stamp)); err != nil {
		return err
	}

	mem, err := s.source.Memory(ctx)
	if err != nil {
		return err
	}
	if err := s.write(MemoryFile, memoryHeader, append(mem.fields(), stamp)); err != nil {
		return err
	}

	disk, err := s.source.Disk(ctx)
	if err != nil {
		return err
	}
	if err := s.write(DiskFile, diskHeader, []string{kib(disk.Used), stamp}); err != nil {
		return err
	}

	procs, err := s.source.Processes(ctx)
	if err != nil {
		return err
	}
	if err := s.write(ProcessFile, processHeader, []string{strconv.Itoa(procs.Zombies), stamp}); err != nil {
		return err
	}

	slog.Debug("Resource sample written.", "component", "resources", "time", stamp)
	return nil
}

func (s *Sampler) write(file string, header, row []string) error {
	if err := s.sink.Append(filepath.Join(s.dir, file), header, row); err != nil {
		return fmt.Errorf("write %s: %w", file, err)
	}
	return nil
}
