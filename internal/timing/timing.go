// Package timing stamps operations with the wall-clock time at which they
// completed.
package timing

import (
	"context"
	"time"

	"github.com/ThaysonScript/software-aging-v2/internal/shell"
)

const (
	// EventLayout formats lifecycle phase completion times.
	EventLayout = "15:04:05"
	// SampleLayout formats resource sample timestamps.
	SampleLayout = "2006-01-02 15:04:05"
)

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Stamper formats completion times from a Clock. It is what the sampling
// loops use; Probe adds a command executor on top.
type Stamper struct {
	clock Clock
}

// NewStamper creates a Stamper. A nil clock means RealClock.
func NewStamper(clock Clock) *Stamper {
	if clock == nil {
		clock = RealClock{}
	}
	return &Stamper{clock: clock}
}

// Time runs fn and returns the completion time formatted with EventLayout.
func (s *Stamper) Time(ctx context.Context, fn func(context.Context) error) (string, error) {
	if err := fn(ctx); err != nil {
		return "", err
	}
	return s.clock.Now().Format(EventLayout), nil
}

// Stamp returns the current time formatted with SampleLayout.
func (s *Stamper) Stamp() string {
	return s.clock.Now().Format(SampleLayout)
}

// Probe wraps an Executor and records when each command completes.
type Probe struct {
	*Stamper
	exec shell.Executor
}

// NewProbe creates a Probe. A nil clock means RealClock.
func NewProbe(exec shell.Executor, clock Clock) *Probe {
	return &Probe{Stamper: NewStamper(clock), exec: exec}
}

// RunAndTime executes command and returns the time immediately after it
// finished, formatted with EventLayout.
func (p *Probe) RunAndTime(ctx context.Context, command string) (string, error) {
	return p.Time(ctx, func(ctx context.Context) error {
		_, err := p.exec.Execute(ctx, command)
		return err
	})
}
