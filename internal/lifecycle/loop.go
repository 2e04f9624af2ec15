// Package lifecycle repeatedly drives a fixed list of containers through
// load, start, readiness, stop and removal, recording when each phase
// completed.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/ThaysonScript/software-aging-v2/config"
	"github.com/ThaysonScript/software-aging-v2/internal/csvlog"
	"github.com/ThaysonScript/software-aging-v2/internal/timing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrReadinessTimeout is returned when the readiness marker did not show up
// within the configured timeout.
var ErrReadinessTimeout = errors.New("readiness marker timeout")

const instrumentationName = "github.com/ThaysonScript/software-aging-v2/internal/lifecycle"

const (
	defaultFailurePause = time.Second
	cleanupTimeout      = 30 * time.Second
)

var rowHeader = []string{"load_image", "start", "up_time", "stop", "remove_container", "remove_image"}

// Phase names, also used as span names.
const (
	PhaseLoadImage       = "load_image"
	PhaseStart           = "start"
	PhaseUpTime          = "up_time"
	PhaseStop            = "stop"
	PhaseRemoveContainer = "remove_container"
	PhaseRemoveImage     = "remove_image"
)

// Readiness tunes the wait for the in-container marker. The zero value
// polls back-to-back with no timeout; ctx cancellation always ends the wait.
type Readiness struct {
	Marker  string
	Poll    time.Duration
	Timeout time.Duration
}

// Loop is the container lifecycle loop.
type Loop struct {
	runtime    Runtime
	containers []config.Container
	archive    func(name string) string
	sink       csvlog.Appender
	dir        string
	interval   time.Duration
	readiness  Readiness
	stamper    *timing.Stamper
	tracer     trace.Tracer
	tolerate   bool
	pause      time.Duration
}

// Option configures a Loop.
type Option func(*Loop)

func WithReadiness(r Readiness) Option {
	return func(l *Loop) {
		if r.Marker == "" {
			r.Marker = l.readiness.Marker
		}
		l.readiness = r
	}
}

// WithClock overrides the clock used for phase completion times.
func WithClock(c timing.Clock) Option {
	return func(l *Loop) { l.stamper = timing.NewStamper(c) }
}

func WithTracer(t trace.Tracer) Option {
	return func(l *Loop) { l.tracer = t }
}

// WithArchivePath overrides where the image archive for a container lives.
func WithArchivePath(fn func(name string) string) Option {
	return func(l *Loop) { l.archive = fn }
}

// WithTolerateErrors keeps the loop running after a failed pass.
func WithTolerateErrors(v bool) Option {
	return func(l *Loop) { l.tolerate = v }
}

// WithFailurePause sets the minimum wait after a failed pass when errors
// are tolerated, so a zero interval cannot spin on a failing runtime.
// Defaults to one second.
func WithFailurePause(d time.Duration) Option {
	return func(l *Loop) { l.pause = d }
}

// New creates a lifecycle loop. Archives default to {archiveDir}/{name}.tar.
func New(rt Runtime, containers []config.Container, archiveDir string, sink csvlog.Appender, dir string, interval time.Duration, opts ...Option) *Loop {
	l := &Loop{
		runtime:    rt,
		containers: containers,
		archive: func(name string) string {
			return filepath.Join(archiveDir, name+".tar")
		},
		sink:      sink,
		dir:       dir,
		interval:  interval,
		readiness: Readiness{Marker: config.DefaultReadinessMarker},
		stamper:   timing.NewStamper(nil),
		tracer:    otel.Tracer(instrumentationName),
		pause:     defaultFailurePause,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes lifecycle passes until ctx is cancelled, sleeping the
// configured interval after each pass.
func (l *Loop) Run(ctx context.Context) error {
	log := slog.With("component", "lifecycle")
	log.Info("Container lifecycle monitoring started.", "containers", len(l.containers), "interval", l.interval)

	for {
		wait := l.interval
		if err := l.Pass(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !l.tolerate {
				return err
			}
			wait = max(wait, l.pause)
			log.Warn("Lifecycle pass failed.", "err", err, "next_pass_in", wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Pass drives every configured container through its lifecycle, strictly
// in list order. The first failing container aborts the pass; its row is
// not written.
func (l *Loop) Pass(ctx context.Context) error {
	for _, c := range l.containers {
		if err := l.cycle(ctx, c); err != nil {
			return fmt.Errorf("container %s: %w", c.Name, err)
		}
	}
	return nil
}

func (l *Loop) cycle(ctx context.Context, c config.Container) (err error) {
	ctx, span := l.tracer.Start(ctx, "lifecycle.container", trace.WithAttributes(
		attribute.String("container.name", c.Name),
		attribute.Int("container.host_port", c.HostPort),
		attribute.Int("container.port", c.Port),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
		}
		span.End()
	}()

	row := make([]string, 0, len(rowHeader))
	// Phase that failed, or "" on success. Once the image is loaded every
	// failure triggers a cleanup of whatever the later phases would undo.
	var failed string
	defer func() {
		if failed != "" && failed != PhaseLoadImage {
			l.cleanup(ctx, c.Name, failed)
		}
	}()

	timed := func(phase string, fn func(context.Context) error) error {
		stamp, err := l.step(ctx, phase, func(ctx context.Context) (string, error) {
			return l.stamper.Time(ctx, fn)
		})
		if err != nil {
			failed = phase
			return err
		}
		row = append(row, stamp)
		return nil
	}

	if err := timed(PhaseLoadImage, func(ctx context.Context) error {
		return l.runtime.LoadImage(ctx, l.archive(c.Name))
	}); err != nil {
		return err
	}
	if err := timed(PhaseStart, func(ctx context.Context) error {
		return l.runtime.Start(ctx, c)
	}); err != nil {
		return err
	}

	upTime, err := l.step(ctx, PhaseUpTime, func(ctx context.Context) (string, error) {
		return l.waitReady(ctx, c.Name)
	})
	if err != nil {
		failed = PhaseUpTime
		return err
	}
	row = append(row, upTime)

	if err := timed(PhaseStop, func(ctx context.Context) error {
		return l.runtime.Stop(ctx, c.Name)
	}); err != nil {
		return err
	}
	if err := timed(PhaseRemoveContainer, func(ctx context.Context) error {
		return l.runtime.RemoveContainer(ctx, c.Name)
	}); err != nil {
		return err
	}
	if err := timed(PhaseRemoveImage, func(ctx context.Context) error {
		return l.runtime.RemoveImage(ctx, c.Name)
	}); err != nil {
		return err
	}

	path := filepath.Join(l.dir, c.Name+".csv")
	if err := l.sink.Append(path, rowHeader, row); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	slog.Debug("Lifecycle row written.", "component", "lifecycle", "container", c.Name, "row", csvlog.Join(row))
	return nil
}

// cleanup runs, best effort, the teardown phases that come after the failed
// one so the next pass can start the container again under the same name. A
// failed start may still have created the container, so it is removed too.
// Failures are only logged and no row is written.
func (l *Loop) cleanup(ctx context.Context, name, failed string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	log := slog.With("component", "lifecycle", "container", name, "failed_phase", failed)

	teardown := []struct {
		phase string
		run   func(context.Context, string) error
	}{
		{PhaseStop, l.runtime.Stop},
		{PhaseRemoveContainer, l.runtime.RemoveContainer},
		{PhaseRemoveImage, l.runtime.RemoveImage},
	}
	after := map[string]int{PhaseStart: 1, PhaseUpTime: 0, PhaseStop: 1, PhaseRemoveContainer: 2, PhaseRemoveImage: 3}
	for _, td := range teardown[after[failed]:] {
		if err := td.run(ctx, name); err != nil {
			log.Warn("Cleanup after failed lifecycle left state behind.", "phase", td.phase, "err", err)
			continue
		}
		log.Debug("Cleaned up after failed lifecycle.", "phase", td.phase)
	}
}

func (l *Loop) step(ctx context.Context, phase string, fn func(context.Context) (string, error)) (string, error) {
	ctx, span := l.tracer.Start(ctx, phase)
	defer span.End()

	out, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
		return "", fmt.Errorf("%s: %w", phase, err)
	}
	return out, nil
}

// waitReady probes the readiness marker until it yields content and returns
// that content.
func (l *Loop) waitReady(ctx context.Context, name string) (string, error) {
	var deadline <-chan time.Time
	if l.readiness.Timeout > 0 {
		t := time.NewTimer(l.readiness.Timeout)
		defer t.Stop()
		deadline = t.C
	}

	for {
		if out, ok := l.runtime.Ready(ctx, name, l.readiness.Marker); ok {
			return out, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		if l.readiness.Poll <= 0 {
			select {
			case <-deadline:
				return "", fmt.Errorf("%w after %s", ErrReadinessTimeout, l.readiness.Timeout)
			default:
			}
			continue
		}

		wait := time.NewTimer(l.readiness.Poll)
		select {
		case <-ctx.Done():
			wait.Stop()
			return "", ctx.Err()
		case <-deadline:
			wait.Stop()
			return "", fmt.Errorf("%w after %s", ErrReadinessTimeout, l.readiness.Timeout)
		case <-wait.C:
		}
	}
}
