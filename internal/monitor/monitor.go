// Package monitor supervises the agent's concurrent activities: the kernel
// tracer, the resource sampler, the container lifecycle loop and the
// optional clock offset check.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/ThaysonScript/software-aging-v2/config"
	"github.com/ThaysonScript/software-aging-v2/infra/docker"
	"github.com/ThaysonScript/software-aging-v2/internal/clockskew"
	"github.com/ThaysonScript/software-aging-v2/internal/csvlog"
	"github.com/ThaysonScript/software-aging-v2/internal/lifecycle"
	"github.com/ThaysonScript/software-aging-v2/internal/resources"
	"github.com/ThaysonScript/software-aging-v2/internal/shell"
	"github.com/ThaysonScript/software-aging-v2/internal/tracer"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Activity names, used in logs and ActivityError.
const (
	ActivityTracer    = "tracer"
	ActivityResources = "resources"
	ActivityLifecycle = "lifecycle"
	ActivityClock     = "clockskew"
)

const errorBuffer = 16

// commandLocale pins the locale of sampled commands so that free, df and
// top keep their C number format and column headers.
const commandLocale = "LC_ALL=C"

var ErrAlreadyStarted = errors.New("monitor already started")

// ActivityError reports an activity that ended with a failure.
type ActivityError struct {
	Activity string
	Err      error
}

func (e *ActivityError) Error() string {
	return fmt.Sprintf("%s: %v", e.Activity, e.Err)
}

func (e *ActivityError) Unwrap() error { return e.Err }

// Options overrides the collaborators New would otherwise build from the
// config. Zero fields get the defaults.
type Options struct {
	Executor   shell.Executor
	Source     resources.Source
	Runtime    lifecycle.Runtime
	Sink       csvlog.Appender
	Tracer     trace.Tracer
	ClockQuery clockskew.QueryFunc
	// TracerOutput receives the tracer's stdout and stderr.
	TracerOutput io.Writer
}

// readyWaiter is implemented by runtimes that need their daemon up before
// the first lifecycle pass.
type readyWaiter interface {
	WaitReady(ctx context.Context) error
}

// Monitor runs every activity in its own goroutine. A failed activity ends
// alone: it is logged and published on Errors, the others keep running.
// Nothing is restarted.
type Monitor struct {
	cfg     *config.Config
	logDir  string
	exec    shell.Executor
	source  resources.Source
	runtime lifecycle.Runtime
	sink    csvlog.Appender
	opts    Options

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	clock   *clockskew.Checker
	group   errgroup.Group
	errs    chan error
	done    chan struct{}
	err     error
}

// New builds a monitor from cfg. The log directory is computed once here.
func New(cfg *config.Config, opts Options) (*Monitor, error) {
	if cfg == nil {
		return nil, errors.New("monitor: config is required")
	}
	m := &Monitor{
		cfg:    cfg,
		logDir: cfg.LogDir(),
		source: opts.Source,
		sink:   opts.Sink,
		opts:   opts,
		errs:   make(chan error, errorBuffer),
		done:   make(chan struct{}),
	}

	exec := opts.Executor
	if exec == nil {
		exec = shell.New(shell.WithEnv(commandLocale))
	}
	m.exec = exec
	if m.sink == nil {
		m.sink = csvlog.NewWriter()
	}
	if m.source == nil {
		switch cfg.Resources.Source {
		case config.SourceHost:
			m.source = resources.NewHostSource()
		default:
			m.source = resources.NewCommandSource(exec)
		}
	}

	m.runtime = opts.Runtime
	if m.runtime == nil {
		switch cfg.Lifecycle.Driver {
		case config.DriverAPI:
			rt, err := docker.NewRuntime()
			if err != nil {
				return nil, err
			}
			m.runtime = rt
		default:
			m.runtime = lifecycle.NewCLIRuntime(cfg.Software, exec)
		}
	}
	return m, nil
}

// LogDir returns the directory every log file is written under.
func (m *Monitor) LogDir() string {
	return m.logDir
}

// Errors delivers activity failures. Sends never block: when the buffer is
// full further errors are only logged. The channel is closed once every
// activity has ended.
func (m *Monitor) Errors() <-chan error {
	return m.errs
}

// Start launches every activity and returns immediately.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return ErrAlreadyStarted
	}

	if err := os.MkdirAll(m.logDir, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.started = true
	slog.Info("Monitoring started.", "log_dir", m.logDir, "containers", len(m.cfg.Containers))

	if m.cfg.Tracer.On() {
		m.spawn(ctx, ActivityTracer, m.runTracer)
	}
	m.spawn(ctx, ActivityResources, m.runResources)
	m.spawn(ctx, ActivityLifecycle, m.runLifecycle)
	if m.cfg.Clock.NTPServer != "" {
		var opts []clockskew.Option
		if m.opts.ClockQuery != nil {
			opts = append(opts, clockskew.WithQuery(m.opts.ClockQuery))
		}
		m.clock = clockskew.NewChecker(m.cfg.Clock.NTPServer, m.cfg.Clock.Interval, m.cfg.Clock.Threshold, opts...)
		m.spawn(ctx, ActivityClock, m.clock.Run)
	}

	go func() {
		m.err = m.group.Wait()
		close(m.errs)
		close(m.done)
	}()
	return nil
}

// Stop cancels every activity and waits for all of them to end.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return nil
	}

	m.cancel()
	<-m.done

	if c, ok := m.runtime.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Debug("Close runtime.", "err", err)
		}
	}
	if st, ok := m.ClockStatus(); ok {
		slog.Info("Monitoring stopped.", "clock_phase", st.Phase, "clock_offset", st.Offset)
		return nil
	}
	slog.Info("Monitoring stopped.")
	return nil
}

// ClockStatus returns the last clock offset check. ok is false when no
// NTP server is configured or the monitor has not started.
func (m *Monitor) ClockStatus() (clockskew.Status, bool) {
	m.mu.Lock()
	c := m.clock
	m.mu.Unlock()
	if c == nil {
		return clockskew.Status{}, false
	}
	return c.Status(), true
}

// Wait blocks until every activity has ended and returns the first
// activity failure, if any.
func (m *Monitor) Wait() error {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return nil
	}
	<-m.done
	return m.err
}

func (m *Monitor) spawn(ctx context.Context, name string, run func(context.Context) error) {
	log := slog.With("activity", name)
	m.group.Go(func() error {
		err := run(ctx)
		if err == nil || ctx.Err() != nil {
			log.Debug("Activity ended.")
			return nil
		}

		aerr := &ActivityError{Activity: name, Err: err}
		log.Error("Activity failed.", "err", err)
		select {
		case m.errs <- aerr:
		default:
			log.Warn("Error channel full, dropping activity error.")
		}
		return aerr
	})
}

func (m *Monitor) runTracer(ctx context.Context) error {
	opts := tracer.Options{
		Binary: m.cfg.Tracer.Binary,
		Script: m.cfg.Tracer.Script,
		LogDir: m.logDir,
	}
	if m.opts.TracerOutput != nil {
		opts.Stdout = m.opts.TracerOutput
		opts.Stderr = m.opts.TracerOutput
	}

	p, err := tracer.Launch(ctx, opts)
	if err != nil {
		return err
	}
	// Launch stops the group itself when ctx ends; only the exit is observed.
	err = <-p.Done()
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("tracer (pid %d) exited: %w", p.Pid(), err)
	}
	slog.Info("Tracer exited.", "activity", ActivityTracer, "pid", p.Pid())
	return nil
}

func (m *Monitor) runResources(ctx context.Context) error {
	s := resources.NewSampler(m.source, m.sink, m.logDir, m.cfg.Resources.Interval,
		resources.WithTolerateErrors(m.cfg.Resources.TolerateErrors))
	return s.Run(ctx)
}

func (m *Monitor) runLifecycle(ctx context.Context) error {
	if w, ok := m.runtime.(readyWaiter); ok {
		if err := w.WaitReady(ctx); err != nil {
			return err
		}
	}

	opts := []lifecycle.Option{
		lifecycle.WithReadiness(lifecycle.Readiness{
			Marker:  m.cfg.Lifecycle.ReadinessMarker,
			Poll:    m.cfg.Lifecycle.ReadinessPoll,
			Timeout: m.cfg.Lifecycle.ReadinessTimeout,
		}),
		lifecycle.WithArchivePath(m.cfg.ArchivePath),
		lifecycle.WithTolerateErrors(m.cfg.Lifecycle.TolerateErrors),
	}
	if m.opts.Tracer != nil {
		opts = append(opts, lifecycle.WithTracer(m.opts.Tracer))
	}
	l := lifecycle.New(m.runtime, m.cfg.Containers, m.cfg.Path, m.sink, m.logDir, m.cfg.Lifecycle.Interval, opts...)
	return l.Run(ctx)
}

