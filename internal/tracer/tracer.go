// Package tracer launches the kernel fragmentation tracer as a one-shot
// child process.
package tracer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// OutputFile is the file the tracer writes into the log directory.
const OutputFile = "fragmentation.csv"

// DefaultBinary is the SystemTap front end.
const DefaultBinary = "stap"

// Options describes one tracer launch.
type Options struct {
	// Binary defaults to DefaultBinary, found via PATH.
	Binary string
	Script string
	LogDir string
	// Stdout and Stderr default to the agent's own streams.
	Stdout io.Writer
	Stderr io.Writer
	// Grace is how long Stop waits after SIGTERM before SIGKILL. Defaults to 5s.
	Grace time.Duration
}

// Process is a running tracer. It is never restarted.
type Process struct {
	cmd   *exec.Cmd
	pgid  int
	grace time.Duration

	done   chan error
	exited chan struct{}
	err    error
}

// Launch starts `{binary} -o {logdir}/fragmentation.csv {script}` in its own
// process group and returns without waiting for it. Cancelling ctx
// terminates the whole group.
func Launch(ctx context.Context, opts Options) (*Process, error) {
	if opts.Binary == "" {
		opts.Binary = DefaultBinary
	}
	if opts.Grace <= 0 {
		opts.Grace = 5 * time.Second
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Script == "" {
		return nil, errors.New("tracer script is required")
	}

	out := filepath.Join(opts.LogDir, OutputFile)
	cmd := exec.Command(opts.Binary, "-o", out, opts.Script)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start tracer: %w", err)
	}

	p := &Process{
		cmd:    cmd,
		pgid:   cmd.Process.Pid,
		grace:  opts.Grace,
		done:   make(chan error, 1),
		exited: make(chan struct{}),
	}
	slog.Info("Tracer started.", "component", "tracer", "pid", p.pgid, "output", out)

	go func() {
		p.err = cmd.Wait()
		close(p.exited)
		p.done <- p.err
	}()
	go func() {
		select {
		case <-ctx.Done():
			if err := p.Stop(); err != nil {
				slog.Warn("Stop tracer.", "component", "tracer", "err", err)
			}
		case <-p.exited:
		}
	}()

	return p, nil
}

// Pid returns the tracer's pid, which is also its process group id.
func (p *Process) Pid() int {
	return p.pgid
}

// Done delivers the exit error exactly once.
func (p *Process) Done() <-chan error {
	return p.done
}

// Exited is closed once the process has exited.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// Stop sends SIGTERM to the tracer's process group, escalating to SIGKILL
// after the grace period, and waits for the leader to exit. Stopping an
// exited tracer is a no-op.
func (p *Process) Stop() error {
	select {
	case <-p.exited:
		return nil
	default:
	}

	if err := unix.Kill(-p.pgid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return fmt.Errorf("sigterm tracer group %d: %w", p.pgid, err)
	}

	timer := time.NewTimer(p.grace)
	defer timer.Stop()
	select {
	case <-p.exited:
		return nil
	case <-timer.C:
	}

	slog.Warn("Tracer ignored SIGTERM, killing.", "component", "tracer", "pid", p.pgid)
	if err := unix.Kill(-p.pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("sigkill tracer group %d: %w", p.pgid, err)
	}
	<-p.exited
	return nil
}
