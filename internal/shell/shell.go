// Package shell runs introspection and container-runtime commands through
// the system shell.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Executor runs a shell command and returns its trimmed standard output.
// A failed command returns an error and must abort the caller unless the
// call goes through Try.
type Executor interface {
	Execute(ctx context.Context, command string) (string, error)
}

// ExitError reports a command that ran but did not succeed.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("command %q exited with status %d", e.Command, e.Code)
	}
	return fmt.Sprintf("command %q exited with status %d: %s", e.Command, e.Code, e.Stderr)
}

// Shell executes commands with `sh -c`.
type Shell struct {
	env []string
}

// Option configures a Shell.
type Option func(*Shell)

// WithEnv appends KEY=VALUE pairs to the inherited environment.
func WithEnv(env ...string) Option {
	return func(s *Shell) { s.env = append(s.env, env...) }
}

// New creates a Shell executor.
func New(opts ...Option) *Shell {
	s := &Shell{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute runs command and returns its trimmed stdout.
func (s *Shell) Execute(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if len(s.env) > 0 {
		cmd.Env = append(cmd.Environ(), s.env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("Executing command.", "component", "shell", "command", command)
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("command %q: %w", command, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &ExitError{
				Command: command,
				Code:    exitErr.ExitCode(),
				Stderr:  strings.TrimSpace(stderr.String()),
			}
		}
		return "", fmt.Errorf("run command %q: %w", command, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Try runs command and suppresses any failure. The bool is false when the
// command failed; the failure is logged only when informative is set.
func Try(ctx context.Context, ex Executor, command string, informative bool) (string, bool) {
	out, err := ex.Execute(ctx, command)
	if err != nil {
		if informative {
			slog.Warn("Command failed.", "component", "shell", "command", command, "err", err)
		}
		return "", false
	}
	return out, true
}
