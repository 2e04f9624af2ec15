package lifecycle

import (
	"context"
	"fmt"

	"github.com/ThaysonScript/software-aging-v2/config"
	"github.com/ThaysonScript/software-aging-v2/internal/shell"
)

// Runtime drives one container through the lifecycle phases. Every method
// maps to exactly one runtime operation.
type Runtime interface {
	// LoadImage loads an image archive into the runtime's image store.
	LoadImage(ctx context.Context, archive string) error
	// Start runs the container detached with an init process as PID 1,
	// publishing HostPort to Port. The image reference is the container name.
	Start(ctx context.Context, c config.Container) error
	// Ready probes the readiness marker inside the container. It never
	// fails: the bool is false when the probe could not run or found nothing.
	Ready(ctx context.Context, name, marker string) (string, bool)
	Stop(ctx context.Context, name string) error
	RemoveContainer(ctx context.Context, name string) error
	// RemoveImage removes the image tagged ref. Callers pass the container
	// name, assuming the loaded archive is tagged with it.
	RemoveImage(ctx context.Context, ref string) error
}

// CLIRuntime shells out to a Docker-compatible CLI (docker, podman).
type CLIRuntime struct {
	binary string
	exec   shell.Executor
}

var _ Runtime = (*CLIRuntime)(nil)

func NewCLIRuntime(binary string, exec shell.Executor) *CLIRuntime {
	return &CLIRuntime{binary: binary, exec: exec}
}

func (r *CLIRuntime) LoadImage(ctx context.Context, archive string) error {
	return r.run(ctx, fmt.Sprintf("%s load -i %s -q", r.binary, archive))
}

func (r *CLIRuntime) Start(ctx context.Context, c config.Container) error {
	return r.run(ctx, fmt.Sprintf("%s run --name %s -td -p %d:%d --init %s",
		r.binary, c.Name, c.HostPort, c.Port, c.Name))
}

func (r *CLIRuntime) Ready(ctx context.Context, name, marker string) (string, bool) {
	cmd := fmt.Sprintf(`%s exec -i %s sh -c "test -e %s && cat %s"`, r.binary, name, marker, marker)
	out, ok := shell.Try(ctx, r.exec, cmd, false)
	return out, ok && out != ""
}

func (r *CLIRuntime) Stop(ctx context.Context, name string) error {
	return r.run(ctx, fmt.Sprintf("%s stop %s", r.binary, name))
}

func (r *CLIRuntime) RemoveContainer(ctx context.Context, name string) error {
	return r.run(ctx, fmt.Sprintf("%s rm %s", r.binary, name))
}

func (r *CLIRuntime) RemoveImage(ctx context.Context, ref string) error {
	return r.run(ctx, fmt.Sprintf("%s rmi %s", r.binary, ref))
}

func (r *CLIRuntime) run(ctx context.Context, command string) error {
	_, err := r.exec.Execute(ctx, command)
	return err
}
