package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ThaysonScript/software-aging-v2/config"
	"github.com/ThaysonScript/software-aging-v2/internal/lifecycle"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

var _ lifecycle.Runtime = (*Runtime)(nil)

// Runtime implements lifecycle.Runtime using the Docker Engine API.
type Runtime struct {
	cli client.APIClient
}

// NewRuntime creates a Runtime with a new Docker client from the environment.
func NewRuntime() (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Runtime{cli: cli}, nil
}

// NewRuntimeFromClient wraps an existing Docker client.
func NewRuntimeFromClient(cli client.APIClient) *Runtime {
	return &Runtime{cli: cli}
}

// WaitReady blocks until the daemon answers a ping. Connection failures are
// retried every second; any other error is returned.
func (r *Runtime) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		_, err := r.cli.Ping(ctx)
		if err == nil {
			return nil
		}
		if !client.IsErrConnectionFailed(err) {
			return fmt.Errorf("connect to docker daemon: %w", err)
		}
		slog.Debug("Docker daemon not reachable yet.", "err", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// LoadImage streams the archive to the daemon and drains the quiet response.
func (r *Runtime) LoadImage(ctx context.Context, archive string) error {
	f, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("open image archive: %w", err)
	}
	defer f.Close()

	resp, err := r.cli.ImageLoad(ctx, f, client.ImageLoadWithQuiet(true))
	if err != nil {
		return fmt.Errorf("load image %s: %w", archive, err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("load image %s: read response: %w", archive, err)
	}
	return nil
}

func (r *Runtime) Start(ctx context.Context, c config.Container) error {
	return createAndStart(ctx, r.cli, c)
}

// Ready execs `sh -c "test -e marker && cat marker"` in the container. A
// container that is gone or not running yet is simply not ready.
func (r *Runtime) Ready(ctx context.Context, name, marker string) (string, bool) {
	cmd := []string{"sh", "-c", fmt.Sprintf("test -e %s && cat %s", marker, marker)}
	log := slog.With("component", "docker", "container", name)

	resp, err := r.cli.ContainerExecCreate(ctx, name, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if errdefs.IsNotFound(err) || errdefs.IsConflict(err) {
			log.Debug("Container not accepting exec yet.", "err", err)
		} else {
			log.Debug("Create readiness exec failed.", "err", err)
		}
		return "", false
	}

	attach, err := r.cli.ContainerExecAttach(ctx, resp.ID, container.ExecAttachOptions{})
	if err != nil {
		log.Debug("Attach readiness exec failed.", "err", err)
		return "", false
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		log.Debug("Read readiness output failed.", "err", err)
		return "", false
	}

	info, err := r.cli.ContainerExecInspect(ctx, resp.ID)
	if err != nil || info.ExitCode != 0 {
		return "", false
	}
	out := string(bytes.TrimSpace(stdout.Bytes()))
	return out, out != ""
}

func (r *Runtime) Stop(ctx context.Context, name string) error {
	if err := r.cli.ContainerStop(ctx, name, container.StopOptions{}); err != nil {
		return fmt.Errorf("stop container %s: %w", name, err)
	}
	return nil
}

func (r *Runtime) RemoveContainer(ctx context.Context, name string) error {
	if err := r.cli.ContainerRemove(ctx, name, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("remove container %s: %w", name, err)
	}
	return nil
}

func (r *Runtime) RemoveImage(ctx context.Context, ref string) error {
	deleted, err := r.cli.ImageRemove(ctx, ref, image.RemoveOptions{})
	if err != nil {
		return fmt.Errorf("remove image %s: %w", ref, err)
	}
	slog.Debug("Image removed.", "component", "docker", "image", ref, "layers", len(deleted))
	return nil
}

func (r *Runtime) Close() error {
	return r.cli.Close()
}
