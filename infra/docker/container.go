// Package docker drives the container lifecycle through the Docker Engine API
// instead of the docker CLI.
package docker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ThaysonScript/software-aging-v2/config"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// containerConfig mirrors `run -td -p host:port --init <name>`: a TTY, an
// init process as PID 1 and one published TCP port, with stdin closed. The
// image reference is the container name.
func containerConfig(c config.Container) (*container.Config, *container.HostConfig) {
	port := nat.Port(fmt.Sprintf("%d/tcp", c.Port))
	init := true

	cc := &container.Config{
		Image:        c.Name,
		Tty:          true,
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}
	hc := &container.HostConfig{
		Init: &init,
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostPort: strconv.Itoa(c.HostPort)}},
		},
	}
	return cc, hc
}

// createAndStart creates the container and starts it. Unlike a deploy, a
// missing image is never pulled: the lifecycle only runs images it loaded.
func createAndStart(ctx context.Context, docker client.APIClient, c config.Container) error {
	cc, hc := containerConfig(c)
	if _, err := docker.ContainerCreate(ctx, cc, hc, nil, (*ocispec.Platform)(nil), c.Name); err != nil {
		if errdefs.IsConflict(err) {
			return fmt.Errorf("create container %s: name in use, a previous pass left it behind: %w", c.Name, err)
		}
		return fmt.Errorf("create container %s: %w", c.Name, err)
	}
	if err := docker.ContainerStart(ctx, c.Name, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", c.Name, err)
	}
	return nil
}
