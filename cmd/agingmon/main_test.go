package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThaysonScript/software-aging-v2/config"
	"github.com/ThaysonScript/software-aging-v2/internal/monitor"
	"github.com/ThaysonScript/software-aging-v2/internal/resources"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := fmt.Sprintf(`
path: %s
software: podman
tracer:
  enabled: false
containers:
  - name: nginx
    host_port: 8080
    port: 80
  - name: redis
    host_port: 6379
    port: 6379
`, dir)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func TestConfigDirname(t *testing.T) {
	out, err := execute(t, "config", "dirname", "--software", "podman", "--system", "debian", "--old-system")
	require.NoError(t, err)
	assert.Equal(t, "podman_new_debian_old\n", out)

	out, err = execute(t, "config", "dirname")
	require.NoError(t, err)
	assert.Equal(t, "docker_new_ubuntu_new\n", out)
}

func TestConfigShow(t *testing.T) {
	path := writeConfig(t)

	out, err := execute(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(filepath.Dir(path), "podman_new_ubuntu_new"))
	assert.Contains(t, out, "nginx")
	assert.Contains(t, out, "6379")
	assert.Contains(t, out, "redis.tar")
}

func TestConfigShowInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("path: /tmp\n"), 0o600))

	_, err := execute(t, "config", "show", "--config", path)
	assert.ErrorIs(t, err, config.ErrNoContainers)
}

func TestInvalidLogFormat(t *testing.T) {
	_, err := execute(t, "--log-format", "xml", "config", "dirname")
	assert.Error(t, err)
}

type idleSource struct{}

func (idleSource) CPU(context.Context) (resources.CPUSample, error) {
	return resources.CPUSample{}, nil
}

func (idleSource) Memory(context.Context) (resources.MemorySample, error) {
	return resources.MemorySample{}, nil
}

func (idleSource) Disk(context.Context) (resources.DiskSample, error) {
	return resources.DiskSample{}, nil
}

func (idleSource) Processes(context.Context) (resources.ProcessSample, error) {
	return resources.ProcessSample{}, nil
}

type readyRuntime struct{}

func (readyRuntime) LoadImage(context.Context, string) error              { return nil }
func (readyRuntime) Start(context.Context, config.Container) error        { return nil }
func (readyRuntime) Ready(context.Context, string, string) (string, bool) { return "12:00:00", true }
func (readyRuntime) Stop(context.Context, string) error                   { return nil }
func (readyRuntime) RemoveContainer(context.Context, string) error        { return nil }
func (readyRuntime) RemoveImage(context.Context, string) error            { return nil }

func TestRunStopsOnCancel(t *testing.T) {
	cfg, err := config.Load(writeConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, run(ctx, cfg, monitor.Options{Source: idleSource{}, Runtime: readyRuntime{}}))
	assert.FileExists(t, filepath.Join(cfg.LogDir(), resources.CPUFile))
	assert.FileExists(t, filepath.Join(cfg.LogDir(), "nginx.csv"))
}
