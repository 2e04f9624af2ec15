package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
path: /srv/aging
software: podman
old_software: false
system: ubuntu
old_system: true
resources:
  interval: 2s
lifecycle:
  interval: 30s
  readiness_poll: 100ms
containers:
  - name: nginx
    host_port: 8080
    port: 80
  - name: redis
    host_port: 6379
    port: 6379
tracer:
  enabled: false
`

func TestLogDirName(t *testing.T) {
	tests := []struct {
		software    string
		oldSoftware bool
		system      string
		oldSystem   bool
		want        string
	}{
		{"podman", false, "ubuntu", true, "podman_new_ubuntu_old"},
		{"docker", true, "debian", false, "docker_old_debian_new"},
		{"docker", false, "debian", false, "docker_new_debian_new"},
		{"podman", true, "rocky", true, "podman_old_rocky_old"},
	}
	for _, tt := range tests {
		got := LogDirName(tt.software, tt.oldSoftware, tt.system, tt.oldSystem)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, got, LogDirName(tt.software, tt.oldSoftware, tt.system, tt.oldSystem))
	}
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "/srv/aging/podman_new_ubuntu_old", cfg.LogDir())
	assert.Equal(t, 2*time.Second, cfg.Resources.Interval)
	assert.Equal(t, 30*time.Second, cfg.Lifecycle.Interval)
	assert.Equal(t, 100*time.Millisecond, cfg.Lifecycle.ReadinessPoll)
	assert.Equal(t, SourceCommand, cfg.Resources.Source)
	assert.Equal(t, DriverCLI, cfg.Lifecycle.Driver)
	assert.Equal(t, DefaultReadinessMarker, cfg.Lifecycle.ReadinessMarker)
	assert.False(t, cfg.Tracer.On())
	assert.Equal(t, "/srv/aging/fragmentation.stp", cfg.Tracer.Script)
	assert.Equal(t, "/srv/aging/nginx.tar", cfg.ArchivePath("nginx"))
	require.Len(t, cfg.Containers, 2)
	assert.Equal(t, Container{Name: "redis", HostPort: 6379, Port: 6379}, cfg.Containers[1])
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("containers: [{name: app, host_port: 80, port: 80}]"))
	require.NoError(t, err)

	assert.Equal(t, "docker", cfg.Software)
	assert.Equal(t, time.Second, cfg.Resources.Interval)
	assert.True(t, cfg.Tracer.On())
	assert.Equal(t, "stap", cfg.Tracer.Binary)
	assert.Equal(t, "/var/lib/agingmon/docker_new_ubuntu_new", cfg.LogDir())
}

func TestValidate(t *testing.T) {
	_, err := Parse([]byte("software: docker"))
	assert.True(t, errors.Is(err, ErrNoContainers))

	_, err = Parse([]byte(`
containers:
  - {name: a, host_port: 1, port: 1}
  - {name: a, host_port: 2, port: 70000}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate name")
	assert.Contains(t, err.Error(), "ports must be in 1..65535")

	_, err = Parse([]byte(`
resources: {source: wmi}
lifecycle: {driver: k8s}
containers: [{name: a, host_port: 1, port: 1}]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown resources.source "wmi"`)
	assert.Contains(t, err.Error(), `unknown lifecycle.driver "k8s"`)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agingmon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "podman", cfg.Software)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
