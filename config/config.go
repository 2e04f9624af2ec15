// Package config loads the agent configuration.
//
// The configuration is a YAML document read once at startup. After Load it
// is treated as immutable and passed explicitly to every component.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	SourceCommand = "command"
	SourceHost    = "host"

	DriverCLI = "cli"
	DriverAPI = "api"

	DefaultReadinessMarker = "/root/log.txt"
)

// ErrNoContainers is returned by Validate when the container list is empty.
var ErrNoContainers = errors.New("no containers configured")

// Container describes one container driven through the lifecycle loop.
// Name doubles as the image reference and the archive base name.
type Container struct {
	Name     string `yaml:"name"`
	HostPort int    `yaml:"host_port"`
	Port     int    `yaml:"port"`
}

type Resources struct {
	Interval       time.Duration `yaml:"interval"`
	Source         string        `yaml:"source"`
	TolerateErrors bool          `yaml:"tolerate_errors"`
}

type Lifecycle struct {
	Interval         time.Duration `yaml:"interval"`
	Driver           string        `yaml:"driver"`
	ReadinessMarker  string        `yaml:"readiness_marker"`
	ReadinessPoll    time.Duration `yaml:"readiness_poll"`
	ReadinessTimeout time.Duration `yaml:"readiness_timeout"`
	TolerateErrors   bool          `yaml:"tolerate_errors"`
}

type Tracer struct {
	Enabled *bool  `yaml:"enabled"`
	Binary  string `yaml:"binary"`
	Script  string `yaml:"script"`
}

// On reports whether the tracer should be launched (default true).
func (t Tracer) On() bool {
	return t.Enabled == nil || *t.Enabled
}

type Clock struct {
	NTPServer string        `yaml:"ntp_server"`
	Interval  time.Duration `yaml:"interval"`
	Threshold time.Duration `yaml:"threshold"`
}

// Config is the full agent configuration.
type Config struct {
	Path        string      `yaml:"path"`
	Software    string      `yaml:"software"`
	OldSoftware bool        `yaml:"old_software"`
	System      string      `yaml:"system"`
	OldSystem   bool        `yaml:"old_system"`
	Resources   Resources   `yaml:"resources"`
	Lifecycle   Lifecycle   `yaml:"lifecycle"`
	Containers  []Container `yaml:"containers"`
	Tracer      Tracer      `yaml:"tracer"`
	Clock       Clock       `yaml:"clock"`

	logDir string
}

// Load reads, defaults and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.logDir = filepath.Join(cfg.Path, LogDirName(cfg.Software, cfg.OldSoftware, cfg.System, cfg.OldSystem))
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Path == "" {
		c.Path = "/var/lib/agingmon"
	}
	if c.Software == "" {
		c.Software = "docker"
	}
	if c.System == "" {
		c.System = "ubuntu"
	}
	if c.Resources.Interval == 0 {
		c.Resources.Interval = time.Second
	}
	if c.Resources.Source == "" {
		c.Resources.Source = SourceCommand
	}
	if c.Lifecycle.Driver == "" {
		c.Lifecycle.Driver = DriverCLI
	}
	if c.Lifecycle.ReadinessMarker == "" {
		c.Lifecycle.ReadinessMarker = DefaultReadinessMarker
	}
	if c.Tracer.Binary == "" {
		c.Tracer.Binary = "stap"
	}
	if c.Tracer.Script == "" {
		c.Tracer.Script = filepath.Join(c.Path, "fragmentation.stp")
	}
	if c.Clock.Interval == 0 {
		c.Clock.Interval = 60 * time.Second
	}
	if c.Clock.Threshold == 0 {
		c.Clock.Threshold = 500 * time.Millisecond
	}
}

// Validate checks the configuration for values the agent cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Path) == "" {
		errs = append(errs, errors.New("path is required"))
	}
	if strings.TrimSpace(c.Software) == "" || strings.ContainsAny(c.Software, " \t") {
		errs = append(errs, fmt.Errorf("invalid software %q", c.Software))
	}
	if c.Resources.Interval <= 0 {
		errs = append(errs, fmt.Errorf("resources.interval must be positive, got %s", c.Resources.Interval))
	}
	if c.Lifecycle.Interval < 0 {
		errs = append(errs, fmt.Errorf("lifecycle.interval must not be negative, got %s", c.Lifecycle.Interval))
	}
	if c.Lifecycle.ReadinessPoll < 0 || c.Lifecycle.ReadinessTimeout < 0 {
		errs = append(errs, errors.New("lifecycle readiness durations must not be negative"))
	}
	switch c.Resources.Source {
	case SourceCommand, SourceHost:
	default:
		errs = append(errs, fmt.Errorf("unknown resources.source %q", c.Resources.Source))
	}
	switch c.Lifecycle.Driver {
	case DriverCLI, DriverAPI:
	default:
		errs = append(errs, fmt.Errorf("unknown lifecycle.driver %q", c.Lifecycle.Driver))
	}

	if len(c.Containers) == 0 {
		errs = append(errs, ErrNoContainers)
	}
	seen := make(map[string]struct{}, len(c.Containers))
	for i, ct := range c.Containers {
		if strings.TrimSpace(ct.Name) == "" {
			errs = append(errs, fmt.Errorf("containers[%d]: name is required", i))
			continue
		}
		if _, dup := seen[ct.Name]; dup {
			errs = append(errs, fmt.Errorf("containers[%d]: duplicate name %q", i, ct.Name))
		}
		seen[ct.Name] = struct{}{}
		if !validPort(ct.HostPort) || !validPort(ct.Port) {
			errs = append(errs, fmt.Errorf("containers[%d] %q: ports must be in 1..65535", i, ct.Name))
		}
	}
	return errors.Join(errs...)
}

func validPort(p int) bool { return p > 0 && p <= 65535 }

// LogDirName composes the per-run directory name from the software and
// system identities and their old/new tags.
func LogDirName(software string, oldSoftware bool, system string, oldSystem bool) string {
	name := software
	if oldSoftware {
		name += "_old_"
	} else {
		name += "_new_"
	}
	name += system
	if oldSystem {
		name += "_old"
	} else {
		name += "_new"
	}
	return name
}

// LogDir returns {path}/{log dir name}. It is fixed when the config is parsed.
func (c *Config) LogDir() string {
	if c.logDir == "" {
		return filepath.Join(c.Path, LogDirName(c.Software, c.OldSoftware, c.System, c.OldSystem))
	}
	return c.logDir
}

// ArchivePath returns the image archive loaded for container name.
func (c *Config) ArchivePath(name string) string {
	return filepath.Join(c.Path, name+".tar")
}
