// Package config loads the sidecar configuration: a YAML file, then
// SIDECAR_* environment overrides. Command-line flags are applied on top by
// the caller before Validate.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/text/encoding/htmlindex"
	"gopkg.in/yaml.v3"

	"github.com/benaskins/sidecar/internal/health"
	"github.com/benaskins/sidecar/internal/readiness"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "SIDECAR_"

	// DefaultCommand is the bundled backend executable.
	DefaultCommand = "taskplex-backend"

	// DefaultPort keeps the sidecar clear of the containerised deployment,
	// which listens on 8000.
	DefaultPort = 8001

	// PortPlaceholder in an argument is replaced with the configured port.
	PortPlaceholder = "{port}"
)

// Config holds the sidecar configuration loaded from ~/.sidecar/config.yaml.
type Config struct {
	Command      string            `yaml:"command" env:"COMMAND"`
	Args         []string          `yaml:"args,omitempty" env:"ARGS"`
	Port         int               `yaml:"port" env:"PORT"`
	WorkingDir   string            `yaml:"working_dir,omitempty" env:"WORKING_DIR"`
	Env          map[string]string `yaml:"env,omitempty"`
	ReadyTimeout Duration          `yaml:"ready_timeout" env:"READY_TIMEOUT"`
	Encoding     string            `yaml:"encoding,omitempty" env:"ENCODING"`
	Markers      readiness.Markers `yaml:"markers,omitempty"`
	Probe        Probe             `yaml:"probe,omitempty" envPrefix:"PROBE_"`
	Log          Log               `yaml:"log,omitempty" envPrefix:"LOG_"`
	APISocket    string            `yaml:"api_socket,omitempty" env:"API_SOCKET"`
	MetricsAddr  string            `yaml:"metrics_addr,omitempty" env:"METRICS_ADDR"`
	Journal      string            `yaml:"journal,omitempty" env:"JOURNAL"`
	LockDir      string            `yaml:"lock_dir,omitempty" env:"LOCK_DIR"`
}

// Probe configures the optional health probe. An empty Type disables it.
type Probe struct {
	Type     string   `yaml:"type,omitempty" env:"TYPE"` // "http" | "tcp"
	Path     string   `yaml:"path,omitempty" env:"PATH"`
	Interval Duration `yaml:"interval,omitempty" env:"INTERVAL"`
	Timeout  Duration `yaml:"timeout,omitempty" env:"TIMEOUT"`
}

type Log struct {
	Format string `yaml:"format,omitempty" env:"FORMAT"` // "auto" | "json" | "text"
	Level  string `yaml:"level,omitempty" env:"LEVEL"`
}

// Duration wraps time.Duration for YAML and environment values like "3s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// Default returns the configuration used when no file or override exists.
func Default() *Config {
	return &Config{
		Command:      DefaultCommand,
		Port:         DefaultPort,
		ReadyTimeout: Duration{readiness.DefaultTimeout},
		Log:          Log{Format: "auto", Level: "info"},
	}
}

// DefaultPath returns the default config file path: ~/.sidecar/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".sidecar", "config.yaml")
}

// Load reads a YAML config file from path on top of Default, then applies
// environment overrides. A missing or empty file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from SIDECAR_* environment variables. Unset
// variables leave the current value alone.
func (c *Config) ApplyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks that the configuration can start a backend.
func (c *Config) Validate() error {
	if c.Command == "" {
		return fmt.Errorf("command is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.ReadyTimeout.Duration < 0 {
		return fmt.Errorf("ready_timeout must not be negative")
	}
	if c.Encoding != "" {
		if _, err := htmlindex.Get(c.Encoding); err != nil {
			return fmt.Errorf("encoding %q is not a known encoding", c.Encoding)
		}
	}

	switch c.Probe.Type {
	case "":
	case "http":
		if c.Probe.Path != "" && !strings.HasPrefix(c.Probe.Path, "/") {
			return fmt.Errorf("probe.path must start with /, got %q", c.Probe.Path)
		}
	case "tcp":
	default:
		return fmt.Errorf("probe.type must be \"http\" or \"tcp\", got %q", c.Probe.Type)
	}
	if c.Probe.Interval.Duration < 0 {
		return fmt.Errorf("probe.interval must not be negative")
	}
	if c.Probe.Timeout.Duration < 0 {
		return fmt.Errorf("probe.timeout must not be negative")
	}

	switch c.Log.Format {
	case "", "auto", "json", "text":
	default:
		return fmt.Errorf("log.format must be \"auto\", \"json\", or \"text\", got %q", c.Log.Format)
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	return nil
}

// BackendArgs returns the argument list for the backend. Every {port} is
// replaced with the port; if no argument mentions it, the port is appended.
func (c *Config) BackendArgs() []string {
	port := strconv.Itoa(c.Port)
	args := make([]string, 0, len(c.Args)+1)
	found := false
	for _, a := range c.Args {
		if strings.Contains(a, PortPlaceholder) {
			found = true
			a = strings.ReplaceAll(a, PortPlaceholder, port)
		}
		args = append(args, a)
	}
	if !found {
		args = append(args, port)
	}
	return args
}

// BackendEnv returns the backend environment: the host environment plus
// the configured variables. It returns nil, meaning inherit unchanged, when
// nothing is configured.
func (c *Config) BackendEnv() []string {
	if len(c.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := os.Environ()
	for _, k := range keys {
		out = append(out, k+"="+c.Env[k])
	}
	return out
}

// ProbeConfig returns the health probe for the backend port, or nil when
// probing is disabled.
func (c *Config) ProbeConfig() *health.Config {
	if c.Probe.Type == "" {
		return nil
	}
	return &health.Config{
		Type:     c.Probe.Type,
		Path:     c.Probe.Path,
		Port:     c.Port,
		Interval: c.Probe.Interval.Duration,
		Timeout:  c.Probe.Timeout.Duration,
	}
}
