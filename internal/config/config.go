// Package config loads the supervisor's own daemon configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hiveagent/warden/internal/logger"
)

const (
	DefaultListen       = "0.0.0.0:6080"
	DefaultBasePath     = "/api/v1/warden"
	DefaultSelfName     = "hive_agent-warden"
	RegistryFileName    = "core_microservices.json"
	DefaultProbeTimeout = 5 * time.Second
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	// Registry is the service registry file; empty selects the path next to the binary.
	Registry    string            `mapstructure:"registry"`
	ServicesDir string            `mapstructure:"services_dir"`
	SelfName    string            `mapstructure:"self_name"`
	Env         []string          `mapstructure:"env"`
	EnvFiles    []string          `mapstructure:"env_files"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Ports       PortsConfig       `mapstructure:"ports"`
	Log         logger.SlogConfig `mapstructure:"log"`
	ServiceLogs logger.FileConfig `mapstructure:"service_logs"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	History     HistoryConfig     `mapstructure:"history"`
}

type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
	CORS     bool   `mapstructure:"cors"`
}

type MonitorConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RestartDelay     time.Duration `mapstructure:"restart_delay"`
	StartStagger     time.Duration `mapstructure:"start_stagger"`
	StopGrace        time.Duration `mapstructure:"stop_grace"`
	StopTimeout      time.Duration `mapstructure:"stop_timeout"`
}

type PortsConfig struct {
	FallbackStart uint16 `mapstructure:"fallback_start"`
	FallbackEnd   uint16 `mapstructure:"fallback_end"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// HistoryConfig lists lifecycle event sinks by DSN (sqlite, postgres, clickhouse, opensearch).
type HistoryConfig struct {
	Sinks []string `mapstructure:"sinks"`
}

// builtin is the configuration used when nothing is set.
func builtin() Config {
	return Config{
		Server:   ServerConfig{Listen: DefaultListen, BasePath: DefaultBasePath, CORS: true},
		SelfName: DefaultSelfName,
		Monitor: MonitorConfig{
			Interval:         10 * time.Second,
			ProbeTimeout:     DefaultProbeTimeout,
			FailureThreshold: 3,
			RestartDelay:     time.Second,
			StartStagger:     2 * time.Second,
			StopGrace:        100 * time.Millisecond,
			StopTimeout:      5 * time.Second,
		},
		Ports: PortsConfig{FallbackStart: 6000, FallbackEnd: 7000},
		Log: logger.SlogConfig{
			Level:      logger.LevelInfo,
			Format:     logger.FormatText,
			TimeStamps: true,
		},
		ServiceLogs: logger.FileConfig{
			MaxSizeMB:  logger.DefaultMaxSizeMB,
			MaxBackups: logger.DefaultMaxBackups,
			MaxAgeDays: logger.DefaultMaxAgeDays,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

func setDefaults(v *viper.Viper) {
	d := builtin()
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.base_path", d.Server.BasePath)
	v.SetDefault("server.cors", d.Server.CORS)
	v.SetDefault("registry", "")
	v.SetDefault("services_dir", "")
	v.SetDefault("self_name", d.SelfName)
	v.SetDefault("monitor.interval", d.Monitor.Interval.String())
	v.SetDefault("monitor.probe_timeout", d.Monitor.ProbeTimeout.String())
	v.SetDefault("monitor.failure_threshold", d.Monitor.FailureThreshold)
	v.SetDefault("monitor.restart_delay", d.Monitor.RestartDelay.String())
	v.SetDefault("monitor.start_stagger", d.Monitor.StartStagger.String())
	v.SetDefault("monitor.stop_grace", d.Monitor.StopGrace.String())
	v.SetDefault("monitor.stop_timeout", d.Monitor.StopTimeout.String())
	v.SetDefault("ports.fallback_start", d.Ports.FallbackStart)
	v.SetDefault("ports.fallback_end", d.Ports.FallbackEnd)
	v.SetDefault("log.level", string(d.Log.Level))
	v.SetDefault("log.format", string(d.Log.Format))
	v.SetDefault("log.color", d.Log.Color)
	v.SetDefault("log.timestamps", d.Log.TimeStamps)
	v.SetDefault("log.path", "")
	v.SetDefault("service_logs.dir", "")
	v.SetDefault("service_logs.max_size_mb", d.ServiceLogs.MaxSizeMB)
	v.SetDefault("service_logs.max_backups", d.ServiceLogs.MaxBackups)
	v.SetDefault("service_logs.max_age_days", d.ServiceLogs.MaxAgeDays)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
}

// Default returns the built-in configuration. WARDEN_* variables are not applied;
// use Load("") for defaults plus environment.
func Default() *Config {
	c := builtin()
	return &c
}

// Load reads path (TOML, YAML or JSON by extension) on top of the defaults and applies
// WARDEN_* environment overrides, e.g. WARDEN_SERVER_LISTEN. An empty path loads
// defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("WARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects settings the supervisor cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen must not be empty"))
	}
	if c.Ports.FallbackStart == 0 || c.Ports.FallbackEnd < c.Ports.FallbackStart {
		errs = append(errs, fmt.Errorf("invalid fallback port range %d-%d", c.Ports.FallbackStart, c.Ports.FallbackEnd))
	}
	if c.Monitor.Interval <= 0 {
		errs = append(errs, errors.New("monitor.interval must be positive"))
	}
	if c.Monitor.FailureThreshold <= 0 {
		errs = append(errs, errors.New("monitor.failure_threshold must be positive"))
	}
	return errors.Join(errs...)
}

// Logger returns the supervisor logger configuration.
func (c *Config) Logger() logger.Config {
	return logger.Config{Slog: c.Log, File: c.ServiceLogs}
}

// GlobalEnv merges env_files in order and then the env list; later entries win.
func (c *Config) GlobalEnv() ([]string, error) {
	out := make([]string, 0, len(c.Env))
	for _, p := range c.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		out = append(out, pairs...)
	}
	return append(out, c.Env...), nil
}

// RegistryPath resolves the service registry file relative to exeDir when unset.
func (c *Config) RegistryPath(exeDir string) string {
	if c.Registry != "" {
		return c.Registry
	}
	return DefaultRegistryPath(exeDir)
}

// DefaultRegistryPath prefers <exeDir>/deps/core_microservices.json and falls back to
// the development layout <exeDir>/../../hive_agent-warden/deps when only that exists.
func DefaultRegistryPath(exeDir string) string {
	primary := filepath.Join(exeDir, "deps", RegistryFileName)
	if _, err := os.Stat(primary); err == nil {
		return primary
	}
	dev := filepath.Join(exeDir, "..", "..", DefaultSelfName, "deps", RegistryFileName)
	if _, err := os.Stat(dev); err == nil {
		return filepath.Clean(dev)
	}
	return primary
}

// LoadEnvFile parses KEY=VALUE lines. Blank lines and lines starting with # are ignored.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			out = append(out, strings.TrimSpace(line[:i])+"="+strings.TrimSpace(line[i+1:]))
		}
	}
	return out, nil
}
