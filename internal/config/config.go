package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Session      SessionConfig      `toml:"session"`
	Templates    TemplatesConfig    `toml:"templates"`
	Artifacts    ArtifactsConfig    `toml:"artifacts"`
	Web          WebConfig          `toml:"web"`
	Log          LogConfig          `toml:"log"`
	Metrics      MetricsConfig      `toml:"metrics"`
}

// OrchestratorConfig holds job scheduling settings
type OrchestratorConfig struct {
	Workers           int    `toml:"workers"`
	DefaultDeviceType string `toml:"default_device_type"`
}

// SessionConfig holds remote shell settings
type SessionConfig struct {
	Username       string   `toml:"username"`
	Port           int      `toml:"port"`
	DialTimeout    Duration `toml:"dial_timeout"`
	CommandTimeout Duration `toml:"command_timeout"`
	KnownHosts     string   `toml:"known_hosts"`
	ReverseDNS     bool     `toml:"reverse_dns"`
}

// TemplatesConfig points at the regex template file
type TemplatesConfig struct {
	Path string `toml:"path"`
}

// ArtifactsConfig holds artifact retention settings
type ArtifactsConfig struct {
	Backend       string   `toml:"backend"`
	DatabasePath  string   `toml:"database_path"`
	Retention     Duration `toml:"retention"`
	SweepSchedule string   `toml:"sweep_schedule"`
	Dir           string   `toml:"dir"`
}

// WebConfig holds web server settings
type WebConfig struct {
	Port    int      `toml:"port"`
	Host    string   `toml:"host"`
	JobTTL  Duration `toml:"job_ttl"`
	MaxJobs int      `toml:"max_jobs"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// MetricsConfig toggles the /metrics endpoint
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// Duration is a time.Duration that reads from TOML strings like "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration as a Go duration string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Orchestrator: OrchestratorConfig{
			Workers:           8,
			DefaultDeviceType: "cisco_ios",
		},
		Session: SessionConfig{
			Port:           22,
			DialTimeout:    Duration{10 * time.Second},
			CommandTimeout: Duration{30 * time.Second},
			ReverseDNS:     true,
		},
		Artifacts: ArtifactsConfig{
			Backend:       "memory",
			DatabasePath:  filepath.Join(home, ".netquery", "artifacts.db"),
			Retention:     Duration{time.Hour},
			SweepSchedule: "@every 5m",
			Dir:           ".",
		},
		Web: WebConfig{
			Port:    8080,
			Host:    "127.0.0.1",
			JobTTL:  Duration{5 * time.Minute},
			MaxJobs: 25,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.Templates.Path = ExpandPath(cfg.Templates.Path)
	cfg.Session.KnownHosts = ExpandPath(cfg.Session.KnownHosts)
	cfg.Artifacts.DatabasePath = ExpandPath(cfg.Artifacts.DatabasePath)
	cfg.Artifacts.Dir = ExpandPath(cfg.Artifacts.Dir)
	cfg.Log.File = ExpandPath(cfg.Log.File)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the rest of the program cannot work with
func (c *Config) Validate() error {
	if c.Orchestrator.Workers < 1 {
		return fmt.Errorf("orchestrator.workers must be at least 1, got %d", c.Orchestrator.Workers)
	}
	switch c.Artifacts.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("artifacts.backend must be memory or sqlite, got %q", c.Artifacts.Backend)
	}
	if c.Web.MaxJobs < 1 {
		return fmt.Errorf("web.max_jobs must be at least 1, got %d", c.Web.MaxJobs)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a level name to a slog.Level
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: unknown level %q", name)
	}
	return level, nil
}

// Addr returns the web listen address
func (w WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "netquery", "config.toml")
}

// LocalConfigName is looked up in the working directory and its parents
const LocalConfigName = ".netquery.toml"

// FindLocalConfig walks up from the working directory looking for LocalConfigName.
// Returns an empty string when none is found.
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// LoadWithLocalFallback loads explicitPath when given, then a local project config,
// then the user config.
func LoadWithLocalFallback(explicitPath string) (*Config, error) {
	if explicitPath != "" {
		return Load(explicitPath)
	}
	if local := FindLocalConfig(); local != "" {
		return Load(local)
	}
	return Load(DefaultConfigPath())
}
