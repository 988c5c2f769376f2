// Package config handles configuration loading, validation, and
// hot-reloading for pedometerd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" yaml:"version"`

	// Storage configures the persistent stores.
	Storage StorageConfig `toml:"storage" yaml:"storage"`

	// Sensor configures the platform step counter source.
	Sensor SensorConfig `toml:"sensor" yaml:"sensor"`

	// Retention configures record cleanup.
	Retention RetentionConfig `toml:"retention" yaml:"retention"`

	// Logging configures structured log output.
	Logging LoggingConfig `toml:"logging" yaml:"logging"`

	// IPC configures the control socket.
	IPC IPCConfig `toml:"ipc" yaml:"ipc"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `toml:"metrics" yaml:"metrics"`
}

// StorageConfig holds persistence paths.
type StorageConfig struct {
	// StatePath is the engine state database file.
	StatePath string `toml:"state_path" yaml:"state_path"`

	// RecordsPath is the step record database file.
	RecordsPath string `toml:"records_path" yaml:"records_path"`
}

// SensorConfig selects and configures the reading source.
type SensorConfig struct {
	// Source is "platform" or "simulated".
	Source string `toml:"source" yaml:"source"`

	// AutoStart begins tracking as soon as the daemon initializes.
	AutoStart bool `toml:"auto_start" yaml:"auto_start"`

	// Bus coordinates of the platform step counter service. Empty
	// fields keep the built-in defaults. Linux only.
	BusName    string `toml:"bus_name" yaml:"bus_name"`
	ObjectPath string `toml:"object_path" yaml:"object_path"`
	Interface  string `toml:"interface" yaml:"interface"`
	Property   string `toml:"property" yaml:"property"`
}

// RetentionConfig holds record cleanup settings.
type RetentionConfig struct {
	// Days is the maximum record age before cleanup eligibility.
	Days int `toml:"days" yaml:"days"`

	// CleanupEvery triggers cleanup after this many inserts.
	CleanupEvery int `toml:"cleanup_every" yaml:"cleanup_every"`

	// Probabilistic switches to the legacy ~1%-per-insert trigger.
	Probabilistic bool `toml:"probabilistic" yaml:"probabilistic"`
}

// Window returns the retention duration.
func (r RetentionConfig) Window() time.Duration {
	return time.Duration(r.Days) * 24 * time.Hour
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `toml:"level" yaml:"level"`

	// Format is "text" or "json".
	Format string `toml:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file" or "both".
	Output string `toml:"output" yaml:"output"`

	// FilePath is the log file when Output includes "file".
	FilePath string `toml:"file_path" yaml:"file_path"`

	// MaxSizeMB rotates the log file beyond this size.
	MaxSizeMB int64 `toml:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups caps the rotated files kept.
	MaxBackups int `toml:"max_backups" yaml:"max_backups"`
}

// IPCConfig holds the control socket settings.
type IPCConfig struct {
	// SocketPath is the unix socket the daemon listens on.
	SocketPath string `toml:"socket_path" yaml:"socket_path"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	// Enabled serves /metrics when true.
	Enabled bool `toml:"enabled" yaml:"enabled"`

	// Listen is the HTTP listen address.
	Listen string `toml:"listen" yaml:"listen"`
}

// Default returns the default configuration.
func Default() *Config {
	data := PlatformDataDir()
	return &Config{
		Version: Version,
		Storage: StorageConfig{
			StatePath:   filepath.Join(data, "state.db"),
			RecordsPath: filepath.Join(data, "steps.db"),
		},
		Sensor: SensorConfig{
			Source: "platform",
		},
		Retention: RetentionConfig{
			Days:         30,
			CleanupEvery: 100,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(data, "pedometerd.log"),
			MaxSizeMB:  100,
			MaxBackups: 5,
		},
		IPC: IPCConfig{
			SocketPath: DefaultSocketPath(),
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9477",
		},
	}
}

// PlatformDataDir returns the platform-specific data directory.
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "pedometerd")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, _ := os.UserHomeDir()
			appData = home
		}
		return filepath.Join(appData, "pedometerd")
	default:
		if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
			return filepath.Join(dataHome, "pedometerd")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "pedometerd")
	}
}

// DefaultSocketPath returns the platform-specific control socket path.
func DefaultSocketPath() string {
	if runtime.GOOS == "linux" {
		if rt := os.Getenv("XDG_RUNTIME_DIR"); rt != "" {
			return filepath.Join(rt, "pedometerd.sock")
		}
	}
	return filepath.Join(PlatformDataDir(), "pedometerd.sock")
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.Version <= 0 || c.Version > Version {
		return fmt.Errorf("unsupported config version %d", c.Version)
	}
	if c.Storage.StatePath == "" {
		return fmt.Errorf("storage.state_path must not be empty")
	}
	if c.Storage.RecordsPath == "" {
		return fmt.Errorf("storage.records_path must not be empty")
	}
	if c.Storage.StatePath == c.Storage.RecordsPath {
		return fmt.Errorf("state and records databases must be separate files")
	}

	switch c.Sensor.Source {
	case "platform", "simulated":
	default:
		return fmt.Errorf("sensor.source must be \"platform\" or \"simulated\", got %q", c.Sensor.Source)
	}

	if c.Retention.Days <= 0 {
		return fmt.Errorf("retention.days must be positive, got %d", c.Retention.Days)
	}
	if !c.Retention.Probabilistic && c.Retention.CleanupEvery <= 0 {
		return fmt.Errorf("retention.cleanup_every must be positive, got %d", c.Retention.CleanupEvery)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not a known level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not a known format", c.Logging.Format)
	}

	if c.IPC.SocketPath == "" {
		return fmt.Errorf("ipc.socket_path must not be empty")
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen must be set when metrics are enabled")
	}
	return nil
}

// ApplyEnvOverrides lets PEDOMETERD_* environment variables override
// file settings, for containerized deployments.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PEDOMETERD_STATE_PATH"); v != "" {
		c.Storage.StatePath = v
	}
	if v := os.Getenv("PEDOMETERD_RECORDS_PATH"); v != "" {
		c.Storage.RecordsPath = v
	}
	if v := os.Getenv("PEDOMETERD_SENSOR_SOURCE"); v != "" {
		c.Sensor.Source = v
	}
	if v := os.Getenv("PEDOMETERD_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("PEDOMETERD_SOCKET"); v != "" {
		c.IPC.SocketPath = v
	}
	if v := os.Getenv("PEDOMETERD_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			c.Retention.Days = days
		}
	}
	if v := os.Getenv("PEDOMETERD_METRICS_LISTEN"); v != "" {
		c.Metrics.Enabled = true
		c.Metrics.Listen = v
	}
}
