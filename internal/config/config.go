// Package config loads and validates the process configuration: ambient
// logging/monitoring/security settings plus the engine tunables and the
// persisted Mount table shape. Generalized from an S3-only performance
// tuning surface to the engine's driver-agnostic knobs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration is the complete process configuration.
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Engine     EngineConfig     `yaml:"engine"`
	Cache      CacheConfig      `yaml:"cache"`
	Network    NetworkConfig    `yaml:"network"`
	Security   SecurityConfig   `yaml:"security"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Features   FeatureConfig    `yaml:"features"`
	Mounts     []MountRecord    `yaml:"mounts"`
}

// GlobalConfig carries process-wide ambient settings.
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	MetricsPort int    `yaml:"metrics_port"`
	HealthPort  int    `yaml:"health_port"`

	// FUSEMountPoint, if non-empty, is the host path where the combined
	// virtual namespace (every enabled mount merged under resolver's
	// overlay rules) is attached via go-fuse. Empty disables the FUSE
	// mount entirely; the engine remains reachable through the HTTP API.
	FUSEMountPoint string `yaml:"fuse_mount_point"`
	FUSEReadOnly   bool   `yaml:"fuse_read_only"`
}

// EngineConfig holds the environment knobs exposed to the process:
// concurrent-task cap, per-driver cap, chunk size, upload-buffer threshold,
// and the conflict-rename attempt bound.
type EngineConfig struct {
	MaxConcurrentTasks   int    `yaml:"max_concurrent_tasks"`
	PerDriverConcurrency int    `yaml:"per_driver_concurrency"`
	ChunkSize            string `yaml:"chunk_size"`
	UploadBufferThreshold string `yaml:"upload_buffer_threshold"`
	MaxRenameAttempts    int    `yaml:"max_rename_attempts"`
	TaskRetentionWindow  time.Duration `yaml:"task_retention_window"`

	// DisableDirsFirstSort turns off the engine's default directories-
	// before-files listing order, falling back to a flat natural-name sort.
	DisableDirsFirstSort bool `yaml:"disable_dirs_first_sort"`
}

// CacheConfig is the listing cache's TTL and capacity: a global default
// with an optional per-mount override.
type CacheConfig struct {
	TTL               time.Duration            `yaml:"ttl"`
	MaxEntries        int                      `yaml:"max_entries"`
	PerMountTTLOverride map[string]time.Duration `yaml:"per_mount_ttl_override"`
}

// NetworkConfig groups timeout, retry, and circuit breaker knobs.
type NetworkConfig struct {
	Timeouts       TimeoutConfig        `yaml:"timeouts"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// TimeoutConfig is the per-call timeout policy: 60s control ops, 15m
// idling bulk transfers.
type TimeoutConfig struct {
	Control time.Duration `yaml:"control"`
	Bulk    time.Duration `yaml:"bulk"`
}

// RetryConfig is the listing backoff policy: 500ms base, two retries.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig guards each driver's outbound calls.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// SecurityConfig carries TLS/encryption posture for drivers that speak TLS.
type SecurityConfig struct {
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig controls certificate verification for network drivers.
type TLSConfig struct {
	VerifyCertificates bool   `yaml:"verify_certificates"`
	MinVersion         string `yaml:"min_version"`
}

// MonitoringConfig groups metrics, health check, and logging settings.
type MonitoringConfig struct {
	Metrics      MetricsConfig      `yaml:"metrics"`
	HealthChecks HealthChecksConfig `yaml:"health_checks"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// MetricsConfig controls the Prometheus collector (internal/metrics).
type MetricsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	CustomLabels map[string]string `yaml:"custom_labels"`
}

// HealthChecksConfig controls the per-mount health checker.
type HealthChecksConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LoggingConfig controls the structured logger's output shape.
type LoggingConfig struct {
	Structured bool   `yaml:"structured"`
	Format     string `yaml:"format"`
}

// FeatureConfig holds feature flags orthogonal to the core transfer path.
type FeatureConfig struct {
	InstantUpload   bool `yaml:"instant_upload"`
	DirectLinkRedirect bool `yaml:"direct_link_redirect"`
}

// MountRecord is the persisted Mount entity:
//
//	mounts(id, name, driver_kind, mount_path, config_json, enabled, order,
//	       remark, created_at, updated_at)
//
// Config is kept as a raw map so unknown properties round-trip unchanged.
type MountRecord struct {
	ID         string         `yaml:"id"`
	Name       string         `yaml:"name"`
	DriverKind string         `yaml:"driver_kind"`
	MountPath  string         `yaml:"mount_path"`
	Config     map[string]any `yaml:"config"`
	Enabled    bool           `yaml:"enabled"`
	Order      int            `yaml:"order"`
	Remark     string         `yaml:"remark"`
	CreatedAt  time.Time      `yaml:"created_at"`
	UpdatedAt  time.Time      `yaml:"updated_at"`
}

// NewDefault returns a configuration with sensible defaults for chunk
// size, retry backoff, and per-call timeouts.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			MetricsPort: 9090,
			HealthPort:  9091,
		},
		Engine: EngineConfig{
			MaxConcurrentTasks:    4,
			PerDriverConcurrency:  2,
			ChunkSize:             "1MB",
			UploadBufferThreshold: "32MB",
			MaxRenameAttempts:     100,
			TaskRetentionWindow:   time.Hour,
		},
		Cache: CacheConfig{
			TTL:        5 * time.Second,
			MaxEntries: 10000,
		},
		Network: NetworkConfig{
			Timeouts: TimeoutConfig{
				Control: 60 * time.Second,
				Bulk:    15 * time.Minute,
			},
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   500 * time.Millisecond,
				MaxDelay:    5 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          60 * time.Second,
			},
		},
		Security: SecurityConfig{
			TLS: TLSConfig{
				VerifyCertificates: true,
				MinVersion:         "1.2",
			},
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				CustomLabels: map[string]string{
					"service": "unidrive-core",
				},
			},
			HealthChecks: HealthChecksConfig{
				Enabled:  true,
				Interval: 30 * time.Second,
				Timeout:  5 * time.Second,
			},
			Logging: LoggingConfig{
				Structured: true,
				Format:     "json",
			},
		},
		Features: FeatureConfig{
			InstantUpload:      true,
			DirectLinkRedirect: true,
		},
	}
}

// LoadFromFile loads configuration from a YAML file, leaving any fields the
// file omits at their current (typically default) value.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv applies UNIDRIVE_* environment overrides on top of whatever is
// already loaded.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("UNIDRIVE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("UNIDRIVE_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("UNIDRIVE_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.MetricsPort = port
		}
	}
	if val := os.Getenv("UNIDRIVE_MAX_CONCURRENT_TASKS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Engine.MaxConcurrentTasks = n
		}
	}
	if val := os.Getenv("UNIDRIVE_PER_DRIVER_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Engine.PerDriverConcurrency = n
		}
	}
	if val := os.Getenv("UNIDRIVE_CACHE_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Cache.TTL = d
		}
	}
	if val := os.Getenv("UNIDRIVE_INSTANT_UPLOAD"); val != "" {
		c.Features.InstantUpload = strings.ToLower(val) == "true"
	}
	return nil
}

// SaveToFile persists the configuration (including the mount table) as YAML.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks invariants the engine depends on, including that two
// enabled mounts may not share an identical mount_path.
func (c *Configuration) Validate() error {
	if c.Engine.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("max_concurrent_tasks must be greater than 0")
	}
	if c.Engine.PerDriverConcurrency <= 0 {
		return fmt.Errorf("per_driver_concurrency must be greater than 0")
	}
	if c.Engine.MaxRenameAttempts <= 0 {
		return fmt.Errorf("max_rename_attempts must be greater than 0")
	}
	if c.Global.MetricsPort != 0 && c.Global.MetricsPort == c.Global.HealthPort {
		return fmt.Errorf("metrics_port and health_port cannot be the same")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	ok := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)", c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	seen := make(map[string]bool)
	for _, m := range c.Mounts {
		if !m.Enabled {
			continue
		}
		path := normalizeMountPath(m.MountPath)
		if seen[path] {
			return fmt.Errorf("duplicate enabled mount_path: %s", m.MountPath)
		}
		seen[path] = true
	}

	return nil
}

// normalizeMountPath strips a trailing slash (except for root) so duplicate
// detection is insensitive to that cosmetic difference.
func normalizeMountPath(p string) string {
	if p == "/" || p == "" {
		return "/"
	}
	return strings.TrimSuffix(p, "/")
}
