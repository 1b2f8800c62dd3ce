// Package config loads wildtrack settings from an optional YAML file layered
// under WILDTRACK_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"wildtrack/internal/blob"
	"wildtrack/internal/core"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "wildtrack.yaml"

// Config holds all wildtrack settings.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Blob    BlobConfig    `yaml:"blob"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver      string `yaml:"driver"` // memory, sqlite, postgres
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// BlobConfig selects where snapshots are written.
type BlobConfig struct {
	Driver         string   `yaml:"driver"` // fs, s3, memory
	FSRoot         string   `yaml:"fs_root"`
	SnapshotPrefix string   `yaml:"snapshot_prefix"`
	S3             S3Config `yaml:"s3"`
}

// S3Config configures the S3 snapshot store.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	TracePath string `yaml:"trace_path"` // JSON span log, disabled when empty
}

// MetricsConfig selects the metrics recorder. The recorded metrics are
// written to Path when the command exits.
type MetricsConfig struct {
	Driver string `yaml:"driver"` // none, prometheus, expvar
	Path   string `yaml:"path"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver:     string(core.StorageSQLite),
			SQLitePath: core.DefaultSQLitePath,
		},
		Blob: BlobConfig{
			Driver:         string(blob.DriverFilesystem),
			FSRoot:         blob.DefaultFSRoot,
			SnapshotPrefix: core.DefaultSnapshotPrefix,
			S3:             S3Config{Region: "us-east-1"},
		},
		Logging: LoggingConfig{Level: "info"},
		Metrics: MetricsConfig{Driver: string(core.MetricsNone)},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	strs := []struct {
		env string
		dst *string
	}{
		{"WILDTRACK_STORAGE_DRIVER", &c.Storage.Driver},
		{"WILDTRACK_SQLITE_PATH", &c.Storage.SQLitePath},
		{"WILDTRACK_POSTGRES_DSN", &c.Storage.PostgresDSN},
		{"WILDTRACK_BLOB_DRIVER", &c.Blob.Driver},
		{"WILDTRACK_BLOB_FS_ROOT", &c.Blob.FSRoot},
		{"WILDTRACK_BLOB_PREFIX", &c.Blob.SnapshotPrefix},
		{"WILDTRACK_BLOB_S3_BUCKET", &c.Blob.S3.Bucket},
		{"WILDTRACK_BLOB_S3_REGION", &c.Blob.S3.Region},
		{"WILDTRACK_BLOB_S3_ENDPOINT", &c.Blob.S3.Endpoint},
		{"WILDTRACK_BLOB_S3_ACCESS_KEY_ID", &c.Blob.S3.AccessKeyID},
		{"WILDTRACK_BLOB_S3_SECRET_ACCESS_KEY", &c.Blob.S3.SecretAccessKey},
		{"WILDTRACK_BLOB_S3_SESSION_TOKEN", &c.Blob.S3.SessionToken},
		{"WILDTRACK_LOG_LEVEL", &c.Logging.Level},
		{"WILDTRACK_TRACE_PATH", &c.Logging.TracePath},
		{"WILDTRACK_METRICS_DRIVER", &c.Metrics.Driver},
		{"WILDTRACK_METRICS_PATH", &c.Metrics.Path},
	}
	for _, s := range strs {
		if v := os.Getenv(s.env); v != "" {
			*s.dst = v
		}
	}
	if v := os.Getenv("WILDTRACK_BLOB_S3_PATH_STYLE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("WILDTRACK_BLOB_S3_PATH_STYLE: %w", err)
		}
		c.Blob.S3.PathStyle = b
	}
	return nil
}

// Validate checks driver names and required settings.
func (c *Config) Validate() error {
	switch core.StorageDriver(c.Storage.Driver) {
	case core.StorageMemory, core.StorageSQLite, core.StoragePostgres:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch blob.Driver(c.Blob.Driver) {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("blob driver s3 requires a bucket")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	switch core.MetricsDriver(c.Metrics.Driver) {
	case "", core.MetricsNone:
	case core.MetricsPrometheus, core.MetricsExpvar:
		if c.Metrics.Path == "" {
			return fmt.Errorf("metrics driver %s requires a path", c.Metrics.Driver)
		}
	default:
		return fmt.Errorf("unknown metrics driver %q", c.Metrics.Driver)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// LogLevel parses the configured zap level.
func (c *Config) LogLevel() (zapcore.Level, error) {
	if c.Logging.Level == "" {
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(c.Logging.Level)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", c.Logging.Level, err)
	}
	return lvl, nil
}

// StorageOptions converts the storage section for core.OpenBackend.
func (c *Config) StorageOptions() core.StorageConfig {
	return core.StorageConfig{
		Driver:      core.StorageDriver(c.Storage.Driver),
		SQLitePath:  c.Storage.SQLitePath,
		PostgresDSN: c.Storage.PostgresDSN,
	}
}

// BlobOptions converts the blob section for blob.Open.
func (c *Config) BlobOptions() blob.Config {
	return blob.Config{
		Driver: blob.Driver(c.Blob.Driver),
		FSRoot: c.Blob.FSRoot,
		S3: blob.S3Config{
			Region:          c.Blob.S3.Region,
			Bucket:          c.Blob.S3.Bucket,
			Endpoint:        c.Blob.S3.Endpoint,
			AccessKeyID:     c.Blob.S3.AccessKeyID,
			SecretAccessKey: c.Blob.S3.SecretAccessKey,
			SessionToken:    c.Blob.S3.SessionToken,
			PathStyle:       c.Blob.S3.PathStyle,
		},
	}
}
