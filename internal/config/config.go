package config

import (
	"fmt"
	"time"
)

// Storage backends.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Config holds all configuration for the application.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Limits  LimitsConfig  `mapstructure:"limits"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Listen       string        `mapstructure:"listen"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// StorageConfig selects where model files are read from and written to.
type StorageConfig struct {
	Backend string   `mapstructure:"backend"`
	Root    string   `mapstructure:"root"`
	S3      S3Config `mapstructure:"s3"`
}

// S3Config holds S3-compatible object storage settings.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// CatalogConfig holds model catalog settings. An empty Path keeps the catalog in memory.
type CatalogConfig struct {
	Path    string `mapstructure:"path"`
	Workers int    `mapstructure:"workers"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// LimitsConfig holds request limit settings.
type LimitsConfig struct {
	MaxModelBytes        int64         `mapstructure:"max_model_bytes"`
	MaxConcurrentEncodes int           `mapstructure:"max_concurrent_encodes"`
	QueueTimeout         time.Duration `mapstructure:"queue_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:       "0.0.0.0:8080",
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Storage: StorageConfig{
			Backend: StorageLocal,
			Root:    ".",
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Catalog: CatalogConfig{
			Path:    "",
			Workers: 4,
		},
		Auth: AuthConfig{
			APIKey: "",
		},
		Limits: LimitsConfig{
			MaxModelBytes:        2 << 30,
			MaxConcurrentEncodes: 4,
			QueueTimeout:         30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case StorageLocal:
	case StorageS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Limits.MaxConcurrentEncodes < 1 {
		return fmt.Errorf("limits.max_concurrent_encodes must be at least 1")
	}
	if c.Catalog.Workers < 1 {
		return fmt.Errorf("catalog.workers must be at least 1")
	}
	return nil
}
