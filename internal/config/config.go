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

// Configuration represents the complete application configuration
type Configuration struct {
	Data    DataConfig    `yaml:"data"`
	Cache   CacheConfig   `yaml:"cache"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// DataConfig represents where simulations live and how they are opened
type DataConfig struct {
	// Root is the local directory containing simulation directories.
	Root string `yaml:"root"`
	// StagingDir receives files staged from object storage.
	StagingDir string `yaml:"staging_dir"`
	// HandleCache is the number of open dataset handles kept per reader.
	HandleCache int      `yaml:"handle_cache"`
	S3          S3Config `yaml:"s3"`
}

// S3Config represents the optional object-storage mirror of the data root
type S3Config struct {
	Enabled      bool   `yaml:"enabled"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
	// Static credentials for self-hosted object stores. Left empty, the
	// AWS default credential chain applies.
	AccessKeyID     string      `yaml:"access_key_id"`
	SecretAccessKey string      `yaml:"secret_access_key"`
	SessionToken    string      `yaml:"session_token"`
	Concurrency     int         `yaml:"concurrency"`
	Retry           RetryConfig `yaml:"retry"`
}

// RetryConfig represents retry settings for staging transfers
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CacheConfig represents the frame cache settings
type CacheConfig struct {
	MaxEntries int  `yaml:"max_entries"`
	Prefetch   bool `yaml:"prefetch"`
}

// ServerConfig represents the HTTP server settings
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	EnableCORS      bool          `yaml:"enable_cors"`
}

// LoggingConfig represents logging settings
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`

	// Rotation settings apply when File is set. A MaxSizeMB of zero
	// disables size-based rotation.
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	Compress   bool `yaml:"compress"`
}

// MetricsConfig represents Prometheus metrics settings
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// Interval is how often the collector snapshots cache statistics.
	Interval time.Duration `yaml:"interval"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Data: DataConfig{
			Root:        "./data",
			StagingDir:  filepath.Join(os.TempDir(), "vvmviz-staging"),
			HandleCache: 10,
			S3: S3Config{
				Enabled:     false,
				Region:      "us-west-2",
				Concurrency: 8,
				Retry: RetryConfig{
					MaxAttempts: 3,
					BaseDelay:   1 * time.Second,
					MaxDelay:    30 * time.Second,
				},
			},
		},
		Cache: CacheConfig{
			MaxEntries: 200,
			Prefetch:   true,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8050,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			EnableCORS:      true,
		},
		Logging: LoggingConfig{
			Level:      "INFO",
			File:       "",
			MaxSizeMB:  100,
			MaxBackups: 5,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Interval: 15 * time.Second,
		},
	}
}

// LoadFromFile loads configuration from a YAML file
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

// LoadFromEnv overrides configuration from VVMVIZ_* environment variables
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("VVMVIZ_DATA_ROOT"); val != "" {
		c.Data.Root = val
	}
	if val := os.Getenv("VVMVIZ_STAGING_DIR"); val != "" {
		c.Data.StagingDir = val
	}
	if val := os.Getenv("VVMVIZ_HANDLE_CACHE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Data.HandleCache = n
		}
	}

	if val := os.Getenv("VVMVIZ_S3_ENABLED"); val != "" {
		c.Data.S3.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("VVMVIZ_S3_BUCKET"); val != "" {
		c.Data.S3.Bucket = val
	}
	if val := os.Getenv("VVMVIZ_S3_PREFIX"); val != "" {
		c.Data.S3.Prefix = val
	}
	if val := os.Getenv("VVMVIZ_S3_REGION"); val != "" {
		c.Data.S3.Region = val
	}
	if val := os.Getenv("VVMVIZ_S3_ENDPOINT"); val != "" {
		c.Data.S3.Endpoint = val
	}
	if val := os.Getenv("VVMVIZ_S3_ACCESS_KEY_ID"); val != "" {
		c.Data.S3.AccessKeyID = val
	}
	if val := os.Getenv("VVMVIZ_S3_SECRET_ACCESS_KEY"); val != "" {
		c.Data.S3.SecretAccessKey = val
	}

	if val := os.Getenv("VVMVIZ_CACHE_MAX_ENTRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Cache.MaxEntries = n
		}
	}
	if val := os.Getenv("VVMVIZ_PREFETCH"); val != "" {
		c.Cache.Prefetch = strings.ToLower(val) == "true"
	}

	if val := os.Getenv("VVMVIZ_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv("VVMVIZ_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Server.Port = port
		}
	}

	if val := os.Getenv("VVMVIZ_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
	if val := os.Getenv("VVMVIZ_LOG_FILE"); val != "" {
		c.Logging.File = val
	}

	if val := os.Getenv("VVMVIZ_METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = strings.ToLower(val) == "true"
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if c.Data.Root == "" {
		return fmt.Errorf("data.root must be set")
	}
	if c.Data.HandleCache <= 0 {
		return fmt.Errorf("data.handle_cache must be greater than 0")
	}

	if c.Data.S3.Enabled {
		if c.Data.S3.Bucket == "" {
			return fmt.Errorf("data.s3.bucket must be set when s3 is enabled")
		}
		if c.Data.StagingDir == "" {
			return fmt.Errorf("data.staging_dir must be set when s3 is enabled")
		}
		if c.Data.S3.Concurrency <= 0 {
			return fmt.Errorf("data.s3.concurrency must be greater than 0")
		}
		if c.Data.S3.Retry.MaxAttempts < 1 {
			return fmt.Errorf("data.s3.retry.max_attempts must be at least 1")
		}
	}

	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be greater than 0")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.ToUpper(c.Logging.Level) == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid logging.level: %s (must be one of: %s)",
			c.Logging.Level, strings.Join(validLogLevels, ", "))
	}

	if c.Metrics.Enabled && c.Metrics.Interval <= 0 {
		return fmt.Errorf("metrics.interval must be greater than 0 when metrics are enabled")
	}

	return nil
}
