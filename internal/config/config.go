// Package config loads and validates the graphport run configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// ServiceConfig describes the Cloud Run service that hosts the database.
type ServiceConfig struct {
	Name         string            `mapstructure:"name"`
	Image        string            `mapstructure:"image"`
	CPU          string            `mapstructure:"cpu"`
	Memory       string            `mapstructure:"memory"`
	Concurrency  int32             `mapstructure:"concurrency"`
	Timeout      time.Duration     `mapstructure:"timeout"`
	MinInstances int32             `mapstructure:"min_instances"`
	MaxInstances int32             `mapstructure:"max_instances"`
	Port         int32             `mapstructure:"port"`
	Env          map[string]string `mapstructure:"env"`
	// ExportMountPath is where the staging bucket is mounted inside the
	// container, empty to skip the volume mount.
	ExportMountPath string        `mapstructure:"export_mount_path"`
	HealthTimeout   time.Duration `mapstructure:"health_timeout"`
	// BuildContext is the local docker build context directory; empty when
	// deploying an already pushed image.
	BuildContext string `mapstructure:"build_context"`
	Dockerfile   string `mapstructure:"dockerfile"`
}

// StorageConfig describes the staging bucket.
type StorageConfig struct {
	Bucket   string `mapstructure:"bucket"`
	Location string `mapstructure:"location"`
}

// NetworkConfig describes the VPC network the service attaches to.
type NetworkConfig struct {
	Name   string `mapstructure:"name"`
	Subnet string `mapstructure:"subnet"`
	CIDR   string `mapstructure:"cidr"`
}

// TargetConfig describes the database endpoint written to during migration.
type TargetConfig struct {
	Address    string `mapstructure:"address"`
	Port       int    `mapstructure:"port"`
	Credential string `mapstructure:"credential"`
	Insecure   bool   `mapstructure:"insecure"`
}

// MigrationConfig controls batching, concurrency and retry behavior.
type MigrationConfig struct {
	SchemaFile  string        `mapstructure:"schema_file"`
	DataFiles   []string      `mapstructure:"data_files"`
	BatchSize   int           `mapstructure:"batch_size"`
	Concurrency int           `mapstructure:"concurrency"`
	Retries     int           `mapstructure:"retries"`
	BackoffMin  time.Duration `mapstructure:"backoff_min"`
	BackoffMax  time.Duration `mapstructure:"backoff_max"`
	// RateLimit caps batch submissions per second, 0 for unlimited.
	RateLimit float64 `mapstructure:"rate_limit"`
}

// ValidationConfig controls the post-migration checks.
type ValidationConfig struct {
	ExpectedRecords int64    `mapstructure:"expected_records"`
	RequiredFields  []string `mapstructure:"required_fields"`
	SampleSize      int      `mapstructure:"sample_size"`
}

// Config is the full run configuration, loaded from .graphport.yaml and
// environment overrides, validated before anything touches the network.
type Config struct {
	Project string `mapstructure:"project"`
	Region  string `mapstructure:"region"`

	Service    ServiceConfig    `mapstructure:"service"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Network    NetworkConfig    `mapstructure:"network"`
	Target     TargetConfig     `mapstructure:"target"`
	Migration  MigrationConfig  `mapstructure:"migration"`
	Validation ValidationConfig `mapstructure:"validation"`
}

// Defaults applied before validation.
const (
	DefaultBatchSize   = 100
	DefaultConcurrency = 10
	DefaultRetries     = 3
	DefaultSampleSize  = 10
)

// Load unmarshals the active viper configuration and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Migration.BatchSize == 0 {
		c.Migration.BatchSize = DefaultBatchSize
	}
	if c.Migration.Concurrency == 0 {
		c.Migration.Concurrency = DefaultConcurrency
	}
	if c.Migration.Retries == 0 {
		c.Migration.Retries = DefaultRetries
	}
	if c.Migration.BackoffMin == 0 {
		c.Migration.BackoffMin = 500 * time.Millisecond
	}
	if c.Migration.BackoffMax == 0 {
		c.Migration.BackoffMax = 30 * time.Second
	}
	if c.Validation.SampleSize == 0 {
		c.Validation.SampleSize = DefaultSampleSize
	}
	if c.Service.Timeout == 0 {
		c.Service.Timeout = 5 * time.Minute
	}
	if c.Service.HealthTimeout == 0 {
		c.Service.HealthTimeout = 5 * time.Minute
	}
	if c.Service.MaxInstances == 0 {
		c.Service.MaxInstances = 1
	}
	if c.Service.Port == 0 {
		c.Service.Port = 8080
	}
}

// Validate checks every external input up front, before anything touches
// the network.
func (c *Config) Validate() error {
	if c.Project == "" {
		return fmt.Errorf("project is required")
	}
	if c.Region == "" {
		return fmt.Errorf("region is required")
	}
	if c.Migration.BatchSize < 1 {
		return fmt.Errorf("migration.batch_size must be positive, got %d", c.Migration.BatchSize)
	}
	if c.Migration.Concurrency < 1 {
		return fmt.Errorf("migration.concurrency must be positive, got %d", c.Migration.Concurrency)
	}
	if c.Migration.Retries < 0 {
		return fmt.Errorf("migration.retries must not be negative, got %d", c.Migration.Retries)
	}
	if c.Migration.BackoffMin > c.Migration.BackoffMax {
		return fmt.Errorf("migration.backoff_min %s exceeds backoff_max %s",
			c.Migration.BackoffMin, c.Migration.BackoffMax)
	}
	if c.Migration.SchemaFile != "" {
		if err := fileExists(c.Migration.SchemaFile); err != nil {
			return fmt.Errorf("migration.schema_file: %w", err)
		}
	}
	for _, f := range c.Migration.DataFiles {
		if err := fileExists(f); err != nil {
			return fmt.Errorf("migration.data_files: %w", err)
		}
	}
	if c.Validation.ExpectedRecords < 0 {
		return fmt.Errorf("validation.expected_records must not be negative")
	}
	if c.Service.Concurrency < 0 {
		return fmt.Errorf("service.concurrency must not be negative")
	}
	return nil
}

func fileExists(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}
