package model

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// WebhookConfig holds tuning for outbound webhook delivery.
type WebhookConfig struct {
	// TimeoutSec is the total per-request timeout.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`

	// MaxResponseBytes caps how much of a response body is captured.
	MaxResponseBytes int64 `mapstructure:"max_response_bytes" yaml:"max_response_bytes"`
}

// SweepConfig holds the background sweep intervals.
type SweepConfig struct {
	// EntropyIntervalSec is how often stale open cards are swept.
	EntropyIntervalSec int `mapstructure:"entropy_interval_sec" yaml:"entropy_interval_sec"`

	// BundleIntervalSec is how often due notification bundles are
	// delivered.
	BundleIntervalSec int `mapstructure:"bundle_interval_sec" yaml:"bundle_interval_sec"`
}

// SMTPConfig holds the mail submission endpoint. The password lives in
// the system keyring, not in the config file.
type SMTPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	From     string `mapstructure:"from" yaml:"from"`
}

// AppConfig is the top-level core configuration.
type AppConfig struct {
	Webhook WebhookConfig `mapstructure:"webhook" yaml:"webhook"`
	Sweep   SweepConfig   `mapstructure:"sweep" yaml:"sweep"`
	SMTP    SMTPConfig    `mapstructure:"smtp" yaml:"smtp"`

	// Workers is the size of the fan-out worker pool.
	Workers int `mapstructure:"workers" yaml:"workers"`
}

// WebhookTimeout returns the configured webhook timeout as a duration.
func (c *AppConfig) WebhookTimeout() time.Duration {
	return time.Duration(c.Webhook.TimeoutSec) * time.Second
}

// EntropyInterval returns the entropy sweep interval as a duration.
func (c *AppConfig) EntropyInterval() time.Duration {
	return time.Duration(c.Sweep.EntropyIntervalSec) * time.Second
}

// BundleInterval returns the bundle sweep interval as a duration.
func (c *AppConfig) BundleInterval() time.Duration {
	return time.Duration(c.Sweep.BundleIntervalSec) * time.Second
}

// DefaultConfigPath returns the default path for the configuration
// file, located at ~/.config/cardflow/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "cardflow", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Webhook: WebhookConfig{
			TimeoutSec:       7,
			MaxResponseBytes: 100 * 1024,
		},
		Sweep: SweepConfig{
			EntropyIntervalSec: 3600,
			BundleIntervalSec:  1800,
		},
		SMTP: SMTPConfig{
			Port: 587,
		},
		Workers: 4,
	}
}

// LoadConfig reads configuration from the given YAML file path using
// Viper. If the file does not exist, it returns a default
// configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("webhook.timeout_sec", 7)
	v.SetDefault("webhook.max_response_bytes", 100*1024)
	v.SetDefault("sweep.entropy_interval_sec", 3600)
	v.SetDefault("sweep.bundle_interval_sec", 1800)
	v.SetDefault("smtp.port", 587)
	v.SetDefault("workers", 4)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("webhook", cfg.Webhook)
	v.Set("sweep", cfg.Sweep)
	v.Set("smtp", cfg.SMTP)
	v.Set("workers", cfg.Workers)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
