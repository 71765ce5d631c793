// Package config provides configuration management for the datamastor CLI.
// It handles loading, validation, and access to configuration values from the
// config file, environment variables, and defaults using viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/datamastor/datamastor/internal/logger"
)

// Crawler defaults
const (
	// DefaultDelay is the default delay between requests to a host.
	DefaultDelay = 2 * time.Second
	// DefaultRequestTimeout is the default per-request timeout.
	DefaultRequestTimeout = 30 * time.Second
	// DefaultParallelism is the default number of concurrent requests.
	DefaultParallelism = 2
	// DefaultUserAgent is sent when a spider does not override it.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	// DefaultOutDirBase is the base directory for per-run output directories.
	DefaultOutDirBase = "out"
	// DefaultInfoFile is the default spider registry file.
	DefaultInfoFile = "info.yml"
	// DefaultArgsFile is the default YAML argument-overlay file.
	DefaultArgsFile = "args.yml"
	// DefaultDatabasePath is the default SQLite database file.
	DefaultDatabasePath = "datamastor.db"
	// DefaultBackupDir is the directory migration backups are written to.
	DefaultBackupDir = "backups"
)

// Interface defines the interface for configuration management.
type Interface interface {
	// GetAppConfig returns the application configuration.
	GetAppConfig() *AppConfig
	// GetLoggerConfig returns the logger configuration.
	GetLoggerConfig() *logger.Config
	// GetDatabaseConfig returns the database configuration.
	GetDatabaseConfig() *DatabaseConfig
	// GetCrawlerConfig returns the crawler configuration.
	GetCrawlerConfig() *CrawlerConfig
	// GetArgsConfig returns the YAML args-overlay configuration.
	GetArgsConfig() *ArgsConfig
	// Validate validates the configuration.
	Validate() error
}

// Ensure Config implements Interface
var _ Interface = (*Config)(nil)

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Debug       bool   `yaml:"debug"`
}

// DatabaseConfig holds the SQLite database settings.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path"`
	// BackupDir is where migration backups are stored.
	BackupDir string `yaml:"backup_dir"`
}

// CrawlerConfig holds crawl-level settings shared by all spiders.
type CrawlerConfig struct {
	Delay          time.Duration `yaml:"delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Parallelism    int           `yaml:"parallelism"`
	UserAgent      string        `yaml:"user_agent"`
	OutDirBase     string        `yaml:"out_dir_base"`
	InfoFile       string        `yaml:"info_file"`
}

// ArgsConfig holds the YAML argument-overlay settings.
type ArgsConfig struct {
	// File is the path of the args file (CLI > YAML > default precedence).
	File string `yaml:"file"`
	// Disabled turns the overlay off entirely.
	Disabled bool `yaml:"disabled"`
}

// Config represents the application configuration.
type Config struct {
	App      *AppConfig      `yaml:"app"`
	Logger   *logger.Config  `yaml:"logger"`
	Database *DatabaseConfig `yaml:"database"`
	Crawler  *CrawlerConfig  `yaml:"crawler"`
	Args     *ArgsConfig     `yaml:"args"`
}

// Load builds a Config from the current viper state. Defaults and env
// bindings are expected to be set up by the root command before calling.
func Load() (*Config, error) {
	cfg := &Config{
		App: &AppConfig{
			Name:        viper.GetString("app.name"),
			Environment: viper.GetString("app.environment"),
			Debug:       viper.GetBool("app.debug"),
		},
		Logger: &logger.Config{
			Level:       viper.GetString("logger.level"),
			Development: viper.GetBool("logger.development"),
			Encoding:    viper.GetString("logger.encoding"),
			OutputPaths: viper.GetStringSlice("logger.output_paths"),
		},
		Database: &DatabaseConfig{
			Path:      viper.GetString("database.path"),
			BackupDir: viper.GetString("database.backup_dir"),
		},
		Crawler: &CrawlerConfig{
			Delay:          viper.GetDuration("crawler.delay"),
			RequestTimeout: viper.GetDuration("crawler.request_timeout"),
			Parallelism:    viper.GetInt("crawler.parallelism"),
			UserAgent:      viper.GetString("crawler.user_agent"),
			OutDirBase:     viper.GetString("crawler.out_dir_base"),
			InfoFile:       viper.GetString("crawler.info_file"),
		},
		Args: &ArgsConfig{
			File:     viper.GetString("args.file"),
			Disabled: viper.GetBool("args.disabled"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// GetAppConfig returns the application configuration.
func (c *Config) GetAppConfig() *AppConfig { return c.App }

// GetLoggerConfig returns the logger configuration.
func (c *Config) GetLoggerConfig() *logger.Config { return c.Logger }

// GetDatabaseConfig returns the database configuration.
func (c *Config) GetDatabaseConfig() *DatabaseConfig { return c.Database }

// GetCrawlerConfig returns the crawler configuration.
func (c *Config) GetCrawlerConfig() *CrawlerConfig { return c.Crawler }

// GetArgsConfig returns the YAML args-overlay configuration.
func (c *Config) GetArgsConfig() *ArgsConfig { return c.Args }

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Database == nil || c.Database.Path == "" {
		return ErrMissingDatabasePath
	}
	if c.Crawler == nil {
		return ErrMissingCrawlerConfig
	}
	if c.Crawler.Parallelism <= 0 {
		return fmt.Errorf("%w: parallelism must be positive, got %d",
			ErrInvalidCrawlerConfig, c.Crawler.Parallelism)
	}
	if c.Crawler.Delay < 0 {
		return fmt.Errorf("%w: delay must not be negative, got %s",
			ErrInvalidCrawlerConfig, c.Crawler.Delay)
	}
	return nil
}

// SetDefaults registers the default configuration values with viper.
func SetDefaults() {
	// App defaults - production safe
	viper.SetDefault("app", map[string]any{
		"name":        "datamastor",
		"environment": "production",
		"debug":       false,
	})

	// Logger defaults - production safe
	viper.SetDefault("logger", map[string]any{
		"level":        "info",
		"development":  false,
		"encoding":     "json",
		"output_paths": []string{"stdout"},
	})

	// Database defaults
	viper.SetDefault("database", map[string]any{
		"path":       DefaultDatabasePath,
		"backup_dir": DefaultBackupDir,
	})

	// Crawler defaults
	viper.SetDefault("crawler", map[string]any{
		"delay":           DefaultDelay.String(),
		"request_timeout": DefaultRequestTimeout.String(),
		"parallelism":     DefaultParallelism,
		"user_agent":      DefaultUserAgent,
		"out_dir_base":    DefaultOutDirBase,
		"info_file":       DefaultInfoFile,
	})

	// Args-overlay defaults
	viper.SetDefault("args", map[string]any{
		"file":     DefaultArgsFile,
		"disabled": false,
	})
}
