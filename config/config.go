// Package config provides configuration management for the penf-crm
// command-line tool. Values come from defaults, a YAML file, environment
// variables and command-line flags, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/penf-crm/pkg/db"
	"github.com/otherjamesbrown/penf-crm/pkg/events"
	"github.com/otherjamesbrown/penf-crm/pkg/logging"
)

// OutputFormat defines the supported output formats for CLI results.
type OutputFormat string

const (
	// OutputFormatText is human-readable plain text output.
	OutputFormatText OutputFormat = "text"
	// OutputFormatJSON is JSON-formatted output for machine processing.
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatYAML is YAML-formatted output for machine processing.
	OutputFormatYAML OutputFormat = "yaml"
)

// Default configuration values.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultOutputFormat = OutputFormatText
	DefaultLogLevel     = "info"
	DefaultConfigDir    = ".penf-crm"
	DefaultConfigFile   = "config.yaml"
	DefaultRedisPort    = 6379
)

// RedisConfig holds the event publisher's Redis settings. Events are only
// published when Enabled is set.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// PublisherConfig converts to the events package's connection settings.
func (r RedisConfig) PublisherConfig() events.PublisherConfig {
	host, port := r.Host, r.Port
	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		port = DefaultRedisPort
	}
	return events.PublisherConfig{Host: host, Port: port, Password: r.Password, DB: r.DB}
}

// CLIConfig holds the CLI configuration settings.
type CLIConfig struct {
	// Database is the CRM store's PostgreSQL connection.
	Database *db.Config `yaml:"database"`

	// Redis configures event publishing.
	Redis RedisConfig `yaml:"redis"`

	// Timeout bounds each command.
	Timeout time.Duration `yaml:"timeout"`

	// OutputFormat specifies the default output format for commands.
	OutputFormat OutputFormat `yaml:"output_format"`

	LogLevel string `yaml:"log_level,omitempty"`
	LogJSON  bool   `yaml:"log_json,omitempty"`

	// Debug enables verbose debug logging.
	Debug bool `yaml:"debug,omitempty"`
}

// DefaultConfig returns a CLIConfig with default values.
func DefaultConfig() *CLIConfig {
	return &CLIConfig{
		Database:     db.DefaultConfig(),
		Timeout:      DefaultTimeout,
		OutputFormat: DefaultOutputFormat,
		LogLevel:     DefaultLogLevel,
	}
}

// ConfigDir returns the configuration directory path.
// Uses $PENF_CRM_CONFIG_DIR if set, otherwise ~/.penf-crm
func ConfigDir() (string, error) {
	if dir := os.Getenv("PENF_CRM_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultConfigDir), nil
}

// ConfigPath returns the full path to the configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// LoadConfig loads the CLI configuration from file and environment variables.
// Configuration is loaded in this order (later sources override earlier):
// 1. Default values
// 2. Config file (~/.penf-crm/config.yaml or $PENF_CRM_CONFIG_DIR/config.yaml)
// 3. Environment variables (PENF_CRM_*, PENF_CRM_DB_*, PENF_CRM_REDIS_*)
func LoadConfig() (*CLIConfig, error) {
	cfg := DefaultConfig()

	configPath, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("getting config path: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// configFile is the on-disk shape; durations are strings.
type configFile struct {
	Database     *db.Config   `yaml:"database,omitempty"`
	Redis        RedisConfig  `yaml:"redis,omitempty"`
	Timeout      string       `yaml:"timeout,omitempty"`
	OutputFormat OutputFormat `yaml:"output_format,omitempty"`
	LogLevel     string       `yaml:"log_level,omitempty"`
	LogJSON      bool         `yaml:"log_json,omitempty"`
	Debug        bool         `yaml:"debug,omitempty"`
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(cfg *CLIConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	// Database fields absent from the file keep their defaults.
	fileCfg := configFile{Database: cfg.Database}
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	if fileCfg.Database != nil {
		cfg.Database = fileCfg.Database
	}
	cfg.Redis = fileCfg.Redis
	if fileCfg.Timeout != "" {
		timeout, err := time.ParseDuration(fileCfg.Timeout)
		if err != nil {
			return fmt.Errorf("parsing timeout: %w", err)
		}
		cfg.Timeout = timeout
	}
	if fileCfg.OutputFormat != "" {
		cfg.OutputFormat = fileCfg.OutputFormat
	}
	if fileCfg.LogLevel != "" {
		cfg.LogLevel = fileCfg.LogLevel
	}
	cfg.LogJSON = fileCfg.LogJSON
	cfg.Debug = fileCfg.Debug

	return nil
}

func envBool(key string) bool {
	v := os.Getenv(key)
	return v == "true" || v == "1"
}

// loadFromEnv overlays environment variables onto the configuration.
func loadFromEnv(cfg *CLIConfig) {
	if v := os.Getenv("PENF_CRM_TIMEOUT"); v != "" {
		if timeout, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = timeout
		}
	}

	if v := os.Getenv("PENF_CRM_OUTPUT_FORMAT"); v != "" {
		cfg.OutputFormat = OutputFormat(v)
	}

	if v := os.Getenv("PENF_CRM_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if envBool("PENF_CRM_LOG_JSON") {
		cfg.LogJSON = true
	}

	if envBool("PENF_CRM_DEBUG") {
		cfg.Debug = true
	}

	if cfg.Database == nil {
		cfg.Database = db.DefaultConfig()
	}
	cfg.Database.ApplyEnv()

	loadRedisFromEnv(cfg)
}

// loadRedisFromEnv overlays PENF_CRM_REDIS_* variables. Setting a host
// enables publishing.
func loadRedisFromEnv(cfg *CLIConfig) {
	if v := os.Getenv("PENF_CRM_REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("PENF_CRM_REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Port = port
		}
	}
	if v := os.Getenv("PENF_CRM_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PENF_CRM_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("PENF_CRM_REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = v == "true" || v == "1"
	}
}

// Validate checks that the configuration is valid.
func (c *CLIConfig) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if !c.OutputFormat.IsValid() {
		return fmt.Errorf("invalid output_format: %q (must be text, json, or yaml)", c.OutputFormat)
	}

	if c.Database == nil {
		return fmt.Errorf("database is required")
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if c.Redis.Port < 0 || c.Redis.Port > 65535 {
		return fmt.Errorf("invalid redis port: %d", c.Redis.Port)
	}

	return nil
}

// Logging returns the logger configuration. Debug overrides LogLevel.
func (c *CLIConfig) Logging() *logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(c.LogLevel)
	if c.Debug {
		cfg.Level = logging.LevelDebug
	}
	cfg.JSONFormat = c.LogJSON
	return cfg
}

// IsValid checks if the output format is valid.
func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatText, OutputFormatJSON, OutputFormatYAML:
		return true
	default:
		return false
	}
}

// String returns the string representation of the output format.
func (f OutputFormat) String() string {
	return string(f)
}

// SaveConfig saves the configuration to the config file and returns its path.
func SaveConfig(cfg *CLIConfig) (string, error) {
	configDir, err := ConfigDir()
	if err != nil {
		return "", fmt.Errorf("getting config directory: %w", err)
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := Marshal(cfg)
	if err != nil {
		return "", err
	}

	// 0600: the file can hold database and redis passwords.
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}

	return configPath, nil
}

// Marshal renders cfg in the config file's YAML form.
func Marshal(cfg *CLIConfig) ([]byte, error) {
	fileCfg := configFile{
		Database:     cfg.Database,
		Redis:        cfg.Redis,
		Timeout:      cfg.Timeout.String(),
		OutputFormat: cfg.OutputFormat,
		LogLevel:     cfg.LogLevel,
		LogJSON:      cfg.LogJSON,
		Debug:        cfg.Debug,
	}

	data, err := yaml.Marshal(&fileCfg)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}

// Redacted returns a copy with passwords masked, for display.
func (c *CLIConfig) Redacted() *CLIConfig {
	cp := *c
	if c.Database != nil {
		dbCopy := *c.Database
		if dbCopy.Password != "" {
			dbCopy.Password = "xxxxx"
		}
		cp.Database = &dbCopy
	}
	if cp.Redis.Password != "" {
		cp.Redis.Password = "xxxxx"
	}
	return &cp
}
