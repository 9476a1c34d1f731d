package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/penf-crm/pkg/logging"
)

// useConfigDir points the loader at a fresh directory.
func useConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PENF_CRM_CONFIG_DIR", dir)
	return dir
}

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(body), 0600))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, OutputFormatText, cfg.OutputFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Debug)
	assert.False(t, cfg.Redis.Enabled)
	require.NotNil(t, cfg.Database)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.NoError(t, cfg.Validate())
}

func TestOutputFormat_IsValid(t *testing.T) {
	tests := []struct {
		format OutputFormat
		valid  bool
	}{
		{OutputFormatText, true},
		{OutputFormatJSON, true},
		{OutputFormatYAML, true},
		{"invalid", false},
		{"", false},
		{"JSON", false},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.valid, tc.format.IsValid(), "format %q", tc.format)
	}
}

func TestConfigDir(t *testing.T) {
	t.Setenv("PENF_CRM_CONFIG_DIR", "/tmp/crm-config")

	dir, err := ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/crm-config", dir)

	path, err := ConfigPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/crm-config/config.yaml", path)
}

func TestLoadConfig_NoFile(t *testing.T) {
	useConfigDir(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, "crm", cfg.Database.Database)
}

func TestLoadConfig_FromFile(t *testing.T) {
	dir := useConfigDir(t)
	writeConfig(t, dir, `
database:
  host: db.internal
  port: 6432
timeout: 45s
output_format: json
log_level: warn
redis:
  enabled: true
  host: redis.internal
`)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6432, cfg.Database.Port)
	assert.Equal(t, "crm", cfg.Database.User, "unset database fields keep defaults")
	assert.Equal(t, time.Hour, cfg.Database.MaxConnLifetime)
	assert.Equal(t, 45*time.Second, cfg.Timeout)
	assert.Equal(t, OutputFormatJSON, cfg.OutputFormat)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.internal", cfg.Redis.Host)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	dir := useConfigDir(t)
	writeConfig(t, dir, "timeout: 45s\ndatabase:\n  host: db.internal\n")

	t.Setenv("PENF_CRM_TIMEOUT", "5s")
	t.Setenv("PENF_CRM_OUTPUT_FORMAT", "yaml")
	t.Setenv("PENF_CRM_DEBUG", "1")
	t.Setenv("PENF_CRM_DB_HOST", "db.override")
	t.Setenv("PENF_CRM_REDIS_HOST", "cache")
	t.Setenv("PENF_CRM_REDIS_PORT", "6380")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, OutputFormatYAML, cfg.OutputFormat)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "db.override", cfg.Database.Host)
	assert.True(t, cfg.Redis.Enabled, "a redis host enables publishing")
	assert.Equal(t, 6380, cfg.Redis.Port)
}

func TestLoadConfig_RedisCanBeDisabledByEnv(t *testing.T) {
	dir := useConfigDir(t)
	writeConfig(t, dir, "redis:\n  enabled: true\n")
	t.Setenv("PENF_CRM_REDIS_ENABLED", "false")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"bad yaml", "timeout: [", "parsing config file"},
		{"bad timeout", "timeout: soon", "parsing timeout"},
		{"bad output format", "output_format: xml", "invalid output_format"},
		{"bad database", "database:\n  port: 0\n", "invalid database port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := useConfigDir(t)
			writeConfig(t, dir, tt.body)

			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CLIConfig)
		wantErr string
	}{
		{"defaults", func(*CLIConfig) {}, ""},
		{"zero timeout", func(c *CLIConfig) { c.Timeout = 0 }, "timeout must be positive"},
		{"no database", func(c *CLIConfig) { c.Database = nil }, "database is required"},
		{"database without user", func(c *CLIConfig) { c.Database.User = "" }, "database: database user is required"},
		{"redis port", func(c *CLIConfig) { c.Redis.Port = 70000 }, "invalid redis port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	useConfigDir(t)

	cfg := DefaultConfig()
	cfg.Timeout = 2 * time.Minute
	cfg.OutputFormat = OutputFormatJSON
	cfg.Database.Host = "db.internal"
	cfg.Database.Password = "s3cret"
	cfg.Redis = RedisConfig{Enabled: true, Host: "cache"}

	path, err := SaveConfig(cfg)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, loaded.Timeout)
	assert.Equal(t, OutputFormatJSON, loaded.OutputFormat)
	assert.Equal(t, "db.internal", loaded.Database.Host)
	assert.Equal(t, "s3cret", loaded.Database.Password)
	assert.Equal(t, "cache", loaded.Redis.Host)
}

func TestMarshal_WritesDurationAsString(t *testing.T) {
	data, err := Marshal(DefaultConfig())
	require.NoError(t, err)
	assert.Contains(t, string(data), "timeout: 30s")
	assert.NotContains(t, string(data), "password")
}

func TestRedacted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Password = "s3cret"
	cfg.Redis.Password = "r3dis"

	red := cfg.Redacted()
	assert.Equal(t, "xxxxx", red.Database.Password)
	assert.Equal(t, "xxxxx", red.Redis.Password)
	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, "r3dis", cfg.Redis.Password)
}

func TestLogging(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "warn"
	cfg.LogJSON = true

	lc := cfg.Logging()
	assert.Equal(t, logging.LevelWarn, lc.Level)
	assert.True(t, lc.JSONFormat)

	cfg.Debug = true
	assert.Equal(t, logging.LevelDebug, cfg.Logging().Level)
}

func TestRedisConfig_PublisherConfig(t *testing.T) {
	pc := RedisConfig{Enabled: true}.PublisherConfig()
	assert.Equal(t, "localhost", pc.Host)
	assert.Equal(t, DefaultRedisPort, pc.Port)

	pc = RedisConfig{Host: "cache", Port: 6380, DB: 2}.PublisherConfig()
	assert.Equal(t, "cache", pc.Host)
	assert.Equal(t, 6380, pc.Port)
	assert.Equal(t, 2, pc.DB)
}
