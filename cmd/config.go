package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/penf-crm/config"
	"github.com/otherjamesbrown/penf-crm/pkg/logging"
)

// ConfigCommandDeps holds the dependencies for config commands.
type ConfigCommandDeps struct {
	LoadConfig func() (*config.CLIConfig, error)
	Out        io.Writer
}

// DefaultConfigDeps returns the default dependencies for production use.
func DefaultConfigDeps() *ConfigCommandDeps {
	return &ConfigCommandDeps{
		LoadConfig: config.LoadConfig,
		Out:        os.Stdout,
	}
}

// NewConfigCommand creates the config command with its subcommands.
func NewConfigCommand(deps *ConfigCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultConfigDeps()
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
		Long: `View and modify the penf-crm configuration file.

The file lives at ~/.penf-crm/config.yaml, or in $PENF_CRM_CONFIG_DIR when set.
PENF_CRM_* environment variables override it; flags override both.`,
	}

	cmd.AddCommand(newConfigShowCommand(deps))
	cmd.AddCommand(newConfigInitCommand(deps))
	cmd.AddCommand(newConfigSetCommand(deps))
	return cmd
}

func newConfigShowCommand(deps *ConfigCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long:  `Display the configuration after file, environment and flags are applied. Passwords are masked.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			red := cfg.Redacted()

			if cfg.OutputFormat == config.OutputFormatJSON {
				return writeJSON(deps.Out, red)
			}
			// Text and YAML both print the file form.
			data, err := config.Marshal(red)
			if err != nil {
				return err
			}
			if cfg.OutputFormat == config.OutputFormatText {
				path, _ := config.ConfigPath()
				fmt.Fprintf(deps.Out, "# %s\n", path)
			}
			_, err = deps.Out.Write(data)
			return err
		},
	}
}

func newConfigInitCommand(deps *ConfigCommandDeps) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, err := config.ConfigPath()
			if err != nil {
				return fmt.Errorf("getting config path: %w", err)
			}

			if _, err := os.Stat(configPath); err == nil && !force {
				fmt.Fprintf(deps.Out, "Configuration file already exists: %s\n", configPath)
				fmt.Fprintln(deps.Out, "Use 'penf-crm config show' to view current settings, or --force to overwrite.")
				return nil
			}

			defaultCfg := config.DefaultConfig()
			path, err := config.SaveConfig(defaultCfg)
			if err != nil {
				return fmt.Errorf("saving configuration: %w", err)
			}

			fmt.Fprintf(deps.Out, "Created configuration file: %s\n", path)
			fmt.Fprintf(deps.Out, "  Database: %s\n", defaultCfg.Database.Redacted())
			fmt.Fprintf(deps.Out, "  Timeout:  %s\n", defaultCfg.Timeout)
			fmt.Fprintf(deps.Out, "  Output:   %s\n", defaultCfg.OutputFormat)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func newConfigSetCommand(deps *ConfigCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a value in the configuration file.

Available keys:
  timeout          Command timeout (e.g. 30s, 1m)
  output_format    text, json or yaml
  log_level        debug, info, warn or error
  log_json         true/false
  database.host    PostgreSQL host
  database.port    PostgreSQL port
  database.name    Database name
  database.user    Database user
  database.sslmode PostgreSQL sslmode
  redis.enabled    Publish merge and blocked-create events (true/false)
  redis.host       Redis host
  redis.port       Redis port`,
		Example: `  penf-crm config set database.host db.internal
  penf-crm config set redis.enabled true`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				cfg = config.DefaultConfig()
			}
			if err := setConfigValue(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			path, err := config.SaveConfig(cfg)
			if err != nil {
				return fmt.Errorf("saving configuration: %w", err)
			}
			fmt.Fprintf(deps.Out, "Set %s = %s in %s\n", args[0], args[1], path)
			return nil
		},
	}
}

func setConfigValue(cfg *config.CLIConfig, key, value string) error {
	parseBool := func() (bool, error) {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return false, fmt.Errorf("invalid %s value %q: must be true or false", key, value)
		}
		return b, nil
	}
	parsePort := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 || n > 65535 {
			return 0, fmt.Errorf("invalid %s value %q: must be a port number", key, value)
		}
		return n, nil
	}

	var err error
	switch key {
	case "timeout":
		var d time.Duration
		if d, err = time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid timeout value: %w", err)
		}
		cfg.Timeout = d
	case "output_format":
		format := config.OutputFormat(value)
		if !format.IsValid() {
			return fmt.Errorf("invalid output format: %s (must be text, json, or yaml)", value)
		}
		cfg.OutputFormat = format
	case "log_level":
		cfg.LogLevel = string(logging.ParseLevel(value))
	case "log_json":
		cfg.LogJSON, err = parseBool()
	case "database.host":
		cfg.Database.Host = value
	case "database.port":
		cfg.Database.Port, err = parsePort()
	case "database.name":
		cfg.Database.Database = value
	case "database.user":
		cfg.Database.User = value
	case "database.sslmode":
		cfg.Database.SSLMode = value
	case "redis.enabled":
		cfg.Redis.Enabled, err = parseBool()
	case "redis.host":
		cfg.Redis.Host = value
	case "redis.port":
		cfg.Redis.Port, err = parsePort()
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return err
}
