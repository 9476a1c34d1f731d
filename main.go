// Package main provides the penf-crm CLI entry point.
// penf-crm checks CRM contacts and deals for duplicates, guards creates
// against them, and merges duplicates that already exist.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/penf-crm/cmd"
	"github.com/otherjamesbrown/penf-crm/config"
	"github.com/otherjamesbrown/penf-crm/pkg/buildinfo"
	"github.com/otherjamesbrown/penf-crm/pkg/logging"
)

// Global flags and state.
var (
	timeout      time.Duration
	outputFormat string
	debug        bool
	metricsAddr  string

	// metricsServer is running while a command executes with --metrics.
	metricsServer *http.Server
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "penf-crm",
	Short: "Duplicate detection and merging for CRM contacts and deals",
	Long: `penf-crm keeps the CRM free of duplicate contacts and deals.

It checks a candidate record against what is already stored, refuses to
create strong duplicates, and merges an existing duplicate into the record
to keep, moving its interactions across.

COMMON WORKFLOWS:
  Check first:      penf-crm contact check --first Jane --last Doe --email jane@example.com
  Guarded create:   penf-crm contact create --first Jane --last Doe --email jane@example.com
  Fold duplicates:  penf-crm deal merge-preview <source> <target>  →  penf-crm deal merge <source> <target>
  Check system:     penf-crm health

All commands support --output json|yaml for structured results.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(c *cobra.Command, args []string) error {
		if c.Name() == "version" || c.Name() == "help" || c.Name() == "completion" {
			return nil
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		logging.SetGlobal(logging.NewLogger(cfg.Logging()))

		if metricsAddr != "" {
			return startMetricsServer(metricsAddr)
		}
		return nil
	},
	PersistentPostRunE: func(c *cobra.Command, args []string) error {
		return stopMetricsServer()
	},
}

// loadConfig loads configuration and applies the global flags on top.
func loadConfig() (*config.CLIConfig, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if timeout != 0 {
		cfg.Timeout = timeout
	}
	if outputFormat != "" {
		cfg.OutputFormat = config.OutputFormat(outputFormat)
	}
	if debug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// startMetricsServer serves /metrics and /version on addr until the
// command finishes.
func startMetricsServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(cmd.MetricsRegistry, promhttp.HandlerOpts{}))
	mux.Handle("/version", buildinfo.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}

	metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.MustGlobal().Error("metrics server stopped", logging.Err(err))
		}
	}()
	logging.MustGlobal().Debug("serving metrics", logging.F("addr", ln.Addr().String()))
	return nil
}

func stopMetricsServer() error {
	if metricsServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := metricsServer.Shutdown(ctx)
	metricsServer = nil
	return err
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the version, commit hash, and build time of penf-crm.

Examples:
  penf-crm version
  penf-crm version --output json`,
	Args: cobra.NoArgs,
	RunE: func(c *cobra.Command, args []string) error {
		info := buildinfo.Get()
		out := c.OutOrStdout()

		switch config.OutputFormat(outputFormat) {
		case config.OutputFormatJSON, config.OutputFormatYAML:
			return cmd.WriteStructured(out, config.OutputFormat(outputFormat), info)
		}

		fmt.Fprintf(out, "%s version %s\n", info.Name, info.Version)
		fmt.Fprintf(out, "  commit:     %s\n", info.Commit)
		fmt.Fprintf(out, "  built:      %s\n", info.BuildTime)
		fmt.Fprintf(out, "  go:         %s\n", info.GoVersion)
		return nil
	},
}

func init() {
	rootCmd.Version = buildinfo.String()

	// Global flags.
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "command timeout (e.g., 30s, 1m)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "output format: text, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics", "", "serve Prometheus metrics on this address while the command runs (e.g., :9464)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "crm", Title: "CRM Records:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	crmDeps := cmd.DefaultCRMDeps()
	crmDeps.LoadConfig = loadConfig

	contactCmd := cmd.NewContactCommand(crmDeps)
	contactCmd.GroupID = "crm"
	rootCmd.AddCommand(contactCmd)

	dealCmd := cmd.NewDealCommand(crmDeps)
	dealCmd.GroupID = "crm"
	rootCmd.AddCommand(dealCmd)

	healthDeps := cmd.DefaultHealthDeps()
	healthDeps.LoadConfig = loadConfig
	healthCmd := cmd.NewHealthCommand(healthDeps)
	healthCmd.GroupID = "setup"
	rootCmd.AddCommand(healthCmd)

	configDeps := cmd.DefaultConfigDeps()
	configDeps.LoadConfig = loadConfig
	configCmd := cmd.NewConfigCommand(configDeps)
	configCmd.GroupID = "setup"
	rootCmd.AddCommand(configCmd)

	versionCmd.GroupID = "setup"
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	_ = stopMetricsServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
