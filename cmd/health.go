package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/penf-crm/config"
	"github.com/otherjamesbrown/penf-crm/pkg/db"
	"github.com/otherjamesbrown/penf-crm/pkg/events"
)

// HealthCommandDeps holds the dependencies for the health command.
type HealthCommandDeps struct {
	LoadConfig      func() (*config.CLIConfig, error)
	ConnectDatabase func(ctx context.Context, cfg *config.CLIConfig) (*pgxpool.Pool, error)
	ConnectRedis    func(ctx context.Context, cfg *config.CLIConfig) (*events.Publisher, error)
	Out             io.Writer
}

// DefaultHealthDeps returns the default dependencies for production use.
func DefaultHealthDeps() *HealthCommandDeps {
	return &HealthCommandDeps{
		LoadConfig:      config.LoadConfig,
		ConnectDatabase: connectToDatabase,
		ConnectRedis:    connectToRedis,
		Out:             os.Stdout,
	}
}

// ComponentHealth is the health of one dependency.
type ComponentHealth struct {
	Name    string           `json:"name" yaml:"name"`
	Healthy bool             `json:"healthy" yaml:"healthy"`
	Skipped bool             `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Detail  string           `json:"detail,omitempty" yaml:"detail,omitempty"`
	Pool    *db.HealthStatus `json:"pool,omitempty" yaml:"pool,omitempty"`
}

// HealthReport is the output of the health command.
type HealthReport struct {
	Healthy    bool              `json:"healthy" yaml:"healthy"`
	Components []ComponentHealth `json:"components" yaml:"components"`
}

var errUnhealthy = errors.New("one or more components are unhealthy")

// NewHealthCommand creates the health command.
func NewHealthCommand(deps *HealthCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultHealthDeps()
	}

	return &cobra.Command{
		Use:   "health",
		Short: "Check database and event broker connectivity",
		Long: `Check that the CRM database answers and report its connection pool.
When event publishing is enabled, the Redis broker is pinged as well.

Exits non-zero when any checked component is unhealthy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
			defer cancel()

			report := runHealth(ctx, deps, cfg)

			out := deps.Out
			if out == nil {
				out = cmd.OutOrStdout()
			}
			if err := writeOutput(out, cfg.OutputFormat, report, func(w io.Writer) error {
				return writeHealthText(w, report)
			}); err != nil {
				return err
			}
			if !report.Healthy {
				return errUnhealthy
			}
			return nil
		},
	}
}

func runHealth(ctx context.Context, deps *HealthCommandDeps, cfg *config.CLIConfig) *HealthReport {
	report := &HealthReport{Healthy: true}

	dbHealth := ComponentHealth{Name: "database", Detail: cfg.Database.Redacted()}
	pool, err := deps.ConnectDatabase(ctx, cfg)
	if err != nil {
		dbHealth.Detail = err.Error()
	} else {
		defer db.Close(pool)
		status := db.Check(ctx, pool)
		dbHealth.Healthy = status.Healthy
		dbHealth.Pool = status
	}
	report.Components = append(report.Components, dbHealth)

	redisHealth := ComponentHealth{Name: "redis"}
	if !cfg.Redis.Enabled {
		redisHealth.Healthy = true
		redisHealth.Skipped = true
		redisHealth.Detail = "event publishing disabled"
	} else {
		pc := cfg.Redis.PublisherConfig()
		redisHealth.Detail = fmt.Sprintf("%s:%d", pc.Host, pc.Port)
		pub, err := deps.ConnectRedis(ctx, cfg)
		if err == nil {
			defer pub.Close()
			err = pub.Ping(ctx)
		}
		if err != nil {
			redisHealth.Detail = err.Error()
		} else {
			redisHealth.Healthy = true
		}
	}
	report.Components = append(report.Components, redisHealth)

	for _, c := range report.Components {
		if !c.Healthy {
			report.Healthy = false
		}
	}
	return report
}

func writeHealthText(w io.Writer, report *HealthReport) error {
	for _, c := range report.Components {
		fmt.Fprintf(w, "%-10s ", c.Name)
		switch {
		case c.Skipped:
			possibleColor.Fprint(w, "SKIPPED")
		case c.Healthy:
			clearColor.Fprint(w, "HEALTHY")
		default:
			strongColor.Fprint(w, "UNHEALTHY")
		}
		fmt.Fprintf(w, "  %s\n", c.Detail)

		if c.Pool != nil {
			fmt.Fprintf(w, "           latency %s, conns total=%d idle=%d acquired=%d\n",
				c.Pool.Latency.Round(time.Microsecond), c.Pool.TotalConns, c.Pool.IdleConns, c.Pool.AcquiredConns)
			if c.Pool.Error != "" {
				fmt.Fprintf(w, "           %s\n", c.Pool.Error)
			}
		}
	}
	return nil
}
