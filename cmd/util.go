package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/penf-crm/config"
	"github.com/otherjamesbrown/penf-crm/pkg/db"
	"github.com/otherjamesbrown/penf-crm/pkg/events"
	"github.com/otherjamesbrown/penf-crm/pkg/logging"
	"github.com/otherjamesbrown/penf-crm/pkg/observability"
	"github.com/otherjamesbrown/penf-crm/pkg/service"
	"github.com/otherjamesbrown/penf-crm/pkg/store"
)

// MetricsNamespace prefixes every exported metric.
const MetricsNamespace = "penf_crm"

// MetricsRegistry collects the CLI's metrics. main serves it when
// --metrics is set.
var MetricsRegistry = prometheus.NewRegistry()

var (
	metricsOnce sync.Once
	metrics     *observability.Metrics
)

func sharedMetrics() *observability.Metrics {
	metricsOnce.Do(func() {
		metrics = observability.NewMetrics(MetricsRegistry)
	})
	return metrics
}

// connectToDatabase opens the CRM pool and registers its collector.
func connectToDatabase(ctx context.Context, cfg *config.CLIConfig) (*pgxpool.Pool, error) {
	pool, err := db.ConnectWithRetry(ctx, cfg.Database, 3, 2*time.Second, logging.MustGlobal())
	if err != nil {
		return nil, fmt.Errorf("connecting to database %s: %w", cfg.Database.Redacted(), err)
	}
	if _, err := db.RegisterPoolCollector(MetricsRegistry, pool, MetricsNamespace, cfg.Database.Database); err != nil {
		logging.MustGlobal().Warn("pool collector not registered", logging.Err(err))
	}
	return pool, nil
}

// connectToRedis returns a publisher, or nil when publishing is disabled.
func connectToRedis(ctx context.Context, cfg *config.CLIConfig) (*events.Publisher, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	pub, err := events.NewPublisherFromConfig(ctx, cfg.Redis.PublisherConfig(), logging.MustGlobal())
	if err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return pub, nil
}

// OpenService connects to Postgres (and Redis when enabled) and builds the
// CRM service. The returned func releases both connections.
func OpenService(ctx context.Context, cfg *config.CLIConfig) (*service.Service, func(), error) {
	logger := logging.MustGlobal()

	pool, err := connectToDatabase(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	// Events are notifications; a missing broker does not stop the command.
	pub, err := connectToRedis(ctx, cfg)
	if err != nil {
		logger.Warn("event publishing disabled", logging.Err(err))
	}

	svc := service.New(store.NewPostgres(pool, logger), service.Options{
		Logger:    logger,
		Metrics:   sharedMetrics(),
		Publisher: pub,
	})

	closer := func() {
		if pub != nil {
			_ = pub.Close()
		}
		db.Close(pool)
	}
	return svc, closer, nil
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeYAML writes v as YAML.
func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(v)
}

// WriteStructured writes v as JSON or YAML; any other format is JSON.
func WriteStructured(w io.Writer, format config.OutputFormat, v any) error {
	if format == config.OutputFormatYAML {
		return writeYAML(w, v)
	}
	return writeJSON(w, v)
}

// writeOutput renders v in format, using text for the text format.
func writeOutput(w io.Writer, format config.OutputFormat, v any, text func(io.Writer) error) error {
	switch format {
	case config.OutputFormatJSON:
		return writeJSON(w, v)
	case config.OutputFormatYAML:
		return writeYAML(w, v)
	default:
		return text(w)
	}
}

// truncate shortens s to max runes, marking the cut with "...".
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

func joinOrDash(parts []string) string {
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
