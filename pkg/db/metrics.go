package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolCollector exports pgxpool statistics, read from the pool on every
// scrape.
type PoolCollector struct {
	pool *pgxpool.Pool

	totalConns    *prometheus.Desc
	idleConns     *prometheus.Desc
	acquiredConns *prometheus.Desc
	maxConns      *prometheus.Desc
	acquireCount  *prometheus.Desc
}

// NewPoolCollector creates a collector for pool. database is attached as a
// constant label.
func NewPoolCollector(pool *pgxpool.Pool, namespace, database string) *PoolCollector {
	labels := prometheus.Labels{"database": database}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "db_pool", name), help, nil, labels)
	}

	return &PoolCollector{
		pool:          pool,
		totalConns:    desc("total_conns", "Connections currently open in the pool."),
		idleConns:     desc("idle_conns", "Idle connections in the pool."),
		acquiredConns: desc("acquired_conns", "Connections currently acquired from the pool."),
		maxConns:      desc("max_conns", "Maximum connections allowed in the pool."),
		acquireCount:  desc("acquires_total", "Cumulative successful acquires from the pool."),
	}
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalConns
	ch <- c.idleConns
	ch <- c.acquiredConns
	ch <- c.maxConns
	ch <- c.acquireCount
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	if c.pool == nil {
		return
	}
	stats := c.pool.Stat()

	ch <- prometheus.MustNewConstMetric(c.totalConns, prometheus.GaugeValue, float64(stats.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.idleConns, prometheus.GaugeValue, float64(stats.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.acquiredConns, prometheus.GaugeValue, float64(stats.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(stats.MaxConns()))
	ch <- prometheus.MustNewConstMetric(c.acquireCount, prometheus.CounterValue, float64(stats.AcquireCount()))
}

// RegisterPoolCollector registers a PoolCollector with reg. A collector that
// is already registered is not an error.
func RegisterPoolCollector(reg prometheus.Registerer, pool *pgxpool.Pool, namespace, database string) (*PoolCollector, error) {
	collector := NewPoolCollector(pool, namespace, database)
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
	}
	return collector, nil
}
