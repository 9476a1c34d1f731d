package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthStatus is the result of Check.
type HealthStatus struct {
	Healthy       bool          `json:"healthy" yaml:"healthy"`
	Latency       time.Duration `json:"latency_ns" yaml:"latency"`
	TotalConns    int32         `json:"total_conns" yaml:"total_conns"`
	IdleConns     int32         `json:"idle_conns" yaml:"idle_conns"`
	AcquiredConns int32         `json:"acquired_conns" yaml:"acquired_conns"`
	Error         string        `json:"error,omitempty" yaml:"error,omitempty"`

	err error
}

// Err returns the failure behind an unhealthy status.
func (s *HealthStatus) Err() error { return s.err }

func (s *HealthStatus) fail(err error) *HealthStatus {
	s.err = err
	s.Error = err.Error()
	return s
}

// Check pings the pool and reports its connection counts.
func Check(ctx context.Context, pool *pgxpool.Pool) *HealthStatus {
	status := &HealthStatus{}
	if pool == nil {
		return status.fail(fmt.Errorf("pool is nil"))
	}

	start := time.Now()
	err := pool.Ping(ctx)
	status.Latency = time.Since(start)
	if err != nil {
		return status.fail(fmt.Errorf("ping failed: %w", err))
	}

	stats := pool.Stat()
	status.Healthy = true
	status.TotalConns = stats.TotalConns()
	status.IdleConns = stats.IdleConns()
	status.AcquiredConns = stats.AcquiredConns()
	return status
}
