// Package postgres provides the PostgreSQL storage of the costing engine:
// connection pool, transaction manager, unit store, outbox and audit log.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"costengine/pkg/logger"
)

const applicationName = "costengine"

type PoolConfig struct {
	DSN               string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// DefaultPoolConfig gives each branch lane a connection and leaves room for
// the outbox relay, the catalog listener and health checks.
func DefaultPoolConfig(dsn string, lanes int) PoolConfig {
	return PoolConfig{
		DSN:               dsn,
		MaxConns:          max(int32(lanes)+4, 8),
		MinConns:          2,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
	}
}

type Pool struct {
	*pgxpool.Pool
}

func (p *Pool) Close() {
	if p.Pool != nil {
		p.Pool.Close()
	}
}

// NewPool connects and pings. Every session is tagged with the
// application name so engine queries are visible in pg_stat_activity.
func NewPool(ctx context.Context, cfg PoolConfig) (*Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.HealthCheckPeriod = cfg.HealthCheckPeriod
	pc.ConnConfig.RuntimeParams["application_name"] = applicationName
	pc.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// Business dates are computed in Go; keep the session zone neutral.
		_, err := conn.Exec(ctx, "SET TIME ZONE 'UTC'")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

// LogPoolStats logs pool usage, typically on shutdown.
func LogPoolStats(ctx context.Context, pool *Pool) {
	s := pool.Stat()
	logger.Info(ctx, "database pool stats",
		"total", s.TotalConns(),
		"acquired", s.AcquiredConns(),
		"idle", s.IdleConns(),
		"max", s.MaxConns(),
		"acquire_wait", s.AcquireDuration().String(),
		"empty_acquires", s.EmptyAcquireCount(),
	)
}
