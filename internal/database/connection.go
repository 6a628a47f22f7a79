package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/apollo-xwb/paysecure/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	applicationName = "paysecure-auth"
	connectTimeout  = 10 * time.Second
	maxPingBackoff  = 2 * time.Second
)

// DB is the pool shared by the account and session repositories
type DB struct {
	Pool   *pgxpool.Pool
	logger *slog.Logger
}

// New wraps an existing pool. Used by tests that own the pool lifecycle.
func New(pool *pgxpool.Pool, logger *slog.Logger) *DB {
	if logger == nil {
		logger = slog.Default()
	}
	return &DB{Pool: pool, logger: logger}
}

// PoolConfig builds pool settings from cfg. Connections are tagged with an
// application_name so auth traffic is identifiable in pg_stat_activity.
func PoolConfig(cfg *config.DatabaseConfig) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 && cfg.MinConns <= pc.MaxConns {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		pc.HealthCheckPeriod = cfg.HealthCheckPeriod
	}
	pc.ConnConfig.RuntimeParams["application_name"] = applicationName

	return pc, nil
}

// NewConnection opens the pool and waits for the server to answer a ping
func NewConnection(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	pc, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	db := New(pool, logger)
	if err := db.waitReady(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	db.logger.Info("database connection established",
		slog.String("host", cfg.Host),
		slog.String("database", cfg.Name),
		slog.Int("max_conns", int(pc.MaxConns)),
	)
	return db, nil
}

// waitReady retries Ping with capped backoff until it succeeds or ctx ends.
// A freshly started Postgres accepts connections before it accepts queries.
func (db *DB) waitReady(ctx context.Context) error {
	backoff := 100 * time.Millisecond
	for {
		err := db.Pool.Ping(ctx)
		if err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("unable to reach database: %w", err)
		case <-time.After(backoff):
		}

		db.logger.Debug("database not ready, retrying", slog.Duration("backoff", backoff))
		backoff = min(backoff*2, maxPingBackoff)
	}
}

func (db *DB) Close() {
	db.logger.Info("closing database connection pool")
	db.Pool.Close()
}

// HealthCheck backs GET /health. A saturated pool still answers pings, so it is logged
// as a warning rather than failing the check.
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	if st := db.Pool.Stat(); st.MaxConns() > 0 && st.AcquiredConns() >= st.MaxConns() {
		db.logger.Warn("database pool saturated",
			slog.Int("acquired", int(st.AcquiredConns())),
			slog.Int("max", int(st.MaxConns())),
		)
	}
	return nil
}
