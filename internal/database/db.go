// Package database persists backtest outputs to PostgreSQL. The
// in-memory output remains the primary artifact; persistence is an
// optional sink configured at startup.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"backtest-engine/config"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB creates a new database connection pool and verifies it.
func NewDB(cfg config.DatabaseConfig) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// EnsureSchema creates the result tables when they do not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS backtest_results (
			id TEXT PRIMARY KEY,
			algo_id TEXT NOT NULL,
			version TEXT,
			symbol TEXT NOT NULL,
			start_time BIGINT NOT NULL,
			end_time BIGINT NOT NULL,
			starting_capital_usd DOUBLE PRECISION NOT NULL,
			fee_bps DOUBLE PRECISION NOT NULL,
			slippage_bps DOUBLE PRECISION NOT NULL,
			total_trades INT NOT NULL,
			winning_trades INT NOT NULL,
			win_rate DOUBLE PRECISION NOT NULL,
			total_pnl_usd DOUBLE PRECISION NOT NULL,
			total_fees_usd DOUBLE PRECISION NOT NULL,
			profit_factor DOUBLE PRECISION NOT NULL,
			sharpe_ratio DOUBLE PRECISION NOT NULL,
			sortino_ratio DOUBLE PRECISION NOT NULL,
			max_drawdown_pct DOUBLE PRECISION NOT NULL,
			max_drawdown_usd DOUBLE PRECISION NOT NULL,
			calmar_ratio DOUBLE PRECISION NOT NULL,
			total_return_pct DOUBLE PRECISION NOT NULL,
			total_bars_processed INT NOT NULL,
			duration_ms BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS backtest_trades (
			id BIGSERIAL PRIMARY KEY,
			result_id TEXT NOT NULL REFERENCES backtest_results(id) ON DELETE CASCADE,
			trade_id BIGINT NOT NULL,
			direction TEXT NOT NULL,
			entry_bar INT NOT NULL,
			entry_time BIGINT NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			exit_bar INT NOT NULL,
			exit_time BIGINT NOT NULL,
			exit_price DOUBLE PRECISION NOT NULL,
			exit_reason TEXT NOT NULL,
			pnl_usd DOUBLE PRECISION NOT NULL,
			pnl_pct DOUBLE PRECISION NOT NULL,
			duration_bars INT NOT NULL,
			duration_seconds BIGINT NOT NULL,
			fees DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS backtest_equity (
			result_id TEXT NOT NULL REFERENCES backtest_results(id) ON DELETE CASCADE,
			bar_index INT NOT NULL,
			ts BIGINT NOT NULL,
			equity DOUBLE PRECISION NOT NULL,
			drawdown_pct DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (result_id, bar_index)
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}
