package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"eval_harness/internal/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS eval_records (
	id                UUID PRIMARY KEY,
	run_id            TEXT NOT NULL DEFAULT '',
	provider_id       TEXT NOT NULL,
	vendor            TEXT NOT NULL,
	mode              TEXT NOT NULL,
	model_name        TEXT NOT NULL,
	session_key       TEXT NOT NULL DEFAULT '',
	cached            BOOLEAN NOT NULL DEFAULT FALSE,
	attempts          INTEGER NOT NULL DEFAULT 0,
	latency_ms        BIGINT NOT NULL DEFAULT 0,
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens      INTEGER NOT NULL DEFAULT 0,
	cost_usd          DOUBLE PRECISION,
	output            TEXT NOT NULL DEFAULT '',
	error_kind        TEXT NOT NULL DEFAULT '',
	error_message     TEXT NOT NULL DEFAULT '',
	metadata          JSONB,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_eval_records_run_id ON eval_records (run_id);
CREATE INDEX IF NOT EXISTS idx_eval_records_created_at ON eval_records (created_at);
`

// DB wraps the Postgres connection used for result persistence.
type DB struct {
	conn *sqlx.DB
}

// NewDB connects to Postgres, configures the pool and ensures the schema.
func NewDB(cfg config.DatabaseConfig) (*DB, error) {
	conn, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks if the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Health verifies connectivity with a trivial query.
func (db *DB) Health(ctx context.Context) error {
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var result int
	if err := db.conn.GetContext(ctx, &result, "SELECT 1"); err != nil {
		return fmt.Errorf("health check query failed: %w", err)
	}
	return nil
}

// Conn returns the underlying sqlx connection for custom queries.
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

// NewResultRepository creates a result repository over this connection.
func (db *DB) NewResultRepository() *ResultRepository {
	return NewResultRepository(db)
}
