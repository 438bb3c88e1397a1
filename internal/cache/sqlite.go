package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"eval_harness/internal/eval"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS eval_cache (
	key        TEXT PRIMARY KEY,
	result     BLOB NOT NULL,
	expires_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_eval_cache_expires ON eval_cache (expires_at);
`

// SQLiteStore is a disk-backed cache for local runs: results survive
// process restarts without any external service.
type SQLiteStore struct {
	db  *sqlx.DB
	ttl time.Duration
}

// NewSQLiteStore opens (or creates) the cache database at path.
func NewSQLiteStore(path string, ttl time.Duration) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	return &SQLiteStore{db: db, ttl: ttl}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*eval.Result, bool, error) {
	var row struct {
		Result    []byte    `db:"result"`
		ExpiresAt time.Time `db:"expires_at"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT result, expires_at FROM eval_cache WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get failed: %w", err)
	}
	if s.ttl > 0 && time.Now().After(row.ExpiresAt) {
		_ = s.Evict(ctx, key)
		return nil, false, nil
	}
	var result eval.Result
	if err := json.Unmarshal(row.Result, &result); err != nil {
		return nil, false, nil
	}
	return &result, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, result *eval.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO eval_cache (key, result, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET result = excluded.result, expires_at = excluded.expires_at`,
		key, data, time.Now().Add(s.ttl))
	if err != nil {
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Evict(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM eval_cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache evict failed: %w", err)
	}
	return nil
}

// CleanupExpired removes expired rows; called from the maintenance sweep.
func (s *SQLiteStore) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM eval_cache WHERE expires_at < ?`, time.Now())
	if err != nil {
		return 0, fmt.Errorf("cache cleanup failed: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
