package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// DB is the minimal database/sql surface the Postgres store needs.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore persists compiled manifests in a compile_cache table.
// Entries are content-addressed, so writes are idempotent upserts.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	if db == nil {
		return nil
	}
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, id string) ([]byte, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("cache store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("cache id is required")
	}
	var manifest []byte
	row := s.db.QueryRowContext(
		ctx,
		`SELECT manifest FROM compile_cache WHERE cache_key = $1`,
		id,
	)
	if err := row.Scan(&manifest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select cached manifest: %w", err)
	}
	return manifest, nil
}

func (s *PostgresStore) Put(ctx context.Context, id string, manifest []byte) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("cache store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("cache id is required")
	}
	if len(manifest) == 0 {
		return fmt.Errorf("manifest is required")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO compile_cache (cache_key, manifest)
		 VALUES ($1, $2)
		 ON CONFLICT (cache_key) DO UPDATE SET manifest = EXCLUDED.manifest`,
		id,
		manifest,
	)
	if err != nil {
		return fmt.Errorf("insert cached manifest: %w", err)
	}
	return nil
}
