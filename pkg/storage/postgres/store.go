// Package postgres implements storage.Store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erikmav/passport-sqrl/pkg/storage"
)

// Store implements the storage.Store interface for PostgreSQL
type Store struct {
	pool     *pgxpool.Pool
	nut      *NutStore
	identity *IdentityStore
}

// Config holds PostgreSQL connection configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewStore creates a new PostgreSQL store
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{pool: pool}
	store.nut = &NutStore{db: pool}
	store.identity = &IdentityStore{db: pool}
	return store, nil
}

// NutStore returns the nut store
func (s *Store) NutStore() storage.NutStore {
	return s.nut
}

// IdentityStore returns the identity store
func (s *Store) IdentityStore() storage.IdentityStore {
	return s.identity
}

// Close closes the connection pool
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Schema is the DDL for the tables this store expects. Applied out-of-band
// by deployment tooling; kept here so the single source of truth ships with
// the code that queries it.
const Schema = `
CREATE TABLE IF NOT EXISTS nuts (
    nut           TEXT PRIMARY KEY,
    url           TEXT NOT NULL DEFAULT '',
    origin_nut    TEXT NOT NULL DEFAULT '',
    used          BOOLEAN NOT NULL DEFAULT FALSE,
    logged_in     BOOLEAN NOT NULL DEFAULT FALSE,
    identity_key  TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL,
    expires_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS nuts_expires_at_idx ON nuts (expires_at);

CREATE TABLE IF NOT EXISTS identities (
    identity_key        TEXT PRIMARY KEY,
    previous_keys       TEXT[] NOT NULL DEFAULT '{}',
    session_unlock_key  TEXT NOT NULL DEFAULT '',
    verify_unlock_key   TEXT NOT NULL DEFAULT '',
    disabled            BOOLEAN NOT NULL DEFAULT FALSE,
    sqrl_only           BOOLEAN NOT NULL DEFAULT FALSE,
    hard_lock           BOOLEAN NOT NULL DEFAULT FALSE,
    created_at          TIMESTAMPTZ NOT NULL,
    updated_at          TIMESTAMPTZ NOT NULL
);
`

// InitSchema applies Schema. Intended for tests and first-run bootstrap.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
