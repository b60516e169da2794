package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erikmav/passport-sqrl/pkg/storage"
)

// NutStore implements storage.NutStore for PostgreSQL
type NutStore struct {
	db *pgxpool.Pool
}

func (n *NutStore) Insert(ctx context.Context, rec *storage.NutRecord) error {
	query := `
		INSERT INTO nuts (nut, url, origin_nut, used, logged_in, identity_key, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := n.db.Exec(ctx, query,
		rec.Nut, rec.URL, rec.OriginNut, rec.Used, rec.LoggedIn, rec.IdentityKey,
		rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return storage.ErrNutExists
		}
		return fmt.Errorf("failed to insert nut: %w", err)
	}
	return nil
}

func (n *NutStore) Get(ctx context.Context, nut string) (*storage.NutRecord, error) {
	query := `
		SELECT nut, url, origin_nut, used, logged_in, identity_key, created_at, expires_at
		FROM nuts
		WHERE nut = $1 AND expires_at > NOW()
	`
	var rec storage.NutRecord
	err := n.db.QueryRow(ctx, query, nut).Scan(
		&rec.Nut, &rec.URL, &rec.OriginNut, &rec.Used, &rec.LoggedIn,
		&rec.IdentityKey, &rec.CreatedAt, &rec.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNutNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get nut: %w", err)
	}
	return &rec, nil
}

// ConsumeAndIssue relies on the conditional UPDATE as the linearization
// point: of two racing requests presenting the same nut, exactly one flips
// used from FALSE to TRUE.
func (n *NutStore) ConsumeAndIssue(ctx context.Context, nut string, next *storage.NutRecord) (*storage.NutRecord, error) {
	tx, err := n.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	update := `
		UPDATE nuts SET used = TRUE
		WHERE nut = $1 AND used = FALSE AND expires_at > NOW()
		RETURNING nut, url, origin_nut, logged_in, identity_key, created_at, expires_at
	`
	var old storage.NutRecord
	err = tx.QueryRow(ctx, update, nut).Scan(
		&old.Nut, &old.URL, &old.OriginNut, &old.LoggedIn,
		&old.IdentityKey, &old.CreatedAt, &old.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish a consumed nut from an unknown one.
		var used bool
		probe := `SELECT used FROM nuts WHERE nut = $1 AND expires_at > NOW()`
		if perr := tx.QueryRow(ctx, probe, nut).Scan(&used); perr == nil && used {
			return nil, storage.ErrNutConsumed
		}
		return nil, storage.ErrNutNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume nut: %w", err)
	}
	old.Used = true

	insert := `
		INSERT INTO nuts (nut, url, origin_nut, used, logged_in, identity_key, created_at, expires_at)
		VALUES ($1, $2, $3, FALSE, FALSE, '', $4, $5)
	`
	_, err = tx.Exec(ctx, insert,
		next.Nut, next.URL, old.Origin(), next.CreatedAt, next.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, storage.ErrNutExists
		}
		return nil, fmt.Errorf("failed to issue follow-up nut: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &old, nil
}

func (n *NutStore) MarkLoggedIn(ctx context.Context, nut string, identityKey string) error {
	query := `UPDATE nuts SET logged_in = TRUE, identity_key = $2 WHERE nut = $1`
	result, err := n.db.Exec(ctx, query, nut, identityKey)
	if err != nil {
		return fmt.Errorf("failed to mark nut logged in: %w", err)
	}
	if result.RowsAffected() == 0 {
		return storage.ErrNutNotFound
	}
	return nil
}

func (n *NutStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := n.db.Exec(ctx, `DELETE FROM nuts WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired nuts: %w", err)
	}
	return result.RowsAffected(), nil
}

func (n *NutStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := n.db.QueryRow(ctx, `SELECT COUNT(*) FROM nuts WHERE expires_at > NOW()`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count nuts: %w", err)
	}
	return count, nil
}
