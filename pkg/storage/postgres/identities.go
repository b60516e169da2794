package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erikmav/passport-sqrl/core/request"
	"github.com/erikmav/passport-sqrl/core/tif"
	"github.com/erikmav/passport-sqrl/pkg/storage"
)

// IdentityStore implements storage.IdentityStore for PostgreSQL
type IdentityStore struct {
	db *pgxpool.Pool
}

const identityColumns = `identity_key, previous_keys, session_unlock_key, verify_unlock_key,
	disabled, sqrl_only, hard_lock, created_at, updated_at`

func scanIdentity(row pgx.Row) (*storage.Identity, error) {
	var id storage.Identity
	err := row.Scan(
		&id.IdentityKey, &id.PreviousKeys, &id.SessionUnlockKey, &id.VerifyUnlockKey,
		&id.Disabled, &id.SQRLOnly, &id.HardLock, &id.CreatedAt, &id.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan identity: %w", err)
	}
	return &id, nil
}

func (s *IdentityStore) getTx(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, key string, forUpdate bool) (*storage.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE identity_key = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanIdentity(q.QueryRow(ctx, query, key))
}

func (s *IdentityStore) Query(ctx context.Context, req *request.ClientRequest, nut *storage.NutRecord) (*storage.AuthOutcome, error) {
	outcome := &storage.AuthOutcome{}

	id, err := s.getTx(ctx, s.db, req.IdentityKey, false)
	if err != nil && !errors.Is(err, storage.ErrIdentityNotFound) {
		return nil, err
	}
	if id != nil {
		outcome.TIF |= tif.CurrentIDMatch
	} else if req.PreviousIdentityKey != "" {
		id, err = s.getTx(ctx, s.db, req.PreviousIdentityKey, false)
		if err != nil && !errors.Is(err, storage.ErrIdentityNotFound) {
			return nil, err
		}
		if id != nil {
			outcome.TIF |= tif.PreviousIDMatch
		}
	}
	if id != nil {
		outcome.Identity = id
		if id.Disabled {
			outcome.TIF |= tif.IDDisabled
		}
		if req.ReturnSessionUnlockKey {
			outcome.SessionUnlockKey = id.SessionUnlockKey
		}
	}
	return outcome, nil
}

func (s *IdentityStore) Ident(ctx context.Context, req *request.ClientRequest, nut *storage.NutRecord) (*storage.AuthOutcome, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()

	id, err := s.getTx(ctx, tx, req.IdentityKey, true)
	if err != nil && !errors.Is(err, storage.ErrIdentityNotFound) {
		return nil, err
	}

	var outcome *storage.AuthOutcome
	switch {
	case id != nil && id.Disabled:
		return &storage.AuthOutcome{
			Identity: id,
			TIF:      tif.CommandFailed | tif.CurrentIDMatch | tif.IDDisabled,
		}, nil

	case id != nil:
		update := `
			UPDATE identities SET sqrl_only = $2, hard_lock = $3, updated_at = $4
			WHERE identity_key = $1
		`
		if _, err := tx.Exec(ctx, update, id.IdentityKey, req.SQRLOnly, req.HardLock, now); err != nil {
			return nil, fmt.Errorf("failed to update identity: %w", err)
		}
		id.SQRLOnly, id.HardLock, id.UpdatedAt = req.SQRLOnly, req.HardLock, now
		outcome = &storage.AuthOutcome{Identity: id, TIF: tif.CurrentIDMatch}

	default:
		var prev *storage.Identity
		if req.PreviousIdentityKey != "" {
			prev, err = s.getTx(ctx, tx, req.PreviousIdentityKey, true)
			if err != nil && !errors.Is(err, storage.ErrIdentityNotFound) {
				return nil, err
			}
		}
		if prev != nil {
			if prev.Disabled {
				return &storage.AuthOutcome{
					Identity: prev,
					TIF:      tif.CommandFailed | tif.PreviousIDMatch | tif.IDDisabled,
				}, nil
			}
			if !prev.MatchesPrevious(prev.IdentityKey) {
				prev.PreviousKeys = append([]string{prev.IdentityKey}, prev.PreviousKeys...)
			}
			suk, vuk := prev.SessionUnlockKey, prev.VerifyUnlockKey
			if req.ServerUnlockKey != "" {
				suk = req.ServerUnlockKey
			}
			if req.VerifyUnlockKey != "" {
				vuk = req.VerifyUnlockKey
			}
			rotate := `
				UPDATE identities
				SET identity_key = $2, previous_keys = $3, session_unlock_key = $4,
				    verify_unlock_key = $5, sqrl_only = $6, hard_lock = $7, updated_at = $8
				WHERE identity_key = $1
			`
			if _, err := tx.Exec(ctx, rotate,
				req.PreviousIdentityKey, req.IdentityKey, prev.PreviousKeys,
				suk, vuk, req.SQRLOnly, req.HardLock, now,
			); err != nil {
				return nil, fmt.Errorf("failed to rotate identity key: %w", err)
			}
			prev.IdentityKey = req.IdentityKey
			prev.SessionUnlockKey, prev.VerifyUnlockKey = suk, vuk
			prev.SQRLOnly, prev.HardLock, prev.UpdatedAt = req.SQRLOnly, req.HardLock, now
			outcome = &storage.AuthOutcome{
				Identity: prev,
				TIF:      tif.CurrentIDMatch | tif.PreviousIDMatch,
			}
		} else {
			insert := `
				INSERT INTO identities (` + identityColumns + `)
				VALUES ($1, '{}', $2, $3, FALSE, $4, $5, $6, $6)
			`
			if _, err := tx.Exec(ctx, insert,
				req.IdentityKey, req.ServerUnlockKey, req.VerifyUnlockKey,
				req.SQRLOnly, req.HardLock, now,
			); err != nil {
				return nil, fmt.Errorf("failed to create identity: %w", err)
			}
			outcome = &storage.AuthOutcome{
				Identity: &storage.Identity{
					IdentityKey:      req.IdentityKey,
					SessionUnlockKey: req.ServerUnlockKey,
					VerifyUnlockKey:  req.VerifyUnlockKey,
					SQRLOnly:         req.SQRLOnly,
					HardLock:         req.HardLock,
					CreatedAt:        now,
					UpdatedAt:        now,
				},
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	if req.ReturnSessionUnlockKey && outcome.Identity != nil {
		outcome.SessionUnlockKey = outcome.Identity.SessionUnlockKey
	}
	return outcome, nil
}

func (s *IdentityStore) Disable(ctx context.Context, req *request.ClientRequest, nut *storage.NutRecord) (*storage.AuthOutcome, error) {
	query := `
		UPDATE identities SET disabled = TRUE, updated_at = NOW()
		WHERE identity_key = $1
		RETURNING ` + identityColumns
	id, err := scanIdentity(s.db.QueryRow(ctx, query, req.IdentityKey))
	if errors.Is(err, storage.ErrIdentityNotFound) {
		return &storage.AuthOutcome{TIF: tif.CommandFailed}, nil
	}
	if err != nil {
		return nil, err
	}
	return &storage.AuthOutcome{
		Identity: id,
		TIF:      tif.CurrentIDMatch | tif.IDDisabled,
	}, nil
}

func (s *IdentityStore) Enable(ctx context.Context, req *request.ClientRequest, nut *storage.NutRecord) (*storage.AuthOutcome, error) {
	query := `
		UPDATE identities SET disabled = FALSE, updated_at = NOW()
		WHERE identity_key = $1
		RETURNING ` + identityColumns
	id, err := scanIdentity(s.db.QueryRow(ctx, query, req.IdentityKey))
	if errors.Is(err, storage.ErrIdentityNotFound) {
		return &storage.AuthOutcome{TIF: tif.CommandFailed}, nil
	}
	if err != nil {
		return nil, err
	}
	outcome := &storage.AuthOutcome{Identity: id, TIF: tif.CurrentIDMatch}
	if req.ReturnSessionUnlockKey {
		outcome.SessionUnlockKey = id.SessionUnlockKey
	}
	return outcome, nil
}

func (s *IdentityStore) Remove(ctx context.Context, req *request.ClientRequest, nut *storage.NutRecord) (*storage.AuthOutcome, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	id, err := s.getTx(ctx, tx, req.IdentityKey, true)
	if errors.Is(err, storage.ErrIdentityNotFound) {
		// Idempotent: the record may already be gone from a retried remove.
		return &storage.AuthOutcome{}, nil
	}
	if err != nil {
		return nil, err
	}
	if !id.Disabled {
		return &storage.AuthOutcome{
			Identity: id,
			TIF:      tif.CommandFailed | tif.CurrentIDMatch,
		}, nil
	}
	if _, err := tx.Exec(ctx, `DELETE FROM identities WHERE identity_key = $1`, req.IdentityKey); err != nil {
		return nil, fmt.Errorf("failed to remove identity: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &storage.AuthOutcome{TIF: tif.CurrentIDMatch}, nil
}

func (s *IdentityStore) GetIdentity(ctx context.Context, identityKey string) (*storage.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE identity_key = $1`
	return scanIdentity(s.db.QueryRow(ctx, query, identityKey))
}
