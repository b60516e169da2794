package memory

import (
	"context"
	"time"

	"github.com/erikmav/passport-sqrl/core/request"
	"github.com/erikmav/passport-sqrl/core/tif"
	"github.com/erikmav/passport-sqrl/pkg/storage"
)

// IdentityStore implements storage.IdentityStore
type IdentityStore struct {
	store *Store
}

func (s *IdentityStore) Query(ctx context.Context, req *request.ClientRequest, nut *storage.NutRecord) (*storage.AuthOutcome, error) {
	s.store.identitiesMu.RLock()
	defer s.store.identitiesMu.RUnlock()

	outcome := &storage.AuthOutcome{}

	if id, ok := s.store.identities[req.IdentityKey]; ok {
		outcome.Identity = cloneIdentity(id)
		outcome.TIF |= tif.CurrentIDMatch
		if id.Disabled {
			outcome.TIF |= tif.IDDisabled
		}
		if req.ReturnSessionUnlockKey {
			outcome.SessionUnlockKey = id.SessionUnlockKey
		}
		return outcome, nil
	}

	if req.PreviousIdentityKey != "" {
		if id, ok := s.store.identities[req.PreviousIdentityKey]; ok {
			outcome.Identity = cloneIdentity(id)
			outcome.TIF |= tif.PreviousIDMatch
			if id.Disabled {
				outcome.TIF |= tif.IDDisabled
			}
			if req.ReturnSessionUnlockKey {
				outcome.SessionUnlockKey = id.SessionUnlockKey
			}
		}
	}

	return outcome, nil
}

func (s *IdentityStore) Ident(ctx context.Context, req *request.ClientRequest, nut *storage.NutRecord) (*storage.AuthOutcome, error) {
	s.store.identitiesMu.Lock()
	defer s.store.identitiesMu.Unlock()

	now := time.Now()

	if id, ok := s.store.identities[req.IdentityKey]; ok {
		if id.Disabled {
			return &storage.AuthOutcome{
				Identity: cloneIdentity(id),
				TIF:      tif.CommandFailed | tif.CurrentIDMatch | tif.IDDisabled,
			}, nil
		}
		id.SQRLOnly = req.SQRLOnly
		id.HardLock = req.HardLock
		id.UpdatedAt = now
		outcome := &storage.AuthOutcome{
			Identity: cloneIdentity(id),
			TIF:      tif.CurrentIDMatch,
		}
		if req.ReturnSessionUnlockKey {
			outcome.SessionUnlockKey = id.SessionUnlockKey
		}
		return outcome, nil
	}

	// Key rotation: the presented previous key is a known identity's
	// current primary.
	if req.PreviousIdentityKey != "" {
		if id, ok := s.store.identities[req.PreviousIdentityKey]; ok {
			if id.Disabled {
				return &storage.AuthOutcome{
					Identity: cloneIdentity(id),
					TIF:      tif.CommandFailed | tif.PreviousIDMatch | tif.IDDisabled,
				}, nil
			}
			delete(s.store.identities, id.IdentityKey)
			if !id.MatchesPrevious(id.IdentityKey) {
				id.PreviousKeys = append([]string{id.IdentityKey}, id.PreviousKeys...)
			}
			id.IdentityKey = req.IdentityKey
			if req.ServerUnlockKey != "" {
				id.SessionUnlockKey = req.ServerUnlockKey
			}
			if req.VerifyUnlockKey != "" {
				id.VerifyUnlockKey = req.VerifyUnlockKey
			}
			id.SQRLOnly = req.SQRLOnly
			id.HardLock = req.HardLock
			id.UpdatedAt = now
			s.store.identities[id.IdentityKey] = id

			outcome := &storage.AuthOutcome{
				Identity: cloneIdentity(id),
				TIF:      tif.CurrentIDMatch | tif.PreviousIDMatch,
			}
			if req.ReturnSessionUnlockKey {
				outcome.SessionUnlockKey = id.SessionUnlockKey
			}
			return outcome, nil
		}
	}

	// Unknown identity: first login creates the record.
	id := &storage.Identity{
		IdentityKey:      req.IdentityKey,
		SessionUnlockKey: req.ServerUnlockKey,
		VerifyUnlockKey:  req.VerifyUnlockKey,
		SQRLOnly:         req.SQRLOnly,
		HardLock:         req.HardLock,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.store.identities[id.IdentityKey] = id

	outcome := &storage.AuthOutcome{Identity: cloneIdentity(id)}
	if req.ReturnSessionUnlockKey {
		outcome.SessionUnlockKey = id.SessionUnlockKey
	}
	return outcome, nil
}

func (s *IdentityStore) Disable(ctx context.Context, req *request.ClientRequest, nut *storage.NutRecord) (*storage.AuthOutcome, error) {
	s.store.identitiesMu.Lock()
	defer s.store.identitiesMu.Unlock()

	id, ok := s.store.identities[req.IdentityKey]
	if !ok {
		return &storage.AuthOutcome{TIF: tif.CommandFailed}, nil
	}
	// Idempotent: disabling twice is a retry, not an error.
	id.Disabled = true
	id.UpdatedAt = time.Now()
	return &storage.AuthOutcome{
		Identity: cloneIdentity(id),
		TIF:      tif.CurrentIDMatch | tif.IDDisabled,
	}, nil
}

func (s *IdentityStore) Enable(ctx context.Context, req *request.ClientRequest, nut *storage.NutRecord) (*storage.AuthOutcome, error) {
	s.store.identitiesMu.Lock()
	defer s.store.identitiesMu.Unlock()

	id, ok := s.store.identities[req.IdentityKey]
	if !ok {
		return &storage.AuthOutcome{TIF: tif.CommandFailed}, nil
	}
	id.Disabled = false
	id.UpdatedAt = time.Now()
	outcome := &storage.AuthOutcome{
		Identity: cloneIdentity(id),
		TIF:      tif.CurrentIDMatch,
	}
	if req.ReturnSessionUnlockKey {
		outcome.SessionUnlockKey = id.SessionUnlockKey
	}
	return outcome, nil
}

func (s *IdentityStore) Remove(ctx context.Context, req *request.ClientRequest, nut *storage.NutRecord) (*storage.AuthOutcome, error) {
	s.store.identitiesMu.Lock()
	defer s.store.identitiesMu.Unlock()

	id, ok := s.store.identities[req.IdentityKey]
	if !ok {
		// Idempotent: the record may already be gone from a retried remove.
		return &storage.AuthOutcome{}, nil
	}
	if !id.Disabled {
		return &storage.AuthOutcome{
			Identity: cloneIdentity(id),
			TIF:      tif.CommandFailed | tif.CurrentIDMatch,
		}, nil
	}
	delete(s.store.identities, req.IdentityKey)
	return &storage.AuthOutcome{TIF: tif.CurrentIDMatch}, nil
}

func (s *IdentityStore) GetIdentity(ctx context.Context, identityKey string) (*storage.Identity, error) {
	s.store.identitiesMu.RLock()
	defer s.store.identitiesMu.RUnlock()

	id, ok := s.store.identities[identityKey]
	if !ok {
		return nil, storage.ErrIdentityNotFound
	}
	return cloneIdentity(id), nil
}

func cloneIdentity(id *storage.Identity) *storage.Identity {
	clone := *id
	clone.PreviousKeys = append([]string(nil), id.PreviousKeys...)
	return &clone
}
