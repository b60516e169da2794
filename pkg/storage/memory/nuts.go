package memory

import (
	"context"
	"time"

	"github.com/erikmav/passport-sqrl/pkg/storage"
)

// NutStore implements storage.NutStore
type NutStore struct {
	store *Store
}

func (n *NutStore) Insert(ctx context.Context, rec *storage.NutRecord) error {
	n.store.nutsMu.Lock()
	defer n.store.nutsMu.Unlock()

	if _, exists := n.store.nuts[rec.Nut]; exists {
		return storage.ErrNutExists
	}
	clone := *rec
	n.store.nuts[rec.Nut] = &clone
	return nil
}

func (n *NutStore) Get(ctx context.Context, nut string) (*storage.NutRecord, error) {
	n.store.nutsMu.RLock()
	defer n.store.nutsMu.RUnlock()

	rec, exists := n.store.nuts[nut]
	if !exists || time.Now().After(rec.ExpiresAt) {
		return nil, storage.ErrNutNotFound
	}
	clone := *rec
	return &clone, nil
}

func (n *NutStore) ConsumeAndIssue(ctx context.Context, nut string, next *storage.NutRecord) (*storage.NutRecord, error) {
	n.store.nutsMu.Lock()
	defer n.store.nutsMu.Unlock()

	old, exists := n.store.nuts[nut]
	if !exists || time.Now().After(old.ExpiresAt) {
		return nil, storage.ErrNutNotFound
	}
	if old.Used {
		return nil, storage.ErrNutConsumed
	}
	if _, exists := n.store.nuts[next.Nut]; exists {
		return nil, storage.ErrNutExists
	}

	old.Used = true
	clone := *next
	clone.OriginNut = old.Origin()
	n.store.nuts[clone.Nut] = &clone

	consumed := *old
	return &consumed, nil
}

func (n *NutStore) MarkLoggedIn(ctx context.Context, nut string, identityKey string) error {
	n.store.nutsMu.Lock()
	defer n.store.nutsMu.Unlock()

	rec, exists := n.store.nuts[nut]
	if !exists {
		return storage.ErrNutNotFound
	}
	rec.LoggedIn = true
	rec.IdentityKey = identityKey
	return nil
}

func (n *NutStore) DeleteExpired(ctx context.Context) (int64, error) {
	n.store.nutsMu.Lock()
	defer n.store.nutsMu.Unlock()

	now := time.Now()
	var count int64
	for nut, rec := range n.store.nuts {
		if now.After(rec.ExpiresAt) {
			delete(n.store.nuts, nut)
			count++
		}
	}
	return count, nil
}

func (n *NutStore) Count(ctx context.Context) (int64, error) {
	n.store.nutsMu.RLock()
	defer n.store.nutsMu.RUnlock()

	now := time.Now()
	var count int64
	for _, rec := range n.store.nuts {
		if now.Before(rec.ExpiresAt) {
			count++
		}
	}
	return count, nil
}
