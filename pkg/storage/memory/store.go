// Package memory implements storage.Store with in-process maps. It backs
// tests and single-node deployments; everything is lost on restart except
// what the SQRL protocol can recover (clients simply rescan a fresh QR).
package memory

import (
	"context"
	"sync"

	"github.com/erikmav/passport-sqrl/pkg/storage"
)

// Store implements the storage.Store interface in memory
type Store struct {
	nutsMu sync.RWMutex
	nuts   map[string]*storage.NutRecord

	identitiesMu sync.RWMutex
	identities   map[string]*storage.Identity

	nutStore      *NutStore
	identityStore *IdentityStore
}

// NewStore creates a new in-memory store
func NewStore() *Store {
	s := &Store{
		nuts:       make(map[string]*storage.NutRecord),
		identities: make(map[string]*storage.Identity),
	}
	s.nutStore = &NutStore{store: s}
	s.identityStore = &IdentityStore{store: s}
	return s
}

// NutStore returns the nut store
func (s *Store) NutStore() storage.NutStore {
	return s.nutStore
}

// IdentityStore returns the identity store
func (s *Store) IdentityStore() storage.IdentityStore {
	return s.identityStore
}

// Close is a no-op for the in-memory store
func (s *Store) Close() error {
	return nil
}

// Ping always succeeds for the in-memory store
func (s *Store) Ping(ctx context.Context) error {
	return nil
}
