// Package storage defines the persistence contracts behind the SQRL core:
// the nut store backing the nonce registry and the identity store the
// protocol engine dispatches verified commands into.
package storage

import (
	"context"
	"errors"

	"github.com/erikmav/passport-sqrl/core/request"
	"github.com/erikmav/passport-sqrl/core/tif"
)

// Common errors
var (
	ErrNutNotFound      = errors.New("nut not found")
	ErrNutConsumed      = errors.New("nut already consumed")
	ErrNutExists        = errors.New("nut already issued")
	ErrIdentityNotFound = errors.New("identity not found")
	ErrNotDisabled      = errors.New("identity is not disabled")
)

// NutStore persists issued nuts and their conversation lineage.
type NutStore interface {
	// Insert records a freshly issued nut. ErrNutExists on collision.
	Insert(ctx context.Context, rec *NutRecord) error

	// Get retrieves a nut record, consumed or not. ErrNutNotFound when the
	// nut was never issued or has been evicted.
	Get(ctx context.Context, nut string) (*NutRecord, error)

	// ConsumeAndIssue atomically verifies nut exists unconsumed, marks it
	// consumed, and inserts next with OriginNut set to the consumed record's
	// origin (callers need not set it). Of two
	// racing calls presenting the same nut, at most one succeeds; the loser
	// sees ErrNutConsumed. Returns the consumed record.
	ConsumeAndIssue(ctx context.Context, nut string, next *NutRecord) (*NutRecord, error)

	// MarkLoggedIn flips LoggedIn and binds identityKey on the given
	// (origin) record. After it returns, any Get observes the new state.
	MarkLoggedIn(ctx context.Context, nut string, identityKey string) error

	// DeleteExpired evicts records past their expiry.
	DeleteExpired(ctx context.Context) (int64, error)

	// Count returns the number of live records.
	Count(ctx context.Context) (int64, error)
}

// AuthOutcome bundles an identity-store operation's result: the matched or
// affected identity (nil when none), the TIF bits the store asserts, and
// the stored session unlock key when the client requested its return.
type AuthOutcome struct {
	Identity         *Identity
	TIF              tif.Bits
	SessionUnlockKey string
}

// IdentityStore holds durable identity records keyed by primary identity
// public key. Implementations are responsible for idempotence of the state
// transitions and for refusing remove on a non-disabled identity; the
// engine is responsible for nut lifecycle.
type IdentityStore interface {
	// Query is a read-only probe: which of current-key-match,
	// previous-key-match, and id-disabled hold for the presented keys.
	Query(ctx context.Context, req *request.ClientRequest, nut *NutRecord) (*AuthOutcome, error)

	// Ident creates or updates the identity record, performing a key
	// rotation when the presented previous key matches an existing
	// record's primary.
	Ident(ctx context.Context, req *request.ClientRequest, nut *NutRecord) (*AuthOutcome, error)

	// Disable turns off SQRL authentication for the identity. Idempotent.
	Disable(ctx context.Context, req *request.ClientRequest, nut *NutRecord) (*AuthOutcome, error)

	// Enable re-allows authentication. Idempotent.
	Enable(ctx context.Context, req *request.ClientRequest, nut *NutRecord) (*AuthOutcome, error)

	// Remove deletes the identity. Refused with a CommandFailed|CurrentIDMatch
	// outcome unless currently disabled.
	// Idempotent: removing an absent identity succeeds.
	Remove(ctx context.Context, req *request.ClientRequest, nut *NutRecord) (*AuthOutcome, error)

	// GetIdentity resolves an identity by primary key; used by the login
	// poll port to surface the logged-in user.
	GetIdentity(ctx context.Context, identityKey string) (*Identity, error)
}

// Store combines all storage interfaces behind one connection.
type Store interface {
	NutStore() NutStore
	IdentityStore() IdentityStore

	// Close closes the storage connection.
	Close() error

	// Ping checks the storage connection.
	Ping(ctx context.Context) error
}
