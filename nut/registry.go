package nut

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erikmav/passport-sqrl/core/envelope"
	"github.com/erikmav/passport-sqrl/internal/logger"
	"github.com/erikmav/passport-sqrl/internal/metrics"
	"github.com/erikmav/passport-sqrl/pkg/storage"
)

// DefaultTTL is how long an issued nut stays presentable. Conversations are
// seconds long; the generous window covers a QR code left on screen all day.
const DefaultTTL = 12 * time.Hour

const evictionInterval = 10 * time.Minute

// Registry is the process-wide nonce registry: it mints nuts, records their
// conversation lineage in the backing store, and evicts them on TTL. It is
// the only shared mutable state the protocol core owns.
type Registry struct {
	store storage.NutStore
	gen   Generator
	ttl   time.Duration
	log   logger.Logger

	tick      *time.Ticker
	stop      chan struct{}
	closeOnce sync.Once
}

// NewRegistry creates a registry over the given store. gen may be nil for
// the default random generator; ttl of zero means DefaultTTL. A background
// eviction loop starts immediately; call Close to stop it.
func NewRegistry(store storage.NutStore, gen Generator, ttl time.Duration, log logger.Logger) *Registry {
	if gen == nil {
		gen = &RandomGenerator{}
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	r := &Registry{
		store: store,
		gen:   gen,
		ttl:   ttl,
		log:   log,
		tick:  time.NewTicker(evictionInterval),
		stop:  make(chan struct{}),
	}
	go r.evictionLoop()
	return r
}

// Generator returns the registry's nut generator.
func (r *Registry) Generator() Generator {
	return r.gen
}

// Mint generates a fresh nut without registering it. The wire form is
// unpadded base64url of the raw bytes.
func (r *Registry) Mint(clientID string) (string, []byte, error) {
	raw, err := r.gen.Nut(clientID)
	if err != nil {
		return "", nil, fmt.Errorf("mint nut: %w", err)
	}
	return envelope.Encode(raw), raw, nil
}

// IssueOrigin mints and registers a conversation-opening nut, the one
// embedded in the QR code URL.
func (r *Registry) IssueOrigin(ctx context.Context, url, clientID string) (*storage.NutRecord, error) {
	encoded, _, err := r.Mint(clientID)
	if err != nil {
		return nil, err
	}
	rec := r.newRecord(encoded, url)
	if err := r.store.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("register origin nut: %w", err)
	}
	metrics.NutsIssued.WithLabelValues("origin").Inc()
	return rec, nil
}

// IssueOriginFor registers a caller-supplied opaque nut value as an origin.
func (r *Registry) IssueOriginFor(ctx context.Context, nutValue, url string) (*storage.NutRecord, error) {
	rec := r.newRecord(nutValue, url)
	if err := r.store.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("register origin nut: %w", err)
	}
	metrics.NutsIssued.WithLabelValues("origin").Inc()
	return rec, nil
}

// Lookup retrieves a record by nut, consumed or not.
func (r *Registry) Lookup(ctx context.Context, nutValue string) (*storage.NutRecord, error) {
	return r.store.Get(ctx, nutValue)
}

// ConsumeAndIssue atomically consumes the presented nut and registers
// nextNut as its successor, inheriting the conversation origin. Exactly one
// of two racing calls for the same presented nut succeeds.
func (r *Registry) ConsumeAndIssue(ctx context.Context, presented, nextNut, nextURL string) (old, next *storage.NutRecord, err error) {
	rec := r.newRecord(nextNut, nextURL)
	old, err = r.store.ConsumeAndIssue(ctx, presented, rec)
	if err != nil {
		if errors.Is(err, storage.ErrNutNotFound) || errors.Is(err, storage.ErrNutConsumed) {
			metrics.NutsRejected.Inc()
		}
		return nil, nil, err
	}
	rec.OriginNut = old.Origin()
	metrics.NutsConsumed.Inc()
	metrics.NutsIssued.WithLabelValues("followup").Inc()
	return old, rec, nil
}

// IssueDetached registers a nut with no ancestry, used for failure replies
// where the presented nut was unusable but the client still needs a fresh
// nut to retry with.
func (r *Registry) IssueDetached(ctx context.Context, nextNut, nextURL string) (*storage.NutRecord, error) {
	rec := r.newRecord(nextNut, nextURL)
	if err := r.store.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("register detached nut: %w", err)
	}
	metrics.NutsIssued.WithLabelValues("origin").Inc()
	return rec, nil
}

// MarkLoggedIn flips the logged-in flag and binds the identity key on the
// given (origin) nut. Lookups after return observe the new state.
func (r *Registry) MarkLoggedIn(ctx context.Context, originNut, identityKey string) error {
	return r.store.MarkLoggedIn(ctx, originNut, identityKey)
}

// Count returns the live record count.
func (r *Registry) Count(ctx context.Context) (int64, error) {
	return r.store.Count(ctx)
}

// Close stops the background eviction loop.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.stop)
		r.tick.Stop()
	})
}

func (r *Registry) newRecord(nutValue, url string) *storage.NutRecord {
	now := time.Now()
	return &storage.NutRecord{
		Nut:       nutValue,
		URL:       url,
		CreatedAt: now,
		ExpiresAt: now.Add(r.ttl),
	}
}

func (r *Registry) evictionLoop() {
	for {
		select {
		case <-r.tick.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			evicted, err := r.store.DeleteExpired(ctx)
			if err == nil {
				if count, cerr := r.store.Count(ctx); cerr == nil {
					metrics.NutsActive.Set(float64(count))
				}
			}
			cancel()
			if err != nil {
				r.log.Warn("nut eviction failed", logger.Error(err))
				continue
			}
			if evicted > 0 {
				metrics.NutsEvicted.Add(float64(evicted))
				r.log.Debug("evicted expired nuts", logger.Int("count", int(evicted)))
			}
		case <-r.stop:
			return
		}
	}
}
