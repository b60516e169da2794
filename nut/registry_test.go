package nut_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/erikmav/passport-sqrl/nut"
	"github.com/erikmav/passport-sqrl/pkg/storage"
	"github.com/erikmav/passport-sqrl/pkg/storage/memory"
)

func newRegistry(t *testing.T) *nut.Registry {
	t.Helper()
	r := nut.NewRegistry(memory.NewStore().NutStore(), nil, 0, nil)
	t.Cleanup(r.Close)
	return r
}

func TestIssueAndLookup(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	rec, err := r.IssueOrigin(ctx, "sqrl://example.com/sqrl?nut=x", "203.0.113.7")
	require.NoError(t, err)
	require.NotEmpty(t, rec.Nut)
	require.Empty(t, rec.OriginNut)
	require.False(t, rec.Used)

	got, err := r.Lookup(ctx, rec.Nut)
	require.NoError(t, err)
	require.Equal(t, rec.Nut, got.Nut)
	require.Equal(t, "sqrl://example.com/sqrl?nut=x", got.URL)

	_, err = r.Lookup(ctx, "never-issued")
	require.ErrorIs(t, err, storage.ErrNutNotFound)
}

func TestConsumeAndIssueSingleUse(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	origin, err := r.IssueOrigin(ctx, "", "")
	require.NoError(t, err)

	next1, _, err := r.Mint("")
	require.NoError(t, err)
	old, next, err := r.ConsumeAndIssue(ctx, origin.Nut, next1, "/sqrl?nut="+next1)
	require.NoError(t, err)
	require.Equal(t, origin.Nut, old.Nut)
	require.Equal(t, origin.Nut, next.OriginNut)

	// Consumed nut stays readable for the poll port...
	got, err := r.Lookup(ctx, origin.Nut)
	require.NoError(t, err)
	require.True(t, got.Used)

	// ...but never satisfies another protocol request.
	next2, _, err := r.Mint("")
	require.NoError(t, err)
	_, _, err = r.ConsumeAndIssue(ctx, origin.Nut, next2, "")
	require.ErrorIs(t, err, storage.ErrNutConsumed)
}

func TestAncestryChain(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	origin, err := r.IssueOrigin(ctx, "", "")
	require.NoError(t, err)

	// origin -> q1 -> q2 -> ident: every descendant points directly at the
	// origin, not its immediate predecessor.
	current := origin.Nut
	for i := 0; i < 3; i++ {
		minted, _, err := r.Mint("")
		require.NoError(t, err)
		_, next, err := r.ConsumeAndIssue(ctx, current, minted, "")
		require.NoError(t, err)
		require.Equal(t, origin.Nut, next.OriginNut)
		current = next.Nut
	}

	require.NoError(t, r.MarkLoggedIn(ctx, origin.Nut, "key-material"))

	got, err := r.Lookup(ctx, origin.Nut)
	require.NoError(t, err)
	require.True(t, got.LoggedIn)
	require.Equal(t, "key-material", got.IdentityKey)

	// Intermediate nuts are not marked; only the origin is.
	mid, err := r.Lookup(ctx, current)
	require.NoError(t, err)
	require.False(t, mid.LoggedIn)
}

func TestConsumeUnknownNut(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	minted, _, err := r.Mint("")
	require.NoError(t, err)
	_, _, err = r.ConsumeAndIssue(ctx, "ghost", minted, "")
	require.ErrorIs(t, err, storage.ErrNutNotFound)
}

func TestRacingConsumers(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	origin, err := r.IssueOrigin(ctx, "", "")
	require.NoError(t, err)

	const racers = 16
	errs := make(chan error, racers)
	for i := 0; i < racers; i++ {
		go func() {
			minted, _, err := r.Mint("")
			if err != nil {
				errs <- err
				return
			}
			_, _, err = r.ConsumeAndIssue(ctx, origin.Nut, minted, "")
			errs <- err
		}()
	}

	var wins int
	for i := 0; i < racers; i++ {
		if err := <-errs; err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, storage.ErrNutConsumed)
		}
	}
	require.Equal(t, 1, wins, "exactly one racing consumer may win")
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore().NutStore()
	r := nut.NewRegistry(store, nil, 50*time.Millisecond, nil)
	t.Cleanup(r.Close)

	rec, err := r.IssueOrigin(ctx, "", "")
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)

	_, err = r.Lookup(ctx, rec.Nut)
	require.ErrorIs(t, err, storage.ErrNutNotFound)

	evicted, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), evicted)
}
