package core_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erikmav/passport-sqrl/core"
	"github.com/erikmav/passport-sqrl/core/envelope"
	"github.com/erikmav/passport-sqrl/core/request"
	"github.com/erikmav/passport-sqrl/core/sqrlurl"
	"github.com/erikmav/passport-sqrl/core/tif"
	"github.com/erikmav/passport-sqrl/internal/sqrltest"
	"github.com/erikmav/passport-sqrl/nut"
	"github.com/erikmav/passport-sqrl/pkg/storage"
	"github.com/erikmav/passport-sqrl/pkg/storage/memory"
)

const successURL = "https://example.com/loginSuccess"

type testServer struct {
	engine   *core.Engine
	registry *nut.Registry
	store    *memory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.NewStore()
	registry := nut.NewRegistry(store.NutStore(), nil, 0, nil)
	t.Cleanup(registry.Close)

	engine := core.NewEngine(core.EngineOptions{
		Registry:   registry,
		Store:      store.IdentityStore(),
		Factory:    &sqrlurl.Factory{Domain: "example.com", Path: "/sqrl"},
		URLPath:    "/sqrl",
		SuccessURL: successURL,
	})
	return &testServer{engine: engine, registry: registry, store: store}
}

func (ts *testServer) issue(t *testing.T) *sqrlurl.UrlAndNut {
	t.Helper()
	un, err := ts.engine.IssueNut(context.Background(), core.Transport{RemoteAddr: "203.0.113.7"})
	require.NoError(t, err)
	return un
}

func replyFields(t *testing.T, body []byte) map[string]string {
	t.Helper()
	fields, err := core.DecodeReply(string(body))
	require.NoError(t, err)
	return fields
}

func replyTIF(t *testing.T, fields map[string]string) tif.Bits {
	t.Helper()
	bits, err := tif.ParseHex(fields["tif"])
	require.NoError(t, err)
	return bits
}

func TestQueryThenIdentUnknownUser(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	un := ts.issue(t)

	client, err := sqrltest.NewClient()
	require.NoError(t, err)

	// Round 1: query against the QR nut.
	status, body := ts.engine.Handle(ctx,
		client.EnvelopeForURL("query", un.URL, sqrltest.Fields{}),
		core.Transport{RemoteAddr: "203.0.113.7"})
	require.Equal(t, http.StatusOK, status)

	fields := replyFields(t, body)
	require.Equal(t, "1", fields["ver"])
	require.Equal(t, tif.Bits(0), replyTIF(t, fields), "unknown user matches nothing")
	require.NotEmpty(t, fields["nut"])
	require.NotEqual(t, un.Nut, fields["nut"])
	require.Equal(t, "/sqrl?nut="+fields["nut"], fields["qry"])

	// Round 2: ident against the follow-up nut, echoing the server reply.
	status, body2 := ts.engine.Handle(ctx,
		client.EnvelopeForReply("ident", string(body), sqrltest.Fields{}),
		core.Transport{RemoteAddr: "203.0.113.7"})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, tif.Bits(0), replyTIF(t, replyFields(t, body2)),
		"store created the user; no match bits on first ident")

	t.Run("origin marked logged in", func(t *testing.T) {
		rec, err := ts.registry.Lookup(ctx, un.Nut)
		require.NoError(t, err)
		require.True(t, rec.LoggedIn)
		require.Equal(t, client.IdentityKey(), rec.IdentityKey)
	})

	t.Run("consumed nut is single use", func(t *testing.T) {
		status, body := ts.engine.Handle(ctx,
			client.EnvelopeForReply("ident", string(body), sqrltest.Fields{}),
			core.Transport{})
		require.Equal(t, http.StatusBadRequest, status)
		fields := replyFields(t, body)
		require.Contains(t, fields["ask"], "unknown nut")
	})

	t.Run("identity was created", func(t *testing.T) {
		id, err := ts.store.IdentityStore().GetIdentity(ctx, client.IdentityKey())
		require.NoError(t, err)
		require.Equal(t, client.IdentityKey(), id.IdentityKey)
	})
}

func TestQueryReturningUser(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)

	client, err := sqrltest.NewClient()
	require.NoError(t, err)
	_, err = ts.store.IdentityStore().Ident(ctx, &request.ClientRequest{
		Command:     request.CommandIdent,
		IdentityKey: client.IdentityKey(),
	}, nil)
	require.NoError(t, err)

	un := ts.issue(t)
	status, body := ts.engine.Handle(ctx,
		client.EnvelopeForURL("query", un.URL, sqrltest.Fields{}),
		core.Transport{})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, tif.CurrentIDMatch, replyTIF(t, replyFields(t, body)))
}

func TestKeyRotationConversation(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)

	client, err := sqrltest.NewClient()
	require.NoError(t, err)
	oldKey := client.IdentityKey()
	_, err = ts.store.IdentityStore().Ident(ctx, &request.ClientRequest{
		Command:     request.CommandIdent,
		IdentityKey: oldKey,
	}, nil)
	require.NoError(t, err)

	require.NoError(t, client.Rotate())
	newKey := client.IdentityKey()

	un := ts.issue(t)
	status, body := ts.engine.Handle(ctx,
		client.EnvelopeForURL("ident", un.URL, sqrltest.Fields{}),
		core.Transport{})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, tif.CurrentIDMatch|tif.PreviousIDMatch,
		replyTIF(t, replyFields(t, body)))

	id, err := ts.store.IdentityStore().GetIdentity(ctx, newKey)
	require.NoError(t, err)
	require.Equal(t, newKey, id.IdentityKey)
	require.Contains(t, id.PreviousKeys, oldKey)
}

func TestBadSignature(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	un := ts.issue(t)

	client, err := sqrltest.NewClient()
	require.NoError(t, err)
	form := client.EnvelopeForURL("query", un.URL, sqrltest.Fields{})

	garbage := make([]byte, 64)
	_, err = rand.Read(garbage)
	require.NoError(t, err)
	form.Set("ids", envelope.Encode(garbage))

	status, body := ts.engine.Handle(ctx, form, core.Transport{})
	require.Equal(t, http.StatusBadRequest, status)

	bits := replyTIF(t, replyFields(t, body))
	require.True(t, bits.Has(tif.CommandFailed|tif.ClientFailure))
}

func TestUnknownNut(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)

	client, err := sqrltest.NewClient()
	require.NoError(t, err)
	form := client.EnvelopeForURL("query", "sqrl://example.com/sqrl?nut=neverissued", sqrltest.Fields{})

	status, body := ts.engine.Handle(ctx, form, core.Transport{})
	require.Equal(t, http.StatusBadRequest, status)

	fields := replyFields(t, body)
	require.Contains(t, fields["ask"], "unknown nut")
	require.NotEmpty(t, fields["nut"], "failure replies still mint a retry nut")
	require.True(t, replyTIF(t, fields).Has(tif.CommandFailed|tif.ClientFailure))
}

func TestVersionRejection(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	un := ts.issue(t)

	// Hand-rolled ver=2 envelope with a valid signature.
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	clientParam := envelope.Encode(envelope.FormatBlock([]envelope.Pair{
		{Name: "ver", Value: "2"},
		{Name: "cmd", Value: "query"},
		{Name: "idk", Value: envelope.Encode(pub)},
	}))
	serverParam := envelope.EncodeString(un.URL)
	form := url.Values{}
	form.Set("client", clientParam)
	form.Set("server", serverParam)
	form.Set("ids", envelope.Encode(ed25519.Sign(priv, []byte(clientParam+serverParam))))

	status, body := ts.engine.Handle(ctx, form, core.Transport{})
	require.Equal(t, http.StatusBadRequest, status)
	require.Contains(t, replyFields(t, body)["ask"], "protocol revision 1")
}

func TestClientProvidedSession(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)

	client, err := sqrltest.NewClient()
	require.NoError(t, err)

	t.Run("query never carries the success url", func(t *testing.T) {
		un := ts.issue(t)
		_, body := ts.engine.Handle(ctx,
			client.EnvelopeForURL("query", un.URL, sqrltest.Fields{Opt: "cps"}),
			core.Transport{})
		require.Empty(t, replyFields(t, body)["url"])
	})

	t.Run("ident with cps carries the success url", func(t *testing.T) {
		un := ts.issue(t)
		_, body := ts.engine.Handle(ctx,
			client.EnvelopeForURL("ident", un.URL, sqrltest.Fields{Opt: "cps"}),
			core.Transport{})
		require.Equal(t, successURL, replyFields(t, body)["url"])
	})
}

func TestSessionUnlockKeyReturn(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)

	client, err := sqrltest.NewClient()
	require.NoError(t, err)

	un := ts.issue(t)
	_, body := ts.engine.Handle(ctx,
		client.EnvelopeForURL("ident", un.URL, sqrltest.Fields{Suk: "stored-suk", Vuk: "stored-vuk"}),
		core.Transport{})
	require.Equal(t, tif.Bits(0), replyTIF(t, replyFields(t, body)))

	un2 := ts.issue(t)
	_, body = ts.engine.Handle(ctx,
		client.EnvelopeForURL("query", un2.URL, sqrltest.Fields{Opt: "suk"}),
		core.Transport{})
	fields := replyFields(t, body)
	require.Equal(t, "stored-suk", fields["suk"])
}

type failingIdentityStore struct{}

func (failingIdentityStore) Query(context.Context, *request.ClientRequest, *storage.NutRecord) (*storage.AuthOutcome, error) {
	return nil, errors.New("backend unavailable")
}
func (failingIdentityStore) Ident(context.Context, *request.ClientRequest, *storage.NutRecord) (*storage.AuthOutcome, error) {
	return nil, errors.New("backend unavailable")
}
func (failingIdentityStore) Disable(context.Context, *request.ClientRequest, *storage.NutRecord) (*storage.AuthOutcome, error) {
	return nil, errors.New("backend unavailable")
}
func (failingIdentityStore) Enable(context.Context, *request.ClientRequest, *storage.NutRecord) (*storage.AuthOutcome, error) {
	return nil, errors.New("backend unavailable")
}
func (failingIdentityStore) Remove(context.Context, *request.ClientRequest, *storage.NutRecord) (*storage.AuthOutcome, error) {
	return nil, errors.New("backend unavailable")
}
func (failingIdentityStore) GetIdentity(context.Context, string) (*storage.Identity, error) {
	return nil, errors.New("backend unavailable")
}

func TestTransientStoreFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	registry := nut.NewRegistry(store.NutStore(), nil, 0, nil)
	t.Cleanup(registry.Close)

	engine := core.NewEngine(core.EngineOptions{
		Registry: registry,
		Store:    failingIdentityStore{},
		Factory:  &sqrlurl.Factory{Domain: "example.com", Path: "/sqrl"},
		URLPath:  "/sqrl",
	})

	un, err := engine.IssueNut(ctx, core.Transport{})
	require.NoError(t, err)

	client, err := sqrltest.NewClient()
	require.NoError(t, err)

	status, body := engine.Handle(ctx,
		client.EnvelopeForURL("query", un.URL, sqrltest.Fields{}),
		core.Transport{})
	require.Equal(t, http.StatusInternalServerError, status)

	fields := replyFields(t, body)
	require.True(t, replyTIF(t, fields).Has(tif.CommandFailed|tif.TransientError))
	require.NotEmpty(t, fields["nut"], "transient failures still mint a retry nut")
}

func TestDisableEnableRemoveConversation(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)

	client, err := sqrltest.NewClient()
	require.NoError(t, err)

	handle := func(cmd string) (tif.Bits, map[string]string) {
		un := ts.issue(t)
		status, body := ts.engine.Handle(ctx,
			client.EnvelopeForURL(cmd, un.URL, sqrltest.Fields{}),
			core.Transport{})
		require.Equal(t, http.StatusOK, status)
		fields := replyFields(t, body)
		return replyTIF(t, fields), fields
	}

	bits, _ := handle("ident")
	require.Equal(t, tif.Bits(0), bits)

	bits, _ = handle("disable")
	require.Equal(t, tif.CurrentIDMatch|tif.IDDisabled, bits)

	bits, _ = handle("query")
	require.Equal(t, tif.CurrentIDMatch|tif.IDDisabled, bits)

	bits, _ = handle("enable")
	require.Equal(t, tif.CurrentIDMatch, bits)

	bits, _ = handle("disable")
	require.Equal(t, tif.CurrentIDMatch|tif.IDDisabled, bits)

	bits, _ = handle("remove")
	require.Equal(t, tif.CurrentIDMatch, bits)

	bits, _ = handle("query")
	require.Equal(t, tif.Bits(0), bits, "removed identity matches nothing")
}
