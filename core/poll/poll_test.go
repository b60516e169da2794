package poll_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/erikmav/passport-sqrl/core"
	"github.com/erikmav/passport-sqrl/core/poll"
	"github.com/erikmav/passport-sqrl/core/sqrlurl"
	"github.com/erikmav/passport-sqrl/internal/sqrltest"
	"github.com/erikmav/passport-sqrl/nut"
	"github.com/erikmav/passport-sqrl/pkg/storage/memory"
)

const successURL = "https://example.com/loginSuccess"

type fixture struct {
	engine   *core.Engine
	registry *nut.Registry
	store    *memory.Store
	port     *poll.Port
}

func newFixture(t *testing.T) *fixture {
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
	port := poll.NewPort(registry, store.IdentityStore(), successURL, poll.TokenConfig{
		Secret: "test-secret",
		Issuer: "example.com",
		TTL:    time.Minute,
	}, nil)
	return &fixture{engine: engine, registry: registry, store: store, port: port}
}

func get(t *testing.T, handler http.Handler, path string) (*httptest.ResponseRecorder, *poll.Status) {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if rec.Code != http.StatusOK {
		return rec, nil
	}
	var st poll.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	return rec, &st
}

func TestPollUnknownNut(t *testing.T) {
	fx := newFixture(t)
	rec, _ := get(t, fx.port.Handler(), "/pollNut/never-issued")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCrossDeviceLogin(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	// Browser renders the QR code and starts polling its origin nut.
	un, err := fx.engine.IssueNut(ctx, core.Transport{RemoteAddr: "203.0.113.7"})
	require.NoError(t, err)

	rec, st := get(t, fx.port.Handler(), "/pollNut/"+un.Nut)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, st.LoggedIn)
	require.Empty(t, st.RedirectTo)

	// A separate device walks query -> ident over its own transport.
	client, err := sqrltest.NewClient()
	require.NoError(t, err)

	status, body := fx.engine.Handle(ctx,
		client.EnvelopeForURL("query", un.URL, sqrltest.Fields{}),
		core.Transport{RemoteAddr: "198.51.100.20"})
	require.Equal(t, http.StatusOK, status)

	status, _ = fx.engine.Handle(ctx,
		client.EnvelopeForReply("ident", string(body), sqrltest.Fields{}),
		core.Transport{RemoteAddr: "198.51.100.20"})
	require.Equal(t, http.StatusOK, status)

	// The browser's next poll observes the completed login.
	rec, st = get(t, fx.port.Handler(), "/pollNut/"+un.Nut)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, st.LoggedIn)
	require.Equal(t, successURL, st.RedirectTo)

	t.Run("session token names the identity", func(t *testing.T) {
		require.NotEmpty(t, st.SessionToken)
		token, err := jwt.Parse(st.SessionToken, func(tok *jwt.Token) (interface{}, error) {
			return []byte("test-secret"), nil
		})
		require.NoError(t, err)
		require.True(t, token.Valid)

		claims, ok := token.Claims.(jwt.MapClaims)
		require.True(t, ok)
		require.Equal(t, client.IdentityKey(), claims["sub"])
		require.Equal(t, "example.com", claims["iss"])
	})
}

func TestPollDoesNotAdvanceState(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	un, err := fx.engine.IssueNut(ctx, core.Transport{})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		rec, st := get(t, fx.port.Handler(), "/pollNut/"+un.Nut)
		require.Equal(t, http.StatusOK, rec.Code)
		require.False(t, st.LoggedIn)
	}

	// Polling left the nut unconsumed; a protocol request still succeeds.
	client, err := sqrltest.NewClient()
	require.NoError(t, err)
	status, _ := fx.engine.Handle(ctx,
		client.EnvelopeForURL("query", un.URL, sqrltest.Fields{}),
		core.Transport{})
	require.Equal(t, http.StatusOK, status)
}

func TestPollRejectsNonGet(t *testing.T) {
	fx := newFixture(t)
	rec := httptest.NewRecorder()
	fx.port.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pollNut/abc", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
