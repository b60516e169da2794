// Package poll serves the out-of-band login poll channel: a browser showing
// a QR code asks whether its origin nut has completed login on another
// device. The port only reads; it never advances protocol state.
package poll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/erikmav/passport-sqrl/internal/logger"
	"github.com/erikmav/passport-sqrl/internal/metrics"
	"github.com/erikmav/passport-sqrl/nut"
	"github.com/erikmav/passport-sqrl/pkg/storage"
)

// Status is the poll response body.
type Status struct {
	LoggedIn   bool   `json:"loggedIn"`
	RedirectTo string `json:"redirectTo,omitempty"`

	// SessionToken is a signed token naming the logged-in identity; the
	// site scaffold exchanges it for its own ambient session.
	SessionToken string `json:"sessionToken,omitempty"`
}

// TokenConfig controls session token minting.
type TokenConfig struct {
	// Secret signs tokens with HS256. Empty disables minting.
	Secret string

	Issuer string
	TTL    time.Duration
}

// Port answers login polls for a nonce registry and identity store.
type Port struct {
	registry   *nut.Registry
	store      storage.IdentityStore
	successURL string
	token      TokenConfig
	log        logger.Logger
}

// NewPort creates a login poll port.
func NewPort(registry *nut.Registry, store storage.IdentityStore, successURL string, token TokenConfig, log logger.Logger) *Port {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	if token.TTL == 0 {
		token.TTL = time.Hour
	}
	return &Port{
		registry:   registry,
		store:      store,
		successURL: successURL,
		token:      token,
		log:        log,
	}
}

// Check resolves the login state of one nut.
func (p *Port) Check(ctx context.Context, nutValue string) (*Status, error) {
	rec, err := p.registry.Lookup(ctx, nutValue)
	if err != nil {
		return nil, err
	}
	if !rec.LoggedIn {
		return &Status{}, nil
	}

	identity, err := p.store.GetIdentity(ctx, rec.IdentityKey)
	if err != nil {
		return nil, fmt.Errorf("resolve logged-in identity: %w", err)
	}

	st := &Status{LoggedIn: true, RedirectTo: p.successURL}
	if p.token.Secret != "" {
		token, err := p.mintToken(identity)
		if err != nil {
			return nil, err
		}
		st.SessionToken = token
	}
	return st, nil
}

func (p *Port) mintToken(identity *storage.Identity) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": identity.IdentityKey,
		"iss": p.token.Issuer,
		"iat": now.Unix(),
		"exp": now.Add(p.token.TTL).Unix(),
		"jti": uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(p.token.Secret))
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Handler returns the GET endpoint. The nut is the final path segment, e.g.
// /pollNut/{nut}.
func (p *Port) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		nutValue := lastPathSegment(r.URL.Path)
		if nutValue == "" {
			http.NotFound(w, r)
			return
		}

		st, err := p.Check(r.Context(), nutValue)
		if errors.Is(err, storage.ErrNutNotFound) {
			metrics.PollRequests.WithLabelValues("unknown").Inc()
			http.NotFound(w, r)
			return
		}
		if err != nil {
			p.log.Error("poll check failed", logger.String("nut", nutValue), logger.Error(err))
			http.Error(w, "poll failed", http.StatusInternalServerError)
			return
		}

		if st.LoggedIn {
			metrics.PollRequests.WithLabelValues("logged_in").Inc()
		} else {
			metrics.PollRequests.WithLabelValues("pending").Inc()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(st)
	})
}

func lastPathSegment(path string) string {
	path = strings.TrimSuffix(path, "/")
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		return path[idx+1:]
	}
	return path
}
