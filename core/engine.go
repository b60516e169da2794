package core

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/erikmav/passport-sqrl/core/envelope"
	"github.com/erikmav/passport-sqrl/core/request"
	"github.com/erikmav/passport-sqrl/core/sqrlurl"
	"github.com/erikmav/passport-sqrl/core/tif"
	"github.com/erikmav/passport-sqrl/internal/logger"
	"github.com/erikmav/passport-sqrl/internal/metrics"
	"github.com/erikmav/passport-sqrl/nut"
	"github.com/erikmav/passport-sqrl/pkg/storage"
)

// Transport carries per-request metadata from the HTTP layer.
type Transport struct {
	// RemoteAddr is the requesting client's address, used for logging and
	// for IP matching with self-validating nuts.
	RemoteAddr string
}

// Engine is the SQRL protocol state machine: it validates the signed client
// envelope, walks the nut chain, dispatches the verified command into the
// identity store, and composes the signed-by-context server reply.
type Engine struct {
	registry   *nut.Registry
	store      storage.IdentityStore
	factory    *sqrlurl.Factory
	urlPath    string
	successURL string
	cancelURL  string
	log        logger.Logger
}

// EngineOptions wires an Engine.
type EngineOptions struct {
	Registry *nut.Registry
	Store    storage.IdentityStore

	// Factory builds the sqrl:// URLs for origin nuts.
	Factory *sqrlurl.Factory

	// URLPath is the relative path of the SQRL endpoint, the base of qry=.
	URLPath string

	// SuccessURL is rendered as url= for cps clients.
	SuccessURL string

	// CancelURL is rendered as can= when configured.
	CancelURL string

	Logger logger.Logger
}

// NewEngine creates a protocol engine.
func NewEngine(opts EngineOptions) *Engine {
	log := opts.Logger
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Engine{
		registry:   opts.Registry,
		store:      opts.Store,
		factory:    opts.Factory,
		urlPath:    sqrlurl.NormalizePath(opts.URLPath),
		successURL: opts.SuccessURL,
		cancelURL:  opts.CancelURL,
		log:        log,
	}
}

// IssueNut mints and registers an origin nut and returns the sqrl:// URL to
// render as a QR code or same-device link.
func (e *Engine) IssueNut(ctx context.Context, t Transport) (*sqrlurl.UrlAndNut, error) {
	encoded, raw, err := e.registry.Mint(t.RemoteAddr)
	if err != nil {
		return nil, err
	}
	un := e.factory.NutForString(encoded)
	un.NutRaw = raw
	if _, err := e.registry.IssueOriginFor(ctx, un.Nut, un.URL); err != nil {
		return nil, err
	}
	e.log.Debug("issued origin nut", logger.String("nut", un.Nut))
	return un, nil
}

// Handle processes one SQRL POST. It never panics and never returns a
// transport-level error: every outcome is a normally-framed SQRL reply with
// an HTTP status.
func (e *Engine) Handle(ctx context.Context, form url.Values, t Transport) (int, []byte) {
	start := time.Now()
	ctx = logger.WithRequestID(ctx, uuid.NewString())
	log := e.log.WithContext(ctx)

	req, err := request.Validate(form)
	if err != nil {
		if pe, ok := request.AsProtocolError(err); ok && pe.Kind == request.KindBadSignature {
			metrics.SignatureVerifications.WithLabelValues("invalid").Inc()
		}
		return e.failureReply(ctx, log, "unparsed", err)
	}
	metrics.SignatureVerifications.WithLabelValues("valid").Inc()
	cmd := req.Command.String()
	defer func() {
		metrics.RequestDuration.WithLabelValues(cmd).Observe(time.Since(start).Seconds())
	}()

	if req.ProtocolVersion != 1 {
		return e.failureReply(ctx, log, cmd, request.NewProtocolError(
			request.KindUnsupportedVersion,
			"incompatible version %d; this server only handles protocol revision 1",
			req.ProtocolVersion))
	}

	// Look up the presented nut while minting its successor; the consume
	// step below is the atomic linearization point, this lookup only
	// rejects unknown nuts before paying for a mint registration.
	var nextNut string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if _, err := e.registry.Lookup(gctx, req.Nut); err != nil {
			if errors.Is(err, storage.ErrNutNotFound) {
				return request.NewProtocolError(request.KindUnknownNut,
					"unknown nut %q", req.Nut)
			}
			return err
		}
		return nil
	})
	g.Go(func() error {
		encoded, _, err := e.registry.Mint(t.RemoteAddr)
		if err != nil {
			return err
		}
		nextNut = encoded
		return nil
	})
	if err := g.Wait(); err != nil {
		return e.failureReply(ctx, log, cmd, err)
	}

	nextQuery := e.urlPath + "?nut=" + nextNut
	consumed, next, err := e.registry.ConsumeAndIssue(ctx, req.Nut, nextNut, nextQuery)
	if err != nil {
		if errors.Is(err, storage.ErrNutNotFound) || errors.Is(err, storage.ErrNutConsumed) {
			err = request.NewProtocolError(request.KindUnknownNut, "unknown nut %q", req.Nut)
		}
		return e.failureReply(ctx, log, cmd, err)
	}

	outcome, err := e.dispatch(ctx, req, consumed)
	if err != nil {
		return e.failureReply(ctx, log, cmd, err)
	}

	if req.Command == request.CommandIdent && !outcome.TIF.Has(tif.CommandFailed) {
		if err := e.registry.MarkLoggedIn(ctx, consumed.Origin(), req.IdentityKey); err != nil {
			return e.failureReply(ctx, log, cmd, err)
		}
	}

	reply := &ServerReply{
		NextNut:       next.Nut,
		TIF:           outcome.TIF | e.ipMatchBit(req.Nut, t),
		NextQueryPath: nextQuery,
	}
	if req.ClientProvidedSession && req.Command != request.CommandQuery {
		reply.RedirectOnSuccessURL = e.successURL
	}
	if req.ReturnSessionUnlockKey && outcome.SessionUnlockKey != "" {
		reply.SessionUnlockKey = outcome.SessionUnlockKey
	}
	if e.cancelURL != "" {
		reply.RedirectOnCancelURL = e.cancelURL
	}

	outcomeLabel := "success"
	if outcome.TIF.Has(tif.CommandFailed) {
		outcomeLabel = "refused"
	}
	metrics.RequestsTotal.WithLabelValues(cmd, outcomeLabel).Inc()
	log.Info("handled sqrl command",
		logger.String("command", cmd),
		logger.String("tif", reply.TIF.String()),
		logger.String("remote", t.RemoteAddr),
	)
	return http.StatusOK, []byte(reply.Encode())
}

func (e *Engine) dispatch(ctx context.Context, req *request.ClientRequest, rec *storage.NutRecord) (*storage.AuthOutcome, error) {
	switch req.Command {
	case request.CommandQuery:
		return e.store.Query(ctx, req, rec)
	case request.CommandIdent:
		return e.store.Ident(ctx, req, rec)
	case request.CommandDisable:
		return e.store.Disable(ctx, req, rec)
	case request.CommandEnable:
		return e.store.Enable(ctx, req, rec)
	case request.CommandRemove:
		return e.store.Remove(ctx, req, rec)
	default:
		return nil, request.NewProtocolError(request.KindUnknownCommand,
			"unrecognized command %s", req.Command)
	}
}

// ipMatchBit recovers the issue-time client binding from self-validating
// nuts; the default random generator leaves the flag clear.
func (e *Engine) ipMatchBit(presentedNut string, t Transport) tif.Bits {
	v, ok := e.registry.Generator().(nut.Validator)
	if !ok || t.RemoteAddr == "" {
		return 0
	}
	raw, err := envelope.Decode(presentedNut)
	if err != nil {
		return 0
	}
	if _, err := v.Validate(raw, t.RemoteAddr); err != nil {
		return 0
	}
	return tif.IPAddressesMatch
}

// failureReply converts any error into a normally-framed SQRL response. A
// fresh detached nut is minted best-effort so the client can retry.
func (e *Engine) failureReply(ctx context.Context, log logger.Logger, cmd string, err error) (int, []byte) {
	status := http.StatusInternalServerError
	bits := tif.CommandFailed | tif.TransientError
	ask := "temporary server failure"
	outcomeLabel := "error"

	if pe, ok := request.AsProtocolError(err); ok {
		status = pe.HTTPStatus
		bits = tif.CommandFailed | tif.ClientFailure
		ask = pe.Message
		outcomeLabel = "rejected"
		metrics.RejectionsTotal.WithLabelValues(string(pe.Kind)).Inc()
		log.Warn("rejected sqrl request",
			logger.String("command", cmd),
			logger.String("kind", string(pe.Kind)),
			logger.Error(err),
		)
	} else {
		log.Error("sqrl request failed", logger.String("command", cmd), logger.Error(err))
	}
	metrics.RequestsTotal.WithLabelValues(cmd, outcomeLabel).Inc()

	reply := &ServerReply{
		TIF:                 bits,
		Ask:                 ask,
		RedirectOnCancelURL: e.cancelURL,
	}
	if encoded, _, mintErr := e.registry.Mint(""); mintErr == nil {
		nextQuery := e.urlPath + "?nut=" + encoded
		if _, issueErr := e.registry.IssueDetached(ctx, encoded, nextQuery); issueErr == nil {
			reply.NextNut = encoded
			reply.NextQueryPath = nextQuery
		}
	}
	return status, []byte(reply.Encode())
}
