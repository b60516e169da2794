// Package core implements the SQRL protocol engine: nut lifecycle, signed
// envelope verification, command dispatch, and response composition.
package core

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/erikmav/passport-sqrl/config"
	"github.com/erikmav/passport-sqrl/core/sqrlurl"
	"github.com/erikmav/passport-sqrl/internal/logger"
	"github.com/erikmav/passport-sqrl/nut"
	"github.com/erikmav/passport-sqrl/pkg/storage"
	"github.com/erikmav/passport-sqrl/pkg/storage/memory"
	"github.com/erikmav/passport-sqrl/pkg/storage/postgres"
)

// Version of the core module
const Version = "0.1.0"

// Core wires the protocol engine to its collaborators: the nonce registry,
// the identity store, and the site configuration.
type Core struct {
	cfg      *config.Config
	store    storage.Store
	registry *nut.Registry
	engine   *Engine
	log      logger.Logger
}

// New creates a Core over an explicit store, for callers that bring their
// own persistence (including tests).
func New(cfg *config.Config, store storage.Store) (*Core, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	log := logger.GetDefaultLogger()

	gen, err := buildGenerator(&cfg.SQRL.NutGenerator)
	if err != nil {
		return nil, err
	}
	registry := nut.NewRegistry(store.NutStore(), gen, cfg.SQRL.NutTTL.Std(), log)

	factory := &sqrlurl.Factory{
		Domain:    cfg.SQRL.LocalDomainName,
		Port:      cfg.SQRL.Port,
		Path:      cfg.SQRL.URLPath,
		DomainExt: cfg.SQRL.DomainExtension,
	}

	engine := NewEngine(EngineOptions{
		Registry:   registry,
		Store:      store.IdentityStore(),
		Factory:    factory,
		URLPath:    cfg.SQRL.URLPath,
		SuccessURL: cfg.SQRL.ClientLoginSuccessURL,
		CancelURL:  cfg.SQRL.ClientCancelAuthURL,
		Logger:     log,
	})

	return &Core{
		cfg:      cfg,
		store:    store,
		registry: registry,
		engine:   engine,
		log:      log,
	}, nil
}

// NewWithConfig creates a Core and its storage from configuration alone.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Core, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c, err := New(cfg, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	return c, nil
}

func buildStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "memory":
		return memory.NewStore(), nil
	case "postgres":
		pg := cfg.Storage.Postgres
		return postgres.NewStore(ctx, &postgres.Config{
			Host:     pg.Host,
			Port:     pg.Port,
			User:     pg.User,
			Password: pg.Password,
			Database: pg.Database,
			SSLMode:  pg.SSLMode,
		})
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}

func buildGenerator(cfg *config.NutGeneratorConfig) (nut.Generator, error) {
	switch cfg.Type {
	case "", "random":
		return &nut.RandomGenerator{}, nil
	case "encrypted":
		key := []byte(cfg.Key)
		if decoded, err := hex.DecodeString(cfg.Key); err == nil {
			key = decoded
		}
		return nut.NewEncryptedGenerator(key)
	default:
		return nil, fmt.Errorf("unsupported nut generator type: %s", cfg.Type)
	}
}

// Engine returns the protocol engine.
func (c *Core) Engine() *Engine {
	return c.engine
}

// Registry returns the nonce registry.
func (c *Core) Registry() *nut.Registry {
	return c.registry
}

// Store returns the backing store.
func (c *Core) Store() storage.Store {
	return c.store
}

// Config returns the active configuration.
func (c *Core) Config() *config.Config {
	return c.cfg
}

// Close stops the registry's background work and closes storage.
func (c *Core) Close() error {
	c.registry.Close()
	return c.store.Close()
}

// SQRLHandler returns the http.Handler for the SQRL POST endpoint.
func (c *Core) SQRLHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "unparseable form body", http.StatusBadRequest)
			return
		}
		status, body := c.engine.Handle(r.Context(), r.PostForm, Transport{
			RemoteAddr: remoteHost(r),
		})
		w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
		w.WriteHeader(status)
		w.Write(body)
	})
}
