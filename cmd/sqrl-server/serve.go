package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/erikmav/passport-sqrl/config"
	"github.com/erikmav/passport-sqrl/core"
	"github.com/erikmav/passport-sqrl/core/poll"
	"github.com/erikmav/passport-sqrl/health"
	"github.com/erikmav/passport-sqrl/internal/logger"
	"github.com/erikmav/passport-sqrl/internal/metrics"
)

var serveFlags struct {
	configPath string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the SQRL endpoint, login poll, health, and metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveFlags.configPath, "config", "c", "", "path to YAML config (defaults apply when omitted)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	if err := config.LoadDotEnv(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg := config.Default()
	if serveFlags.configPath != "" {
		loaded, err := config.Load(serveFlags.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	applyLogging(cfg)
	log := logger.GetDefaultLogger()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := core.NewWithConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	pollPort := poll.NewPort(
		c.Registry(),
		c.Store().IdentityStore(),
		cfg.SQRL.ClientLoginSuccessURL,
		poll.TokenConfig{
			Secret: cfg.Session.TokenSecret,
			Issuer: cfg.Session.TokenIssuer,
			TTL:    cfg.Session.TokenTTL.Std(),
		},
		log,
	)

	checker := health.NewHealthChecker(0)
	checker.RegisterCheck("storage", health.StorageHealthCheck(c.Store().Ping))
	checker.RegisterCheck("nut-registry", health.NutRegistryHealthCheck(c.Registry().Count))

	mux := http.NewServeMux()
	mux.Handle(cfg.SQRL.URLPath, c.SQRLHandler())
	mux.Handle("/pollNut/", pollPort.Handler())
	mux.Handle("/pollNutWS/", pollPort.WSHandler())
	mux.HandleFunc("/nut", func(w http.ResponseWriter, r *http.Request) {
		un, err := c.Engine().IssueNut(r.Context(), core.Transport{RemoteAddr: remoteHost(r)})
		if err != nil {
			http.Error(w, "nut issuance failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"url": un.URL, "nut": un.Nut})
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		sys := checker.GetSystemHealth(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if sys.Status != health.StatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(sys)
	})
	if cfg.Server.MetricsAddr == "" {
		mux.Handle("/metrics", metrics.Handler())
	} else {
		go func() {
			if err := metrics.StartServer(cfg.Server.MetricsAddr); err != nil &&
				!errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", logger.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("sqrl server listening",
			logger.String("addr", cfg.Server.ListenAddr),
			logger.String("sqrl_path", cfg.SQRL.URLPath),
			logger.String("storage", cfg.Storage.Type),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

func applyLogging(cfg *config.Config) {
	level := logger.InfoLevel
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = logger.DebugLevel
	case "warn":
		level = logger.WarnLevel
	case "error":
		level = logger.ErrorLevel
	}
	logger.GetDefaultLogger().SetLevel(level)
}

func remoteHost(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	return host
}
