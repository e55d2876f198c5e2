package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"devserve/internal/config"
	"devserve/internal/handlers"
	"devserve/internal/logging"
	"devserve/internal/manifest"
	"devserve/internal/metrics"
	"devserve/internal/namespace"
	"devserve/internal/storage"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

type Server struct {
	config          *config.Config
	ns              *namespace.Composer
	scanner         *manifest.Scanner
	ledger          *storage.ScanLedger
	httpServer      *http.Server
	manifestHandler *handlers.ManifestHandler
	staticHandler   *handlers.StaticHandler
	apiHandler      *handlers.APIHandler
	stopGC          context.CancelFunc
}

const ledgerGCInterval = 10 * time.Minute

// New wires the server from a validated config whose primary root has
// already been resolved.
func New(cfg *config.Config) (*Server, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("primary root is not resolved")
	}
	logger := logging.L()

	ns, err := namespace.New(cfg.Mounts(), namespace.WithIndex(cfg.Index))
	if err != nil {
		return nil, fmt.Errorf("failed to build namespace: %w", err)
	}
	for _, m := range ns.Mounts() {
		if !ns.Exists(m.Name) {
			logger.Warn("mount root is not a directory; it will never match",
				zap.String("mount", m.Name), zap.String("root", m.Root))
		}
	}

	extra, invalid := manifest.GlobRules(cfg.Ignore)
	for _, p := range invalid {
		logger.Warn("ignoring invalid exclusion pattern", zap.String("pattern", p))
	}
	scanner := manifest.NewScanner(
		manifest.WithRules(extra...),
		manifest.WithLogger(logger.Named("manifest")),
	)

	var ledger *storage.ScanLedger
	if cfg.DataDir != "" {
		ledger, err = storage.New(cfg.DataDir, cfg.LedgerLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to open scan ledger: %w", err)
		}
	}

	mux := http.NewServeMux()
	server := &Server{
		config:          cfg,
		ns:              ns,
		scanner:         scanner,
		ledger:          ledger,
		manifestHandler: handlers.NewManifestHandler(cfg.Root, scanner, ledger),
		staticHandler:   handlers.NewStaticHandler(ns),
		apiHandler:      handlers.NewAPIHandler(ns, ledger),
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      logging.Middleware(mux),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
	}

	server.setupRoutes(mux)

	return server, nil
}

func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.Handle("/health", metrics.Middleware("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/manifest", s.protect("manifest", s.manifestHandler))
	mux.Handle("/api/", s.protect("api", s.apiHandler))
	mux.Handle("/", s.protect("static", s.staticHandler))
}

func (s *Server) protect(route string, next http.Handler) http.Handler {
	if s.config.AuthEnabled {
		next = s.basicAuthMiddleware(next)
	}
	return metrics.Middleware(route, next)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"root":   s.config.Root,
		"ledger": s.ledger != nil,
	})
}

// basicAuthMiddleware provides HTTP Basic authentication
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="devserve"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		// Use constant-time comparison to prevent timing attacks
		usernameMatch := subtle.ConstantTimeCompare([]byte(username), []byte(s.config.AuthUser)) == 1
		passwordMatch := subtle.ConstantTimeCompare([]byte(password), []byte(s.config.AuthPass)) == 1

		if !usernameMatch || !passwordMatch {
			w.Header().Set("WWW-Authenticate", `Basic realm="devserve"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler exposes the full middleware chain, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	logger := logging.L()
	for _, m := range s.ns.Mounts() {
		logger.Info("mount",
			zap.String("name", m.Name),
			zap.String("root", m.Root),
			zap.String("prefix", m.Prefix),
			zap.Int("rank", m.Rank),
		)
	}
	logger.Info("starting dev server",
		zap.Int("port", s.config.Port),
		zap.String("root", s.config.Root),
		zap.String("ignore", strings.Join(s.config.Ignore, ",")),
		zap.Bool("ledger", s.ledger != nil),
		zap.Bool("auth", s.config.AuthEnabled),
	)

	if s.ledger != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.stopGC = cancel
		go s.ledgerGC(ctx, ledgerGCInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	logger.Info(fmt.Sprintf("Server started on http://localhost:%d", s.config.Port))

	return s.waitForShutdown(errCh)
}

// waitForShutdown waits for shutdown signals and gracefully shuts down the server
func (s *Server) waitForShutdown(errCh <-chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		s.closeLedger()
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}
	logging.L().Info("shutting down server")

	if err := s.Stop(); err != nil {
		logging.L().Error("server forced to shutdown", zap.Error(err))
		return err
	}

	logging.L().Info("server shutdown complete")
	return nil
}

func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}

	return s.closeLedger()
}

// ledgerGC reclaims value log space left behind by trimmed scan records.
func (s *Server) ledgerGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ledger.RunGarbageCollection(); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				logging.L().Warn("scan ledger garbage collection failed", zap.Error(err))
			}
		}
	}
}

func (s *Server) closeLedger() error {
	if s.stopGC != nil {
		s.stopGC()
		s.stopGC = nil
	}
	if s.ledger == nil {
		return nil
	}
	if err := s.ledger.Close(); err != nil {
		logging.L().Error("error closing scan ledger", zap.Error(err))
		return err
	}
	return nil
}
