// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package server wires configuration, storage, the ceremony engine, and the
// HTTP surface into a runnable passkeyd instance.
package server

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/authforge/go-passkey/internal/config"
	redisstore "github.com/authforge/go-passkey/internal/storage/redis"
	"github.com/authforge/go-passkey/internal/storage/sqlite"
	"github.com/authforge/go-passkey/pkg/ceremony"
	ceremonyhttp "github.com/authforge/go-passkey/pkg/ceremony/http"
	"github.com/authforge/go-passkey/pkg/health"
	"github.com/authforge/go-passkey/pkg/logging"
	"github.com/authforge/go-passkey/pkg/metrics"
	"github.com/authforge/go-passkey/pkg/ratelimit"
)

const sweepInterval = time.Minute

// Server is the passkeyd server instance.
type Server struct {
	config *config.Config
	logger *logging.Logger
	engine *ceremony.Engine

	httpServer        *http.Server
	healthChecker     *health.Checker
	limiter           *ratelimit.Limiter
	metricsCollector  *metrics.ResourceCollector
	memorySessions    *ceremony.MemorySessionStore
	memoryCredentials *ceremony.MemoryCredentialRepository
	sqliteStore       *sqlite.Store
	redisClient       *goredis.Client

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	shutdownCh chan struct{}
}

// New creates a server from the loaded configuration.
func New(cfg *config.Config) (*Server, error) {
	logger := logging.NewLoggerWithWriter(os.Stderr, cfg.DebugLogging(), cfg.JSONLogging())

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:     cfg,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		shutdownCh: make(chan struct{}),
	}

	if err := s.initializeEngine(); err != nil {
		cancel()
		s.closeStores()
		return nil, err
	}
	s.initializeHealth()
	s.initializeHTTP()

	if cfg.Metrics.Enabled {
		metrics.Enable()
		s.metricsCollector = metrics.NewResourceCollector(ctx, 15*time.Second)
	} else {
		metrics.Disable()
	}

	return s, nil
}

// initializeEngine builds the ceremony engine from the configured backends.
func (s *Server) initializeEngine() error {
	cfg := s.config

	sessions, err := s.buildSessionStore()
	if err != nil {
		return err
	}

	credentials, identities, err := s.buildDatabase()
	if err != nil {
		return err
	}

	issuer, err := s.buildTokenIssuer()
	if err != nil {
		return err
	}

	var recorder ceremony.Recorder
	if cfg.Metrics.Enabled {
		recorder = &metrics.CeremonyRecorder{}
	}

	engine, err := ceremony.NewEngine(ceremony.EngineParams{
		Config: &ceremony.Config{
			RPID:                   cfg.RelyingParty.ID,
			RPDisplayName:          cfg.RelyingParty.DisplayName,
			RPOrigins:              cfg.RelyingParty.Origins,
			Timeout:                cfg.RelyingParty.Timeout,
			SessionTTL:             cfg.RelyingParty.SessionTTL,
			UserVerification:       cfg.RelyingParty.UserVerification,
			AttestationPreference:  cfg.RelyingParty.Attestation,
			ResidentKeyRequirement: cfg.RelyingParty.ResidentKey,
			RedirectURL:            cfg.RelyingParty.RedirectURL,
			Debug:                  cfg.DebugLogging(),
		},
		SessionStore:         sessions,
		CredentialRepository: credentials,
		IdentityStore:        identities,
		TokenIssuer:          issuer,
		Recorder:             recorder,
		Logger:               s.logger.Slog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create ceremony engine: %w", err)
	}
	s.engine = engine
	return nil
}

func (s *Server) buildSessionStore() (ceremony.SessionStore, error) {
	switch s.config.Storage.Sessions {
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     s.config.Storage.Redis.Addr,
			Password: s.config.Storage.Redis.Password,
			DB:       s.config.Storage.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.redisClient = client
		s.logger.Info("Using redis session store", "addr", s.config.Storage.Redis.Addr)
		return redisstore.NewSessionStore(client), nil
	default:
		s.memorySessions = ceremony.NewMemorySessionStore()
		return s.memorySessions, nil
	}
}

func (s *Server) buildDatabase() (ceremony.CredentialRepository, ceremony.IdentityStore, error) {
	switch s.config.Storage.Database {
	case "sqlite":
		store, err := sqlite.Open(s.config.Storage.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		s.sqliteStore = store
		s.logger.Info("Using sqlite storage", "path", s.config.Storage.Path)
		return store.Credentials(), store.Identities(), nil
	default:
		s.memoryCredentials = ceremony.NewMemoryCredentialRepository()
		return s.memoryCredentials, ceremony.NewMemoryIdentityStore(), nil
	}
}

func (s *Server) buildTokenIssuer() (ceremony.TokenIssuer, error) {
	if !s.config.Token.Enabled {
		return nil, nil
	}

	key, err := loadPrivateKey(s.config.Token.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load token signing key: %w", err)
	}

	var audience []string
	if s.config.Token.Audience != "" {
		audience = []string{s.config.Token.Audience}
	}

	issuer, err := ceremony.NewJWTIssuer(&ceremony.JWTIssuerConfig{
		PrivateKey: key,
		KeyID:      s.config.Token.KeyID,
		Issuer:     s.config.Token.Issuer,
		Audience:   audience,
		ExpiresIn:  s.config.Token.ExpiresIn,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}
	return issuer, nil
}

// initializeHealth registers readiness checks for the configured backends.
func (s *Server) initializeHealth() {
	s.healthChecker = health.NewChecker()

	if s.sqliteStore != nil {
		store := s.sqliteStore
		s.healthChecker.RegisterCheck("database", health.PingCheck("database", func(ctx context.Context) error {
			return store.Ping(ctx)
		}))
	}
	if s.redisClient != nil {
		client := s.redisClient
		s.healthChecker.RegisterCheck("sessions", health.PingCheck("sessions", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
	}
}

// initializeHTTP builds the router and the HTTP server.
func (s *Server) initializeHTTP() {
	handler := ceremonyhttp.NewHandler(s.engine).WithLogger(s.logger.Slog())

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	if s.config.Metrics.Enabled {
		router.Use(metrics.HTTPMiddleware)
	}
	if s.config.RateLimit.Enabled {
		s.limiter = ratelimit.New(&ratelimit.Config{
			Enabled:           true,
			RequestsPerMinute: s.config.RateLimit.RequestsPerMin,
			Burst:             s.config.RateLimit.Burst,
		})
		router.Use(ratelimit.Middleware(s.limiter))
	}

	router.Route("/api/v1/passkey", func(r chi.Router) {
		ceremonyhttp.MountChi(r, handler)
	})
	health.MountChi(router, s.healthChecker)
	if s.config.Metrics.Enabled {
		router.Handle(s.config.Metrics.Path, promhttp.Handler())
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Start launches the HTTP listener and background workers.
func (s *Server) Start() error {
	s.logger.Info("Starting passkey server...",
		"addr", s.httpServer.Addr,
		"rp_id", s.config.RelyingParty.ID,
		"tls", s.config.TLS.Enabled)

	s.wg.Add(1)
	go s.serveHTTP()

	if s.memorySessions != nil {
		s.wg.Add(1)
		go s.sweepSessions()
	}

	if s.metricsCollector != nil {
		s.metricsCollector.Start()
		s.wg.Add(1)
		go s.reportStorageMetrics()
	}

	s.healthChecker.MarkStarted()

	return nil
}

func (s *Server) serveHTTP() {
	defer s.wg.Done()

	var err error
	if s.config.TLS.Enabled {
		err = s.httpServer.ListenAndServeTLS(s.config.TLS.CertFile, s.config.TLS.KeyFile)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		s.logger.Errorf("HTTP server failed: %v", err)
	}
}

// sweepSessions periodically drops expired in-memory sessions so abandoned
// flows do not accumulate.
func (s *Server) sweepSessions() {
	defer s.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if removed := s.memorySessions.Sweep(); removed > 0 {
				s.logger.Debug("Swept expired sessions", "removed", removed)
			}
			metrics.SetPendingSessions("memory", float64(s.memorySessions.Len()))
		}
	}
}

// reportStorageMetrics periodically refreshes the credential gauge for the
// active database backend.
func (s *Server) reportStorageMetrics() {
	defer s.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.collectStorageMetrics()
		}
	}
}

func (s *Server) collectStorageMetrics() {
	switch {
	case s.sqliteStore != nil:
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		defer cancel()
		count, err := s.sqliteStore.CountCredentials(ctx)
		if err != nil {
			metrics.RecordStorageError("count_credentials", "query")
			s.logger.Warn("credential count failed", "error", err)
			return
		}
		metrics.SetCredentialsTotal("sqlite", float64(count))
	case s.memoryCredentials != nil:
		metrics.SetCredentialsTotal("memory", float64(s.memoryCredentials.Len()))
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down server...")

	if s.metricsCollector != nil {
		s.metricsCollector.Stop()
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}

	s.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Errorf("Error shutting down HTTP server: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("All workers stopped")
	case <-shutdownCtx.Done():
		s.logger.Warn("Shutdown timeout exceeded, forcing stop")
	}

	s.closeStores()

	close(s.shutdownCh)
	s.logger.Info("Server shutdown complete")
	return nil
}

func (s *Server) closeStores() {
	if s.sqliteStore != nil {
		s.logger.MaybeError(s.sqliteStore.Close())
		s.sqliteStore = nil
	}
	if s.redisClient != nil {
		s.logger.MaybeError(s.redisClient.Close())
		s.redisClient = nil
	}
}

// WaitForShutdown blocks until the server is shut down.
func (s *Server) WaitForShutdown() {
	<-s.shutdownCh
}

// Engine returns the ceremony engine, mainly for tests.
func (s *Server) Engine() *ceremony.Engine {
	return s.engine
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// SetupSignalHandler sets up signal handling for graceful shutdown.
func SetupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		slog.Info("Received shutdown signal")
		cancel()
	}()

	return ctx
}

// loadPrivateKey reads a PEM-encoded signing key. PKCS#8, SEC 1 (EC), and
// PKCS#1 (RSA) encodings are accepted.
func loadPrivateKey(path string) (crypto.Signer, error) {
	// #nosec G304 - Key file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("unsupported key type %T", key)
		}
		return signer, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("unable to parse private key in %s", path)
}
