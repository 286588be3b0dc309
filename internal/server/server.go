package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openmobilesign/linkrelay/internal/config"
	"github.com/openmobilesign/linkrelay/internal/correlator"
	"github.com/openmobilesign/linkrelay/internal/coupling"
	"github.com/openmobilesign/linkrelay/internal/couplingcode"
	"github.com/openmobilesign/linkrelay/internal/extsig"
	"github.com/openmobilesign/linkrelay/internal/link"
	"github.com/openmobilesign/linkrelay/internal/push"
	"github.com/openmobilesign/linkrelay/internal/relay"
	"github.com/openmobilesign/linkrelay/internal/server/middleware"
	"github.com/openmobilesign/linkrelay/internal/storage"
	"github.com/openmobilesign/linkrelay/internal/transport"
	"github.com/openmobilesign/linkrelay/internal/version"
)

// workerPoolSize caps the number of concurrent background waits: pooled
// signature waits on the Link API side plus external signature dispatches.
const workerPoolSize = 10

type Server struct {
	pool   *pgxpool.Pool
	config *config.ServerEnvironment
	logger *slog.Logger
	router *chi.Mux

	store      *storage.Store
	correlator *correlator.Correlator
	dispatcher *coupling.Dispatcher
	linkAPI    *link.Service
}

func NewServer(
	pool *pgxpool.Pool,
	cfg *config.ServerEnvironment,
	logger *slog.Logger,
) (*Server, error) {
	store := storage.NewPostgresStore(pool)

	security := transport.NewSecurity(store.Accounts)
	corr := correlator.New(store.Transactions, cfg.TransactionLifetime)
	codes := couplingcode.NewGenerator(store.Couplings)
	notifier := buildNotifier(cfg, logger)

	signers, err := buildSigners(cfg)
	if err != nil {
		return nil, err
	}

	workers := make(chan struct{}, workerPoolSize)

	server := &Server{
		pool:       pool,
		config:     cfg,
		logger:     logger,
		router:     chi.NewRouter(),
		store:      store,
		correlator: corr,
		dispatcher: coupling.NewDispatcher(store, security, corr, signers, workers, cfg.TransportEncryptionRequired),
		linkAPI:    link.NewService(store, corr, codes, notifier, workers, cfg.ListKeysEnabled),
	}

	server.setupMiddleware()
	server.registerRoutes()

	return server, nil
}

// buildNotifier assembles the push notifier from the configured transports.
// With neither FCM nor APNS configured the apps rely on polling alone.
func buildNotifier(cfg *config.ServerEnvironment, logger *slog.Logger) push.Notifier {
	var notifiers []push.Notifier
	if cfg.FCMEndpoint != "" {
		notifiers = append(notifiers, push.NewFCMClient(cfg.FCMEndpoint, cfg.FCMAPIKey))
	}
	if cfg.APNSEndpoint != "" {
		notifiers = append(notifiers, push.NewAPNSClient(cfg.APNSEndpoint, cfg.APNSTopic))
	}
	if len(notifiers) == 0 {
		logger.Info("push notifications disabled, apps must poll")
		return push.NoopNotifier{}
	}
	return push.NewMultiNotifier(notifiers...)
}

// buildSigners registers one REST signer per configured external signature
// client.
func buildSigners(cfg *config.ServerEnvironment) (*extsig.Registry, error) {
	registry := extsig.NewRegistry()
	for _, entry := range cfg.ExtSigClients {
		clientID, endpoint, err := config.ParseExtSigClient(entry)
		if err != nil {
			return nil, err
		}
		registry.Register(clientID, extsig.NewRESTClient(endpoint, cfg.ExtSigAPIKey, cfg.ExtSigTimeout))
	}
	return registry, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(chimw.Recoverer)
	s.router.Use(middleware.RequestLogging(s.logger))
	s.router.Use(middleware.SecurityHeaders(s.config.Environment))
	s.router.Use(middleware.RequestSizeLimit(s.config.MaxRequestBytes))
	s.router.Use(middleware.RateLimit(s.config.RateLimitRPS, s.config.RateLimitBurst))
}

func (s *Server) registerRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/version", s.handleVersion)

	// Coupling API: single endpoint, the envelope type selects the operation.
	s.router.Post("/musaplink", s.dispatcher.HandleHTTP)

	// Link API
	s.router.Post("/link", s.linkAPI.HandleLink)
	s.router.Post("/sign", s.linkAPI.HandleSign)
	s.router.Post("/docsign", s.linkAPI.HandleDocSign)
	s.router.Post("/generatekey", s.linkAPI.HandleGenerateKey)
	s.router.Post("/updatekey", s.linkAPI.HandleUpdateKey)
	s.router.Post("/listkeys", s.linkAPI.HandleListKeys)
}

func (s *Server) Start(ctx context.Context) error {
	serverAddr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	httpServer := &http.Server{
		Addr:         serverAddr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("service listening",
			slog.String("environment", s.config.Environment),
			slog.String("address", serverAddr))

		err := httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.config.ServerShutdownTimeout)
	defer shutdownCancel()

	s.logger.Info("shutting down HTTP server")

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		s.logger.Warn("HTTP server shutdown error",
			slog.String("error", err.Error()))
		return fmt.Errorf("HTTP server shutdown failed: %w", err)
	}

	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// RunSweeper periodically drops expired transactions and coupling codes.
// Blocks until ctx is cancelled.
func (s *Server) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.correlator.Sweep(ctx); err != nil {
				s.logger.Warn("transaction sweep failed", slog.String("error", err.Error()))
			} else if n > 0 {
				s.logger.Debug("swept expired transactions", slog.Int64("count", n))
			}

			cutoff := time.Now().Add(-s.config.CouplingCodeLifetime)
			if n, err := s.store.Couplings.DeleteOlderThan(ctx, cutoff); err != nil {
				s.logger.Warn("coupling code sweep failed", slog.String("error", err.Error()))
			} else if n > 0 {
				s.logger.Debug("swept expired coupling codes", slog.Int64("count", n))
			}
		}
	}
}

func (s *Server) DatabaseShutdown() {
	if s.pool != nil {
		s.pool.Close()
		s.logger.Info("database connection closed")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.pool.Ping(r.Context()); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unhealthy"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	relay.RespondWithJSON(w, http.StatusOK, version.Get())
}
