// ABOUTME: Gateway orchestrator that wires the store, providers and HTTP server
// ABOUTME: Manages the HTTP listener lifecycle and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/2389/palladium-gateway/internal/config"
	"github.com/2389/palladium-gateway/internal/conversation"
	"github.com/2389/palladium-gateway/internal/executor"
	"github.com/2389/palladium-gateway/internal/llm"
	"github.com/2389/palladium-gateway/internal/session"
	"github.com/2389/palladium-gateway/internal/sheets"
	"github.com/2389/palladium-gateway/internal/store"
	"github.com/2389/palladium-gateway/internal/uploads"
)

// Gateway owns the palladium-gateway server components.
type Gateway struct {
	config       *config.Config
	store        store.Store
	sessions     *session.Registry
	conversation *conversation.Service
	broadcaster  *conversation.Broadcaster
	router       *chi.Mux
	httpServer   *http.Server
	logger       *slog.Logger
}

// Components are the external collaborators of a Gateway. New builds them
// from configuration; tests supply their own.
type Components struct {
	Store    store.Store
	Sheets   sheets.Service
	Provider llm.Provider
	Uploads  *uploads.Store
}

// initStore creates the store, honouring PALLADIUM_DB_PATH.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("PALLADIUM_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a gateway with every dependency built from cfg.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	sheetSvc, err := sheets.New(context.Background(), cfg.Sheets, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("initializing spreadsheet service: %w", err)
	}

	provider, err := llm.New(cfg.LLM, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("initializing LLM provider: %w", err)
	}

	up, err := uploads.NewOSStore(cfg.Uploads.Dir, cfg.Uploads.MaxUploadBytes, uploads.NewExtractor(cfg.Uploads.MaxContextBytes))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return NewWithComponents(cfg, Components{
		Store:    st,
		Sheets:   sheetSvc,
		Provider: provider,
		Uploads:  up,
	}, logger), nil
}

// NewWithComponents creates a gateway around already-built collaborators.
// The gateway takes ownership of c.Store and closes it on Shutdown.
func NewWithComponents(cfg *config.Config, c Components, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	registry := session.NewRegistry(session.RegistryConfig{
		MaxSessions: cfg.Sessions.MaxSessions,
		IdleTTL:     cfg.Sessions.IdleTTL,
		Model:       cfg.LLM.Model,
	}, logger)
	broadcaster := conversation.NewBroadcaster(logger)

	svc := conversation.New(conversation.Deps{
		Registry:    registry,
		Store:       c.Store,
		Executor:    executor.New(c.Sheets, c.Store, logger),
		Provider:    c.Provider,
		Uploads:     c.Uploads,
		Logger:      logger,
		Functions:   cfg.LLM.Functions,
		Broadcaster: broadcaster,
	})

	gw := &Gateway{
		config:       cfg,
		store:        c.Store,
		sessions:     registry,
		conversation: svc,
		broadcaster:  broadcaster,
		router:       chi.NewRouter(),
		logger:       logger.With("component", "gateway"),
	}
	gw.setupMiddleware()
	gw.setupRoutes()

	// No write timeout: streams stay open for the length of a turn.
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw
}

// Handler returns the HTTP handler serving the gateway routes.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// startServer serves on ln in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	return errCh
}

// Run starts the HTTP server and blocks until ctx is canceled or the server
// fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := g.startServer(ln)

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown shuts down with a fresh context since the caller's is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	timeout := g.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server and releases resources. In-flight turns get
// until ctx is done to finish.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	g.broadcaster.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports the store as reachable and the live session count.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := g.store.ListChats(r.Context(), 1); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d sessions)", g.sessions.Len())
}
