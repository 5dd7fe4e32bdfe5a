// Package server is the bridge's HTTP listener. It composes the token store,
// rate limiter, authenticator, upload validator and printer gateway into
// route handlers, and enforces the CORS allow-list.
//
// Every request passes the same fixed sequence: CORS preflight
// short-circuit, global rate-limit admission, bearer authentication on /api
// routes, payload validation, then the printer call. Cheap checks reject
// before expensive ones run, and none of them may be reordered.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Riboost-Studio/print-my-bridge/internal/model"
	"github.com/Riboost-Studio/print-my-bridge/internal/services"
)

// ServiceName is reported by /health.
const ServiceName = "print-my-bridge"

// Options wires a Server. Config, Version and Gateway are required.
type Options struct {
	Config  model.BridgeConfig
	Version string
	Gateway services.PrinterGateway

	// Tokens defaults to a store seeded from Config.APIToken.
	Tokens *services.TokenStore
	// Clock drives the rate window; defaults to the wall clock.
	Clock  services.Clock
	Events *services.JobEvents
	Logger *slog.Logger

	// OnTokenRotated runs after RotateToken so the caller can persist the
	// new token.
	OnTokenRotated func(token string)
}

// Server is the bridge HTTP server.
type Server struct {
	cfg     atomic.Pointer[model.BridgeConfig]
	uploads atomic.Pointer[services.UploadValidator]
	cors    atomic.Pointer[corsPolicy]

	version        string
	tokens         *services.TokenStore
	auth           *services.RequestAuthenticator
	limiter        *services.RateLimiter
	gateway        services.PrinterGateway
	events         *services.JobEvents
	logger         *slog.Logger
	onTokenRotated func(string)

	requests atomic.Uint64
	handler  http.Handler

	// stopStreams ends event streams, which outlive http.Server.Shutdown
	// once hijacked.
	streamCtx   context.Context
	stopStreams context.CancelFunc

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	startedAt  time.Time
}

// New validates the config and builds the router. It does not listen.
func New(opts Options) (*Server, error) {
	if opts.Gateway == nil {
		return nil, errors.New("server: Gateway is required")
	}
	cfg := opts.Config
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tokens == nil {
		opts.Tokens = services.NewTokenStore(cfg.APIToken)
	}
	if opts.Events == nil {
		opts.Events = services.NewJobEvents(opts.Logger)
	}

	streamCtx, stopStreams := context.WithCancel(context.Background())
	s := &Server{
		version:        opts.Version,
		tokens:         opts.Tokens,
		auth:           services.NewRequestAuthenticator(opts.Tokens),
		limiter:        services.NewRateLimiter(cfg.RateLimit, services.DefaultRateWindow, opts.Clock),
		gateway:        opts.Gateway,
		events:         opts.Events,
		logger:         opts.Logger.With("module", "http"),
		onTokenRotated: opts.OnTokenRotated,
		streamCtx:      streamCtx,
		stopStreams:    stopStreams,
	}
	s.applyConfig(cfg)
	s.handler = s.routes()
	return s, nil
}

func (s *Server) applyConfig(cfg model.BridgeConfig) {
	s.cfg.Store(&cfg)
	s.uploads.Store(services.NewUploadValidator(cfg.MaxUploadBytes, cfg.AllowedExtensions))
	s.cors.Store(newCORSPolicy(cfg.AllowedOrigins))
	s.limiter.SetLimit(cfg.RateLimit)
}

// Config returns the active config snapshot.
func (s *Server) Config() model.BridgeConfig {
	return *s.cfg.Load()
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return errors.New("server: already started")
	}

	cfg := s.Config()
	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("server: failed to listen on %s: %w", cfg.Addr(), err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.httpServer = srv
	s.listener = ln
	s.startedAt = time.Now().UTC()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "error", err)
		}
	}()

	s.logger.Info("bridge listening", "addr", ln.Addr().String(), "version", s.version)
	return nil
}

// Shutdown stops accepting connections, closes event streams and waits for
// in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopStreams()

	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	s.logger.Info("bridge shutting down")
	return srv.Shutdown(ctx)
}

// Addr returns the bound address, or "" when not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Reload swaps in a new config snapshot. The rate window is kept; a changed
// host or port only applies after a restart.
func (s *Server) Reload(cfg model.BridgeConfig) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	old := s.Config()
	s.applyConfig(cfg)

	if s.tokens.Replace(cfg.APIToken) {
		s.logger.Info("api token replaced from config")
	}
	if old.Addr() != cfg.Addr() {
		s.logger.Warn("listen address change needs a restart", "current", old.Addr(), "configured", cfg.Addr())
	}
	s.logger.Info("config reloaded",
		"rate_limit", cfg.RateLimit,
		"max_upload_bytes", cfg.MaxUploadBytes,
		"allowed_origins", cfg.AllowedOrigins,
	)
	return nil
}

// --- Desktop shell pass-throughs ---

// RotateToken issues a new token; the old one stops working at once.
func (s *Server) RotateToken() string {
	token := s.tokens.Rotate()
	s.logger.Info("api token rotated")
	if s.onTokenRotated != nil {
		s.onTokenRotated(token)
	}
	return token
}

// CurrentStatus reports whether the bridge is listening and on which port.
func (s *Server) CurrentStatus() model.BridgeStatus {
	cfg := s.Config()
	status := model.BridgeStatus{
		Host:              cfg.Host,
		Port:              cfg.Port,
		Version:           s.version,
		RequestsProcessed: s.requests.Load(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		status.Active = true
		status.StartedAt = s.startedAt
		if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
			status.Port = tcp.Port
		}
	}
	return status
}

// ListPrinters queries the spooler directly, bypassing HTTP.
func (s *Server) ListPrinters(ctx context.Context) ([]model.PrinterDescriptor, error) {
	return s.gateway.List(ctx)
}
