package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/mailroom/internal/agent"
	"github.com/soyeahso/mailroom/internal/config"
	"github.com/soyeahso/mailroom/internal/domain"
	"github.com/soyeahso/mailroom/internal/hooks"
	"github.com/soyeahso/mailroom/internal/logging"
	"github.com/soyeahso/mailroom/internal/store"
	"github.com/soyeahso/mailroom/internal/version"
)

var ErrClientClosed = errors.New("client connection closed")

const shutdownTimeout = 10 * time.Second

// Threads is the thread API the gateway exposes. *agent.Runner implements
// it.
type Threads interface {
	Start(ctx context.Context, threadID string, email domain.Email) (*agent.Outcome, error)
	Resume(ctx context.Context, threadID string, resp domain.InterruptResponse) (*agent.Outcome, error)
	Continue(ctx context.Context, threadID string) (*agent.Outcome, error)
	Get(ctx context.Context, threadID string) (*domain.ConversationState, error)
	Interrupt(ctx context.Context, threadID string) ([]domain.InterruptRequest, error)
	List(ctx context.Context, filter store.ListFilter) ([]store.ThreadSummary, error)
}

// Memory is the preference store view used by the memory endpoints.
type Memory interface {
	store.MemoryStore
	store.MemoryAdmin
}

// Server is the review gateway: a REST API under /api, JSON-RPC over /ws,
// and thread events pushed to connected reviewers.
type Server struct {
	cfg      config.Config
	auth     ResolvedAuth
	log      *logging.Logger
	clients  *ClientRegistry
	handlers map[string]RequestHandler
	version  string
	eventSeq atomic.Int64

	mu        sync.RWMutex
	configRaw map[string]any
	addr      string // bound address once listening

	threads Threads
	memory  Memory         // optional
	hooks   *hooks.Manager // optional

	startedAt   time.Time
	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithConfigRaw sets the raw config document served by config.get.
func WithConfigRaw(raw map[string]any) ServerOption {
	return func(s *Server) { s.configRaw = raw }
}

// WithHooks forwards thread and memory events to WebSocket reviewers.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) { s.hooks = hm }
}

// WithMemory enables the memory endpoints.
func WithMemory(m Memory) ServerOption {
	return func(s *Server) { s.memory = m }
}

// New builds a gateway over threads. It does not listen until Start.
func New(cfg config.Config, threads Threads, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		auth:        ResolveAuth(cfg.Gateway.Auth),
		log:         log.Sub("gateway"),
		clients:     NewClientRegistry(log.Sub("clients")),
		handlers:    make(map[string]RequestHandler),
		version:     version.Version,
		configRaw:   make(map[string]any),
		threads:     threads,
		authLimiter: newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.Gateway.AllowedOrigins),
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRPCHandlers()
	s.registerHooks()
	return s
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods lists the registered RPC methods in order.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Handler returns the HTTP handler with the full middleware chain. Start
// serves it; tests mount it on httptest servers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.cfg.Gateway.AllowedOrigins)
}

// resolveBindAddr maps the bind mode onto a listen address.
func resolveBindAddr(cfg config.GatewayConfig) string {
	host := "127.0.0.1"
	switch cfg.Bind {
	case "lan", "auto":
		host = "0.0.0.0"
	case "custom":
		host = cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
	}
	return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
}

// listen opens the TCP listener, wrapped in TLS when configured.
func (s *Server) listen() (net.Listener, error) {
	gw := s.cfg.Gateway
	addr := resolveBindAddr(gw)

	var cert tls.Certificate
	if gw.TLS.Enabled {
		var err error
		if cert, err = tls.LoadX509KeyPair(gw.TLS.CertPath, gw.TLS.KeyPath); err != nil {
			return nil, fmt.Errorf("loading TLS certificate: %w", err)
		}
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	if !gw.TLS.Enabled {
		if gw.Bind != "loopback" {
			s.log.Warn().Msg("TLS is not enabled, reviewer tokens are sent in cleartext")
		}
		return ln, nil
	}
	s.log.Info().Msg("TLS enabled")
	return tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// Start serves until ctx is cancelled, then closes reviewer connections
// and drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	httpServer := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // resume drives the workflow inline
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	s.startedAt = time.Now()

	s.log.Info().
		Str("addr", s.Addr()).
		Str("bind", s.cfg.Gateway.Bind).
		Str("auth", s.auth.Mode).
		Int("reviewers", len(s.auth.Reviewers)).
		Int("methods", len(s.handlers)).
		Msg("gateway listening")
	s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{"addr": s.Addr()})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.authLimiter.run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.shutdown(httpServer)
		return nil
	})
	return g.Wait()
}

func (s *Server) shutdown(httpServer *http.Server) {
	s.log.Info().Int("reviewers", s.clients.Count()).Msg("shutting down gateway")
	s.hooks.Emit(context.Background(), hooks.EventGatewayStop, nil)

	// Hijacked WebSocket connections are invisible to Shutdown.
	s.clients.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		s.log.Warn().Err(err).Msg("gateway shutdown incomplete")
	}
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}
