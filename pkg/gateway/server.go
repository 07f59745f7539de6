package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MinchaoZhu/chaos-bot/internal/config"
	"github.com/MinchaoZhu/chaos-bot/internal/metrics"
	"github.com/MinchaoZhu/chaos-bot/internal/observability"
	"github.com/MinchaoZhu/chaos-bot/internal/tracing"
	"github.com/MinchaoZhu/chaos-bot/pkg/chat"
	"github.com/MinchaoZhu/chaos-bot/pkg/session"
	"github.com/MinchaoZhu/chaos-bot/pkg/skills"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultKeepAlive     = 15 * time.Second
	defaultDrainTimeout  = 30 * time.Second
	maxRequestBodyBytes  = 1 << 20
	traceHeader          = "X-Trace-Id"
	readHeaderTimeoutDur = 10 * time.Second
)

// ChatRunner runs one chat turn, streaming events to onEvent.
type ChatRunner interface {
	RunStream(ctx context.Context, cmd chat.Command, onEvent func(chat.Event)) (*chat.Result, error)
}

// SessionService is the session CRUD surface.
type SessionService interface {
	Create(ctx context.Context) (*session.State, error)
	Get(ctx context.Context, id string) (*session.State, error)
	List(ctx context.Context) ([]*session.State, error)
	Delete(ctx context.Context, id string) error
}

// SkillCatalog lists installed skills.
type SkillCatalog interface {
	List() ([]skills.Meta, error)
	Get(id string) (*skills.Detail, error)
}

// ConfigManager owns the running configuration.
type ConfigManager interface {
	State(ctx context.Context) (*ConfigState, error)
	Reset(ctx context.Context) error
	Apply(ctx context.Context, raw *string, file *config.FileConfig) error
	RequestRestart(ctx context.Context) (bool, error)
}

// Config holds server configuration
type Config struct {
	Host string
	Port int

	Chat     ChatRunner
	Sessions SessionService
	Skills   SkillCatalog
	// ConfigManager is optional; config routes answer 503 without it.
	ConfigManager ConfigManager
	Metrics       *metrics.Metrics

	KeepAliveInterval time.Duration
	WSRequestsPerMin  int
	WSMaxConcurrent   int
	AllowedOrigins    []string
	Logger            zerolog.Logger
}

// Server is the HTTP and WebSocket gateway.
type Server struct {
	addr      string
	chat      ChatRunner
	sessions  SessionService
	skills    SkillCatalog
	config    ConfigManager
	metrics   *metrics.Metrics
	keepAlive time.Duration
	wsPerMin  int
	wsMaxConc int
	origins   map[string]bool

	mux         *http.ServeMux
	server      *http.Server
	upgrader    websocket.Upgrader
	clients     *ClientRegistry
	broadcaster *EventBroadcaster
	logger      zerolog.Logger

	// drainMu orders inFlight.Add against the shutdown flag so Wait never
	// races a new run.
	drainMu      sync.Mutex
	shuttingDown atomic.Bool
	inFlight     sync.WaitGroup
}

// NewServer validates cfg and registers all routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Chat == nil {
		return nil, fmt.Errorf("chat runner is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session service is required")
	}
	if cfg.Skills == nil {
		return nil, fmt.Errorf("skill catalog is required")
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = defaultKeepAlive
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewMetrics()
	}
	observability.EnsureRegistered()

	logger := cfg.Logger.With().Str("component", "gateway").Logger()
	clients := NewClientRegistry()

	s := &Server{
		addr:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		chat:        cfg.Chat,
		sessions:    cfg.Sessions,
		skills:      cfg.Skills,
		config:      cfg.ConfigManager,
		metrics:     cfg.Metrics,
		keepAlive:   cfg.KeepAliveInterval,
		wsPerMin:    cfg.WSRequestsPerMin,
		wsMaxConc:   cfg.WSMaxConcurrent,
		origins:     make(map[string]bool),
		mux:         http.NewServeMux(),
		clients:     clients,
		broadcaster: NewEventBroadcaster(clients, logger),
		logger:      logger,
	}
	for _, origin := range cfg.AllowedOrigins {
		s.origins[origin] = true
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	s.routes()
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeoutDur,
	}
	return s, nil
}

func (s *Server) routes() {
	s.handle("GET /api/health", s.handleHealth)
	s.handle("POST /api/chat", s.handleChat)
	s.handle("POST /api/sessions", s.handleCreateSession)
	s.handle("GET /api/sessions", s.handleListSessions)
	s.handle("GET /api/sessions/{id}", s.handleGetSession)
	s.handle("DELETE /api/sessions/{id}", s.handleDeleteSession)
	s.handle("GET /api/config", s.handleGetConfig)
	s.handle("POST /api/config/reset", s.handleResetConfig)
	s.handle("POST /api/config/apply", s.handleApplyConfig)
	s.handle("POST /api/config/restart", s.handleRestartConfig)
	s.handle("GET /api/skills", s.handleListSkills)
	s.handle("GET /api/skills/{id}", s.handleGetSkill)
	s.handle("GET /api/clients", s.handleListClients)

	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	s.mux.Handle("GET /metrics", s.metrics.Handler())
}

// handle registers an instrumented API route with trace ids and CORS.
func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, s.metrics.Instrument(pattern, s.withRequestContext(h)))
}

func (s *Server) withRequestContext(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(traceHeader)
		if traceID == "" {
			traceID = tracing.NewTraceID()
		}
		w.Header().Set(traceHeader, traceID)
		s.setCORS(w, r)

		ctx := tracing.WithTraceID(r.Context(), traceID)
		log := requestLogger(ctx, s.logger)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("Gateway request")

		next(w, r.WithContext(ctx))
	}
}

func (s *Server) setCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" || !s.originAllowed(origin) {
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Vary", "Origin")
}

func (s *Server) originAllowed(origin string) bool {
	return len(s.origins) == 0 || s.origins["*"] || s.origins[origin]
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.originAllowed(origin)
}

// preflight answers CORS preflight requests for every API route.
func (s *Server) preflight(w http.ResponseWriter, r *http.Request) {
	s.setCORS(w, r)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+traceHeader)
	w.WriteHeader(http.StatusNoContent)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			s.preflight(w, r)
			return
		}
		s.mux.ServeHTTP(w, r)
	})
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// ListenAndServe listens on the configured address and blocks until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln. It returns nil after Shutdown, including
// a Shutdown that ran before Serve.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting gateway server")
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server error: %w", err)
	}
	return nil
}

// beginRun registers an in-flight run unless shutdown has started. Callers
// must call inFlight.Done when it returns true.
func (s *Server) beginRun() bool {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()
	if s.shuttingDown.Load() {
		return false
	}
	s.inFlight.Add(1)
	return true
}

// Shutdown stops accepting work, waits for WebSocket runs to drain and closes
// the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.drainMu.Lock()
	first := s.shuttingDown.CompareAndSwap(false, true)
	s.drainMu.Unlock()
	if !first {
		return nil
	}
	s.logger.Info().Msg("Shutting down gateway server")

	s.broadcaster.Broadcast("server.shutdown", map[string]any{
		"message": "server is shutting down",
	})

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	drain, cancel := context.WithTimeout(ctx, defaultDrainTimeout)
	defer cancel()
	select {
	case <-done:
		s.logger.Info().Msg("All in-flight WebSocket runs completed")
	case <-drain.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	for _, client := range s.clients.List() {
		_ = client.Conn.Close()
	}

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

// Broadcast sends an event to all connected WebSocket clients.
func (s *Server) Broadcast(event string, data any) int {
	return s.broadcaster.Broadcast(event, data)
}

// ConnectedClients describes the connected WebSocket clients.
func (s *Server) ConnectedClients() []ClientInfo {
	return s.clients.Snapshot(time.Now())
}
