// Package gateway exposes the memory service over HTTP: a REST API for
// memory lifecycle and search, a websocket event stream, and the health and
// metrics endpoints.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/unimem/unimem/internal/observability"
	"github.com/unimem/unimem/internal/tracing"
	"github.com/unimem/unimem/pkg/agent"
	"github.com/unimem/unimem/pkg/memory"
)

// ChatAgent answers chat turns; nil disables the /api/chat endpoint.
type ChatAgent interface {
	Chat(ctx context.Context, req agent.ChatRequest) (*agent.ChatResponse, error)
}

// Config holds server configuration
type Config struct {
	Host      string
	Port      int
	APIKey    string
	RateLimit int // requests per minute per IP, 0 uses the default
	Service   *memory.Service
	Agent     ChatAgent
	Logger    zerolog.Logger
}

// Server is the HTTP gateway
type Server struct {
	host           string
	port           int
	server         *http.Server
	upgrader       websocket.Upgrader
	clients        *ClientRegistry
	auth           *AuthHandler
	limiter        *RateLimiter
	broadcaster    *EventBroadcaster
	apiMux         *http.ServeMux
	service        *memory.Service
	agent          ChatAgent
	logger         zerolog.Logger
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Service == nil {
		return nil, fmt.Errorf("memory service is required")
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 120
	}

	clients := NewClientRegistry()

	s := &Server{
		host:        cfg.Host,
		port:        cfg.Port,
		clients:     clients,
		auth:        NewAuthHandler(cfg.APIKey),
		limiter:     NewRateLimiter(cfg.RateLimit),
		broadcaster: NewEventBroadcaster(clients, cfg.Logger),
		service:     cfg.Service,
		agent:       cfg.Agent,
		logger:      cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}

	return s, nil
}

// Handler builds the full routing table with middleware applied.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/memories", s.handleCreateMemory)
	api.HandleFunc("GET /api/memories", s.handleListMemories)
	api.HandleFunc("POST /api/memories/ingest", s.handleIngest)
	api.HandleFunc("GET /api/memories/{id}", s.handleGetMemory)
	api.HandleFunc("DELETE /api/memories/{id}", s.handleDeleteMemory)
	api.HandleFunc("POST /api/memories/{id}/related", s.handleRelated)
	api.HandleFunc("POST /api/search", s.handleSearch)
	api.HandleFunc("GET /api/stats", s.handleStats)
	api.HandleFunc("POST /api/chat", s.handleChat)
	s.apiMux = api

	protected := s.middleware(s.limiter.Middleware(s.auth.Middleware(api)))

	mux := http.NewServeMux()
	mux.Handle("/api/", protected)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.Handle("GET /metrics", observability.MetricsHandler())
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return mux
}

// middleware attaches a request id and trace context, tracks in-flight
// requests for graceful shutdown, and records per-route metrics.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			writeError(w, http.StatusServiceUnavailable, "server is shutting down")
			return
		}
		s.shutdownMu.RUnlock()

		s.inFlightReqs.Add(1)
		defer s.inFlightReqs.Done()

		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID, _ = gonanoid.New()
		}

		ctx := tracing.NewRequestContext(r.Context())
		ctx = tracing.WithRequestID(ctx, requestID)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		rec.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(rec, r.WithContext(ctx))

		duration := time.Since(start)
		observability.RecordHTTPRequest(s.routeLabel(r), strconv.Itoa(rec.status), duration)

		logger := tracing.LoggerFromContext(ctx, s.logger)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", duration).
			Msg("Request handled")
	})
}

// routeLabel returns the registered route pattern for a request. Metrics are
// labeled with the pattern, never the raw path, so ids in the URL cannot
// explode label cardinality.
func (s *Server) routeLabel(r *http.Request) string {
	_, pattern := s.apiMux.Handler(r)
	if pattern == "" {
		return "unmatched"
	}
	return pattern
}

// statusRecorder captures the response status for logging and metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Start starts the gateway server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: s.Handler(),
	}

	s.logger.Info().Str("host", s.host).Int("port", s.port).Msg("Starting gateway server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Stop gracefully stops the gateway server
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")

	// Tell stream consumers before connections drop
	s.broadcaster.Broadcast(EventServerShutdown, map[string]interface{}{
		"message": "Server is shutting down",
	})

	// Wait for in-flight requests with timeout
	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	// Close all client connections
	for _, client := range s.clients.GetAll() {
		client.Conn.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

// Broadcast broadcasts an event to all connected clients
func (s *Server) Broadcast(event string, data interface{}) {
	s.broadcaster.Broadcast(event, data)
}

// handleWebSocket upgrades a connection to the event stream
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	s.shutdownMu.RUnlock()

	// Websocket clients cannot always set headers; accept the key as a
	// query parameter too.
	key := r.Header.Get("X-API-Key")
	if key == "" {
		key = r.URL.Query().Get("api_key")
	}
	if !s.auth.Verify(key) {
		observability.RecordSecurityAudit(r.Context(), "auth_rejected", r.RemoteAddr, "failure", map[string]interface{}{
			"path": r.URL.Path,
		})
		writeError(w, http.StatusUnauthorized, "invalid or missing API key")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &Client{
		ID:          clientID,
		Conn:        conn,
		ConnectedAt: time.Now(),
	}
	s.clients.Add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	go s.readLoop(client)
}

// readLoop drains client messages until the connection closes. The stream
// is one-way; inbound frames are discarded.
func (s *Server) readLoop(client *Client) {
	defer func() {
		client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}
	}
}
