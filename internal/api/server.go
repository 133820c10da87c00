package api

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parley-ai/parley/internal/auth"
	"github.com/parley-ai/parley/internal/log"
	"github.com/parley-ai/parley/internal/relay"
	"github.com/parley-ai/parley/internal/store"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger        log.Logger
	Store         *store.Store    // Required
	Tokens        *auth.Tokens    // Required
	Registry      *relay.Registry // Required: shared with both relays
	Relay         *relay.Relay    // Required: real provider pipeline
	TestRelay     *relay.Relay    // Optional: nil disables /api/chat/stream-test
	Pool          *pgxpool.Pool   // Optional: nil disables pool ping in /ready
	CORSOrigins   []string        // Allowed origins for CORS
	TrustProxy    bool            // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst     int             // Rate limiter burst size per IP (0 = default 60)
	SecureCookies bool            // Secure flag on refresh cookies (requires HTTPS)
}

// Server is the Parley HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("tokens are required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Relay == nil {
		return nil, errors.New("relay is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	guard := &authGuard{tokens: cfg.Tokens, logger: logger}

	ah := &authHandler{
		store:         cfg.Store,
		tokens:        cfg.Tokens,
		logger:        logger,
		secureCookies: cfg.SecureCookies,
	}

	gh := &agentHandler{store: cfg.Store, logger: logger}

	ch := &chatHandler{
		relay:     cfg.Relay,
		testRelay: cfg.TestRelay,
		registry:  cfg.Registry,
		store:     cfg.Store,
		logger:    logger,
	}

	th := &threadHandler{store: cfg.Store, logger: logger}

	mux := http.NewServeMux()

	// Auth
	mux.HandleFunc("POST /api/auth/register", ah.register)
	mux.HandleFunc("POST /api/auth/login", ah.login)
	mux.HandleFunc("POST /api/auth/refresh", ah.refresh)
	mux.HandleFunc("GET /api/auth/me", guard.require(ah.me))

	// Agents
	mux.HandleFunc("GET /api/agents", guard.require(gh.listPublic))
	mux.HandleFunc("GET /api/agents/me", guard.require(gh.listMine))
	mux.HandleFunc("POST /api/agents", guard.require(gh.create))
	mux.HandleFunc("GET /api/agents/{agentId}", guard.require(gh.get))
	mux.HandleFunc("PUT /api/agents/{agentId}", guard.require(gh.update))
	mux.HandleFunc("DELETE /api/agents/{agentId}", guard.require(gh.delete))

	// Chat
	mux.HandleFunc("POST /api/chat/stream", guard.require(ch.stream))
	if cfg.TestRelay != nil {
		mux.HandleFunc("POST /api/chat/stream-test", guard.require(ch.streamTest))
	}
	mux.HandleFunc("POST /api/chat/abort", guard.require(ch.abort))
	mux.HandleFunc("GET /api/chat/threads", guard.require(ch.threads))
	mux.HandleFunc("GET /api/chat/message/{threadId}", guard.require(ch.messages))
	mux.HandleFunc("DELETE /api/chat/thread/{threadId}", guard.require(ch.deleteThread))

	// Thread metadata
	mux.HandleFunc("GET /api/threads/{threadId}/agent", guard.require(th.agent))

	// Throttle: per-IP token buckets, 1 general token/sec refill plus
	// the fixed stream bucket
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	tr := newThrottle(1.0, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → Throttle → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. CORS must be before Throttle so preflight OPTIONS
	// gets proper CORS headers.
	var handler http.Handler = mux
	handler = throttleMiddleware(tr, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	secure := cfg.SecureCookies
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, secure)
		handler.ServeHTTP(w, r)
	})

	// Top-level mux keeps health probes outside the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.HandleFunc("GET /ready", readiness(cfg.Pool, logger))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
