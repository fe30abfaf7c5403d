// Package server exposes the gateway over HTTP: the REST command front,
// the JSON-RPC tools front, key management, status, and the executor
// websocket endpoint.
package server

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/browserbridge/bridge/internal/auth"
	"github.com/browserbridge/bridge/internal/config"
	"github.com/browserbridge/bridge/internal/executor"
	"github.com/browserbridge/bridge/internal/plugins"
	"github.com/browserbridge/bridge/internal/ratelimit"
	"github.com/browserbridge/bridge/internal/registry"
)

// APIServer routes inbound HTTP traffic to the protocol fronts.
type APIServer struct {
	cfg      config.Config
	auth     *auth.Service
	limiter  *ratelimit.Limiter
	executor *executor.Manager
	registry *registry.Registry
	plugins  *plugins.Set
	started  time.Time
}

func NewAPIServer(cfg config.Config, authSvc *auth.Service, limiter *ratelimit.Limiter, exec *executor.Manager, reg *registry.Registry, set *plugins.Set) *APIServer {
	return &APIServer{
		cfg:      cfg,
		auth:     authSvc,
		limiter:  limiter,
		executor: exec,
		registry: reg,
		plugins:  set,
		started:  time.Now(),
	}
}

// Handler builds the route table.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/v1/keys", s.handleKeys)
	mux.HandleFunc("/api/v1/keys/", s.handleKeys)
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/command", s.requireAuth(s.handleCommand, s.cfg.RESTEnabled))
	mux.HandleFunc("/mcp", s.requireAuth(s.handleMCP, s.cfg.MCPEnabled))
	mux.HandleFunc("/", s.handleFallback)
	return s.withPreflight(mux)
}

func (s *APIServer) withPreflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *APIServer) handleWS(w http.ResponseWriter, r *http.Request) {
	if !executor.OriginAllowed(r.Header.Get("Origin")) {
		s.writeJSON(w, http.StatusForbidden, map[string]any{"ok": false, "error": "Forbidden origin"})
		return
	}
	s.executor.ServeHTTP(w, r)
}

func (s *APIServer) handleFallback(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "Not found"})
}

// requireAuth wraps a front-end handler with bearer auth and rate
// limiting. When the key store is empty the gateway runs in open-access
// mode: auth is skipped and the caller identity is empty.
func (s *APIServer) requireAuth(next func(http.ResponseWriter, *http.Request, string), enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !enabled || r.Method != http.MethodPost {
			s.handleFallback(w, r)
			return
		}

		token := bearerToken(r)
		if s.auth.OpenAccess() {
			token = ""
		} else if token == "" || !s.auth.Validate(token, remoteIP(r)) {
			s.writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "Unauthorized"})
			return
		}

		limitKey := token
		if limitKey == "" {
			limitKey = remoteIP(r)
		}
		if !s.limiter.Allow(limitKey) {
			log.Printf("[APIServer] rate limit exceeded for %s", maskToken(limitKey))
			s.writeJSON(w, http.StatusTooManyRequests, map[string]any{"ok": false, "error": "Rate limit exceeded"})
			return
		}

		next(w, r, token)
	}
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, body any) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("X-Content-Type-Options", "nosniff")
	if s.cfg.CORSOrigin != "" {
		h.Set("Access-Control-Allow-Origin", s.cfg.CORSOrigin)
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[APIServer] write response: %v", err)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isLoopback(ip string) bool {
	return ip == "127.0.0.1" || ip == "::1" || ip == "localhost"
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}
