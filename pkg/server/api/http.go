// Package api provides the HTTP and WebSocket API of feedguard.
package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/StrathCole/feedguard/pkg/config"
	"github.com/StrathCole/feedguard/pkg/feedset"
	"github.com/StrathCole/feedguard/pkg/journal"
	"github.com/StrathCole/feedguard/pkg/logging"
	"github.com/StrathCole/feedguard/pkg/metrics"
	"github.com/StrathCole/feedguard/pkg/policy"
)

var errHijackUnsupported = errors.New("response writer does not support hijacking")

// requestTimeout bounds source reads made on behalf of a request.
const requestTimeout = 10 * time.Second

// Feeds is the feed collection served by the API. *feedset.Set implements it.
type Feeds interface {
	List() []feedset.Info
	Info(name string) (feedset.Info, error)
	Latest(ctx context.Context, name string) (policy.Resolution, error)
	Strict(ctx context.Context, name string) (*big.Int, error)
	Observations(ctx context.Context, name string) (policy.Observation, policy.Observation, error)
	Deviation(ctx context.Context, name string) (policy.Deviation, error)
	Staleness(ctx context.Context, name string) (bool, bool, error)
	Metadata(ctx context.Context, name string) (uint8, string, error)

	SetHeartbeat(ctx context.Context, name string, seconds uint64) (policy.Change, error)
	SetDeviationThreshold(ctx context.Context, name string, bps uint64) (policy.Change, error)
	SetPrimary(ctx context.Context, name string, sc config.SourceConfig) (policy.Change, error)
	SetFallback(ctx context.Context, name string, sc config.SourceConfig) (policy.Change, error)
	DisableFallback(ctx context.Context, name string) (policy.Change, error)
}

// ChangeLog lists recorded configuration changes. *journal.SQLite implements it.
type ChangeLog interface {
	List(ctx context.Context, feed string, limit int) ([]journal.Entry, error)
}

// Server represents the HTTP API server.
type Server struct {
	addr       string
	feeds      Feeds
	changes    ChangeLog
	adminToken string
	limiter    *RateLimiter
	wsServer   *WebSocketServer // Optional WebSocket server for streaming
	wsPath     string
	tls        config.TLSConfig

	mu     sync.Mutex
	server *http.Server
	logger *logging.Logger
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, feeds Feeds, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Server{
		addr:   addr,
		feeds:  feeds,
		logger: logger,
	}
}

// SetAdminToken enables the admin endpoints guarded by a bearer token.
func (s *Server) SetAdminToken(token string) {
	s.adminToken = token
}

// SetChangeLog enables the change history endpoint.
func (s *Server) SetChangeLog(cl ChangeLog) {
	s.changes = cl
}

// SetRateLimiter enables per-client rate limiting.
func (s *Server) SetRateLimiter(rl *RateLimiter) {
	s.limiter = rl
}

// SetWebSocketServer mounts the WebSocket server at path.
func (s *Server) SetWebSocketServer(ws *WebSocketServer, path string) {
	s.wsServer = ws
	s.wsPath = path
}

// SetTLS serves HTTPS with the given certificate.
func (s *Server) SetTLS(tls config.TLSConfig) {
	s.tls = tls
}

// Handler builds the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /v1/feeds", s.handleFeeds)
	mux.HandleFunc("GET /v1/feeds/{name}", s.handleFeed)
	mux.HandleFunc("GET /v1/feeds/{name}/latest", s.handleLatest)
	mux.HandleFunc("GET /v1/feeds/{name}/strict", s.handleStrict)
	mux.HandleFunc("GET /v1/feeds/{name}/observations", s.handleObservations)
	mux.HandleFunc("GET /v1/feeds/{name}/deviation", s.handleDeviation)
	mux.HandleFunc("GET /v1/feeds/{name}/staleness", s.handleStaleness)
	mux.HandleFunc("GET /v1/feeds/{name}/metadata", s.handleMetadata)

	mux.Handle("PUT /v1/admin/feeds/{name}/heartbeat", s.admin(s.handleSetHeartbeat))
	mux.Handle("PUT /v1/admin/feeds/{name}/threshold", s.admin(s.handleSetThreshold))
	mux.Handle("PUT /v1/admin/feeds/{name}/primary", s.admin(s.handleSetPrimary))
	mux.Handle("PUT /v1/admin/feeds/{name}/fallback", s.admin(s.handleSetFallback))
	mux.Handle("DELETE /v1/admin/feeds/{name}/fallback", s.admin(s.handleDisableFallback))
	mux.Handle("GET /v1/admin/changes", s.admin(s.handleChanges))

	if s.wsServer != nil {
		mux.HandleFunc("GET "+s.wsPath, s.wsServer.HandleWebSocket)
	}

	var handler http.Handler = mux
	if s.limiter != nil {
		handler = s.limiter.Handler(handler)
	}
	return s.instrument(handler)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("Starting HTTP server", "addr", s.addr, "tls", s.tls.Enabled, "admin", s.adminToken != "")

	var err error
	if s.tls.Enabled {
		err = srv.ListenAndServeTLS(s.tls.Cert, s.tls.Key)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv != nil {
		s.logger.Info("Stopping HTTP server")
		return srv.Shutdown(ctx)
	}
	return nil
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the WebSocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("%w", errHijackUnsupported)
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.RecordHTTPRequest(endpoint, fmt.Sprint(rec.status), time.Since(start))
	})
}

// admin guards a handler with the bearer token. Without a token the admin API is disabled.
func (s *Server) admin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			writeError(w, http.StatusForbidden, "admin_disabled", "admin API is disabled")
			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			s.logger.Warn("Rejected admin request", "client", clientIP(r), "path", r.URL.Path)
			w.Header().Set("WWW-Authenticate", `Bearer realm="feedguard"`)
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
			return
		}

		next(w, r)
	})
}

// handleHealth handles /health endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// sendJSON sends a JSON response.
func (s *Server) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err.Error())
	}
}

// errorResponse is the body of every error response.
type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func writeError(w http.ResponseWriter, status int, reason, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg, Reason: reason})
}
