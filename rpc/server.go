package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/viraj-mahida/betting-contract/core/events"
	"github.com/viraj-mahida/betting-contract/core/runtime"
	"github.com/viraj-mahida/betting-contract/observability"
	"github.com/viraj-mahida/betting-contract/storage/journal"
)

const (
	defaultMaxRequestBytes = 1 << 20 // 1 MiB
	rpcModule              = "market"
	requestIDHeader        = "X-Request-ID"
)

type contextKey string

const contextKeyRequestID contextKey = "rpc.requestId"

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	Auth               AuthConfig
	RateLimit          RateLimit
	MaxRequestBytes    int64
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	StreamWriteTimeout time.Duration
}

type eventLog interface {
	List(market string, limit int) ([]journal.Record, error)
}

type eventStream interface {
	Subscribe() (<-chan events.Event, func())
}

// Server exposes the market runtime over JSON-RPC 2.0, a websocket event
// stream, health and Prometheus endpoints.
type Server struct {
	runtime *runtime.Runtime
	journal eventLog
	stream  eventStream
	auth    *Authenticator
	limiter *rateLimiter
	cfg     ServerConfig
	logger  *slog.Logger

	serverMu   sync.Mutex
	httpServer *http.Server
}

// NewServer wires a server. journal and stream may be nil, in which case the
// methods depending on them report the feature as unavailable.
func NewServer(rt *runtime.Runtime, eventsLog eventLog, stream eventStream, cfg ServerConfig, logger *slog.Logger) *Server {
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = defaultMaxRequestBytes
	}
	if cfg.StreamWriteTimeout <= 0 {
		cfg.StreamWriteTimeout = wsWriteTimeout
	}
	if strings.TrimSpace(cfg.Auth.AdminScope) == "" {
		cfg.Auth.AdminScope = DefaultAdminScope
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		runtime: rt,
		journal: eventsLog,
		stream:  stream,
		auth:    NewAuthenticator(cfg.Auth),
		limiter: newRateLimiter(cfg.RateLimit),
		cfg:     cfg,
		logger:  logger,
	}
}

// Handler returns the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(withRequestID)
	router.Get("/healthz", s.handleHealth)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	router.Post("/", s.handle)
	router.Post("/rpc", s.handle)
	router.Get("/ws/events", s.handleEventsWS)
	return otelhttp.NewHandler(router, "marketd.http")
}

// Serve accepts connections on listener until Shutdown is called.
func (s *Server) Serve(listener net.Listener) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.serverMu.Lock()
	s.httpServer = srv
	s.serverMu.Unlock()
	s.logger.Info("json-rpc server listening", slog.String("addr", listener.Addr().String()))
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops a running server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	srv := s.httpServer
	s.serverMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), contextKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	recorder := &statusRecorder{ResponseWriter: w}
	method := ""
	defer func() {
		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		observability.ModuleMetrics().Observe(rpcModule, method, status, time.Since(start))
	}()
	w = recorder

	reader := http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", s.cfg.MaxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	method = req.Method

	source := s.limiter.source(r)
	if !s.limiter.allow(source) {
		observability.ModuleMetrics().RecordThrottle(rpcModule, "rate_limit")
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	switch req.Method {
	case "market_create":
		s.withPrincipal(w, r, req, "", s.handleMarketCreate)
	case "market_placeBet":
		s.withPrincipal(w, r, req, "", s.handleMarketPlaceBet)
	case "market_resolve":
		s.withPrincipal(w, r, req, "", s.handleMarketResolve)
	case "market_claim":
		s.withPrincipal(w, r, req, "", s.handleMarketClaim)
	case "market_get":
		s.handleMarketGet(w, r, req)
	case "market_list":
		s.handleMarketList(w, r, req)
	case "market_listEvents":
		s.handleMarketListEvents(w, r, req)
	case "account_getBalance":
		s.handleAccountGetBalance(w, r, req)
	case "account_mint":
		s.withPrincipal(w, r, req, s.cfg.Auth.AdminScope, s.handleAccountMint)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
}

type authedHandler func(w http.ResponseWriter, r *http.Request, req *RPCRequest, caller *Principal)

func (s *Server) withPrincipal(w http.ResponseWriter, r *http.Request, req *RPCRequest, scope string, next authedHandler) {
	principal, err := s.auth.Authenticate(r)
	if err != nil {
		observability.ModuleMetrics().RecordThrottle(rpcModule, "unauthorized")
		s.logger.Warn("rpc authentication failed",
			slog.String("method", req.Method),
			slog.String("requestId", requestIDFrom(r.Context())),
			slog.String("remote", s.limiter.source(r)),
			slog.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "unauthorized", err.Error())
		return
	}
	if scope != "" && !principal.HasScope(scope) {
		writeError(w, http.StatusForbidden, req.ID, codeForbidden, "forbidden", fmt.Sprintf("scope %s required", scope))
		return
	}
	next(w, r, req, principal)
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return errors.New("exactly one parameter object expected")
	}
	dec := json.NewDecoder(bytes.NewReader(req.Params[0]))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
