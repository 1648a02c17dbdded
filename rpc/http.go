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
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"luxmarket/core"
	"luxmarket/observability"
)

const (
	jsonRPCVersion         = "2.0"
	defaultMaxRequestBytes = 1 << 20 // 1 MiB
	requestIDHeader        = "X-Request-ID"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeConflict       = -32009
	codeTransferFailed = -32011
	codeRateLimited    = -32020
	codeModulePaused   = -32030
)

// ServerConfig carries the HTTP and access settings of the RPC listener.
type ServerConfig struct {
	MaxBodyBytes       int64
	RateLimitPerSecond float64
	RateLimitBurst     int
	TrustProxyHeaders  bool

	// JWTSecret signs admin and relayer bearer tokens. Admin methods are
	// rejected when it is empty.
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

type requestIDKey struct{}

// Server exposes the node over JSON-RPC 2.0 and streams committed events over
// a websocket.
type Server struct {
	node    *core.Node
	cfg     ServerConfig
	logger  *slog.Logger
	limiter *rateLimiter
	tokens  *tokenVerifier

	serverMu   sync.Mutex
	httpServer *http.Server
}

func NewServer(node *core.Node, logger *slog.Logger, cfg ServerConfig) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxRequestBytes
	}
	return &Server{
		node:    node,
		cfg:     cfg,
		logger:  logger,
		limiter: newRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		tokens:  newTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/events", s.handleEventsWS)
	r.With(s.rateLimit).Method(http.MethodPost, "/", otelhttp.NewHandler(http.HandlerFunc(s.handle), "luxmarket.rpc"))
	return r
}

// Serve accepts connections on listener until Shutdown is called.
func (s *Server) Serve(listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}
	s.serverMu.Lock()
	s.httpServer = srv
	s.serverMu.Unlock()

	s.logger.Info("starting JSON-RPC server", slog.String("addr", listener.Addr().String()))
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start listens on addr and serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(listener)
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	srv := s.httpServer
	s.serverMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`

	status int
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func newRPCError(status, code int, message string, data interface{}) *RPCError {
	return &RPCError{Code: code, Message: message, Data: data, status: status}
}

func invalidParams(message string, err error) *RPCError {
	var data interface{}
	if err != nil {
		data = err.Error()
	}
	return newRPCError(http.StatusBadRequest, codeInvalidParams, message, data)
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

type handlerFunc func(r *http.Request, req *RPCRequest) (interface{}, error)

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	reader := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
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
			message = fmt.Sprintf("request body exceeds %d bytes", s.cfg.MaxBodyBytes)
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

	handler, admin := s.route(req.Method)
	if handler == nil {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
		return
	}
	if admin {
		handler = s.requireAdmin(handler)
	}

	result, err := handler(r, req)
	code := 0
	if err != nil {
		rpcErr := toRPCError(err)
		code = rpcErr.Code
		s.logger.Warn("rpc call failed",
			slog.String("method", req.Method),
			slog.String("request_id", requestIDFrom(r.Context())),
			slog.Int("code", rpcErr.Code),
			slog.String("error", err.Error()))
		writeError(w, rpcErr.status, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	} else {
		writeResult(w, req.ID, result)
	}
	observability.ModuleMetrics().Observe(moduleFor(req.Method), req.Method, code, time.Since(started))
}

func (s *Server) route(method string) (handlerFunc, bool) {
	switch method {
	case "market_list":
		return s.handleMarketList, false
	case "market_buy":
		return s.handleMarketBuy, false
	case "market_withdraw":
		return s.handleMarketWithdraw, false
	case "market_renew":
		return s.handleMarketRenew, false
	case "market_getSale":
		return s.handleGetSale, false
	case "market_salesBySeller":
		return s.handleSalesBySeller, false
	case "market_salesByCollection":
		return s.handleSalesByCollection, false
	case "market_nonce":
		return s.handleNonce, false
	case "market_legacyHashUsed":
		return s.handleLegacyHashUsed, false
	case "market_domain":
		return s.handleDomain, false
	case "market_nextScheduleTime":
		return s.handleNextScheduleTime, false
	case "market_schedules":
		return s.handleSchedules, false
	case "market_duration":
		return s.handleDuration, false
	case "market_quoteServiceFee":
		return s.handleQuoteServiceFee, false
	case "market_quoteTransactionFees":
		return s.handleQuoteTransactionFees, false
	case "market_balanceOf":
		return s.handleBalanceOf, false
	case "market_ownerOf":
		return s.handleOwnerOf, false
	case "market_isPaused":
		return s.handleIsPaused, false
	case "fees_list":
		return s.handleFeesList, false
	case "admin_setSchedule":
		return s.handleAdminSetSchedule, true
	case "admin_setSchedules":
		return s.handleAdminSetSchedules, true
	case "admin_deactivateSchedule":
		return s.handleAdminDeactivateSchedule, true
	case "admin_setListingDelay":
		return s.handleAdminSetListingDelay, true
	case "admin_setDuration":
		return s.handleAdminSetDuration, true
	case "admin_removeDuration":
		return s.handleAdminRemoveDuration, true
	case "admin_addFee":
		return s.handleAdminAddFee, true
	case "admin_updateFee":
		return s.handleAdminUpdateFee, true
	case "admin_removeFee":
		return s.handleAdminRemoveFee, true
	case "admin_setFiatFeePercentage":
		return s.handleAdminSetFiatFee, true
	case "admin_setServiceFee":
		return s.handleAdminSetServiceFee, true
	case "admin_setMembershipFeePercentage":
		return s.handleAdminSetMembershipFee, true
	case "admin_setPaused":
		return s.handleAdminSetPaused, true
	case "admin_grantRole":
		return s.handleAdminGrantRole, true
	case "admin_revokeRole":
		return s.handleAdminRevokeRole, true
	case "admin_setRoleAddress":
		return s.handleAdminSetRoleAddress, true
	case "admin_setDefaultFiatPayment":
		return s.handleAdminSetDefaultFiat, true
	case "admin_setWhitelisted":
		return s.handleAdminSetWhitelisted, true
	case "admin_setMembershipTier":
		return s.handleAdminSetMembershipTier, true
	default:
		return nil, false
	}
}

func moduleFor(method string) string {
	for i := 0; i < len(method); i++ {
		if method[i] == '_' {
			return method[:i]
		}
	}
	return method
}

func (s *Server) ready() error {
	if s == nil || s.node == nil {
		return newRPCError(http.StatusServiceUnavailable, codeServerError, "node unavailable", nil)
	}
	return nil
}
