package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"workchain/core"
	"workchain/native/escrow"
	"workchain/native/guard"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	// EnvToken names the environment variable holding the bearer token
	// required for mutating methods.
	EnvToken = "WORKCHAIN_RPC_TOKEN"

	// Transport-level throttle for mutating methods, per source address.
	mutationsPerSecond = 2
	mutationBurst      = 10
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
	codePaused         = -32030
	codeBlocked        = -32031
)

type Server struct {
	node      *core.Node
	authToken string
	logger    *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewServer(node *core.Node, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		node:      node,
		authToken: strings.TrimSpace(os.Getenv(EnvToken)),
		logger:    logger,
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return http.ListenAndServe(addr, mux)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
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
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

// writeNodeError translates domain failures into stable RPC codes so clients
// can distinguish throttles and guard rejections from plain bad requests.
func writeNodeError(w http.ResponseWriter, id interface{}, err error) {
	var limitErr *guard.LimitExceededError
	switch {
	case errors.As(err, &limitErr):
		writeError(w, http.StatusTooManyRequests, id, codeRateLimited, err.Error(), map[string]interface{}{
			"category": string(limitErr.Category),
			"limit":    limitErr.Limit,
		})
	case errors.Is(err, guard.ErrPaused):
		writeError(w, http.StatusServiceUnavailable, id, codePaused, err.Error(), nil)
	case errors.Is(err, guard.ErrBlocked):
		writeError(w, http.StatusForbidden, id, codeBlocked, err.Error(), nil)
	case errors.Is(err, core.ErrUnauthorized), errors.Is(err, escrow.ErrUnauthorized):
		writeError(w, http.StatusForbidden, id, codeUnauthorized, err.Error(), nil)
	default:
		writeError(w, http.StatusBadRequest, id, codeServerError, err.Error(), nil)
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
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
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
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

	handler, mutating := s.route(req.Method)
	if handler == nil {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	if mutating {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		if !s.allowSource(sourceAddr(r)) {
			writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "too many requests from source", nil)
			return
		}
	}
	handler(w, req)
}

func (s *Server) route(method string) (func(http.ResponseWriter, *RPCRequest), bool) {
	switch method {
	case "escrow_create":
		return s.handleEscrowCreate, true
	case "escrow_createToken":
		return s.handleEscrowCreateToken, true
	case "escrow_release":
		return s.handleEscrowRelease, true
	case "escrow_refund":
		return s.handleEscrowRefund, true
	case "dispute_raise":
		return s.handleDisputeRaise, true
	case "dispute_resolve":
		return s.handleDisputeResolve, true
	case "admin_block":
		return s.handleAdminBlock, true
	case "admin_unblock":
		return s.handleAdminUnblock, true
	case "admin_resetRateLimit":
		return s.handleAdminResetRateLimit, true
	case "admin_pause":
		return s.handleAdminPause, true
	case "admin_unpause":
		return s.handleAdminUnpause, true
	case "admin_updateConfig":
		return s.handleAdminUpdateConfig, true
	case "escrow_get":
		return s.handleEscrowGet, false
	case "escrow_getBySubject":
		return s.handleEscrowGetBySubject, false
	case "dispute_get":
		return s.handleDisputeGet, false
	case "dispute_listBySubject":
		return s.handleDisputeListBySubject, false
	case "dispute_listByActor":
		return s.handleDisputeListByActor, false
	case "security_metrics":
		return s.handleSecurityMetrics, false
	case "security_isBlocked":
		return s.handleSecurityIsBlocked, false
	case "security_rateLimitStatus":
		return s.handleSecurityRateLimitStatus, false
	case "audit_list":
		return s.handleAuditList, false
	default:
		return nil, false
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func sourceAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) allowSource(source string) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	limiter, ok := s.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(mutationsPerSecond), mutationBurst)
		s.limiters[source] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}

func firstParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) == 0 {
		return fmt.Errorf("missing params")
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}
