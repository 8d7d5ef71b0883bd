package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"launchpool/core/events"
	"launchpool/native/registry"
	"launchpool/native/sale"
)

const jsonRPCVersion = "2.0"

// JSON-RPC error codes. The -3204x block belongs to the sale module, the
// -3205x block to the registry.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeRateLimited    = -32010

	codeSaleNotFound  = -32040
	codeSaleForbidden = -32041
	codeSaleRejected  = -32042

	codeRegistryRejected = -32050
)

// RPCRequest is the JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// RPCResponse is the JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError carries a stable code plus the engine's reason string.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type handlerFunc func(params json.RawMessage) (interface{}, *RPCError)

// Server exposes the sale and registry engines over JSON-RPC.
type Server struct {
	sales    *sale.Engine
	registry *registry.Engine
	events   *events.Ring
	logger   *slog.Logger
	limiter  *rate.Limiter
	handlers map[string]handlerFunc
	http     *http.Server
}

// NewServer wires the engines behind the RPC surface. The limiter guards the
// whole endpoint; pass a zero limit to disable throttling.
func NewServer(sales *sale.Engine, reg *registry.Engine, ring *events.Ring, logger *slog.Logger, limit float64, burst int) *Server {
	s := &Server{
		sales:    sales,
		registry: reg,
		events:   ring,
		logger:   logger,
	}
	if limit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
	s.handlers = map[string]handlerFunc{}
	s.registerSaleHandlers()
	s.registerRegistryHandlers()
	return s
}

// Router builds the HTTP routing table: the RPC endpoint plus health and
// metrics probes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/rpc", s.handleRPC)
	return r
}

// Start serves the RPC surface until the context is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	if s.limiter != nil && !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}
	req := &RPCRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	method := strings.TrimSpace(req.Method)
	if method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	handler, ok := s.handlers[method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "unknown method", method)
		return
	}
	result, rpcErr := handler(req.Params)
	observeRequest(method, rpcErr == nil, time.Since(started))
	if rpcErr != nil {
		if s.logger != nil {
			s.logger.Warn("rpc request rejected",
				slog.String("method", method),
				slog.Int("code", rpcErr.Code),
				slog.String("reason", rpcErr.Message))
		}
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	writeResult(w, req.ID, result)
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func decodeParams(raw json.RawMessage, out interface{}) *RPCError {
	if len(raw) == 0 {
		return &RPCError{Code: codeInvalidParams, Message: "params required"}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: "malformed params", Data: err.Error()}
	}
	return nil
}

func engineError(err error) *RPCError {
	switch {
	case errors.Is(err, sale.ErrSaleNotFound):
		return &RPCError{Code: codeSaleNotFound, Message: err.Error()}
	case errors.Is(err, sale.ErrNotOwner),
		errors.Is(err, sale.ErrNotGovernance),
		errors.Is(err, sale.ErrNotOperator),
		errors.Is(err, sale.ErrVestingForbidden):
		return &RPCError{Code: codeSaleForbidden, Message: err.Error()}
	case errors.Is(err, registry.ErrTokenReserved),
		errors.Is(err, registry.ErrInsufficientFunds):
		return &RPCError{Code: codeRegistryRejected, Message: err.Error()}
	default:
		return &RPCError{Code: codeSaleRejected, Message: err.Error()}
	}
}

func parseAddress(encoded string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(encoded), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q", encoded)
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("invalid address length %d", len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

func parseSaleID(encoded string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(encoded), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) != len(id) {
		return id, fmt.Errorf("invalid sale id %q", encoded)
	}
	copy(id[:], raw)
	return id, nil
}

func parseAmount(encoded string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(encoded), 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", encoded)
	}
	return amount, nil
}
