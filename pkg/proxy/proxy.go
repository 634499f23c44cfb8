// Package proxy is the gateway's HTTP surface: management endpoints,
// a validate-only endpoint, the validating forwarder, and the guarded
// MCP server mount.
//
// Mounted routes:
//   - GET  /                → health probe
//   - GET  /health          → health probe
//   - GET  /license         → entitlement status
//   - GET  /metrics         → Prometheus collectors
//   - POST /validate        → decision only, nothing forwarded
//   - POST /proxy/{target}  → validate then forward to the target
//   - /mcp                  → guarded MCP server (streamable HTTP)
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcpscan/mcpscan/pkg/defaults"
	"github.com/mcpscan/mcpscan/pkg/duration"
	"github.com/mcpscan/mcpscan/pkg/gateway"
	"github.com/mcpscan/mcpscan/pkg/httpclient"
	"github.com/mcpscan/mcpscan/pkg/jsonutil"
)

// maxForwardBody caps how much of a target's response is read (8 MiB).
// Request bodies are capped separately by Config.MaxRequestSize.
const maxForwardBody = 8 << 20

// Config controls the proxy server.
type Config struct {
	ListenAddress  string
	MaxRequestSize int64
	LogRequests    bool
	ForwardTimeout time.Duration
	// License reflects the resolved guardrail entitlement, surfaced on
	// the /license endpoint.
	License LicenseInfo
}

// DefaultConfig returns the stock proxy settings.
func DefaultConfig() Config {
	return Config{
		ListenAddress:  defaults.ProxyListenAddress,
		MaxRequestSize: defaults.MaxRequestSize,
		ForwardTimeout: duration.HTTPCall,
	}
}

// Server is the proxy HTTP server.
type Server struct {
	cfg       Config
	validator *gateway.Validator
	forward   *http.Client
	registry  *prometheus.Registry
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry mounts the given Prometheus registry on /metrics;
// register the gateway collectors on the same one.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// WithForwardClient overrides the pooled forwarding client.
func WithForwardClient(c *http.Client) Option {
	return func(s *Server) { s.forward = c }
}

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Server over a gateway validator.
func New(cfg Config, validator *gateway.Validator, opts ...Option) *Server {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaults.ProxyListenAddress
	}
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = defaults.MaxRequestSize
	}
	if cfg.ForwardTimeout <= 0 {
		cfg.ForwardTimeout = duration.HTTPCall
	}
	s := &Server{
		cfg:       cfg,
		validator: validator,
		forward:   httpclient.Default(),
		registry:  prometheus.NewRegistry(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /license", s.handleLicense)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("POST /validate", s.handleValidate)
	mux.HandleFunc("POST /proxy/{target}", s.handleProxy)
	mux.Handle("/mcp", newGuardedMCP(s).handler())
	return s.logged(mux)
}

// ListenAndServe runs the server until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.ListenAddress,
		Handler:      s.Handler(),
		ReadTimeout:  duration.ServerRead,
		WriteTimeout: duration.ServerWrite,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("proxy listening", "address", s.cfg.ListenAddress)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), duration.ServerShutdown)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) logged(next http.Handler) http.Handler {
	if !s.cfg.LogRequests {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request", "method", r.Method, "path", r.URL.Path,
			"remote", r.RemoteAddr, "elapsed", time.Since(started))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": defaults.ToolName + "-proxy",
		"version": defaults.Version,
	})
}

func (s *Server) handleLicense(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"license":   s.cfg.License.status(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleValidate renders a decision without forwarding anything.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	request, ok := s.readRequest(w, r)
	if !ok {
		return
	}
	d := s.validator.Validate(r.Context(), request)
	writeJSON(w, http.StatusOK, decisionBody(d))
}

// handleProxy validates the request and forwards approved ones to the
// named target. Blocked and failed requests both come back as JSON-RPC
// error envelopes carrying the original request id.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	request, ok := s.readRequest(w, r)
	if !ok {
		return
	}
	id := request["id"]

	d := s.validator.Validate(r.Context(), request)
	if !d.Allow {
		writeJSON(w, http.StatusOK, blockedEnvelope(id, d))
		return
	}

	response, err := s.forwardToTarget(r.Context(), r.PathValue("target"), request, r.Header)
	if err != nil {
		s.logger.Error("forward failed", "target", r.PathValue("target"), "error", err)
		writeJSON(w, http.StatusOK, internalEnvelope(id, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, response)
}

// forwardToTarget posts the request to the target MCP server. Bare
// hostnames get an http:// scheme; Authorization and X-* headers are
// carried over, nothing else.
func (s *Server) forwardToTarget(ctx context.Context, target string, request map[string]any, headers http.Header) (map[string]any, error) {
	targetURL := target
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		targetURL = "http://" + target
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ForwardTimeout)
	defer cancel()

	body, err := jsonutil.Marshal(request)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", target, err)
	}
	req.Header.Set("Content-Type", defaults.ContentTypeJSON)
	for name, values := range headers {
		lower := strings.ToLower(name)
		if lower == "authorization" || strings.HasPrefix(lower, "x-") {
			for _, v := range values {
				req.Header.Add(name, v)
			}
		}
	}

	resp, err := s.forward.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxForwardBody))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("target returned status %d", resp.StatusCode)
	}

	var response map[string]any
	if err := jsonutil.Unmarshal(raw, &response); err != nil {
		return nil, fmt.Errorf("target returned invalid JSON: %w", err)
	}
	return response, nil
}

// readRequest decodes a size-capped JSON body. Oversized or invalid
// bodies answer with a JSON-RPC invalid-request envelope.
func (s *Server) readRequest(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestSize)
	raw, err := io.ReadAll(body)
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge,
			invalidEnvelope(nil, "request exceeds the size limit"))
		return nil, false
	}
	var request map[string]any
	if err := jsonutil.Unmarshal(raw, &request); err != nil {
		writeJSON(w, http.StatusBadRequest,
			invalidEnvelope(nil, "request body is not valid JSON"))
		return nil, false
	}
	return request, true
}

func decisionBody(d gateway.Decision) map[string]any {
	return map[string]any{
		"valid":       d.Allow,
		"reason":      d.Reason,
		"request_id":  d.RequestID,
		"fingerprint": d.Fingerprint,
		"source":      d.Source,
		"cached":      d.Cached,
		"timestamp":   d.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func blockedEnvelope(id any, d gateway.Decision) map[string]any {
	return map[string]any{
		"jsonrpc": defaults.JSONRPCVersion,
		"id":      id,
		"error": map[string]any{
			"code":    -32600,
			"message": "Request blocked by security guardrails",
			"data": map[string]any{
				"reason":     d.Reason,
				"request_id": d.RequestID,
				"source":     d.Source,
			},
		},
	}
}

func internalEnvelope(id any, details string) map[string]any {
	return map[string]any{
		"jsonrpc": defaults.JSONRPCVersion,
		"id":      id,
		"error": map[string]any{
			"code":    -32603,
			"message": "Internal proxy error",
			"data":    map[string]any{"details": details},
		},
	}
}

func invalidEnvelope(id any, details string) map[string]any {
	return map[string]any{
		"jsonrpc": defaults.JSONRPCVersion,
		"id":      id,
		"error": map[string]any{
			"code":    -32600,
			"message": "Invalid request",
			"data":    map[string]any{"details": details},
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", defaults.ContentTypeJSON)
	w.WriteHeader(status)
	_ = jsonutil.MarshalWrite(w, v)
}
