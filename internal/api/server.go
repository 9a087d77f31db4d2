// Package api exposes the HTTP interface for the wake gateway.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wakegate/wakegate/internal/config"
	"github.com/wakegate/wakegate/internal/gateway"
	"github.com/wakegate/wakegate/internal/policy/ratelimit"
	"github.com/wakegate/wakegate/internal/telemetry"
)

// Server wires HTTP handlers to the gateway and backend client.
type Server struct {
	router  chi.Router
	gateway *gateway.Gateway
	backend gateway.Backend
	limiter *ratelimit.Limiter
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(gw *gateway.Gateway, be gateway.Backend, cfg config.Config, logger *zap.Logger) *Server {
	s := &Server{
		gateway: gw,
		backend: be,
		cfg:     cfg,
		logger:  logger,
	}
	if cfg.RateLimit.RPS > 0 {
		s.limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.RPS,
			DefaultBurst: cfg.RateLimit.Burst,
		})
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(telemetry.Middleware)
	if s.limiter != nil {
		r.Use(s.rateLimitMiddleware)
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	// Backend passthrough surface.
	r.Get("/health", s.backendHealth)
	r.Post("/wake", s.backendWake)

	r.Route("/api", func(r chi.Router) {
		r.Get("/{task}", s.forwardTask)
		r.Get("/{task}/*", s.forwardTaskPath)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// The gateway is ready as soon as config parsed; backend liveness is
	// probed per request, not here.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// backendHealth mirrors the backend's own health contract: 200 when the
// probe answers, 503 while it sleeps.
func (s *Server) backendHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Probe(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": string(gateway.StateSleeping)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(gateway.StateReady)})
}

// backendWake relays an advisory wake signal and answers immediately. The
// call is detached from the request context so it outlives the response.
func (s *Server) backendWake(w http.ResponseWriter, r *http.Request) {
	telemetry.ObserveWakeSignal()
	wakeCtx := context.WithoutCancel(r.Context())
	go func() {
		if err := s.backend.Wake(wakeCtx); err != nil {
			s.logger.Debug("wake passthrough failed", zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": string(gateway.StateWaking)})
}

func (s *Server) forwardTask(w http.ResponseWriter, r *http.Request) {
	task := chi.URLParam(r, "task")
	query := r.URL.Query()
	if query.Get("url") == "" {
		telemetry.ObserveRequest(task, "invalid")
		writeError(w, http.StatusBadRequest, "missing 'url' query parameter")
		return
	}
	s.process(w, r, task, r.URL.RawQuery, parseWait(query.Get("wait")))
}

// forwardTaskPath accepts the target URL as the remainder of the path,
// percent-encoded, e.g. /api/hubcloud/https%3A%2F%2Fexample.com%2Ff.
func (s *Server) forwardTaskPath(w http.ResponseWriter, r *http.Request) {
	task := chi.URLParam(r, "task")
	rest := chi.URLParam(r, "*")
	target, err := url.PathUnescape(rest)
	if err != nil || target == "" {
		telemetry.ObserveRequest(task, "invalid")
		writeError(w, http.StatusBadRequest, "missing target URL in path")
		return
	}
	query := r.URL.Query()
	query.Set("url", target)
	s.process(w, r, task, query.Encode(), parseWait(query.Get("wait")))
}

func (s *Server) process(w http.ResponseWriter, r *http.Request, task, rawQuery string, wait bool) {
	outcome, err := s.gateway.Process(r.Context(), task, rawQuery, wait)
	if err != nil {
		// Client went away; nothing useful left to write.
		writeError(w, http.StatusServiceUnavailable, "request canceled")
		return
	}
	if outcome.Deferred {
		s.writeDeferral(w, outcome)
		return
	}
	result := outcome.Result
	if result.ContentType != "" {
		w.Header().Set("Content-Type", result.ContentType)
	}
	w.WriteHeader(result.StatusCode)
	if _, err := w.Write(result.Body); err != nil {
		s.logger.Warn("write forwarded response failed", zap.Error(err))
	}
}

func (s *Server) writeDeferral(w http.ResponseWriter, outcome *gateway.Outcome) {
	w.Header().Set("Retry-After", strconv.Itoa(outcome.RetryAfterSeconds))
	writeJSON(w, http.StatusAccepted, deferralResponse{
		Status:     string(gateway.StateWaking),
		RetryAfter: outcome.RetryAfterSeconds,
		Message: fmt.Sprintf("Backend is starting. Retry after %d seconds.",
			outcome.RetryAfterSeconds),
	})
}

type deferralResponse struct {
	Status     string `json:"status"`
	RetryAfter int    `json:"retry_after"`
	Message    string `json:"message"`
}

// parseWait interprets the optional wait query param. Anything that does
// not clearly say "no" keeps the default blocking behavior.
func parseWait(raw string) bool {
	if raw == "" {
		return true
	}
	wait, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return wait
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientAddr(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
