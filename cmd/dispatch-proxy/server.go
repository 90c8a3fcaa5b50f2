package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Bacchus45/stemtok-dispatch/pkg/batch"
	"github.com/Bacchus45/stemtok-dispatch/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// server exposes a Dispatcher over HTTP.
type server struct {
	dispatcher *batch.Dispatcher
	redis      *redis.Client // nil when running without a shared budget
	logger     zerolog.Logger
}

func newServer(dispatcher *batch.Dispatcher, redisClient *redis.Client, logger zerolog.Logger) *server {
	return &server{
		dispatcher: dispatcher,
		redis:      redisClient,
		logger:     logger,
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(s.withLogging)

	r.Post("/batch", s.handleBatch)
	r.Post("/dispatch", s.handleDispatch)
	r.Get("/health", s.handleHealth)
	r.Get("/healthz", healthzHandler)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}

func (s *server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("size", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("Request processed")
	})
}

// handleBatch accepts a JSON array of requests and answers with the
// responses in the same order.
func (s *server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var requests []batch.Request
	if err := decodeJSON(w, r, &requests); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	responses := s.dispatcher.DispatchBatch(r.Context(), requests)
	s.writeJSON(w, http.StatusOK, responses)
}

// handleDispatch runs one request with retry. attempts defaults to 1.
func (s *server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	attempts := 1
	if raw := r.URL.Query().Get("attempts"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, fmt.Sprintf("attempts must be a positive integer (got %q)", raw), http.StatusBadRequest)
			return
		}
		attempts = n
	}

	var req batch.Request
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := s.dispatcher.DispatchWithRetry(r.Context(), req, attempts)
	if err != nil {
		resp := batch.Response{ID: req.ID, Status: batch.StatusFailed, Error: err.Error()}
		var de *batch.Error
		if errors.As(err, &de) {
			resp.Status = de.StatusCode
		}
		s.writeJSON(w, http.StatusBadGateway, resp)
		return
	}

	s.writeJSON(w, http.StatusOK, batch.Response{ID: req.ID, Status: http.StatusOK, Data: data})
}

// handleHealth checks every ?endpoint= value against the upstream.
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.dispatcher.CheckHealth(r.Context(), r.URL.Query()["endpoint"])

	status := http.StatusOK
	if report.Status != batch.HealthHealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, report)
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// handleReady reports whether the shared error budget store is reachable.
func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.redis != nil {
		if err := s.redis.Ping(r.Context()).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("Readiness check failed")
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write response")
	}
}
