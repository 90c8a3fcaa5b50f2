package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Bacchus45/stemtok-dispatch/pkg/logging"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Gate decides whether the upstream can take another request and learns
// from response headers. *ratelimit.Tracker implements it.
type Gate interface {
	ShouldAllowRequest(ctx context.Context) (bool, error)
	UpdateFromHeaders(ctx context.Context, headers http.Header) error
}

// Config holds the dispatcher configuration.
type Config struct {
	// BaseURL is prepended to every request endpoint. When empty, endpoints
	// must be absolute URLs.
	BaseURL string

	// DefaultHeaders are sent with every request; per-request headers win.
	DefaultHeaders map[string]string

	// RequestTimeout bounds each individual request (0 = no deadline).
	RequestTimeout time.Duration

	// MaxConcurrency caps in-flight requests per batch (0 = all at once).
	MaxConcurrency int

	// Local throughput limit in requests per second (0 = unlimited).
	RateLimit float64
	RateBurst int

	// Retry backoff: delay before attempt n+1 is
	// InitialBackoff * BackoffMultiplier^(n-1), capped at MaxBackoff (0 = no cap).
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
	BackoffJitter     float64 // randomization factor in [0, 1)

	// RetryClientErrors retries every failure, including 4xx responses.
	RetryClientErrors bool

	// Gate is an optional shared upstream error budget.
	Gate Gate

	// HTTPClient overrides the default transport (mainly for tests).
	HTTPClient *http.Client

	// Logger overrides the default component logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns the default configuration for an upstream base URL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL: baseURL,
		DefaultHeaders: map[string]string{
			"Accept": "application/json",
		},
		RequestTimeout:    30 * time.Second,
		InitialBackoff:    2 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Dispatcher executes independent HTTP requests. It holds no per-call state
// and is safe for concurrent use.
type Dispatcher struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
	limiter    *rate.Limiter
	gate       Gate
	config     Config
	logger     zerolog.Logger

	// newTimer replaces the backoff timer in tests.
	newTimer func() backoff.Timer
}

// New creates a new dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
		}
	}

	if cfg.RequestTimeout < 0 {
		return nil, fmt.Errorf("request_timeout must be >= 0 (got %s)", cfg.RequestTimeout)
	}

	if cfg.MaxConcurrency < 0 {
		return nil, fmt.Errorf("max_concurrency must be >= 0 (got %d)", cfg.MaxConcurrency)
	}

	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("rate_limit must be >= 0 (got %g)", cfg.RateLimit)
	}

	if cfg.InitialBackoff <= 0 {
		return nil, fmt.Errorf("initial_backoff must be > 0 (got %s)", cfg.InitialBackoff)
	}

	if cfg.BackoffMultiplier < 1 {
		return nil, fmt.Errorf("backoff_multiplier must be >= 1 (got %g)", cfg.BackoffMultiplier)
	}

	if cfg.BackoffJitter < 0 || cfg.BackoffJitter >= 1 {
		return nil, fmt.Errorf("backoff_jitter must be in [0, 1) (got %g)", cfg.BackoffJitter)
	}

	logger := logging.NewLogger("batch-dispatcher")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	headers := make(map[string]string, len(cfg.DefaultHeaders))
	for k, v := range cfg.DefaultHeaders {
		headers[k] = v
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Dispatcher{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		headers:    headers,
		limiter:    limiter,
		gate:       cfg.Gate,
		config:     cfg,
		logger:     logger,
	}, nil
}

// DispatchBatch issues every request concurrently and returns one Response
// per Request at the same index. Failures are captured in the Response; the
// call itself never fails.
func (d *Dispatcher) DispatchBatch(ctx context.Context, requests []Request) []Response {
	responses := make([]Response, len(requests))
	if len(requests) == 0 {
		return responses
	}

	start := time.Now()
	logger := d.logger.With().
		Str("batch_id", uuid.NewString()).
		Int("size", len(requests)).
		Logger()
	dispatchBatchSize.Observe(float64(len(requests)))

	var g errgroup.Group
	if d.config.MaxConcurrency > 0 {
		g.SetLimit(d.config.MaxConcurrency)
	}
	for i := range requests {
		i := i
		g.Go(func() error {
			responses[i] = d.dispatchSlot(ctx, logger, requests[i])
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range responses {
		if !r.OK() {
			failed++
		}
	}

	logger.Info().
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Batch complete")

	return responses
}

// Dispatch issues a single request and returns its JSON payload. Failures
// are returned as *Error.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (json.RawMessage, error) {
	_, data, err := d.do(ctx, d.logger, req)
	return data, err
}

// dispatchSlot runs one batch entry and converts its outcome to a Response.
// logger carries the batch_id.
func (d *Dispatcher) dispatchSlot(ctx context.Context, logger zerolog.Logger, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("id", req.ID).
				Interface("panic", r).
				Msg("Request panicked")
			resp = failureResponse(req.ID, &Error{
				StatusCode: StatusFailed,
				ErrorClass: ErrorClassInvalid,
				Message:    fmt.Sprintf("panic: %v", r),
			})
		}
	}()

	status, data, err := d.do(ctx, logger, req)
	if err != nil {
		return failureResponse(req.ID, err)
	}
	return successResponse(req.ID, status, data)
}

// do performs one HTTP exchange and decodes the JSON body.
func (d *Dispatcher) do(ctx context.Context, logger zerolog.Logger, req Request) (int, json.RawMessage, error) {
	method := string(req.Method)
	if !req.Method.Valid() {
		method = "invalid"
	}

	start := time.Now()
	defer func() {
		dispatchRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	status, data, err := d.exchange(ctx, logger, req)
	if err != nil {
		de := asError(err)
		dispatchErrorsTotal.WithLabelValues(string(de.ErrorClass)).Inc()
		dispatchRequestsTotal.WithLabelValues(method, strconv.Itoa(de.StatusCode)).Inc()

		logger.Warn().
			Str("id", req.ID).
			Str("method", method).
			Str("endpoint", req.Endpoint).
			Int("status", de.StatusCode).
			Str("error_class", string(de.ErrorClass)).
			Msg(de.Message)
		return de.StatusCode, nil, de
	}

	dispatchRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	logger.Debug().
		Str("id", req.ID).
		Str("method", method).
		Str("endpoint", req.Endpoint).
		Int("status", status).
		Dur("duration", time.Since(start)).
		Msg("Request succeeded")

	return status, data, nil
}

func (d *Dispatcher) exchange(ctx context.Context, logger zerolog.Logger, req Request) (int, json.RawMessage, error) {
	if !req.Method.Valid() {
		return 0, nil, &Error{
			StatusCode: StatusFailed,
			ErrorClass: ErrorClassInvalid,
			Message:    fmt.Sprintf("unsupported method %q", req.Method),
			Err:        ErrInvalidMethod,
		}
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return 0, nil, &Error{
				StatusCode: StatusFailed,
				ErrorClass: ErrorClassNetwork,
				Message:    fmt.Sprintf("rate limiter: %v", err),
				Err:        err,
			}
		}
	}

	if d.gate != nil {
		allowed, err := d.gate.ShouldAllowRequest(ctx)
		if err != nil {
			return 0, nil, &Error{
				StatusCode: StatusFailed,
				ErrorClass: ErrorClassNetwork,
				Message:    fmt.Sprintf("error budget check: %v", err),
				Err:        err,
			}
		}
		if !allowed {
			return 0, nil, &Error{
				StatusCode: http.StatusServiceUnavailable,
				ErrorClass: ErrorClassBlocked,
				Message:    ErrBlocked.Error(),
				Err:        ErrBlocked,
			}
		}
	}

	if d.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.RequestTimeout)
		defer cancel()
	}

	httpReq, err := d.newHTTPRequest(ctx, req)
	if err != nil {
		return 0, nil, &Error{
			StatusCode: StatusFailed,
			ErrorClass: ErrorClassInvalid,
			Message:    err.Error(),
			Err:        err,
		}
	}

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, &Error{
			StatusCode: StatusFailed,
			ErrorClass: ErrorClassNetwork,
			Message:    err.Error(),
			Err:        err,
		}
	}
	defer resp.Body.Close()

	if d.gate != nil {
		if err := d.gate.UpdateFromHeaders(ctx, resp.Header); err != nil {
			logger.Warn().Err(err).Msg("Failed to update error budget from headers")
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil, httpError(resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &Error{
			StatusCode: StatusFailed,
			ErrorClass: ErrorClassNetwork,
			Message:    fmt.Sprintf("read response body: %v", err),
			Err:        err,
		}
	}

	data, err := decodeBody(resp.StatusCode, body)
	if err != nil {
		return 0, nil, err
	}

	return resp.StatusCode, data, nil
}

// newHTTPRequest builds the outgoing request: base URL + endpoint, JSON body,
// default headers overridden by per-request headers.
func (d *Dispatcher) newHTTPRequest(ctx context.Context, req Request) (*http.Request, error) {
	target, err := d.resolve(req.Endpoint)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, string(req.Method), target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for k, v := range d.headers {
		httpReq.Header.Set(k, v)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	return httpReq, nil
}

// resolve joins the base URL and an endpoint path.
func (d *Dispatcher) resolve(endpoint string) (string, error) {
	if d.baseURL == "" {
		if _, err := url.ParseRequestURI(endpoint); err != nil {
			return "", fmt.Errorf("invalid endpoint without base url: %q: %w", endpoint, err)
		}
		return endpoint, nil
	}

	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return d.baseURL + endpoint, nil
}

// decodeBody validates a success body as JSON. Only a 204 may be empty; it
// decodes to null.
func decodeBody(status int, body []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 && status == http.StatusNoContent {
		return json.RawMessage("null"), nil
	}
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return nil, &Error{
			StatusCode: StatusFailed,
			ErrorClass: ErrorClassDecode,
			Message:    "response body is not valid JSON",
		}
	}
	return json.RawMessage(trimmed), nil
}
