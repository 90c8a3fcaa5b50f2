package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Bacchus45/stemtok-dispatch/internal/testutil"
	"github.com/Bacchus45/stemtok-dispatch/pkg/batch"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newTestProxy(t *testing.T, upstreamURL string, redisClient *redis.Client) *httptest.Server {
	t.Helper()

	cfg := &Config{
		UpstreamBaseURL: upstreamURL,
		RequestTimeout:  5 * time.Second,
		InitialBackoff:  time.Millisecond,
	}

	dispatcher, err := newDispatcher(cfg, redisClient, zerolog.Nop())
	if err != nil {
		t.Fatalf("newDispatcher() error = %v", err)
	}

	proxy := httptest.NewServer(newServer(dispatcher, redisClient, zerolog.Nop()).routes())
	t.Cleanup(proxy.Close)
	return proxy
}

func post(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func TestHealthzEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	healthzHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("UPSTREAM_BASE_URL", "https://api.example.com")

		cfg, err := loadConfig()
		if err != nil {
			t.Fatalf("loadConfig() error = %v", err)
		}
		if cfg.Port != "8080" {
			t.Errorf("Port = %q, want 8080", cfg.Port)
		}
		if cfg.RequestTimeout != 30*time.Second {
			t.Errorf("RequestTimeout = %v, want 30s", cfg.RequestTimeout)
		}
		if cfg.InitialBackoff != 2*time.Second {
			t.Errorf("InitialBackoff = %v, want 2s", cfg.InitialBackoff)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
		}
		if cfg.RedisURL != "" {
			t.Errorf("RedisURL = %q, want empty", cfg.RedisURL)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("UPSTREAM_BASE_URL", "https://api.example.com")
		t.Setenv("PORT", "9090")
		t.Setenv("REQUEST_TIMEOUT", "5s")
		t.Setenv("MAX_CONCURRENCY", "8")
		t.Setenv("RATE_LIMIT", "12.5")
		t.Setenv("LOG_PRETTY", "true")

		cfg, err := loadConfig()
		if err != nil {
			t.Fatalf("loadConfig() error = %v", err)
		}
		if cfg.Port != "9090" || cfg.RequestTimeout != 5*time.Second || cfg.MaxConcurrency != 8 {
			t.Errorf("unexpected config: %+v", cfg)
		}
		if cfg.RateLimit != 12.5 || !cfg.LogPretty {
			t.Errorf("unexpected config: %+v", cfg)
		}
	})

	t.Run("missing upstream", func(t *testing.T) {
		t.Setenv("UPSTREAM_BASE_URL", "")

		if _, err := loadConfig(); err == nil {
			t.Error("Expected error when UPSTREAM_BASE_URL is unset")
		}
	})
}

func TestRedisOptions(t *testing.T) {
	opts, err := redisOptions("localhost:6379")
	if err != nil {
		t.Fatalf("redisOptions() error = %v", err)
	}
	if opts.Addr != "localhost:6379" {
		t.Errorf("Addr = %q", opts.Addr)
	}

	opts, err = redisOptions("redis://cache.internal:6380/2")
	if err != nil {
		t.Fatalf("redisOptions() error = %v", err)
	}
	if opts.Addr != "cache.internal:6380" || opts.DB != 2 {
		t.Errorf("Addr = %q, DB = %d", opts.Addr, opts.DB)
	}

	if _, err := redisOptions("redis://:bad:port"); err == nil {
		t.Error("Expected error for malformed URL")
	}
}

func TestBatchEndpoint(t *testing.T) {
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()
	upstream.SetResponse("/feed", testutil.NewJSONResponse(`{"posts": 2}`))
	upstream.SetResponse("/broken", testutil.NewErrorResponse(http.StatusInternalServerError))

	proxy := newTestProxy(t, upstream.URL(), nil)

	resp, body := post(t, proxy.URL+"/batch", `[
		{"id": "a", "method": "GET", "endpoint": "/feed"},
		{"id": "b", "method": "GET", "endpoint": "/broken"},
		{"id": "c", "method": "POST", "endpoint": "/feed", "body": {"text": "gm"}}
	]`)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, body)
	}

	var responses []batch.Response
	if err := json.Unmarshal(body, &responses); err != nil {
		t.Fatalf("Failed to decode responses: %v", err)
	}
	if len(responses) != 3 {
		t.Fatalf("Expected 3 responses, got %d", len(responses))
	}

	for i, id := range []string{"a", "b", "c"} {
		if responses[i].ID != id {
			t.Errorf("responses[%d].ID = %q, want %q", i, responses[i].ID, id)
		}
	}
	if !responses[0].OK() || string(responses[0].Data) != `{"posts":2}` {
		t.Errorf("responses[0] = %+v", responses[0])
	}
	if responses[1].OK() || responses[1].Status != 500 {
		t.Errorf("responses[1] = %+v", responses[1])
	}
	if !responses[2].OK() {
		t.Errorf("responses[2] = %+v", responses[2])
	}
}

func TestBatchEndpoint_InvalidBody(t *testing.T) {
	proxy := newTestProxy(t, "https://api.example.com", nil)

	resp, _ := post(t, proxy.URL+"/batch", `{"not": "an array"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
}

func TestDispatchEndpoint(t *testing.T) {
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()
	upstream.SetSequence("/flaky",
		testutil.NewErrorResponse(http.StatusBadGateway),
		testutil.NewJSONResponse(`{"ok": true}`),
	)
	upstream.SetResponse("/missing", testutil.NewErrorResponse(http.StatusNotFound))

	proxy := newTestProxy(t, upstream.URL(), nil)

	t.Run("retried_until_success", func(t *testing.T) {
		resp, body := post(t, proxy.URL+"/dispatch?attempts=3", `{"id": "f", "method": "GET", "endpoint": "/flaky"}`)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, body)
		}

		var out batch.Response
		if err := json.Unmarshal(body, &out); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if out.ID != "f" || string(out.Data) != `{"ok":true}` {
			t.Errorf("response = %+v", out)
		}
		if got := upstream.RequestCount("/flaky"); got != 2 {
			t.Errorf("upstream calls = %d, want 2", got)
		}
	})

	t.Run("upstream_failure", func(t *testing.T) {
		resp, body := post(t, proxy.URL+"/dispatch", `{"id": "m", "method": "GET", "endpoint": "/missing"}`)
		if resp.StatusCode != http.StatusBadGateway {
			t.Fatalf("Expected status 502, got %d", resp.StatusCode)
		}

		var out batch.Response
		if err := json.Unmarshal(body, &out); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if out.Status != http.StatusNotFound || out.Error == "" {
			t.Errorf("response = %+v", out)
		}
	})

	t.Run("invalid_attempts", func(t *testing.T) {
		for _, q := range []string{"0", "-2", "many"} {
			resp, _ := post(t, proxy.URL+"/dispatch?attempts="+q, `{"id": "x", "method": "GET", "endpoint": "/x"}`)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("attempts=%s: expected status 400, got %d", q, resp.StatusCode)
			}
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()
	upstream.SetResponse("/down", testutil.NewErrorResponse(http.StatusServiceUnavailable))

	proxy := newTestProxy(t, upstream.URL(), nil)

	tests := []struct {
		name   string
		query  string
		status int
		report batch.HealthStatus
	}{
		{"no endpoints", "", http.StatusOK, batch.HealthHealthy},
		{"healthy", "?endpoint=/up", http.StatusOK, batch.HealthHealthy},
		{"degraded", "?endpoint=/up&endpoint=/down", http.StatusServiceUnavailable, batch.HealthDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := get(t, proxy.URL+"/health"+tt.query)
			if resp.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, resp.StatusCode)
			}

			var report batch.HealthReport
			if err := json.Unmarshal(body, &report); err != nil {
				t.Fatalf("Failed to decode report: %v", err)
			}
			if report.Status != tt.report {
				t.Errorf("report.Status = %q, want %q", report.Status, tt.report)
			}
		})
	}
}

func TestReadyEndpoint_WithoutRedis(t *testing.T) {
	proxy := newTestProxy(t, "https://api.example.com", nil)

	resp, body := get(t, proxy.URL+"/ready")
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Errorf("Expected 200 OK, got %d %q", resp.StatusCode, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()

	proxy := newTestProxy(t, upstream.URL(), nil)
	post(t, proxy.URL+"/batch", `[{"id": "a", "method": "GET", "endpoint": "/feed"}]`)

	resp, body := get(t, proxy.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	bodyStr := string(body)
	if !strings.Contains(bodyStr, "# HELP") || !strings.Contains(bodyStr, "# TYPE") {
		t.Error("Expected Prometheus format metrics output")
	}
	for _, name := range []string{"dispatch_requests_total", "dispatch_batch_size"} {
		if !strings.Contains(bodyStr, name) {
			t.Errorf("Expected metrics output to contain %s", name)
		}
	}
}
