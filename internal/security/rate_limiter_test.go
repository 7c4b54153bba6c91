package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/raaihank/glasslm/internal/config"
)

func TestRateLimiterAllow(t *testing.T) {
	r := NewRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMin: 60, Burst: 2})
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	if !r.Allow("10.0.0.1") || !r.Allow("10.0.0.1") {
		t.Fatal("burst should be allowed")
	}
	if r.Allow("10.0.0.1") {
		t.Error("third request should be limited")
	}
	if !r.Allow("10.0.0.2") {
		t.Error("other clients have their own bucket")
	}

	now = now.Add(time.Second)
	if !r.Allow("10.0.0.1") {
		t.Error("bucket should refill after one second")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	r := NewRateLimiter(config.RateLimitConfig{Enabled: false, RequestsPerMin: 1, Burst: 1})
	for i := 0; i < 5; i++ {
		if !r.Allow("10.0.0.1") {
			t.Fatal("disabled limiter should allow everything")
		}
	}
	if r.Len() != 0 {
		t.Error("disabled limiter should not track clients")
	}
}

func TestCleanupOldClients(t *testing.T) {
	r := NewRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMin: 60, Burst: 1})
	now := time.Now()
	r.now = func() time.Time { return now }

	r.Allow("old")
	now = now.Add(2 * time.Hour)
	r.Allow("new")

	if removed := r.CleanupOldClients(time.Hour); removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 client left, got %d", r.Len())
	}
}

func TestMiddleware(t *testing.T) {
	r := NewRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMin: 60, Burst: 1})
	handler := r.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/mask", nil)
	req.RemoteAddr = "192.0.2.1:5555"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected first request through, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	if got := ClientIP(req); got != "192.0.2.1" {
		t.Errorf("unexpected remote ip %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := ClientIP(req); got != "203.0.113.7" {
		t.Errorf("unexpected forwarded ip %q", got)
	}
}
