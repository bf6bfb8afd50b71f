package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nimbuscrm/nimbus/internal/middleware"
	"github.com/nimbuscrm/nimbus/internal/service"
)

type fakeChecker struct {
	decision service.Decision
	calls    int
	gotNS    string
	gotAddr  string
}

func (f *fakeChecker) CheckRequest(_ context.Context, ns, addr string) service.Decision {
	f.calls++
	f.gotNS = ns
	f.gotAddr = addr
	return f.decision
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestTraffic_Allowed_SetsRemainingHeader(t *testing.T) {
	checker := &fakeChecker{decision: service.Decision{Allowed: true, Remaining: 42}}
	handler := middleware.Traffic(checker)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/contacts", http.NoBody)
	req.RemoteAddr = "203.0.113.7:54321"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "42" {
		t.Errorf("X-RateLimit-Remaining = %q, want 42", got)
	}
	if checker.gotAddr != "203.0.113.7" {
		t.Errorf("client addr = %q, want 203.0.113.7", checker.gotAddr)
	}
}

func TestTraffic_Options_Bypasses(t *testing.T) {
	checker := &fakeChecker{decision: service.Decision{Allowed: false, Reason: service.ReasonBlacklisted}}
	handler := middleware.Traffic(checker)(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/contacts", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if checker.calls != 0 {
		t.Errorf("checker called %d times for preflight, want 0", checker.calls)
	}
}

func TestTraffic_Blacklisted_Returns403(t *testing.T) {
	checker := &fakeChecker{decision: service.Decision{Allowed: false, Reason: service.ReasonBlacklisted}}
	handler := middleware.Traffic(checker)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/contacts", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestTraffic_RateLimited_Returns429WithRetryAfter(t *testing.T) {
	checker := &fakeChecker{decision: service.Decision{
		Allowed:    false,
		Reason:     service.ReasonRateLimited,
		RetryAfter: 3 * time.Second,
	}}
	handler := middleware.Traffic(checker)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/contacts", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "3" {
		t.Errorf("Retry-After = %q, want 3", got)
	}
}

func TestTraffic_FailOpen_AllowsWithoutRemainingHeader(t *testing.T) {
	checker := &fakeChecker{decision: service.Decision{Allowed: true, Reason: service.ReasonFailOpen}}
	handler := middleware.Traffic(checker)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/contacts", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "" {
		t.Errorf("X-RateLimit-Remaining = %q, want unset on fail-open", got)
	}
}

func TestClientAddr_ForwardedFor(t *testing.T) {
	tests := []struct {
		name   string
		xff    string
		remote string
		want   string
	}{
		{"first hop wins", "198.51.100.1, 10.0.0.2", "10.0.0.1:1234", "198.51.100.1"},
		{"single hop", "198.51.100.9", "10.0.0.1:1234", "198.51.100.9"},
		{"no header falls back to peer", "", "203.0.113.5:443", "203.0.113.5"},
		{"whitespace trimmed", "  198.51.100.3 ,10.0.0.2", "10.0.0.1:1234", "198.51.100.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := middleware.ClientAddr(req); got != tt.want {
				t.Errorf("ClientAddr() = %q, want %q", got, tt.want)
			}
		})
	}
}
