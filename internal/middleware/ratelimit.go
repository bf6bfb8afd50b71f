package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"

	"github.com/nimbuscrm/nimbus/internal/service"
)

// TrafficChecker runs the admission decision for one request.
type TrafficChecker interface {
	CheckRequest(ctx context.Context, ns, clientAddr string) service.Decision
}

// Traffic returns middleware that admits or rejects requests through the
// atomic token-bucket engine. It runs after Tenant so the bucket is keyed
// by (namespace, client address). Preflight requests are never limited.
func Traffic(engine TrafficChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			addr := ClientAddr(r)
			d := engine.CheckRequest(r.Context(), NamespaceFromContext(r.Context()), addr)

			if d.Allowed {
				if d.Reason != service.ReasonFailOpen {
					w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", d.Remaining))
				}
				next.ServeHTTP(w, r)
				return
			}

			switch d.Reason {
			case service.ReasonBlacklisted:
				writeJSON(w, http.StatusForbidden, map[string]string{
					"error": "forbidden",
				})
			case service.ReasonRateLimited:
				retry := int(math.Ceil(d.RetryAfter.Seconds()))
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retry))
				writeJSON(w, http.StatusTooManyRequests, map[string]string{
					"error": "rate limit exceeded",
				})
			default:
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"error": "service unavailable",
				})
			}
		})
	}
}

// ClientAddr extracts the best-effort client address: the first hop of the
// X-Forwarded-For chain when present, else the peer address. The deployment
// terminates TLS at its own proxy, which overwrites the header.
func ClientAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if addr := strings.TrimSpace(first); addr != "" {
			return addr
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
