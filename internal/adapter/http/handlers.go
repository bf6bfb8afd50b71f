package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers bundles the services the HTTP surface depends on.
type Handlers struct {
	Auth    AuthLoginer
	Tenants TenantAdmin
	Traffic BlacklistAdmin

	// Readiness probes. Either may be nil when the dependency is not
	// wired (tests, partial boots).
	DB    Pinger
	Cache Pinger

	Logger *slog.Logger
}

// Health handles GET /health: process liveness only.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /health/ready: liveness of the relational store and
// the shared cache. Either being down makes the instance unready even
// though traffic control would fail open.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	probe := func(name string, p Pinger) {
		if p == nil {
			checks[name] = "skipped"
			return
		}
		if err := p.Ping(ctx); err != nil {
			checks[name] = "down"
			healthy = false
			h.Logger.Warn("readiness probe failed", "dependency", name, "error", err)
			return
		}
		checks[name] = "up"
	}
	probe("postgres", h.DB)
	probe("redis", h.Cache)

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, checks)
}
