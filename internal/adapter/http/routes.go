package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nimbuscrm/nimbus/internal/adapter/otel"
	"github.com/nimbuscrm/nimbus/internal/config"
	"github.com/nimbuscrm/nimbus/internal/middleware"
)

// NewRouter builds the full HTTP surface.
//
// Three zones with different middleware stacks:
//
//   - /health: no tenant resolution, no traffic control; probes must
//     work while the shared store is down.
//   - /admin: token-guarded operator surface against the control schema,
//     no tenant resolution.
//   - /api/v1: tenant-resolved and traffic-controlled business routes.
func NewRouter(h *Handlers, cfg *config.Config, resolver middleware.NamespaceResolver, conns middleware.ConnProvider, traffic middleware.TrafficChecker, log *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(Logger)
	r.Use(SecurityHeaders)
	if cfg.Server.CORSOrigin != "" {
		r.Use(CORS(cfg.Server.CORSOrigin))
	}

	r.Get("/health", h.Health)
	r.Get("/health/ready", h.Ready)

	r.Route("/admin", func(r chi.Router) {
		r.Use(AdminToken(cfg.Admin.Token))

		r.Get("/tenants", h.ListTenants)
		r.Post("/tenants", h.CreateTenant)
		r.Post("/tenants/rebuild-whitelist", h.RebuildWhitelist)
		r.Get("/tenants/{id}", h.GetTenant)
		r.Post("/tenants/{id}/activate", h.ActivateTenant)
		r.Post("/tenants/{id}/deactivate", h.DeactivateTenant)

		r.Post("/blacklist", h.AddBlacklist)
		r.Delete("/blacklist/{identity}", h.RemoveBlacklist)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Tenant(resolver, conns, log))
		r.Use(middleware.Traffic(traffic))

		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		r.Post("/auth/login", h.Login)
	})

	return r
}
