package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nimbuscrm/nimbus/internal/domain"
	"github.com/nimbuscrm/nimbus/internal/logger"
	"github.com/nimbuscrm/nimbus/internal/service"
)

// HeaderTenantID carries an explicit tenant slug, taking precedence over
// host-based resolution.
const HeaderTenantID = "X-Tenant-ID"

// NamespaceResolver maps request inputs to a tenant namespace.
type NamespaceResolver interface {
	Resolve(ctx context.Context, headerTenant, host string) (string, error)
}

// ConnProvider returns the pooled connection for a namespace.
type ConnProvider interface {
	Get(ctx context.Context, ns string) (*pgxpool.Pool, error)
}

type namespaceCtxKey struct{}
type connCtxKey struct{}

// Tenant returns middleware that resolves every request to a tenant
// namespace and attaches the namespace plus its connection pool to the
// request context. Resolution is fail-closed: requests that cannot be
// resolved are answered here and never reach business handlers.
func Tenant(resolver NamespaceResolver, conns ConnProvider, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			ns, err := resolver.Resolve(ctx, r.Header.Get(HeaderTenantID), r.Host)
			if err != nil {
				renderResolutionFailure(w, r, err, log)
				return
			}

			pool, err := conns.Get(ctx, ns)
			if err != nil {
				log.Error("namespace pool unavailable",
					"namespace", ns,
					"request_id", logger.RequestID(ctx),
					"error", err,
				)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"error": "service unavailable",
				})
				return
			}

			ctx = context.WithValue(ctx, namespaceCtxKey{}, ns)
			ctx = context.WithValue(ctx, connCtxKey{}, pool)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NamespaceFromContext returns the resolved namespace, or empty when the
// tenant middleware did not run.
func NamespaceFromContext(ctx context.Context) string {
	ns, _ := ctx.Value(namespaceCtxKey{}).(string)
	return ns
}

// ConnFromContext returns the namespace pool attached by the tenant
// middleware.
func ConnFromContext(ctx context.Context) *pgxpool.Pool {
	pool, _ := ctx.Value(connCtxKey{}).(*pgxpool.Pool)
	return pool
}

func renderResolutionFailure(w http.ResponseWriter, r *http.Request, err error, log *slog.Logger) {
	var resErr *service.ResolutionError
	if errors.As(err, &resErr) || errors.Is(err, domain.ErrTenantNotFound) {
		body := map[string]string{"error": "tenant not found"}
		if resErr != nil {
			body["attempted_identifier"] = resErr.Attempted
			log.Info("tenant resolution failed",
				"source", resErr.Source,
				"attempted", resErr.Attempted,
				"request_id", logger.RequestID(r.Context()),
			)
		}
		writeJSON(w, http.StatusNotFound, body)
		return
	}

	// Anything else is an infrastructure failure; there is no safe default
	// tenant, so the request fails.
	log.Error("tenant resolution unavailable",
		"request_id", logger.RequestID(r.Context()),
		"error", err,
	)
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"error": "service unavailable",
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
