package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/nimbuscrm/nimbus/internal/adapter/otel"
	"github.com/nimbuscrm/nimbus/internal/config"
	"github.com/nimbuscrm/nimbus/internal/domain"
	"github.com/nimbuscrm/nimbus/internal/namespace"
	"github.com/nimbuscrm/nimbus/internal/port/cache"
	"github.com/nimbuscrm/nimbus/internal/port/database"
	"github.com/nimbuscrm/nimbus/internal/port/kv"
)

const (
	// whitelistKey is the named set of active tenant slugs.
	whitelistKey = "tenant:whitelist"

	// resolveKeyPrefix prefixes slug-to-namespace cache entries.
	resolveKeyPrefix = "tenant:resolve:"

	// negativeMarker is the cached value for a slug known not to resolve.
	negativeMarker = "!"
)

// ResolutionError is the terminal not-found outcome of tenant resolution.
// Source names which input failed (header, host, subdomain, domain) and
// Attempted carries the identifier for the 404 body. Whether the tenant is
// unknown or merely inactive is not exposed.
type ResolutionError struct {
	Source    string
	Attempted string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("no tenant for %s %q", e.Source, e.Attempted)
}

func (e *ResolutionError) Unwrap() error { return domain.ErrTenantNotFound }

// Resolver maps request inputs (explicit tenant header, host) to a validated
// tenant namespace. Lookups go L1 cache, then the shared store, then the
// relational store, with positive and negative write-back.
//
// Resolution is fail-closed: a request that cannot be resolved never falls
// back to a default tenant. Only the whitelist pre-filter fails open, into
// the slower authoritative lookup, when the shared store is unreachable.
type Resolver struct {
	store   kv.Store
	l1      cache.Cache
	db      database.TenantStore
	cfg     config.Tenant
	metrics *otel.Metrics
	logger  *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(store kv.Store, l1 cache.Cache, db database.TenantStore, cfg config.Tenant, metrics *otel.Metrics, logger *slog.Logger) *Resolver {
	return &Resolver{store: store, l1: l1, db: db, cfg: cfg, metrics: metrics, logger: logger}
}

// Resolve returns the namespace for a request. headerTenant is the raw
// X-Tenant-ID header value (may be empty); host is the Host header.
func (r *Resolver) Resolve(ctx context.Context, headerTenant, host string) (string, error) {
	ctx, span := otel.StartResolveSpan(ctx, host, headerTenant)
	defer span.End()

	ns, err := r.resolve(ctx, headerTenant, host)
	if err != nil {
		r.metrics.ResolutionMisses.Add(ctx, 1)
		return "", err
	}
	r.metrics.TenantResolutions.Add(ctx, 1)
	return ns, nil
}

func (r *Resolver) resolve(ctx context.Context, headerTenant, host string) (string, error) {
	if headerTenant != "" {
		slug, err := namespace.NormalizeLabeled(headerTenant, namespace.Strict, "tenant header")
		if err != nil {
			r.logger.Debug("tenant header failed validation", "header", headerTenant)
			return "", &ResolutionError{Source: "header", Attempted: headerTenant}
		}
		if slug == namespace.Default {
			return namespace.Default, nil
		}
		return r.resolveSlug(ctx, slug, "header")
	}
	return r.resolveHost(ctx, host)
}

// resolveSlug runs the whitelist + cache + relational pipeline for a slug
// that already passed strict validation.
func (r *Resolver) resolveSlug(ctx context.Context, slug, source string) (string, error) {
	listed, err := r.store.IsMember(ctx, whitelistKey, slug)
	if err != nil {
		// Whitelist is an optimization; a cache outage must not take down
		// all traffic, so continue to the authoritative lookup.
		r.logger.Warn("whitelist check unavailable, proceeding to lookup", "slug", slug, "error", err)
	} else if !listed {
		return "", &ResolutionError{Source: source, Attempted: slug}
	}

	ns, ok := r.cachedNamespace(ctx, slug)
	if ok {
		if ns == negativeMarker {
			return "", &ResolutionError{Source: source, Attempted: slug}
		}
		return ns, nil
	}

	ns, err = r.db.ResolveSlug(ctx, slug)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.writeCache(ctx, slug, negativeMarker, r.cfg.NegativeTTL)
			return "", &ResolutionError{Source: source, Attempted: slug}
		}
		return "", fmt.Errorf("tenant lookup %s: %w", slug, err)
	}

	r.writeCache(ctx, slug, ns, r.cfg.PositiveTTL)
	return ns, nil
}

// resolveHost implements the host fallback: reserved hostnames and the
// platform apex resolve to the default namespace; off-platform hosts go
// through the custom-domain mapping (uncached, low volume); platform
// subdomains run the slug pipeline.
func (r *Resolver) resolveHost(ctx context.Context, host string) (string, error) {
	host = strings.ToLower(stripPort(host))
	if host == "" {
		return "", &ResolutionError{Source: "host", Attempted: host}
	}

	for _, reserved := range r.cfg.ReservedHostnames {
		if host == reserved {
			return namespace.Default, nil
		}
	}
	if host == r.cfg.PlatformDomain {
		return namespace.Default, nil
	}

	suffix := "." + r.cfg.PlatformDomain
	if !strings.HasSuffix(host, suffix) {
		ns, err := r.db.ResolveDomain(ctx, host)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return "", &ResolutionError{Source: "domain", Attempted: host}
			}
			return "", fmt.Errorf("domain lookup %s: %w", host, err)
		}
		return ns, nil
	}

	// Leading label only: "acme.eu.nimbuscrm.io" resolves as "acme".
	label, _, _ := strings.Cut(strings.TrimSuffix(host, suffix), ".")
	for _, reserved := range r.cfg.ReservedSubdomains {
		if label == reserved {
			return namespace.Default, nil
		}
	}

	slug, err := namespace.NormalizeLabeled(label, namespace.Strict, "subdomain")
	if err != nil {
		return "", &ResolutionError{Source: "subdomain", Attempted: label}
	}
	if slug == namespace.Default {
		return namespace.Default, nil
	}
	return r.resolveSlug(ctx, slug, "subdomain")
}

// cachedNamespace reads L1 first, then the shared store, promoting shared
// hits into L1.
func (r *Resolver) cachedNamespace(ctx context.Context, slug string) (string, bool) {
	key := resolveKeyPrefix + slug

	if data, ok, err := r.l1.Get(ctx, key); err == nil && ok {
		return string(data), true
	}

	val, ok, err := r.store.Get(ctx, key)
	if err != nil {
		r.logger.Warn("resolution cache read failed", "slug", slug, "error", err)
		return "", false
	}
	if !ok {
		return "", false
	}

	if err := r.l1.Set(ctx, key, []byte(val), r.l1TTL()); err != nil {
		r.logger.Debug("l1 promote failed", "slug", slug, "error", err)
	}
	return val, true
}

// writeCache records a resolution outcome in both layers. Failures are
// logged and swallowed: the authoritative answer was already obtained.
func (r *Resolver) writeCache(ctx context.Context, slug, value string, ttl time.Duration) {
	key := resolveKeyPrefix + slug

	if err := r.store.Set(ctx, key, value, ttl); err != nil {
		r.logger.Warn("resolution cache write failed", "slug", slug, "error", err)
	}

	l1TTL := r.l1TTL()
	if l1TTL > ttl {
		l1TTL = ttl
	}
	if err := r.l1.Set(ctx, key, []byte(value), l1TTL); err != nil {
		r.logger.Debug("l1 write failed", "slug", slug, "error", err)
	}
}

// Invalidate drops the cached resolution for a slug in both layers.
func (r *Resolver) Invalidate(ctx context.Context, slug string) {
	key := resolveKeyPrefix + slug
	if err := r.store.Delete(ctx, key); err != nil {
		r.logger.Warn("resolution cache invalidate failed", "slug", slug, "error", err)
	}
	if err := r.l1.Delete(ctx, key); err != nil {
		r.logger.Debug("l1 invalidate failed", "slug", slug, "error", err)
	}
}

func (r *Resolver) l1TTL() time.Duration {
	if r.cfg.L1TTL > 0 {
		return r.cfg.L1TTL
	}
	return 15 * time.Second
}

// stripPort removes a :port suffix from a Host header value if present.
func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
