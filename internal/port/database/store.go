// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/nimbuscrm/nimbus/internal/domain/tenant"
	"github.com/nimbuscrm/nimbus/internal/domain/user"
)

// TenantStore is the relational surface of tenant resolution and lifecycle.
// Resolution lookups are filtered to active tenants; lifecycle calls operate
// on the durable record regardless of state.
type TenantStore interface {
	// ResolveSlug returns the namespace for an active tenant slug.
	// Returns domain.ErrNotFound for unknown and inactive slugs alike.
	ResolveSlug(ctx context.Context, slug string) (string, error)

	// ResolveDomain returns the namespace for an active tenant's custom
	// domain. Returns domain.ErrNotFound for unknown and inactive domains.
	ResolveDomain(ctx context.Context, host string) (string, error)

	CreateTenant(ctx context.Context, req tenant.CreateRequest, ns string) (*tenant.Tenant, error)
	GetTenant(ctx context.Context, id string) (*tenant.Tenant, error)
	ListTenants(ctx context.Context) ([]tenant.Tenant, error)
	SetTenantActive(ctx context.Context, id string, active bool) (*tenant.Tenant, error)

	// ActiveSlugs returns the slugs of all active tenants, used to rebuild
	// the whitelist set wholesale on boot.
	ActiveSlugs(ctx context.Context) ([]string, error)
}

// UserStore reads users from one tenant's schema. Implementations are bound
// to the request's namespace pool, so no tenant filter appears in queries.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*user.User, error)
	CreateUser(ctx context.Context, u *user.User) error
}

// Provisioner idempotently ensures the relational objects for a namespace
// exist: the schema itself, base tables cloned from the template schema, and
// the namespace-local tables.
type Provisioner interface {
	Provision(ctx context.Context, ns string) error
}
