// Package service contains the request-time core: tenant resolution,
// per-namespace connection management, traffic control and login guarding,
// plus the out-of-band tenant lifecycle that feeds them.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nimbuscrm/nimbus/internal/domain/tenant"
	"github.com/nimbuscrm/nimbus/internal/namespace"
	"github.com/nimbuscrm/nimbus/internal/port/database"
	"github.com/nimbuscrm/nimbus/internal/port/kv"
)

// TenantService manages tenant lifecycle: creation with schema provisioning,
// activation state, and the whitelist set the resolver fast-rejects against.
// It runs out-of-band (admin surface, CLI), never on the request path.
type TenantService struct {
	db       database.TenantStore
	prov     database.Provisioner
	store    kv.Store
	resolver *Resolver
	logger   *slog.Logger
}

// NewTenantService creates a TenantService.
func NewTenantService(db database.TenantStore, prov database.Provisioner, store kv.Store, resolver *Resolver, logger *slog.Logger) *TenantService {
	return &TenantService{db: db, prov: prov, store: store, resolver: resolver, logger: logger}
}

// Create validates the slug, derives the namespace, persists the record,
// provisions the schema and whitelists the tenant. The slug is stored in
// its migrated form so request-time identifiers always pass strict
// validation.
func (s *TenantService) Create(ctx context.Context, req tenant.CreateRequest) (*tenant.Tenant, error) {
	if req.Name == "" {
		return nil, errors.New("tenant name is required")
	}

	ns, err := namespace.FromSlug(req.Slug)
	if err != nil {
		return nil, fmt.Errorf("tenant slug: %w", err)
	}
	if ns == namespace.Default {
		return nil, fmt.Errorf("slug %q collides with the default namespace", req.Slug)
	}
	req.Slug = ns

	t, err := s.db.CreateTenant(ctx, req, ns)
	if err != nil {
		return nil, err
	}

	if err := s.prov.Provision(ctx, ns); err != nil {
		return nil, fmt.Errorf("provision %s: %w", ns, err)
	}

	if err := s.store.AddMember(ctx, whitelistKey, t.Slug); err != nil {
		// The record exists; the whitelist self-heals on the next rebuild.
		s.logger.Warn("whitelist add failed", "slug", t.Slug, "error", err)
	}

	s.logger.Info("tenant created", "slug", t.Slug, "namespace", t.Namespace)
	return t, nil
}

// Get returns a tenant by ID.
func (s *TenantService) Get(ctx context.Context, id string) (*tenant.Tenant, error) {
	return s.db.GetTenant(ctx, id)
}

// List returns all tenants.
func (s *TenantService) List(ctx context.Context) ([]tenant.Tenant, error) {
	return s.db.ListTenants(ctx)
}

// Activate enables a tenant, whitelists it and drops any stale negative
// cache entry so the change takes effect without waiting out the TTL.
func (s *TenantService) Activate(ctx context.Context, id string) (*tenant.Tenant, error) {
	return s.setActive(ctx, id, true)
}

// Deactivate disables a tenant, removes it from the whitelist and drops its
// cached resolution.
func (s *TenantService) Deactivate(ctx context.Context, id string) (*tenant.Tenant, error) {
	return s.setActive(ctx, id, false)
}

func (s *TenantService) setActive(ctx context.Context, id string, active bool) (*tenant.Tenant, error) {
	t, err := s.db.SetTenantActive(ctx, id, active)
	if err != nil {
		return nil, err
	}

	if active {
		err = s.store.AddMember(ctx, whitelistKey, t.Slug)
	} else {
		err = s.store.RemoveMember(ctx, whitelistKey, t.Slug)
	}
	if err != nil {
		s.logger.Warn("whitelist update failed", "slug", t.Slug, "active", active, "error", err)
	}

	s.resolver.Invalidate(ctx, t.Slug)

	s.logger.Info("tenant state changed", "slug", t.Slug, "active", active)
	return t, nil
}

// RebuildWhitelist replaces the whitelist set wholesale from the relational
// store. Called on boot and available from the admin CLI.
func (s *TenantService) RebuildWhitelist(ctx context.Context) error {
	slugs, err := s.db.ActiveSlugs(ctx)
	if err != nil {
		return fmt.Errorf("rebuild whitelist: %w", err)
	}

	if err := s.store.Delete(ctx, whitelistKey); err != nil {
		return fmt.Errorf("rebuild whitelist: clear: %w", err)
	}
	for _, slug := range slugs {
		if err := s.store.AddMember(ctx, whitelistKey, slug); err != nil {
			return fmt.Errorf("rebuild whitelist: add %s: %w", slug, err)
		}
	}

	s.logger.Info("whitelist rebuilt", "tenants", len(slugs))
	return nil
}
