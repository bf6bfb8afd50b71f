package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nimbuscrm/nimbus/internal/domain"
	"github.com/nimbuscrm/nimbus/internal/domain/tenant"
)

// Store implements database.TenantStore against the control schema.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ResolveSlug maps an active tenant slug to its namespace. Unknown and
// inactive slugs both return domain.ErrNotFound so the caller cannot tell
// them apart.
func (s *Store) ResolveSlug(ctx context.Context, slug string) (string, error) {
	var ns string
	err := s.pool.QueryRow(ctx,
		`SELECT namespace FROM tenants WHERE slug = $1 AND is_active`, slug,
	).Scan(&ns)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("resolve slug %s: %w", slug, err)
	}
	return ns, nil
}

// ResolveDomain maps an active tenant's custom domain to its namespace.
func (s *Store) ResolveDomain(ctx context.Context, host string) (string, error) {
	var ns string
	err := s.pool.QueryRow(ctx,
		`SELECT t.namespace
		 FROM tenant_domains d
		 JOIN tenants t ON t.id = d.tenant_id
		 WHERE d.domain = $1 AND t.is_active`, host,
	).Scan(&ns)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("resolve domain %s: %w", host, err)
	}
	return ns, nil
}

// CreateTenant inserts the tenant record and, when a custom domain was
// supplied, its domain mapping, in one transaction.
func (s *Store) CreateTenant(ctx context.Context, req tenant.CreateRequest, ns string) (*tenant.Tenant, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var t tenant.Tenant
	err = tx.QueryRow(ctx,
		`INSERT INTO tenants (name, slug, namespace)
		 VALUES ($1, $2, $3)
		 RETURNING id, name, slug, namespace, is_active, created_at, updated_at`,
		req.Name, req.Slug, ns,
	).Scan(&t.ID, &t.Name, &t.Slug, &t.Namespace, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create tenant: %w", err)
	}

	if req.Domain != "" {
		if _, err := tx.Exec(ctx,
			`INSERT INTO tenant_domains (tenant_id, domain) VALUES ($1, $2)`,
			t.ID, req.Domain,
		); err != nil {
			return nil, fmt.Errorf("create tenant domain: %w", err)
		}
		t.Domain = req.Domain
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &t, nil
}

// GetTenant returns a tenant by ID regardless of active state.
func (s *Store) GetTenant(ctx context.Context, id string) (*tenant.Tenant, error) {
	var t tenant.Tenant
	var dom *string
	err := s.pool.QueryRow(ctx,
		`SELECT t.id, t.name, t.slug, t.namespace, t.is_active, d.domain, t.created_at, t.updated_at
		 FROM tenants t
		 LEFT JOIN tenant_domains d ON d.tenant_id = t.id
		 WHERE t.id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Slug, &t.Namespace, &t.Active, &dom, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get tenant %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get tenant %s: %w", id, err)
	}
	if dom != nil {
		t.Domain = *dom
	}
	return &t, nil
}

// ListTenants returns all tenants, oldest first.
func (s *Store) ListTenants(ctx context.Context) ([]tenant.Tenant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT t.id, t.name, t.slug, t.namespace, t.is_active, d.domain, t.created_at, t.updated_at
		 FROM tenants t
		 LEFT JOIN tenant_domains d ON d.tenant_id = t.id
		 ORDER BY t.created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []tenant.Tenant
	for rows.Next() {
		var t tenant.Tenant
		var dom *string
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug, &t.Namespace, &t.Active, &dom, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		if dom != nil {
			t.Domain = *dom
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// SetTenantActive flips the active flag and returns the updated record.
func (s *Store) SetTenantActive(ctx context.Context, id string, active bool) (*tenant.Tenant, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET is_active = $2, updated_at = now() WHERE id = $1`,
		id, active)
	if err != nil {
		return nil, fmt.Errorf("set tenant %s active: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("set tenant %s active: %w", id, domain.ErrNotFound)
	}
	return s.GetTenant(ctx, id)
}

// ActiveSlugs returns all active tenant slugs for the whitelist rebuild.
func (s *Store) ActiveSlugs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT slug FROM tenants WHERE is_active`)
	if err != nil {
		return nil, fmt.Errorf("active slugs: %w", err)
	}
	defer rows.Close()

	var slugs []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("scan slug: %w", err)
		}
		slugs = append(slugs, slug)
	}
	return slugs, rows.Err()
}
