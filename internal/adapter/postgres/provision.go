package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nimbuscrm/nimbus/internal/namespace"
)

// templateSchema holds the base tables cloned into every tenant schema.
const templateSchema = "tmpl"

// baseTables are cloned from the template schema on provisioning.
var baseTables = []string{"users", "invites", "audit_log"}

// SchemaProvisioner implements database.Provisioner. It runs out-of-band
// (tenant creation, admin CLI), never on the request path, and every
// statement is idempotent so a crashed provisioning run can simply be
// re-executed.
type SchemaProvisioner struct {
	pool *pgxpool.Pool
}

// NewSchemaProvisioner creates a provisioner on the control-plane pool.
func NewSchemaProvisioner(pool *pgxpool.Pool) *SchemaProvisioner {
	return &SchemaProvisioner{pool: pool}
}

// Provision ensures the schema, its cloned base tables and the
// namespace-local tables exist. ns must already be normalized; QuoteIdent
// re-validates before any identifier is interpolated.
func (p *SchemaProvisioner) Provision(ctx context.Context, ns string) error {
	schema, err := namespace.QuoteIdent(ns)
	if err != nil {
		return err
	}

	if _, err := p.pool.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", ns, err)
	}

	for _, table := range baseTables {
		stmt := fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s.%s (LIKE %s.%s INCLUDING ALL)`,
			schema, table, templateSchema, table,
		)
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("clone table %s into %s: %w", table, ns, err)
		}
	}

	localObjects := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.file_metadata (
			id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
			owner_id uuid NOT NULL,
			filename text NOT NULL,
			content_type text NOT NULL DEFAULT '',
			size_bytes bigint NOT NULL DEFAULT 0,
			storage_key text NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS file_metadata_owner_idx ON %s.file_metadata (owner_id)`, schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.widget_layout (
			id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id uuid NOT NULL,
			layout jsonb NOT NULL DEFAULT '{}',
			updated_at timestamptz NOT NULL DEFAULT now()
		)`, schema),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS widget_layout_user_idx ON %s.widget_layout (user_id)`, schema),
	}
	for _, stmt := range localObjects {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("provision local objects for %s: %w", ns, err)
		}
	}

	return nil
}
