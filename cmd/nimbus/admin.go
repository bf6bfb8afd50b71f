package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"syscall"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/nimbuscrm/nimbus/internal/adapter/otel"
	"github.com/nimbuscrm/nimbus/internal/adapter/postgres"
	"github.com/nimbuscrm/nimbus/internal/adapter/redis"
	"github.com/nimbuscrm/nimbus/internal/adapter/ristretto"
	"github.com/nimbuscrm/nimbus/internal/config"
	"github.com/nimbuscrm/nimbus/internal/domain/tenant"
	"github.com/nimbuscrm/nimbus/internal/domain/user"
	"github.com/nimbuscrm/nimbus/internal/logger"
	"github.com/nimbuscrm/nimbus/internal/namespace"
	"github.com/nimbuscrm/nimbus/internal/service"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "create-tenant":
		return runAdminCreateTenant(args[1:])
	case "list-tenants":
		return runAdminListTenants(args[1:])
	case "rebuild-whitelist":
		return runAdminRebuildWhitelist(args[1:])
	case "create-user":
		return runAdminCreateUser(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: nimbus admin <command> [options]

Commands:
  create-tenant      Create a tenant and provision its schema
  list-tenants       List all tenants
  rebuild-whitelist  Rebuild the active-tenant whitelist from the database
  create-user        Create a user inside a tenant's schema
  help               Show this help message

Examples:
  nimbus admin create-tenant --name "Acme Co" --slug acme-co
  nimbus admin create-tenant --name "Acme Co" --slug acme-co --domain crm.acme.com
  nimbus admin list-tenants
  nimbus admin rebuild-whitelist
  nimbus admin create-user --tenant acme_co --email jane@acme.com --name "Jane Doe"
`)
}

// adminDeps bundles what the subcommands need: the tenant lifecycle service
// plus the raw config for namespace pool creation.
type adminDeps struct {
	cfg     *config.Config
	tenants *service.TenantService
	cleanup func()
}

func loadAdminDeps(ctx context.Context) (*adminDeps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Logging)

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	kvStore, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	l1, err := ristretto.New(cfg.Tenant.L1MaxSizeMB << 20)
	if err != nil {
		pool.Close()
		_ = kvStore.Close()
		return nil, fmt.Errorf("l1 cache: %w", err)
	}

	metrics, err := otel.NewMetrics()
	if err != nil {
		pool.Close()
		_ = kvStore.Close()
		l1.Close()
		return nil, fmt.Errorf("metrics: %w", err)
	}

	store := postgres.NewStore(pool)
	resolver := service.NewResolver(kvStore, l1, store, cfg.Tenant, metrics, log)
	tenants := service.NewTenantService(store, postgres.NewSchemaProvisioner(pool), kvStore, resolver, log)

	return &adminDeps{
		cfg:     cfg,
		tenants: tenants,
		cleanup: func() {
			l1.Close()
			_ = kvStore.Close()
			pool.Close()
		},
	}, nil
}

func runAdminCreateTenant(args []string) error {
	fs := flag.NewFlagSet("create-tenant", flag.ContinueOnError)
	name := fs.String("name", "", "tenant display name (required)")
	slug := fs.String("slug", "", "tenant slug (required)")
	domain := fs.String("domain", "", "custom domain (optional)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *name == "" {
		return fmt.Errorf("--name is required")
	}
	if *slug == "" {
		return fmt.Errorf("--slug is required")
	}

	ctx := context.Background()
	deps, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	t, err := deps.tenants.Create(ctx, tenant.CreateRequest{
		Name:   *name,
		Slug:   *slug,
		Domain: *domain,
	})
	if err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Tenant created: %s (id=%s, namespace=%s)\n", t.Name, t.ID, t.Namespace)
	return nil
}

func runAdminListTenants(args []string) error {
	fs := flag.NewFlagSet("list-tenants", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	deps, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	tenants, err := deps.tenants.List(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}

	if len(tenants) == 0 {
		fmt.Println("No tenants found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSLUG\tNAMESPACE\tACTIVE\tDOMAIN")
	for i := range tenants {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n",
			tenants[i].ID, tenants[i].Name, tenants[i].Slug, tenants[i].Namespace, tenants[i].Active, tenants[i].Domain)
	}
	return w.Flush()
}

func runAdminRebuildWhitelist(args []string) error {
	fs := flag.NewFlagSet("rebuild-whitelist", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	deps, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	if err := deps.tenants.RebuildWhitelist(ctx); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "Whitelist rebuilt.")
	return nil
}

func runAdminCreateUser(args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	tenantNS := fs.String("tenant", "", "tenant namespace (required)")
	email := fs.String("email", "", "user email address (required)")
	name := fs.String("name", "", "user display name (required)")
	password := fs.String("password", "", "password (prompted if not provided)") //nolint:gosec // CLI flag
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *tenantNS == "" {
		return fmt.Errorf("--tenant is required")
	}
	if *email == "" {
		return fmt.Errorf("--email is required")
	}
	if *name == "" {
		return fmt.Errorf("--name is required")
	}

	ns, err := namespace.Normalize(*tenantNS, namespace.Strict)
	if err != nil {
		return fmt.Errorf("tenant namespace: %w", err)
	}

	pass := *password
	if pass == "" {
		pass, err = promptPassword("Password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		confirm, err := promptPassword("Confirm password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		if pass != confirm {
			return fmt.Errorf("passwords do not match")
		}
	}

	hash, err := service.HashPassword(pass)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewNamespacePool(ctx, cfg.Postgres, ns)
	if err != nil {
		return fmt.Errorf("connect to tenant schema: %w", err)
	}
	defer pool.Close()

	u := &user.User{Email: *email, Name: *name, PasswordHash: hash, Enabled: true}
	if err := postgres.NewUserStore(pool).CreateUser(ctx, u); err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Fprintf(os.Stderr, "User created: %s (id=%s, tenant=%s)\n", u.Email, u.ID, ns)
	return nil
}

// promptPassword reads a password from the terminal without echoing.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
