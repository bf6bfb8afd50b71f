package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	nimbushttp "github.com/nimbuscrm/nimbus/internal/adapter/http"
	nimbusnats "github.com/nimbuscrm/nimbus/internal/adapter/nats"
	"github.com/nimbuscrm/nimbus/internal/adapter/otel"
	"github.com/nimbuscrm/nimbus/internal/adapter/postgres"
	"github.com/nimbuscrm/nimbus/internal/adapter/redis"
	"github.com/nimbuscrm/nimbus/internal/adapter/ristretto"
	"github.com/nimbuscrm/nimbus/internal/config"
	"github.com/nimbuscrm/nimbus/internal/logger"
	"github.com/nimbuscrm/nimbus/internal/port/events"
	"github.com/nimbuscrm/nimbus/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"platform_domain", cfg.Tenant.PlatformDomain,
	)

	ctx := context.Background()

	// --- Infrastructure ---

	// Control-plane PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// Shared key-value store and atomic scripts
	kvStore, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer func() { _ = kvStore.Close() }()

	scripts := redis.NewRegistry(kvStore)
	if err := scripts.Load(ctx); err != nil {
		return fmt.Errorf("scripts: %w", err)
	}
	slog.Info("atomic scripts loaded")

	// L1 resolution cache
	l1, err := ristretto.New(cfg.Tenant.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()

	// Security-event sink; log-only fallback when NATS is not configured.
	var sink events.Sink
	if cfg.NATS.URL != "" {
		natsSink, err := nimbusnats.Connect(ctx, cfg.NATS.URL, log)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer natsSink.Close()
		sink = natsSink
	} else {
		sink = events.SinkFunc(func(ev events.Event) {
			log.Info("security event",
				"kind", ev.Kind,
				"namespace", ev.Namespace,
				"identity", ev.Identity,
				"detail", ev.Detail,
			)
		})
		slog.Info("nats not configured, security events go to the log only")
	}

	// Collapse repeat events per identity so a sustained attack does not
	// flood the sink with identical records.
	sink = service.DedupSink(sink, service.NewDedupEngine(scripts, 10*time.Minute))

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Services ---

	store := postgres.NewStore(pool)
	resolver := service.NewResolver(kvStore, l1, store, cfg.Tenant, metrics, log)
	conns := service.NewConnManager(cfg.Postgres, log)
	defer conns.Close()

	if cfg.Pools.SweepInterval > 0 && cfg.Pools.MaxIdle > 0 {
		stopSweep := conns.StartSweep(cfg.Pools.SweepInterval, cfg.Pools.MaxIdle)
		defer stopSweep()
	}

	traffic := service.NewTrafficEngine(kvStore, scripts, cfg.Traffic, sink, metrics, log)
	guard := service.NewLoginGuard(kvStore, scripts, cfg.LoginGuard, sink, metrics, log)
	auth := service.NewAuthService(guard)
	tenants := service.NewTenantService(store, postgres.NewSchemaProvisioner(pool), kvStore, resolver, log)

	// The whitelist is authoritative state derived from the relational
	// store; rebuild it on every boot so a flushed store heals itself.
	if err := tenants.RebuildWhitelist(ctx); err != nil {
		slog.Warn("whitelist rebuild failed, resolver falls back to lookups", "error", err)
	}

	// --- HTTP ---

	handlers := &nimbushttp.Handlers{
		Auth:    auth,
		Tenants: tenants,
		Traffic: traffic,
		DB:      pool,
		Cache:   kvStore,
		Logger:  log,
	}

	router := nimbushttp.NewRouter(handlers, cfg, resolver, conns, traffic, log)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
