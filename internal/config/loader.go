package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "nimbus.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "NIMBUS_PORT")
	setString(&cfg.Server.CORSOrigin, "NIMBUS_CORS_ORIGIN")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "NIMBUS_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "NIMBUS_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "NIMBUS_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "NIMBUS_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "NIMBUS_PG_HEALTH_CHECK")
	setInt32(&cfg.Postgres.TenantMaxConns, "NIMBUS_PG_TENANT_MAX_CONNS")

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setDuration(&cfg.Redis.DialTimeout, "NIMBUS_REDIS_DIAL_TIMEOUT")
	setDuration(&cfg.Redis.OpTimeout, "NIMBUS_REDIS_OP_TIMEOUT")
	setInt(&cfg.Redis.BreakerThreshold, "NIMBUS_REDIS_BREAKER_THRESHOLD")
	setDuration(&cfg.Redis.BreakerCooldown, "NIMBUS_REDIS_BREAKER_COOLDOWN")

	setString(&cfg.NATS.URL, "NATS_URL")

	setString(&cfg.Logging.Level, "NIMBUS_LOG_LEVEL")
	setString(&cfg.Logging.Service, "NIMBUS_LOG_SERVICE")

	setString(&cfg.Tenant.PlatformDomain, "NIMBUS_PLATFORM_DOMAIN")
	setDuration(&cfg.Tenant.PositiveTTL, "NIMBUS_TENANT_POSITIVE_TTL")
	setDuration(&cfg.Tenant.NegativeTTL, "NIMBUS_TENANT_NEGATIVE_TTL")
	setDuration(&cfg.Tenant.L1TTL, "NIMBUS_TENANT_L1_TTL")
	setInt64(&cfg.Tenant.L1MaxSizeMB, "NIMBUS_TENANT_L1_SIZE_MB")

	setDuration(&cfg.Pools.SweepInterval, "NIMBUS_POOL_SWEEP_INTERVAL")
	setDuration(&cfg.Pools.MaxIdle, "NIMBUS_POOL_MAX_IDLE")

	setFloat64(&cfg.Traffic.Burst, "NIMBUS_TRAFFIC_BURST")
	setFloat64(&cfg.Traffic.RefillPerSecond, "NIMBUS_TRAFFIC_REFILL")
	setFloat64(&cfg.Traffic.Cost, "NIMBUS_TRAFFIC_COST")
	setBool(&cfg.Traffic.FailOpen, "NIMBUS_TRAFFIC_FAIL_OPEN")

	setInt64(&cfg.LoginGuard.MaxFailures, "NIMBUS_LOGIN_MAX_FAILURES")
	setDuration(&cfg.LoginGuard.FailureWindow, "NIMBUS_LOGIN_FAILURE_WINDOW")
	setDuration(&cfg.LoginGuard.BlockTTL, "NIMBUS_LOGIN_BLOCK_TTL")

	setString(&cfg.Admin.Token, "NIMBUS_ADMIN_TOKEN")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}
	if cfg.Tenant.PlatformDomain == "" {
		return errors.New("tenant.platform_domain is required")
	}
	if cfg.Traffic.Burst < 1 {
		return errors.New("traffic.burst must be >= 1")
	}
	if cfg.Traffic.RefillPerSecond <= 0 {
		return errors.New("traffic.refill_per_second must be > 0")
	}
	if cfg.Traffic.Cost <= 0 {
		return errors.New("traffic.cost must be > 0")
	}
	if cfg.LoginGuard.MaxFailures < 1 {
		return errors.New("login_guard.max_failures must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
