package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/singleflight"

	"github.com/nimbuscrm/nimbus/internal/adapter/postgres"
	"github.com/nimbuscrm/nimbus/internal/config"
	"github.com/nimbuscrm/nimbus/internal/namespace"
)

// poolEntry tracks a live namespace pool and its last use for the optional
// idle sweep.
type poolEntry struct {
	pool     *pgxpool.Pool
	lastUsed time.Time
}

// ConnManager owns one pooled connection per resolved namespace. Pools are
// created lazily on first use and reused for the process lifetime unless the
// idle sweep is enabled. Concurrent first requests for the same namespace
// are collapsed through singleflight so exactly one pool is ever created,
// and no lock is held across the pool-establishment I/O.
type ConnManager struct {
	cfg    config.Postgres
	logger *slog.Logger

	mu    sync.RWMutex
	pools map[string]*poolEntry
	group singleflight.Group

	// newPool is swapped in tests.
	newPool func(ctx context.Context, cfg config.Postgres, ns string) (*pgxpool.Pool, error)
}

// NewConnManager creates a ConnManager.
func NewConnManager(cfg config.Postgres, logger *slog.Logger) *ConnManager {
	return &ConnManager{
		cfg:     cfg,
		logger:  logger,
		pools:   make(map[string]*poolEntry),
		newPool: postgres.NewNamespacePool,
	}
}

// Get returns the pool for ns, creating it on first use. ns must already be
// a validated namespace; Get re-validates rather than trust its caller.
func (m *ConnManager) Get(ctx context.Context, ns string) (*pgxpool.Pool, error) {
	ns, err := namespace.Normalize(ns, namespace.Strict)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	entry, ok := m.pools[ns]
	m.mu.RUnlock()
	if ok {
		m.touch(ns)
		return entry.pool, nil
	}

	v, err, _ := m.group.Do(ns, func() (any, error) {
		// Re-check under the group: a previous flight may have inserted
		// the pool between our read and this call.
		m.mu.RLock()
		entry, ok := m.pools[ns]
		m.mu.RUnlock()
		if ok {
			return entry.pool, nil
		}

		pool, err := m.newPool(ctx, m.cfg, ns)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		m.pools[ns] = &poolEntry{pool: pool, lastUsed: time.Now()}
		m.mu.Unlock()

		m.logger.Info("namespace pool created", "namespace", ns)
		return pool, nil
	})
	if err != nil {
		return nil, err
	}

	m.touch(ns)
	return v.(*pgxpool.Pool), nil
}

func (m *ConnManager) touch(ns string) {
	m.mu.Lock()
	if entry, ok := m.pools[ns]; ok {
		entry.lastUsed = time.Now()
	}
	m.mu.Unlock()
}

// Len returns the number of live namespace pools.
func (m *ConnManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pools)
}

// StartSweep spawns a goroutine that closes pools idle for longer than
// maxIdle, bounding growth when tenant cardinality is high. Returns a cancel
// function. Both durations must be positive; callers leave the sweep off by
// default.
func (m *ConnManager) StartSweep(interval, maxIdle time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep(maxIdle)
			}
		}
	}()
	return cancel
}

func (m *ConnManager) sweep(maxIdle time.Duration) {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	var victims []*pgxpool.Pool
	for ns, entry := range m.pools {
		if entry.lastUsed.Before(cutoff) {
			victims = append(victims, entry.pool)
			delete(m.pools, ns)
			m.logger.Info("idle namespace pool evicted", "namespace", ns)
		}
	}
	m.mu.Unlock()

	// Close outside the lock; Close blocks until acquired conns return.
	for _, pool := range victims {
		pool.Close()
	}
}

// Close closes every pool. Used on shutdown.
func (m *ConnManager) Close() {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*poolEntry)
	m.mu.Unlock()

	for _, entry := range pools {
		entry.pool.Close()
	}
}
