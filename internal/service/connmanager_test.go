package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nimbuscrm/nimbus/internal/config"
)

// stubPoolFactory counts creations and hands out distinct (empty) pool
// values so instance identity can be asserted without a live database.
func stubPoolFactory(created *atomic.Int64) func(context.Context, config.Postgres, string) (*pgxpool.Pool, error) {
	return func(context.Context, config.Postgres, string) (*pgxpool.Pool, error) {
		created.Add(1)
		return &pgxpool.Pool{}, nil
	}
}

func TestConnManager_GetReusesPool(t *testing.T) {
	var created atomic.Int64
	m := NewConnManager(config.Postgres{}, testLogger())
	m.newPool = stubPoolFactory(&created)

	first, err := m.Get(context.Background(), "acme_co")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := m.Get(context.Background(), "acme_co")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if first != second {
		t.Error("expected the same pool instance on repeat Get")
	}
	if created.Load() != 1 {
		t.Errorf("pools created = %d, want 1", created.Load())
	}
}

func TestConnManager_DistinctNamespaces(t *testing.T) {
	var created atomic.Int64
	m := NewConnManager(config.Postgres{}, testLogger())
	m.newPool = stubPoolFactory(&created)

	a, err := m.Get(context.Background(), "acme_co")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b, err := m.Get(context.Background(), "globex")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if a == b {
		t.Error("namespaces must not share a pool")
	}
	if m.Len() != 2 {
		t.Errorf("Len() = %d, want 2", m.Len())
	}
}

func TestConnManager_RejectsInvalidNamespace(t *testing.T) {
	m := NewConnManager(config.Postgres{}, testLogger())
	m.newPool = func(context.Context, config.Postgres, string) (*pgxpool.Pool, error) {
		t.Fatal("factory must not run for an invalid namespace")
		return nil, nil
	}

	if _, err := m.Get(context.Background(), `acme"; DROP SCHEMA`); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := m.Get(context.Background(), ""); err == nil {
		t.Fatal("expected validation error for empty namespace")
	}
}

func TestConnManager_ConcurrentGet_SinglePool(t *testing.T) {
	var created atomic.Int64
	m := NewConnManager(config.Postgres{}, testLogger())
	m.newPool = stubPoolFactory(&created)

	const goroutines = 50
	pools := make([]*pgxpool.Pool, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			pool, err := m.Get(context.Background(), "acme_co")
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			pools[i] = pool
		}(i)
	}
	wg.Wait()

	if created.Load() != 1 {
		t.Errorf("pools created = %d, want exactly 1", created.Load())
	}
	for i := 1; i < goroutines; i++ {
		if pools[i] != pools[0] {
			t.Fatalf("goroutine %d got a different pool instance", i)
		}
	}
}

func TestConnManager_FactoryFailure_NotCached(t *testing.T) {
	var created atomic.Int64
	fail := true
	m := NewConnManager(config.Postgres{}, testLogger())
	m.newPool = func(context.Context, config.Postgres, string) (*pgxpool.Pool, error) {
		if fail {
			return nil, errors.New("connect: refused")
		}
		created.Add(1)
		return &pgxpool.Pool{}, nil
	}

	if _, err := m.Get(context.Background(), "acme_co"); err == nil {
		t.Fatal("expected error from failing factory")
	}
	if m.Len() != 0 {
		t.Fatalf("Len() = %d after failure, want 0", m.Len())
	}

	fail = false
	if _, err := m.Get(context.Background(), "acme_co"); err != nil {
		t.Fatalf("Get after recovery: %v", err)
	}
	if created.Load() != 1 {
		t.Errorf("pools created = %d, want 1", created.Load())
	}
}
