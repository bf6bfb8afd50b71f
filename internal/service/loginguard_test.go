package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nimbuscrm/nimbus/internal/config"
	"github.com/nimbuscrm/nimbus/internal/domain"
)

func testGuardCfg() config.LoginGuard {
	return config.LoginGuard{
		MaxFailures:   5,
		FailureWindow: 15 * time.Minute,
		BlockTTL:      30 * time.Minute,
	}
}

// blockInsertingScripts mimics the probe script's insert side effect so the
// guard's own read path sees the block on the next check.
func blockInsertingScripts(store *memStore) *fakeScripts {
	return &fakeScripts{fn: func(_ string, keys []string, args []any) (any, error) {
		member := args[0].(string)
		if err := store.AddMember(context.Background(), keys[0], member); err != nil {
			return nil, err
		}
		return int64(0), nil
	}}
}

func TestLoginGuard_LocksAfterMaxFailures(t *testing.T) {
	store := newMemStore()
	scripts := blockInsertingScripts(store)
	sink := &captureSink{}
	g := NewLoginGuard(store, scripts, testGuardCfg(), sink, testMetrics(), testLogger())

	identity := LoginIdentity("victim@example.com", "203.0.113.9")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := g.CheckBeforeLogin(ctx, identity); err != nil {
			t.Fatalf("attempt %d unexpectedly blocked: %v", i, err)
		}
		g.RegisterFailure(ctx, identity)
	}

	if err := g.CheckBeforeLogin(ctx, identity); !errors.Is(err, domain.ErrLockedOut) {
		t.Fatalf("after %d failures err = %v, want locked out", 5, err)
	}
	if scripts.callCount() != 1 {
		t.Errorf("block script ran %d times, want 1", scripts.callCount())
	}
	if len(sink.kinds()) == 0 {
		t.Error("expected a lockout event")
	}
}

func TestLoginGuard_BelowThreshold_NeverBlocks(t *testing.T) {
	store := newMemStore()
	scripts := blockInsertingScripts(store)
	g := NewLoginGuard(store, scripts, testGuardCfg(), &captureSink{}, testMetrics(), testLogger())

	identity := LoginIdentity("user@example.com", "203.0.113.9")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		g.RegisterFailure(ctx, identity)
	}

	if err := g.CheckBeforeLogin(ctx, identity); err != nil {
		t.Fatalf("4 failures must not block: %v", err)
	}
	if scripts.callCount() != 0 {
		t.Errorf("block script ran %d times below threshold", scripts.callCount())
	}
}

func TestLoginGuard_ResetClearsCounter(t *testing.T) {
	store := newMemStore()
	scripts := blockInsertingScripts(store)
	g := NewLoginGuard(store, scripts, testGuardCfg(), &captureSink{}, testMetrics(), testLogger())

	identity := LoginIdentity("user@example.com", "203.0.113.9")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		g.RegisterFailure(ctx, identity)
	}
	g.ResetFailures(ctx, identity)
	for i := 0; i < 4; i++ {
		g.RegisterFailure(ctx, identity)
	}

	if err := g.CheckBeforeLogin(ctx, identity); err != nil {
		t.Fatalf("counter not reset: %v", err)
	}
}

func TestLoginGuard_IdentitiesAreIndependent(t *testing.T) {
	store := newMemStore()
	scripts := blockInsertingScripts(store)
	g := NewLoginGuard(store, scripts, testGuardCfg(), &captureSink{}, testMetrics(), testLogger())
	ctx := context.Background()

	attacker := LoginIdentity("victim@example.com", "198.51.100.1")
	victim := LoginIdentity("victim@example.com", "203.0.113.9")

	for i := 0; i < 5; i++ {
		g.RegisterFailure(ctx, attacker)
	}

	if err := g.CheckBeforeLogin(ctx, attacker); !errors.Is(err, domain.ErrLockedOut) {
		t.Fatal("attacker identity should be locked")
	}
	if err := g.CheckBeforeLogin(ctx, victim); err != nil {
		t.Fatalf("same email from another address must stay usable: %v", err)
	}
}

func TestLoginGuard_BlockSurvivesInPreviousBucket(t *testing.T) {
	store := newMemStore()
	g := NewLoginGuard(store, &fakeScripts{fn: func(string, []string, []any) (any, error) {
		return int64(0), nil
	}}, testGuardCfg(), &captureSink{}, testMetrics(), testLogger())

	identity := LoginIdentity("user@example.com", "203.0.113.9")
	// Simulate a rotation that moved the block into the previous bucket.
	if err := store.AddMember(context.Background(), loginBlockPreviousKey, identity); err != nil {
		t.Fatal(err)
	}

	if err := g.CheckBeforeLogin(context.Background(), identity); !errors.Is(err, domain.ErrLockedOut) {
		t.Fatalf("err = %v, want locked out from previous bucket", err)
	}
}

func TestLoginGuard_StoreOutage_AllowsAttempt(t *testing.T) {
	store := newMemStore()
	store.fail = errors.New("connection refused")
	g := NewLoginGuard(store, &fakeScripts{fn: func(string, []string, []any) (any, error) {
		return int64(0), nil
	}}, testGuardCfg(), &captureSink{}, testMetrics(), testLogger())

	if err := g.CheckBeforeLogin(context.Background(), "user@example.com|203.0.113.9"); err != nil {
		t.Fatalf("guard outage must not block logins: %v", err)
	}
}
