package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nimbuscrm/nimbus/internal/adapter/otel"
	adapterredis "github.com/nimbuscrm/nimbus/internal/adapter/redis"
	"github.com/nimbuscrm/nimbus/internal/config"
	"github.com/nimbuscrm/nimbus/internal/domain"
	"github.com/nimbuscrm/nimbus/internal/port/events"
	"github.com/nimbuscrm/nimbus/internal/port/kv"
)

const (
	loginBlockCurrentKey  = "login_block:current"
	loginBlockPreviousKey = "login_block:previous"
	loginFailPrefix       = "login:fail:"
)

// LoginIdentity builds the guard key for a login attempt. Email and client
// address are concatenated, not hashed: attempts on the same credential from
// different addresses are tracked independently, so one attacker cannot lock
// a victim out from everywhere at once. The flip side is that an attacker
// rotating addresses restarts their own counter; see the config docs before
// changing the keying, since email-only keys would make users behind shared
// NATs share a lockout bucket.
func LoginIdentity(email, clientAddr string) string {
	return email + "|" + clientAddr
}

// LoginGuard implements pre-login lockout checks and failure accounting on
// top of the rotating dual-bucket set plus an explicit per-identity counter.
type LoginGuard struct {
	store   kv.Store
	scripts kv.ScriptRunner
	cfg     config.LoginGuard
	sink    events.Sink
	metrics *otel.Metrics
	logger  *slog.Logger
}

// NewLoginGuard creates a LoginGuard.
func NewLoginGuard(store kv.Store, scripts kv.ScriptRunner, cfg config.LoginGuard, sink events.Sink, metrics *otel.Metrics, logger *slog.Logger) *LoginGuard {
	return &LoginGuard{store: store, scripts: scripts, cfg: cfg, sink: sink, metrics: metrics, logger: logger}
}

// CheckBeforeLogin returns domain.ErrLockedOut when the identity is in
// either rotation bucket of the login blocklist. The check is read-only: a
// clean login never inserts anything. Store outages are swallowed here; a
// guard outage must not abort otherwise-valid login attempts.
func (g *LoginGuard) CheckBeforeLogin(ctx context.Context, identity string) error {
	for _, bucket := range []string{loginBlockCurrentKey, loginBlockPreviousKey} {
		blocked, err := g.store.IsMember(ctx, bucket, identity)
		if err != nil {
			g.logger.Warn("login guard unavailable, allowing attempt", "error", err)
			return nil
		}
		if blocked {
			g.metrics.LoginLockouts.Add(ctx, 1)
			g.report(identity, "pre-login lockout")
			return domain.ErrLockedOut
		}
	}
	return nil
}

// RegisterFailure counts one failed attempt. Crossing the threshold within
// the sliding window inserts the identity into the dual-bucket blocklist via
// the atomic probe script, which also refreshes the current bucket's TTL.
func (g *LoginGuard) RegisterFailure(ctx context.Context, identity string) {
	n, err := g.store.Incr(ctx, loginFailPrefix+identity, g.cfg.FailureWindow)
	if err != nil {
		g.logger.Warn("login failure counter unavailable", "error", err)
		return
	}
	if n < g.cfg.MaxFailures {
		return
	}

	_, err = g.scripts.Run(ctx, adapterredis.ScriptDualBucket,
		[]string{loginBlockCurrentKey, loginBlockPreviousKey},
		identity,
		fmt.Sprintf("%d", int(g.cfg.BlockTTL.Seconds())),
	)
	if err != nil {
		g.logger.Warn("login block insert failed", "error", err)
		return
	}

	g.metrics.LoginLockouts.Add(ctx, 1)
	g.report(identity, fmt.Sprintf("locked after %d failures", n))
	g.logger.Info("login identity locked", "failures", n)
}

// ResetFailures clears the failure counter after a successful login.
func (g *LoginGuard) ResetFailures(ctx context.Context, identity string) {
	if err := g.store.Delete(ctx, loginFailPrefix+identity); err != nil {
		g.logger.Warn("login failure reset failed", "error", err)
	}
}

func (g *LoginGuard) report(identity, detail string) {
	g.sink.Report(events.Event{
		Kind:     events.KindLoginLockout,
		Identity: identity,
		Detail:   detail,
		At:       time.Now(),
	})
}
