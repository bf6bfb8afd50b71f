package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/nimbuscrm/nimbus/internal/adapter/postgres"
	"github.com/nimbuscrm/nimbus/internal/domain"
	"github.com/nimbuscrm/nimbus/internal/domain/user"
	"github.com/nimbuscrm/nimbus/internal/middleware"
	"github.com/nimbuscrm/nimbus/internal/port/database"
	"github.com/nimbuscrm/nimbus/internal/service"
)

// AuthLoginer authenticates one login attempt against a tenant-bound
// user store.
type AuthLoginer interface {
	Login(ctx context.Context, users database.UserStore, req user.LoginRequest, clientAddr string) (*user.User, error)
}

// Login handles POST /api/v1/auth/login. It runs inside the tenant
// middleware, so the user lookup hits the resolved tenant's schema.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[user.LoginRequest](w, r)
	if !ok {
		return
	}

	pool := middleware.ConnFromContext(r.Context())
	if pool == nil {
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}

	u, err := h.Auth.Login(r.Context(), postgres.NewUserStore(pool), req, middleware.ClientAddr(r))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrLockedOut):
			writeError(w, http.StatusTooManyRequests, "too many failed attempts, try again later")
		case errors.Is(err, service.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		case errors.Is(err, user.ErrValidation):
			writeError(w, http.StatusBadRequest, "email and password are required")
		default:
			h.Logger.Debug("login failed",
				"namespace", middleware.NamespaceFromContext(r.Context()),
				"error", err,
			)
			writeInternalError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, u)
}
