package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/nimbuscrm/nimbus/internal/domain/tenant"
	"github.com/nimbuscrm/nimbus/internal/namespace"
)

// TenantAdmin is the tenant lifecycle surface exposed to operators.
type TenantAdmin interface {
	Create(ctx context.Context, req tenant.CreateRequest) (*tenant.Tenant, error)
	Get(ctx context.Context, id string) (*tenant.Tenant, error)
	List(ctx context.Context) ([]tenant.Tenant, error)
	Activate(ctx context.Context, id string) (*tenant.Tenant, error)
	Deactivate(ctx context.Context, id string) (*tenant.Tenant, error)
	RebuildWhitelist(ctx context.Context) error
}

// BlacklistAdmin manages the permanent traffic blocklist.
type BlacklistAdmin interface {
	Blacklist(ctx context.Context, identity string) error
	Unblacklist(ctx context.Context, identity string) error
}

// CreateTenant handles POST /admin/tenants.
func (h *Handlers) CreateTenant(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[tenant.CreateRequest](w, r)
	if !ok {
		return
	}
	if req.Name == "" || req.Slug == "" {
		writeError(w, http.StatusBadRequest, "name and slug are required")
		return
	}

	t, err := h.Tenants.Create(r.Context(), req)
	if err != nil {
		var invalid *namespace.InvalidError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusBadRequest, "slug cannot be mapped to a valid namespace")
			return
		}
		writeDomainError(w, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// GetTenant handles GET /admin/tenants/{id}.
func (h *Handlers) GetTenant(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tenants.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ListTenants handles GET /admin/tenants.
func (h *Handlers) ListTenants(w http.ResponseWriter, r *http.Request) {
	list, err := h.Tenants.List(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ActivateTenant handles POST /admin/tenants/{id}/activate.
func (h *Handlers) ActivateTenant(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tenants.Activate(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// DeactivateTenant handles POST /admin/tenants/{id}/deactivate.
func (h *Handlers) DeactivateTenant(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tenants.Deactivate(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// RebuildWhitelist handles POST /admin/tenants/rebuild-whitelist.
func (h *Handlers) RebuildWhitelist(w http.ResponseWriter, r *http.Request) {
	if err := h.Tenants.RebuildWhitelist(r.Context()); err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}

type blacklistRequest struct {
	Identity string `json:"identity"`
}

// AddBlacklist handles POST /admin/blacklist.
func (h *Handlers) AddBlacklist(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[blacklistRequest](w, r)
	if !ok {
		return
	}
	identity := strings.TrimSpace(req.Identity)
	if identity == "" {
		writeError(w, http.StatusBadRequest, "identity is required")
		return
	}
	if err := h.Traffic.Blacklist(r.Context(), identity); err != nil {
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveBlacklist handles DELETE /admin/blacklist/{identity}.
func (h *Handlers) RemoveBlacklist(w http.ResponseWriter, r *http.Request) {
	identity := urlParam(r, "identity")
	if identity == "" {
		writeError(w, http.StatusBadRequest, "identity is required")
		return
	}
	if err := h.Traffic.Unblacklist(r.Context(), identity); err != nil {
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
