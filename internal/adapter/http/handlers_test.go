package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	nimbushttp "github.com/nimbuscrm/nimbus/internal/adapter/http"
	"github.com/nimbuscrm/nimbus/internal/domain"
	"github.com/nimbuscrm/nimbus/internal/domain/tenant"
)

type fakeTenantAdmin struct {
	tenants map[string]*tenant.Tenant
	created *tenant.CreateRequest
	rebuilt bool
	err     error
}

func (f *fakeTenantAdmin) Create(_ context.Context, req tenant.CreateRequest) (*tenant.Tenant, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = &req
	return &tenant.Tenant{ID: "t-1", Name: req.Name, Slug: req.Slug, Namespace: req.Slug, Active: true}, nil
}

func (f *fakeTenantAdmin) Get(_ context.Context, id string) (*tenant.Tenant, error) {
	t, ok := f.tenants[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return t, nil
}

func (f *fakeTenantAdmin) List(context.Context) ([]tenant.Tenant, error) {
	out := make([]tenant.Tenant, 0, len(f.tenants))
	for _, t := range f.tenants {
		out = append(out, *t)
	}
	return out, nil
}

func (f *fakeTenantAdmin) Activate(_ context.Context, id string) (*tenant.Tenant, error) {
	return f.Get(context.Background(), id)
}

func (f *fakeTenantAdmin) Deactivate(_ context.Context, id string) (*tenant.Tenant, error) {
	return f.Get(context.Background(), id)
}

func (f *fakeTenantAdmin) RebuildWhitelist(context.Context) error {
	f.rebuilt = true
	return f.err
}

type fakeBlacklist struct {
	added   []string
	removed []string
	err     error
}

func (f *fakeBlacklist) Blacklist(_ context.Context, identity string) error {
	f.added = append(f.added, identity)
	return f.err
}

func (f *fakeBlacklist) Unblacklist(_ context.Context, identity string) error {
	f.removed = append(f.removed, identity)
	return f.err
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(context.Context) error { return f.err }

func newTestHandlers(tenants *fakeTenantAdmin, traffic *fakeBlacklist) *nimbushttp.Handlers {
	return &nimbushttp.Handlers{
		Tenants: tenants,
		Traffic: traffic,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func adminRouter(h *nimbushttp.Handlers) chi.Router {
	r := chi.NewRouter()
	r.Get("/admin/tenants", h.ListTenants)
	r.Post("/admin/tenants", h.CreateTenant)
	r.Post("/admin/tenants/rebuild-whitelist", h.RebuildWhitelist)
	r.Get("/admin/tenants/{id}", h.GetTenant)
	r.Post("/admin/tenants/{id}/activate", h.ActivateTenant)
	r.Post("/admin/blacklist", h.AddBlacklist)
	r.Delete("/admin/blacklist/{identity}", h.RemoveBlacklist)
	return r
}

func TestHealth(t *testing.T) {
	h := newTestHandlers(&fakeTenantAdmin{}, &fakeBlacklist{})

	req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	rec := httptest.NewRecorder()
	http.HandlerFunc(h.Health).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestReady_DependencyDown_Returns503(t *testing.T) {
	h := newTestHandlers(&fakeTenantAdmin{}, &fakeBlacklist{})
	h.DB = &fakePinger{}
	h.Cache = &fakePinger{err: errors.New("connection refused")}

	req := httptest.NewRequest(http.MethodGet, "/health/ready", http.NoBody)
	rec := httptest.NewRecorder()
	http.HandlerFunc(h.Ready).ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var checks map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&checks); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if checks["postgres"] != "up" || checks["redis"] != "down" {
		t.Errorf("checks = %v", checks)
	}
}

func TestCreateTenant(t *testing.T) {
	tenants := &fakeTenantAdmin{}
	r := adminRouter(newTestHandlers(tenants, &fakeBlacklist{}))

	body, _ := json.Marshal(tenant.CreateRequest{Name: "Acme Co", Slug: "acme_co"})
	req := httptest.NewRequest(http.MethodPost, "/admin/tenants", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if tenants.created == nil || tenants.created.Slug != "acme_co" {
		t.Errorf("create request not forwarded: %+v", tenants.created)
	}
}

func TestCreateTenant_MissingFields_Returns400(t *testing.T) {
	r := adminRouter(newTestHandlers(&fakeTenantAdmin{}, &fakeBlacklist{}))

	req := httptest.NewRequest(http.MethodPost, "/admin/tenants", bytes.NewReader([]byte(`{"name":"No Slug"}`)))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetTenant_Unknown_Returns404(t *testing.T) {
	r := adminRouter(newTestHandlers(&fakeTenantAdmin{tenants: map[string]*tenant.Tenant{}}, &fakeBlacklist{}))

	req := httptest.NewRequest(http.MethodGet, "/admin/tenants/nope", http.NoBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestRebuildWhitelist(t *testing.T) {
	tenants := &fakeTenantAdmin{}
	r := adminRouter(newTestHandlers(tenants, &fakeBlacklist{}))

	req := httptest.NewRequest(http.MethodPost, "/admin/tenants/rebuild-whitelist", http.NoBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !tenants.rebuilt {
		t.Error("rebuild not invoked")
	}
}

func TestBlacklistAddRemove(t *testing.T) {
	traffic := &fakeBlacklist{}
	r := adminRouter(newTestHandlers(&fakeTenantAdmin{}, traffic))

	req := httptest.NewRequest(http.MethodPost, "/admin/blacklist", bytes.NewReader([]byte(`{"identity":"203.0.113.9"}`)))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("add status = %d, want 204", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/admin/blacklist/203.0.113.9", http.NoBody)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("remove status = %d, want 204", rec.Code)
	}

	if len(traffic.added) != 1 || traffic.added[0] != "203.0.113.9" {
		t.Errorf("added = %v", traffic.added)
	}
	if len(traffic.removed) != 1 || traffic.removed[0] != "203.0.113.9" {
		t.Errorf("removed = %v", traffic.removed)
	}
}
