package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/nimbuscrm/nimbus/internal/adapter/otel"
	"github.com/nimbuscrm/nimbus/internal/domain"
	"github.com/nimbuscrm/nimbus/internal/domain/tenant"
	"github.com/nimbuscrm/nimbus/internal/domain/user"
	"github.com/nimbuscrm/nimbus/internal/port/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMetrics() *otel.Metrics {
	m, err := otel.NewMetrics()
	if err != nil {
		panic(err)
	}
	return m
}

func tenantCreate(name, slug string) tenant.CreateRequest {
	return tenant.CreateRequest{Name: name, Slug: slug}
}

// memStore is an in-memory kv.Store. Set failNext to simulate one store
// outage; TTLs are recorded but not enforced.
type memStore struct {
	mu       sync.Mutex
	values   map[string]string
	sets     map[string]map[string]bool
	counters map[string]int64
	failNext error
	fail     error
}

func newMemStore() *memStore {
	return &memStore{
		values:   make(map[string]string),
		sets:     make(map[string]map[string]bool),
		counters: make(map[string]int64),
	}
}

func (s *memStore) checkFail() error {
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	return s.fail
}

func (s *memStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkFail(); err != nil {
		return "", false, err
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *memStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkFail(); err != nil {
		return err
	}
	s.values[key] = value
	return nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkFail(); err != nil {
		return err
	}
	delete(s.values, key)
	delete(s.counters, key)
	delete(s.sets, key)
	return nil
}

func (s *memStore) AddMember(_ context.Context, set, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkFail(); err != nil {
		return err
	}
	if s.sets[set] == nil {
		s.sets[set] = make(map[string]bool)
	}
	s.sets[set][member] = true
	return nil
}

func (s *memStore) IsMember(_ context.Context, set, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkFail(); err != nil {
		return false, err
	}
	return s.sets[set][member], nil
}

func (s *memStore) RemoveMember(_ context.Context, set, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkFail(); err != nil {
		return err
	}
	delete(s.sets[set], member)
	return nil
}

func (s *memStore) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkFail(); err != nil {
		return 0, err
	}
	s.counters[key]++
	return s.counters[key], nil
}

// memCache is an in-memory cache.Cache with no eviction.
type memCache struct {
	mu     sync.Mutex
	values map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{values: make(map[string][]byte)}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

// scriptCall records one ScriptRunner invocation.
type scriptCall struct {
	name string
	keys []string
	args []any
}

// fakeScripts is a scriptable kv.ScriptRunner. fn decides the reply; calls
// are recorded for assertions.
type fakeScripts struct {
	mu    sync.Mutex
	calls []scriptCall
	fn    func(name string, keys []string, args []any) (any, error)
}

func (f *fakeScripts) Run(_ context.Context, name string, keys []string, args ...any) (any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, scriptCall{name: name, keys: keys, args: args})
	f.mu.Unlock()
	return f.fn(name, keys, args)
}

func (f *fakeScripts) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeTenantStore is an in-memory database.TenantStore with lookup counters.
type fakeTenantStore struct {
	mu          sync.Mutex
	bySlug      map[string]string // slug -> namespace, active only
	byDomain    map[string]string
	byID        map[string]*tenant.Tenant
	slugLookups int
	err         error
}

func newFakeTenantStore() *fakeTenantStore {
	return &fakeTenantStore{
		bySlug:   make(map[string]string),
		byDomain: make(map[string]string),
		byID:     make(map[string]*tenant.Tenant),
	}
}

func (f *fakeTenantStore) ResolveSlug(_ context.Context, slug string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slugLookups++
	if f.err != nil {
		return "", f.err
	}
	ns, ok := f.bySlug[slug]
	if !ok {
		return "", domain.ErrNotFound
	}
	return ns, nil
}

func (f *fakeTenantStore) ResolveDomain(_ context.Context, host string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	ns, ok := f.byDomain[host]
	if !ok {
		return "", domain.ErrNotFound
	}
	return ns, nil
}

func (f *fakeTenantStore) CreateTenant(_ context.Context, req tenant.CreateRequest, ns string) (*tenant.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	t := &tenant.Tenant{
		ID:        "t-" + req.Slug,
		Name:      req.Name,
		Slug:      req.Slug,
		Namespace: ns,
		Active:    true,
		Domain:    req.Domain,
	}
	f.byID[t.ID] = t
	f.bySlug[t.Slug] = ns
	if t.Domain != "" {
		f.byDomain[t.Domain] = ns
	}
	return t, nil
}

func (f *fakeTenantStore) GetTenant(_ context.Context, id string) (*tenant.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return t, nil
}

func (f *fakeTenantStore) ListTenants(_ context.Context) ([]tenant.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]tenant.Tenant, 0, len(f.byID))
	for _, t := range f.byID {
		out = append(out, *t)
	}
	return out, nil
}

func (f *fakeTenantStore) SetTenantActive(_ context.Context, id string, active bool) (*tenant.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	t.Active = active
	if active {
		f.bySlug[t.Slug] = t.Namespace
	} else {
		delete(f.bySlug, t.Slug)
	}
	return t, nil
}

func (f *fakeTenantStore) ActiveSlugs(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.bySlug))
	for slug := range f.bySlug {
		out = append(out, slug)
	}
	return out, nil
}

// fakeProvisioner records provisioned namespaces.
type fakeProvisioner struct {
	mu          sync.Mutex
	provisioned []string
	err         error
}

func (f *fakeProvisioner) Provision(_ context.Context, ns string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.provisioned = append(f.provisioned, ns)
	return nil
}

// fakeUserStore is an in-memory database.UserStore.
type fakeUserStore struct {
	users map[string]*user.User
	err   error
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (*user.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[email]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserStore) CreateUser(_ context.Context, u *user.User) error {
	if f.users == nil {
		f.users = make(map[string]*user.User)
	}
	f.users[u.Email] = u
	return nil
}

// captureSink collects reported events.
type captureSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *captureSink) Report(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) kinds() []events.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Kind, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind
	}
	return out
}
