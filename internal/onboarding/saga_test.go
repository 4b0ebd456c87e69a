package onboarding_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"authhub/internal/apperr"
	"authhub/internal/auth"
	"authhub/internal/onboarding"
	"authhub/internal/rbac"
	"authhub/internal/store/memory"
	"authhub/internal/tenancy"
)

type plainHasher struct{}

func (plainHasher) Hash(raw string) (string, error) { return "plain:" + raw, nil }

type env struct {
	store *memory.Store
	cache *memory.IdempotencyCache
	admin rbac.Role
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := memory.New()
	graph, err := rbac.NewGraph(st.Roles())
	if err != nil {
		t.Fatal(err)
	}
	admin, err := graph.EnsureBuiltins(context.Background(), "TENANT_ADMIN")
	if err != nil {
		t.Fatalf("EnsureBuiltins() error = %v", err)
	}
	return &env{store: st, cache: memory.NewIdempotencyCache(nil), admin: admin}
}

func (e *env) saga(t *testing.T, store onboarding.Store, opts ...onboarding.Option) *onboarding.Saga {
	t.Helper()
	s, err := onboarding.NewSaga(store, e.store.Roles(), plainHasher{}, e.cache, opts...)
	if err != nil {
		t.Fatalf("NewSaga() error = %v", err)
	}
	return s
}

func validRequest(key string) onboarding.Request {
	return onboarding.Request{
		TenantName:       "Acme",
		OrganizationName: "Acme HQ",
		MasterEmail:      "Owner@Acme.test",
		IdempotencyKey:   key,
	}
}

func TestExecuteCreatesTenantBundle(t *testing.T) {
	e := newEnv(t)
	s := e.saga(t, e.store.Onboarding())
	ctx := context.Background()

	res, err := s.Execute(ctx, validRequest(""))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.TenantID == "" || res.OrganizationID == "" || res.UserID == "" {
		t.Fatalf("incomplete result: %+v", res)
	}
	if len(res.TemporaryPassword) < 12 {
		t.Fatalf("temporary password too short: %q", res.TemporaryPassword)
	}

	user, err := e.store.Users().FindByIdentifier(ctx, "owner@acme.test")
	if err != nil {
		t.Fatalf("FindByIdentifier() error = %v", err)
	}
	if user.ID != res.UserID || user.TenantName != "Acme" || user.OrganizationName != "Acme HQ" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if !user.MustChangePassword || user.Status != auth.UserStatusActive {
		t.Fatalf("user flags: %+v", user)
	}
	if user.PasswordHash != "plain:"+res.TemporaryPassword {
		t.Fatal("stored credential is not the hashed temporary password")
	}
	roles, err := e.store.Roles().UserRoleIDs(ctx, res.UserID)
	if err != nil || len(roles) != 1 || roles[0] != e.admin.ID {
		t.Fatalf("UserRoleIDs() = %v, %v; want [%s]", roles, err, e.admin.ID)
	}
}

func TestExecuteReplaysIdempotencyKey(t *testing.T) {
	e := newEnv(t)
	s := e.saga(t, e.store.Onboarding())
	ctx := context.Background()

	first, err := s.Execute(ctx, validRequest("key-1"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Execute(ctx, validRequest("key-1"))
	if err != nil {
		t.Fatalf("replay error = %v", err)
	}
	if first != second {
		t.Fatalf("replay returned %+v, want %+v", second, first)
	}
	if tenants, _, _ := e.store.Onboarding().Counts(); tenants != 1 {
		t.Fatalf("tenants = %d, want 1", tenants)
	}
}

func TestExecuteConcurrentSameKey(t *testing.T) {
	e := newEnv(t)
	s := e.saga(t, e.store.Onboarding())

	const n = 8
	results := make([]onboarding.Result, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Execute(context.Background(), validRequest("same-key"))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("call %d error = %v", i, errs[i])
		}
		if results[i].TenantID != results[0].TenantID {
			t.Fatalf("call %d got tenant %s, want %s", i, results[i].TenantID, results[0].TenantID)
		}
	}
	if tenants, orgs, users := e.store.Onboarding().Counts(); tenants != 1 || orgs != 1 || users != 1 {
		t.Fatalf("counts = %d/%d/%d, want 1/1/1", tenants, orgs, users)
	}
}

// gatedCache holds idempotency lookups until release is closed and then
// honors the caller's context like a networked cache would.
type gatedCache struct {
	onboarding.IdempotencyCache
	entered chan struct{}
	release chan struct{}
	saved   chan struct{}
}

func (c *gatedCache) FindByKey(ctx context.Context, key string) (onboarding.Result, error) {
	select {
	case c.entered <- struct{}{}:
	default:
	}
	<-c.release
	if err := ctx.Err(); err != nil {
		return onboarding.Result{}, err
	}
	return c.IdempotencyCache.FindByKey(ctx, key)
}

func (c *gatedCache) Save(ctx context.Context, key string, res onboarding.Result, ttl time.Duration) error {
	err := c.IdempotencyCache.Save(ctx, key, res, ttl)
	close(c.saved)
	return err
}

func TestExecuteKeyedRunOutlivesCancelledCaller(t *testing.T) {
	e := newEnv(t)
	cache := &gatedCache{
		IdempotencyCache: e.cache,
		entered:          make(chan struct{}, 1),
		release:          make(chan struct{}),
		saved:            make(chan struct{}),
	}
	s, err := onboarding.NewSaga(e.store.Onboarding(), e.store.Roles(), plainHasher{}, cache)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Execute(ctx, validRequest("shared-key"))
		done <- err
	}()
	<-cache.entered
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller error = %v, want context.Canceled", err)
	}

	close(cache.release)
	select {
	case <-cache.saved:
	case <-time.After(5 * time.Second):
		t.Fatal("shared run stopped with the first caller's context")
	}

	res, err := s.Execute(context.Background(), validRequest("shared-key"))
	if err != nil {
		t.Fatalf("Execute() after shared run error = %v", err)
	}
	user, err := e.store.Users().FindByID(context.Background(), res.UserID)
	if err != nil || user.TenantName != "Acme" {
		t.Fatalf("FindByID() = %+v, %v", user, err)
	}
	if tenants, _, _ := e.store.Onboarding().Counts(); tenants != 1 {
		t.Fatalf("tenants = %d, want 1", tenants)
	}
}

func TestExecuteRejectsDuplicateTenantName(t *testing.T) {
	e := newEnv(t)
	s := e.saga(t, e.store.Onboarding())
	ctx := context.Background()

	if _, err := s.Execute(ctx, validRequest("a")); err != nil {
		t.Fatal(err)
	}
	req := validRequest("b")
	req.TenantName = "ACME"
	req.MasterEmail = "other@acme.test"
	if _, err := s.Execute(ctx, req); !errors.Is(err, apperr.ErrDuplicateTenantName) {
		t.Fatalf("Execute() error = %v, want DuplicateTenantName", err)
	}
}

func TestExecuteValidatesInput(t *testing.T) {
	e := newEnv(t)
	s := e.saga(t, e.store.Onboarding())
	cases := map[string]func(*onboarding.Request){
		"tenant":       func(r *onboarding.Request) { r.TenantName = " " },
		"organization": func(r *onboarding.Request) { r.OrganizationName = "" },
		"email":        func(r *onboarding.Request) { r.MasterEmail = "not-an-email" },
	}
	for name, mutate := range cases {
		req := validRequest("")
		mutate(&req)
		if _, err := s.Execute(context.Background(), req); !errors.Is(err, apperr.ErrInvalidInput) {
			t.Fatalf("%s: error = %v, want InvalidInput", name, err)
		}
	}
}

func TestExecuteRequiresAdminRole(t *testing.T) {
	e := newEnv(t)
	s := e.saga(t, e.store.Onboarding(), onboarding.WithAdminRole("MISSING_ROLE"))
	if _, err := s.Execute(context.Background(), validRequest("")); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("Execute() error = %v, want NotFound", err)
	}
}

type failingGrantStore struct {
	*memory.OnboardingStore
}

func (failingGrantStore) AssignRole(context.Context, rbac.UserRole) error {
	return errors.New("connection reset")
}

func TestExecuteCompensatesPartialWrites(t *testing.T) {
	e := newEnv(t)
	s := e.saga(t, failingGrantStore{e.store.Onboarding()})

	if _, err := s.Execute(context.Background(), validRequest("k")); err == nil {
		t.Fatal("Execute() error = nil, want failure")
	}
	if tenants, orgs, users := e.store.Onboarding().Counts(); tenants+orgs+users != 0 {
		t.Fatalf("left behind %d tenants, %d orgs, %d users", tenants, orgs, users)
	}
	if _, err := e.cache.FindByKey(context.Background(), "k"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("failed run was cached: %v", err)
	}
}

// txStore stages writes and applies them only when the callback succeeds.
type txStore struct {
	*memory.OnboardingStore
	failGrant bool
}

type stagedWriter struct {
	tenant    tenancy.Tenant
	org       tenancy.Organization
	user      auth.User
	grant     rbac.UserRole
	failGrant bool
}

func (w *stagedWriter) CreateTenant(_ context.Context, t tenancy.Tenant) error {
	w.tenant = t
	return nil
}

func (w *stagedWriter) CreateOrganization(_ context.Context, o tenancy.Organization) error {
	w.org = o
	return nil
}

func (w *stagedWriter) CreateUser(_ context.Context, u auth.User) error {
	w.user = u
	return nil
}

func (w *stagedWriter) AssignRole(_ context.Context, ur rbac.UserRole) error {
	if w.failGrant {
		return errors.New("deadlock detected")
	}
	w.grant = ur
	return nil
}

func (s *txStore) WithinTx(ctx context.Context, fn func(context.Context, onboarding.Writer) error) error {
	w := &stagedWriter{failGrant: s.failGrant}
	if err := fn(ctx, w); err != nil {
		return err
	}
	if err := s.CreateTenant(ctx, w.tenant); err != nil {
		return err
	}
	if err := s.CreateOrganization(ctx, w.org); err != nil {
		return err
	}
	if err := s.CreateUser(ctx, w.user); err != nil {
		return err
	}
	return s.OnboardingStore.AssignRole(ctx, w.grant)
}

func TestExecuteUsesTransactionWhenAvailable(t *testing.T) {
	e := newEnv(t)
	clock := func() time.Time { return time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC) }

	failing := e.saga(t, &txStore{OnboardingStore: e.store.Onboarding(), failGrant: true}, onboarding.WithClock(clock))
	if _, err := failing.Execute(context.Background(), validRequest("")); err == nil {
		t.Fatal("Execute() error = nil, want failure")
	}
	if tenants, _, _ := e.store.Onboarding().Counts(); tenants != 0 {
		t.Fatalf("rolled back transaction left %d tenants", tenants)
	}

	ok := e.saga(t, &txStore{OnboardingStore: e.store.Onboarding()}, onboarding.WithClock(clock))
	res, err := ok.Execute(context.Background(), validRequest(""))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	user, err := e.store.Users().FindByID(context.Background(), res.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if !user.CreatedAt.Equal(clock()) {
		t.Fatalf("CreatedAt = %v, want %v", user.CreatedAt, clock())
	}
}

func TestExecuteExpiredKeyRunsAgain(t *testing.T) {
	e := newEnv(t)
	now := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	e.cache = memory.NewIdempotencyCache(func() time.Time { return now })
	s := e.saga(t, e.store.Onboarding(), onboarding.WithIdempotencyTTL(time.Hour))

	if _, err := s.Execute(context.Background(), validRequest("k")); err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Hour)
	if _, err := s.Execute(context.Background(), validRequest("k")); !errors.Is(err, apperr.ErrDuplicateTenantName) {
		t.Fatalf("after expiry error = %v, want DuplicateTenantName", err)
	}
}
