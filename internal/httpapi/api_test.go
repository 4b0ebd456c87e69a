package httpapi

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"authhub/internal/auth"
	"authhub/internal/authz"
	"authhub/internal/endpoints"
	"authhub/internal/onboarding"
	"authhub/internal/rbac"
	"authhub/internal/store/memory"
	"authhub/internal/tenancy"
)

const (
	adminEmail    = "admin@acme.test"
	memberEmail   = "member@acme.test"
	adminPassword = "admin-pass-1"
	memberPass    = "member-pass-1"
)

var rsaKey = sync.OnceValues(auth.GenerateRSAKey)

type failingProbe struct{}

func (failingProbe) Check(context.Context) error { return errors.New("db down") }

type apiClient struct {
	t       *testing.T
	baseURL string
	client  *http.Client
	store   *memory.Store
	graph   *rbac.Graph
	admin   rbac.Role
}

func newTestAPI(t *testing.T, ready readinessChecker) *apiClient {
	t.Helper()
	ctx := context.Background()
	st := memory.New()

	graph, err := rbac.NewGraph(st.Roles())
	if err != nil {
		t.Fatalf("NewGraph() error = %v", err)
	}
	admin, err := graph.EnsureBuiltins(ctx, "TENANT_ADMIN")
	if err != nil {
		t.Fatalf("EnsureBuiltins() error = %v", err)
	}

	hasher := auth.NewArgon2Hasher()
	onb := st.Onboarding()
	if err := onb.CreateTenant(ctx, tenancy.Tenant{ID: "t-1", Name: "Acme", Status: tenancy.TenantStatusActive}); err != nil {
		t.Fatalf("CreateTenant() error = %v", err)
	}
	for _, u := range []struct{ id, email, password string }{
		{"u-admin", adminEmail, adminPassword},
		{"u-member", memberEmail, memberPass},
	} {
		hash, err := hasher.Hash(u.password)
		if err != nil {
			t.Fatalf("Hash() error = %v", err)
		}
		if err := st.Users().Create(ctx, auth.User{
			ID: u.id, TenantID: "t-1", Email: u.email, PasswordHash: hash, Status: auth.UserStatusActive,
		}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	if err := graph.AssignRoles(ctx, "u-admin", []string{admin.ID}); err != nil {
		t.Fatalf("AssignRoles() error = %v", err)
	}

	key, err := rsaKey()
	if err != nil {
		t.Fatalf("GenerateRSAKey() error = %v", err)
	}
	signer := newSigner(t, key)
	sessions, err := auth.NewManager(auth.Dependencies{
		Identity: st.Users(),
		Verifier: hasher,
		Grants:   graph,
		Signer:   signer,
		Durable:  st.RefreshTokens(),
		Cache:    memory.NewTokenCache(nil),
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	registry, err := endpoints.NewRegistry(st.Endpoints())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	engine, err := authz.NewEngine(registry, graph, nil)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	saga, err := onboarding.NewSaga(onb, st.Roles(), hasher, memory.NewIdempotencyCache(nil))
	if err != nil {
		t.Fatalf("NewSaga() error = %v", err)
	}

	api, err := New(Dependencies{
		Sessions:   sessions,
		Tokens:     signer,
		Authz:      engine,
		Endpoints:  registry,
		RBAC:       graph,
		Onboarding: saga,
		Ready:      ready,
	}, WithVersion("test"), WithMaxBodyBytes(4096))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{t: t, baseURL: srv.URL, client: srv.Client(), store: st, graph: graph, admin: admin}
}

func newSigner(t *testing.T, key *rsa.PrivateKey) *auth.RS256Signer {
	t.Helper()
	signer, err := auth.NewRS256Signer(auth.WithRSAKey(key), auth.WithKeyID("test-1"), auth.WithIssuer("authhub-test"))
	if err != nil {
		t.Fatalf("NewRS256Signer() error = %v", err)
	}
	return signer
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		payload, err := json.Marshal(b)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	c.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (c *apiClient) login(email, password string) auth.TokenPair {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/v1/auth/login", map[string]string{"identifier": email, "password": password}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("login %s: status %d", email, resp.StatusCode)
	}
	var pair auth.TokenPair
	decodeBody(c.t, resp, &pair)
	return pair
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func expectError(t *testing.T, resp *http.Response, status int, kind string) {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("status = %d, want %d", resp.StatusCode, status)
	}
	var body errorBody
	decodeBody(t, resp, &body)
	if body.Kind != kind {
		t.Fatalf("kind = %q, want %q (error %q)", body.Kind, kind, body.Error)
	}
	if body.RequestID == "" {
		t.Fatal("expected request_id in error body")
	}
}

func TestHealthAndReadiness(t *testing.T) {
	c := newTestAPI(t, nil)
	resp := c.do(http.MethodGet, "/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatal("expected X-Request-ID header")
	}
	if resp := c.do(http.MethodGet, "/readyz", nil, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status = %d", resp.StatusCode)
	}

	failing := newTestAPI(t, failingProbe{})
	if resp := failing.do(http.MethodGet, "/readyz", nil, nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz status = %d, want 503", resp.StatusCode)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	c := newTestAPI(t, nil)
	resp := c.do(http.MethodGet, "/healthz", nil, map[string]string{requestIDHeader: "req-123"})
	if got := resp.Header.Get(requestIDHeader); got != "req-123" {
		t.Fatalf("X-Request-ID = %q", got)
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	c := newTestAPI(t, nil)
	wrong := c.do(http.MethodPost, "/v1/auth/login", map[string]string{"identifier": adminEmail, "password": "nope"}, nil)
	expectError(t, wrong, http.StatusUnauthorized, "invalid_credentials")

	unknown := c.do(http.MethodPost, "/v1/auth/login", map[string]string{"identifier": "ghost@acme.test", "password": "nope"}, nil)
	expectError(t, unknown, http.StatusUnauthorized, "invalid_credentials")
}

func TestLoginRejectsMalformedBodies(t *testing.T) {
	c := newTestAPI(t, nil)
	expectError(t, c.do(http.MethodPost, "/v1/auth/login", "{", nil), http.StatusBadRequest, "invalid_input")
	expectError(t, c.do(http.MethodPost, "/v1/auth/login", `{"identifier":"a","password":"b","extra":1}`, nil),
		http.StatusBadRequest, "invalid_input")

	huge := `{"identifier":"` + strings.Repeat("a", 8192) + `","password":"b"}`
	expectError(t, c.do(http.MethodPost, "/v1/auth/login", huge, nil), http.StatusBadRequest, "invalid_input")
}

func TestJWKSListsSigningKey(t *testing.T) {
	c := newTestAPI(t, nil)
	resp := c.do(http.MethodGet, "/.well-known/jwks.json", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body jwksResponse
	decodeBody(t, resp, &body)
	if len(body.Keys) != 1 || body.Keys[0].Kid != "test-1" || body.Keys[0].Alg != "RS256" {
		t.Fatalf("keys = %+v", body.Keys)
	}
}

func TestBearerRequired(t *testing.T) {
	c := newTestAPI(t, nil)
	expectError(t, c.do(http.MethodPost, "/v1/auth/logout", nil, nil), http.StatusUnauthorized, "unauthenticated")
	expectError(t, c.do(http.MethodPost, "/v1/auth/logout", nil, bearerHeader("not-a-jwt")), http.StatusUnauthorized, "unauthenticated")
	expectError(t, c.do(http.MethodPost, "/v1/auth/logout", nil, map[string]string{"Authorization": "Basic abc"}),
		http.StatusUnauthorized, "unauthenticated")
}

func TestRefreshRotatesAndLogoutEndsSession(t *testing.T) {
	c := newTestAPI(t, nil)
	first := c.login(adminEmail, adminPassword)

	resp := c.do(http.MethodPost, "/v1/auth/refresh", map[string]string{"refreshToken": first.RefreshToken}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d", resp.StatusCode)
	}
	var second auth.TokenPair
	decodeBody(t, resp, &second)
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	stale := c.do(http.MethodPost, "/v1/auth/refresh", map[string]string{"refreshToken": first.RefreshToken}, nil)
	expectError(t, stale, http.StatusUnauthorized, "invalid_refresh_token")

	if resp := c.do(http.MethodPost, "/v1/auth/logout", nil, bearerHeader(second.AccessToken)); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}
	after := c.do(http.MethodPost, "/v1/auth/refresh", map[string]string{"refreshToken": second.RefreshToken}, nil)
	expectError(t, after, http.StatusUnauthorized, "invalid_refresh_token")
}

func TestEndpointManagementRequiresPermission(t *testing.T) {
	c := newTestAPI(t, nil)
	member := c.login(memberEmail, memberPass)
	reg := map[string]any{"serviceName": "orders", "path": "/orders/{id}", "method": "GET", "requiredPermissions": []string{"order:read"}}
	expectError(t, c.do(http.MethodPost, "/v1/endpoints", reg, bearerHeader(member.AccessToken)), http.StatusForbidden, "forbidden")
}

func TestEndpointLifecycleAndDecisions(t *testing.T) {
	c := newTestAPI(t, nil)
	admin := c.login(adminEmail, adminPassword)
	h := bearerHeader(admin.AccessToken)

	reg := map[string]any{"serviceName": "orders", "path": "/orders/{id}", "method": "get", "requiredPermissions": []string{"order:read"}}
	resp := c.do(http.MethodPost, "/v1/endpoints", reg, h)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	var created endpointView
	decodeBody(t, resp, &created)
	if created.Method != "GET" || created.Version != 1 || resp.Header.Get("Location") == "" {
		t.Fatalf("created = %+v", created)
	}
	expectError(t, c.do(http.MethodPost, "/v1/endpoints", reg, h), http.StatusConflict, "duplicate_endpoint")

	decide := func(userID, path string) authz.Decision {
		t.Helper()
		resp := c.do(http.MethodPost, "/v1/authz/decisions",
			map[string]string{"userId": userID, "serviceName": "orders", "path": path, "method": "GET"}, h)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("decide status = %d", resp.StatusCode)
		}
		var d authz.Decision
		decodeBody(t, resp, &d)
		return d
	}
	if d := decide("u-member", "/orders/42"); d.Effect != authz.Deny || d.Reason != authz.ReasonInsufficientPermissions {
		t.Fatalf("member decision = %+v", d)
	}
	if d := decide("u-member", "/invoices/1"); d.Reason != authz.ReasonUnknownEndpoint {
		t.Fatalf("unknown path decision = %+v", d)
	}

	public := true
	resp = c.do(http.MethodPatch, "/v1/endpoints/"+created.ID, endpoints.Patch{IsPublic: &public}, h)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d", resp.StatusCode)
	}
	var patched endpointView
	decodeBody(t, resp, &patched)
	if !patched.IsPublic || patched.Version != 2 {
		t.Fatalf("patched = %+v", patched)
	}
	if d := decide("nobody", "/orders/42"); d.Effect != authz.Allow || d.Reason != authz.ReasonPublic {
		t.Fatalf("public decision = %+v", d)
	}

	resp = c.do(http.MethodGet, "/v1/endpoints/spec", nil, h)
	var spec specResponse
	decodeBody(t, resp, &spec)
	if len(spec.Endpoints) != 1 || spec.Endpoints[0].ID != created.ID {
		t.Fatalf("spec = %+v", spec)
	}

	if resp := c.do(http.MethodDelete, "/v1/endpoints/"+created.ID, nil, h); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	expectError(t, c.do(http.MethodDelete, "/v1/endpoints/"+created.ID, nil, h), http.StatusNotFound, "not_found")
}

func TestUserPermissionsVisibility(t *testing.T) {
	c := newTestAPI(t, nil)
	member := c.login(memberEmail, memberPass)
	admin := c.login(adminEmail, adminPassword)

	resp := c.do(http.MethodGet, "/v1/users/me/permissions", nil, bearerHeader(member.AccessToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("self status = %d", resp.StatusCode)
	}
	var self permissionsResponse
	decodeBody(t, resp, &self)
	if self.UserID != "u-member" || len(self.Permissions) != 0 || self.Roles == nil {
		t.Fatalf("self = %+v", self)
	}

	expectError(t, c.do(http.MethodGet, "/v1/users/u-admin/permissions", nil, bearerHeader(member.AccessToken)),
		http.StatusForbidden, "forbidden")

	resp = c.do(http.MethodGet, "/v1/users/u-member/permissions", nil, bearerHeader(admin.AccessToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin view status = %d", resp.StatusCode)
	}
}

func TestRoleAssignmentAndDeletionGuards(t *testing.T) {
	c := newTestAPI(t, nil)
	admin := c.login(adminEmail, adminPassword)
	h := bearerHeader(admin.AccessToken)

	body := map[string]any{"roleIds": []string{c.admin.ID}}
	for i := 0; i < 2; i++ {
		if resp := c.do(http.MethodPost, "/v1/users/u-member/roles", body, h); resp.StatusCode != http.StatusNoContent {
			t.Fatalf("assign #%d status = %d", i+1, resp.StatusCode)
		}
	}
	grants, err := c.graph.ResolvePermissionsForUser(context.Background(), "u-member")
	if err != nil {
		t.Fatalf("ResolvePermissionsForUser() error = %v", err)
	}
	if !grants.HasRole("TENANT_ADMIN") {
		t.Fatalf("grants = %+v", grants)
	}

	expectError(t, c.do(http.MethodPost, "/v1/users/u-member/roles", map[string]any{"roleIds": []string{}}, h),
		http.StatusBadRequest, "invalid_input")
	expectError(t, c.do(http.MethodDelete, "/v1/roles/"+c.admin.ID, nil, h), http.StatusConflict, "in_use")

	if resp := c.do(http.MethodDelete, "/v1/users/u-member/roles", body, h); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke status = %d", resp.StatusCode)
	}
}

func TestOnboardingIsIdempotent(t *testing.T) {
	c := newTestAPI(t, nil)
	admin := c.login(adminEmail, adminPassword)
	h := bearerHeader(admin.AccessToken)
	h[idempotencyHeader] = "onb-1"

	req := map[string]string{"tenantName": "Globex", "organizationName": "Globex HQ", "masterEmail": "boss@globex.test"}
	first := c.do(http.MethodPost, "/v1/onboarding", req, h)
	if first.StatusCode != http.StatusCreated {
		t.Fatalf("first status = %d", first.StatusCode)
	}
	var a, b onboarding.Result
	decodeBody(t, first, &a)
	second := c.do(http.MethodPost, "/v1/onboarding", req, h)
	if second.StatusCode != http.StatusCreated {
		t.Fatalf("second status = %d", second.StatusCode)
	}
	decodeBody(t, second, &b)
	if a != b || a.TemporaryPassword == "" {
		t.Fatalf("replay mismatch: %+v vs %+v", a, b)
	}

	delete(h, idempotencyHeader)
	expectError(t, c.do(http.MethodPost, "/v1/onboarding", req, h), http.StatusConflict, "duplicate_tenant_name")

	bad := map[string]string{"tenantName": "Initech", "organizationName": "HQ", "masterEmail": "not-an-email"}
	expectError(t, c.do(http.MethodPost, "/v1/onboarding", bad, h), http.StatusBadRequest, "invalid_input")

	// The new tenant's admin can log in with the temporary password.
	c.login("boss@globex.test", a.TemporaryPassword)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	c := newTestAPI(t, nil)
	expectError(t, c.do(http.MethodGet, "/v2/nothing", nil, nil), http.StatusNotFound, "not_found")
	if resp := c.do(http.MethodGet, "/v1/auth/login", nil, nil); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}
