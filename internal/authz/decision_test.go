package authz_test

import (
	"context"
	"errors"
	"testing"

	"authhub/internal/authz"
	"authhub/internal/endpoints"
	"authhub/internal/rbac"
	"authhub/internal/store/memory"
)

type world struct {
	engine   *authz.Engine
	registry *endpoints.Registry
	graph    *rbac.Graph
	reader   rbac.Role
}

func newWorld(t *testing.T) *world {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	graph, err := rbac.NewGraph(st.Roles())
	if err != nil {
		t.Fatal(err)
	}
	registry, err := endpoints.NewRegistry(st.Endpoints())
	if err != nil {
		t.Fatal(err)
	}
	engine, err := authz.NewEngine(registry, graph, nil)
	if err != nil {
		t.Fatal(err)
	}

	reader, _ := graph.CreateRole(ctx, rbac.Role{Name: "READER", Scope: rbac.ScopeGlobal})
	auditor, _ := graph.CreateRole(ctx, rbac.Role{Name: "AUDITOR", Scope: rbac.ScopeGlobal})
	read, _ := graph.CreatePermission(ctx, rbac.Permission{Key: "order:read"})
	if err := graph.GrantPermission(ctx, reader.ID, read.ID); err != nil {
		t.Fatal(err)
	}
	if err := graph.AssignRoles(ctx, "reader", []string{reader.ID}); err != nil {
		t.Fatal(err)
	}
	if err := graph.AssignRoles(ctx, "auditor", []string{auditor.ID}); err != nil {
		t.Fatal(err)
	}

	for _, reg := range []endpoints.Registration{
		{ServiceName: "orders", Path: "/orders/{id}", Method: "GET", RequiredPermissions: []string{"order:read"}},
		{ServiceName: "orders", Path: "/orders/{id}", Method: "DELETE", RequiredPermissions: []string{"order:delete"}},
		{ServiceName: "orders", Path: "/orders/{id}/audit", Method: "GET", RequiredRoles: []string{"AUDITOR"}},
		{ServiceName: "orders", Path: "/health", Method: "GET", IsPublic: true},
		{ServiceName: "orders", Path: "/locked", Method: "GET"},
	} {
		if _, err := registry.Register(ctx, reg); err != nil {
			t.Fatal(err)
		}
	}
	return &world{engine: engine, registry: registry, graph: graph, reader: reader}
}

func TestDecideTable(t *testing.T) {
	w := newWorld(t)
	cases := []struct {
		name   string
		req    authz.Request
		effect authz.Effect
		reason authz.Reason
	}{
		{"granted by permission", authz.Request{UserID: "reader", Service: "orders", Path: "/orders/7", Method: "GET"}, authz.Allow, authz.ReasonGranted},
		{"missing permission", authz.Request{UserID: "reader", Service: "orders", Path: "/orders/7", Method: "DELETE"}, authz.Deny, authz.ReasonInsufficientPermissions},
		{"granted by role", authz.Request{UserID: "auditor", Service: "orders", Path: "/orders/7/audit", Method: "GET"}, authz.Allow, authz.ReasonGranted},
		{"role required", authz.Request{UserID: "reader", Service: "orders", Path: "/orders/7/audit", Method: "GET"}, authz.Deny, authz.ReasonInsufficientPermissions},
		{"public anonymous", authz.Request{Service: "orders", Path: "/health", Method: "GET"}, authz.Allow, authz.ReasonPublic},
		{"no requirements", authz.Request{UserID: "reader", Service: "orders", Path: "/locked", Method: "GET"}, authz.Deny, authz.ReasonInsufficientPermissions},
		{"unknown path", authz.Request{UserID: "reader", Service: "orders", Path: "/nope", Method: "GET"}, authz.Deny, authz.ReasonUnknownEndpoint},
		{"unknown service", authz.Request{UserID: "reader", Service: "billing", Path: "/orders/7", Method: "GET"}, authz.Deny, authz.ReasonUnknownEndpoint},
		{"user without roles", authz.Request{UserID: "ghost", Service: "orders", Path: "/orders/7", Method: "GET"}, authz.Deny, authz.ReasonInsufficientPermissions},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := w.engine.Decide(context.Background(), tc.req)
			if err != nil {
				t.Fatalf("Decide() error = %v", err)
			}
			if d.Effect != tc.effect || d.Reason != tc.reason {
				t.Fatalf("Decide() = %s/%s, want %s/%s", d.Effect, d.Reason, tc.effect, tc.reason)
			}
			if d.Reason != authz.ReasonUnknownEndpoint && d.EndpointID == "" {
				t.Fatal("matched decision without endpoint id")
			}
		})
	}
}

func TestDecideReflectsRevocation(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	req := authz.Request{UserID: "reader", Service: "orders", Path: "/orders/7", Method: "GET"}

	d, err := w.engine.Decide(ctx, req)
	if err != nil || !d.Allowed() {
		t.Fatalf("before revoke: %+v, %v", d, err)
	}
	if err := w.graph.RevokeRoles(ctx, "reader", []string{w.reader.ID}); err != nil {
		t.Fatal(err)
	}
	d, err = w.engine.Decide(ctx, req)
	if err != nil || d.Allowed() {
		t.Fatalf("after revoke: %+v, %v", d, err)
	}
}

type brokenGrants struct{}

func (brokenGrants) ResolvePermissionsForUser(context.Context, string) (rbac.Grants, error) {
	return rbac.Grants{}, errors.New("db down")
}

func TestDecideSurfacesInfrastructureErrors(t *testing.T) {
	w := newWorld(t)
	engine, err := authz.NewEngine(w.registry, brokenGrants{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Decide(context.Background(), authz.Request{UserID: "reader", Service: "orders", Path: "/orders/7", Method: "GET"}); err == nil {
		t.Fatal("Decide() error = nil, want grant resolution failure")
	}
	d, err := engine.Decide(context.Background(), authz.Request{Service: "orders", Path: "/health", Method: "GET"})
	if err != nil || d.Reason != authz.ReasonPublic {
		t.Fatalf("public endpoint should not resolve grants: %+v, %v", d, err)
	}
}

func TestEvaluateIsPure(t *testing.T) {
	ep := endpoints.Endpoint{ID: "e", RequiredPermissions: []string{"a:b"}}
	if d := authz.Evaluate(ep, rbac.Grants{Permissions: []string{"a:b"}}); !d.Allowed() {
		t.Fatalf("Evaluate() = %+v", d)
	}
	if d := authz.Evaluate(ep, rbac.Grants{}); d.Allowed() {
		t.Fatalf("Evaluate() with no grants = %+v", d)
	}
}
