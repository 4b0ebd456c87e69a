// Package httpapi exposes AuthHub over HTTP (chi) and reports readiness over
// the standard gRPC health service.
package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"authhub/internal/audit"
	"authhub/internal/auth"
	"authhub/internal/authz"
	"authhub/internal/endpoints"
	"authhub/internal/obs"
	"authhub/internal/onboarding"
	"authhub/internal/rbac"
)

const serviceName = "authhub"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the configured backing services. Nil members are skipped.
type ReadyProbe struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	var errs []error
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sessions is the token lifecycle used by the auth routes.
type Sessions interface {
	Login(ctx context.Context, identifier, password string) (auth.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (auth.TokenPair, error)
	Logout(ctx context.Context, userID string) error
	JWKS() []auth.JWK
}

// Decider answers authorization questions.
type Decider interface {
	Decide(ctx context.Context, req authz.Request) (authz.Decision, error)
}

// EndpointRegistry manages endpoint specifications.
type EndpointRegistry interface {
	Register(ctx context.Context, reg endpoints.Registration) (endpoints.Endpoint, error)
	Update(ctx context.Context, id string, patch endpoints.Patch) (endpoints.Endpoint, error)
	Delete(ctx context.Context, id string) error
	ExportSpec(ctx context.Context) ([]endpoints.Spec, error)
}

// RoleGraph manages role and permission assignments.
type RoleGraph interface {
	AssignRoles(ctx context.Context, userID string, roleIDs []string) error
	RevokeRoles(ctx context.Context, userID string, roleIDs []string) error
	GrantPermission(ctx context.Context, roleID, permissionID string) error
	RevokePermission(ctx context.Context, roleID, permissionID string) error
	DeleteRole(ctx context.Context, roleID string) error
	DeletePermission(ctx context.Context, permissionID string) error
	ResolvePermissionsForUser(ctx context.Context, userID string) (rbac.Grants, error)
}

// Onboarder provisions tenants.
type Onboarder interface {
	Execute(ctx context.Context, req onboarding.Request) (onboarding.Result, error)
}

// Dependencies are the components served by the API.
type Dependencies struct {
	Sessions   Sessions
	Tokens     auth.TokenVerifier
	Authz      Decider
	Endpoints  EndpointRegistry
	RBAC       RoleGraph
	Onboarding Onboarder
	Ready      readinessChecker
	Audit      *audit.Logger
	Logger     *zap.Logger
}

// API is the HTTP layer.
type API struct {
	sessions   Sessions
	tokens     auth.TokenVerifier
	authz      Decider
	endpoints  EndpointRegistry
	rbac       RoleGraph
	onboarding Onboarder
	ready      readinessChecker
	audit      *audit.Logger
	logger     *zap.Logger

	version      string
	maxBodyBytes int64
	router       chi.Router
}

// Option configures API.
type Option func(*API)

// WithVersion sets the version reported by /healthz.
func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// WithMaxBodyBytes limits request bodies; zero disables the limit.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) { a.maxBodyBytes = n }
}

// New wires the router.
func New(deps Dependencies, opts ...Option) (*API, error) {
	switch {
	case deps.Sessions == nil || deps.Tokens == nil:
		return nil, errors.New("httpapi: sessions and token verifier are required")
	case deps.Authz == nil || deps.Endpoints == nil || deps.RBAC == nil || deps.Onboarding == nil:
		return nil, errors.New("httpapi: authz, endpoints, rbac and onboarding are required")
	}
	a := &API{
		sessions:     deps.Sessions,
		tokens:       deps.Tokens,
		authz:        deps.Authz,
		endpoints:    deps.Endpoints,
		rbac:         deps.RBAC,
		onboarding:   deps.Onboarding,
		ready:        deps.Ready,
		audit:        deps.Audit,
		logger:       obs.OrNop(deps.Logger).With(zap.String("module", "httpapi")),
		version:      "dev",
		maxBodyBytes: 1 << 20,
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	if a.audit == nil {
		a.audit = audit.New(nil)
	}
	for _, opt := range opts {
		opt(a)
	}
	a.router = a.routes()
	return a, nil
}

// Handler returns the root handler.
func (a *API) Handler() http.Handler { return a.router }

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(AccessLog(a.logger))
	r.Use(Recoverer(a.logger))
	r.Use(obs.Instrument)
	r.Use(SecurityHeaders)
	r.Use(MaxBodyBytes(a.maxBodyBytes))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "route not found", Kind: "not_found",
			RequestID: audit.RequestIDFromContext(r.Context())})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed", Kind: "invalid_input",
			RequestID: audit.RequestIDFromContext(r.Context())})
	})

	r.Get("/healthz", a.healthz)
	r.Get("/readyz", a.readyz)
	r.Handle("/metrics", obs.Handler())
	r.Get("/.well-known/jwks.json", a.handleJWKS)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)
		r.Post("/auth/refresh", a.handleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)

			r.Post("/auth/logout", a.handleLogout)
			r.Get("/users/{id}/permissions", a.handleUserPermissions)

			r.With(a.require(rbac.PermAuthzDecide)).Post("/authz/decisions", a.handleDecision)
			r.With(a.require(rbac.PermAuthzDecide)).Get("/endpoints/spec", a.handleExportSpec)

			r.Group(func(r chi.Router) {
				r.Use(a.require(rbac.PermEndpointManage))
				r.Post("/endpoints", a.handleRegisterEndpoint)
				r.Patch("/endpoints/{id}", a.handleUpdateEndpoint)
				r.Delete("/endpoints/{id}", a.handleDeleteEndpoint)
			})

			r.Group(func(r chi.Router) {
				r.Use(a.require(rbac.PermRBACManage))
				r.Post("/users/{id}/roles", a.handleAssignRoles)
				r.Delete("/users/{id}/roles", a.handleRevokeRoles)
				r.Put("/roles/{id}/permissions/{permissionID}", a.handleGrantPermission)
				r.Delete("/roles/{id}/permissions/{permissionID}", a.handleRevokePermission)
				r.Delete("/roles/{id}", a.handleDeleteRole)
				r.Delete("/permissions/{id}", a.handleDeletePermission)
			})

			r.With(a.require(rbac.PermTenantOnboard)).Post("/onboarding", a.handleOnboarding)
		})
	})
	return r
}

func (a *API) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		a.logger.Warn("readiness check failed", zap.String("event", "http.readyz.failed"), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
