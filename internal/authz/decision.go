// Package authz answers whether a caller may invoke a registered endpoint.
//
// Denials are ordinary results: Decide returns them as Decision values and
// reserves its error for infrastructure failures.
package authz

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"authhub/internal/endpoints"
	"authhub/internal/obs"
	"authhub/internal/rbac"
)

// Effect is the outcome of a decision.
type Effect string

const (
	Allow Effect = "ALLOW"
	Deny  Effect = "DENY"
)

// Reason explains a decision.
type Reason string

const (
	ReasonPublic                  Reason = "Public"
	ReasonGranted                 Reason = "Granted"
	ReasonUnknownEndpoint         Reason = "UnknownEndpoint"
	ReasonInsufficientPermissions Reason = "InsufficientPermissions"
)

// Decision is the result of evaluating one request.
type Decision struct {
	Effect     Effect `json:"effect"`
	Reason     Reason `json:"reason"`
	EndpointID string `json:"endpointId,omitempty"`
}

// Allowed reports whether the decision permits the request.
func (d Decision) Allowed() bool { return d.Effect == Allow }

// Request identifies the caller and the concrete request being authorized.
type Request struct {
	UserID  string `json:"userId"`
	Service string `json:"serviceName"`
	Path    string `json:"path"`
	Method  string `json:"method"`
}

// EndpointMatcher finds the endpoint specification for a concrete request.
type EndpointMatcher interface {
	FindMatch(ctx context.Context, service, requestPath, method string) (endpoints.Endpoint, bool, error)
}

// GrantResolver resolves a user's roles and permissions.
type GrantResolver interface {
	ResolvePermissionsForUser(ctx context.Context, userID string) (rbac.Grants, error)
}

// Engine composes endpoint matching with grant resolution.
type Engine struct {
	endpoints EndpointMatcher
	grants    GrantResolver
	logger    *zap.Logger
}

// NewEngine wires an Engine. logger may be nil.
func NewEngine(matcher EndpointMatcher, grants GrantResolver, logger *zap.Logger) (*Engine, error) {
	if matcher == nil || grants == nil {
		return nil, errors.New("authz: endpoint matcher and grant resolver are required")
	}
	return &Engine{
		endpoints: matcher,
		grants:    grants,
		logger:    obs.OrNop(logger).With(zap.String("module", "authz")),
	}, nil
}

// Decide evaluates req: unknown endpoints are denied, public endpoints are
// allowed without resolving the user, everything else needs a matching
// permission or role.
func (e *Engine) Decide(ctx context.Context, req Request) (Decision, error) {
	ep, ok, err := e.endpoints.FindMatch(ctx, req.Service, req.Path, req.Method)
	if err != nil {
		return Decision{}, fmt.Errorf("match endpoint: %w", err)
	}
	if !ok {
		return e.record(req, Decision{Effect: Deny, Reason: ReasonUnknownEndpoint}), nil
	}
	if ep.IsPublic {
		return e.record(req, Decision{Effect: Allow, Reason: ReasonPublic, EndpointID: ep.ID}), nil
	}
	grants, err := e.grants.ResolvePermissionsForUser(ctx, req.UserID)
	if err != nil {
		return Decision{}, fmt.Errorf("resolve grants: %w", err)
	}
	return e.record(req, Evaluate(ep, grants)), nil
}

func (e *Engine) record(req Request, d Decision) Decision {
	obs.ObserveDecision(string(d.Effect), string(d.Reason))
	e.logger.Debug("authorization decided",
		zap.String("event", "authz.decide"),
		zap.String("user_id", req.UserID),
		zap.String("service", req.Service),
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.String("effect", string(d.Effect)),
		zap.String("reason", string(d.Reason)),
		zap.String("endpoint_id", d.EndpointID))
	return d
}

// Evaluate applies the permission-or-role rule to an already matched endpoint.
func Evaluate(ep endpoints.Endpoint, grants rbac.Grants) Decision {
	if ep.IsPublic {
		return Decision{Effect: Allow, Reason: ReasonPublic, EndpointID: ep.ID}
	}
	if intersects(grants.Permissions, ep.RequiredPermissions) || intersects(grants.Roles, ep.RequiredRoles) {
		return Decision{Effect: Allow, Reason: ReasonGranted, EndpointID: ep.ID}
	}
	return Decision{Effect: Deny, Reason: ReasonInsufficientPermissions, EndpointID: ep.ID}
}

func intersects(have, want []string) bool {
	if len(have) == 0 || len(want) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(have))
	for _, v := range have {
		set[v] = struct{}{}
	}
	for _, v := range want {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}
