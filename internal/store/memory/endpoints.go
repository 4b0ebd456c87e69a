package memory

import (
	"context"
	"time"

	"authhub/internal/apperr"
	"authhub/internal/endpoints"
)

// EndpointStore implements endpoints.Store.
type EndpointStore struct{ s *Store }

var _ endpoints.Store = (*EndpointStore)(nil)

func (e *EndpointStore) Insert(_ context.Context, ep endpoints.Endpoint) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	for _, existing := range e.s.endpoints {
		if existing.DeletedAt == nil && sameTriple(existing, ep) {
			return apperr.Errorf(apperr.DuplicateEndpoint,
				"endpoint %s %s on %s already registered", ep.Method, ep.Path, ep.ServiceName)
		}
	}
	e.s.endpoints[ep.ID] = cloneEndpoint(ep)
	return nil
}

func (e *EndpointStore) Find(_ context.Context, id string) (endpoints.Endpoint, error) {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()
	ep, ok := e.s.endpoints[id]
	if !ok || ep.DeletedAt != nil {
		return endpoints.Endpoint{}, apperr.Errorf(apperr.NotFound, "endpoint %s not found", id)
	}
	return cloneEndpoint(ep), nil
}

func (e *EndpointStore) FindActive(_ context.Context, service, path, method string) (endpoints.Endpoint, error) {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()
	want := endpoints.Endpoint{ServiceName: service, Path: path, Method: method}
	for _, ep := range e.s.endpoints {
		if ep.DeletedAt == nil && sameTriple(ep, want) {
			return cloneEndpoint(ep), nil
		}
	}
	return endpoints.Endpoint{}, apperr.Errorf(apperr.NotFound, "endpoint %s %s on %s not found", method, path, service)
}

func (e *EndpointStore) Update(_ context.Context, ep endpoints.Endpoint) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	existing, ok := e.s.endpoints[ep.ID]
	if !ok || existing.DeletedAt != nil {
		return apperr.Errorf(apperr.NotFound, "endpoint %s not found", ep.ID)
	}
	e.s.endpoints[ep.ID] = cloneEndpoint(ep)
	return nil
}

func (e *EndpointStore) SoftDelete(_ context.Context, id string, at time.Time) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	ep, ok := e.s.endpoints[id]
	if !ok || ep.DeletedAt != nil {
		return apperr.Errorf(apperr.NotFound, "endpoint %s not found", id)
	}
	ep.DeletedAt = &at
	ep.UpdatedAt = at
	e.s.endpoints[id] = ep
	return nil
}

func (e *EndpointStore) ListActive(_ context.Context, service, method string) ([]endpoints.Endpoint, error) {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()
	out := make([]endpoints.Endpoint, 0)
	for _, ep := range e.s.endpoints {
		if ep.DeletedAt != nil {
			continue
		}
		if service != "" && ep.ServiceName != service {
			continue
		}
		if method != "" && ep.Method != method {
			continue
		}
		out = append(out, cloneEndpoint(ep))
	}
	return out, nil
}

func sameTriple(a, b endpoints.Endpoint) bool {
	return a.ServiceName == b.ServiceName && a.Path == b.Path && a.Method == b.Method
}

func cloneEndpoint(ep endpoints.Endpoint) endpoints.Endpoint {
	ep.RequiredPermissions = append([]string(nil), ep.RequiredPermissions...)
	ep.RequiredRoles = append([]string(nil), ep.RequiredRoles...)
	return ep
}
