package endpoints

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"authhub/internal/apperr"
	"authhub/internal/ids"
)

// Store persists endpoint specifications. Only rows without a deletion
// timestamp are visible through Find, FindActive and ListActive.
type Store interface {
	// Insert fails with apperr.DuplicateEndpoint when an active row has the same triple.
	Insert(ctx context.Context, e Endpoint) error
	Find(ctx context.Context, id string) (Endpoint, error)
	FindActive(ctx context.Context, service, path, method string) (Endpoint, error)
	Update(ctx context.Context, e Endpoint) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
	// ListActive filters by service and method; empty filters match everything.
	ListActive(ctx context.Context, service, method string) ([]Endpoint, error)
}

// Registry owns endpoint registration and request matching.
type Registry struct {
	store  Store
	ids    ids.Generator
	now    func() time.Time
	logger *zap.Logger
}

// Option configures Registry behavior.
type Option func(*Registry) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(r *Registry) error {
		if fn != nil {
			r.now = fn
		}
		return nil
	}
}

// WithIDGenerator overrides the identifier generator. Match ties are broken on
// id order, so the generator must be time-ordered.
func WithIDGenerator(gen ids.Generator) Option {
	return func(r *Registry) error {
		if gen != nil {
			r.ids = gen
		}
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) error {
		if l != nil {
			r.logger = l
		}
		return nil
	}
}

// NewRegistry constructs Registry with optional configuration.
func NewRegistry(store Store, opts ...Option) (*Registry, error) {
	if store == nil {
		return nil, errors.New("endpoints: store is required")
	}
	r := &Registry{
		store:  store,
		ids:    ids.Default(),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With(zap.String("module", "endpoints"))
	return r, nil
}

// Register creates a new endpoint specification.
func (r *Registry) Register(ctx context.Context, reg Registration) (Endpoint, error) {
	reg, err := reg.normalize()
	if err != nil {
		return Endpoint{}, err
	}
	_, err = r.store.FindActive(ctx, reg.ServiceName, reg.Path, reg.Method)
	switch {
	case err == nil:
		return Endpoint{}, apperr.Errorf(apperr.DuplicateEndpoint,
			"endpoint %s %s on %s already registered", reg.Method, reg.Path, reg.ServiceName)
	case !errors.Is(err, apperr.ErrNotFound):
		return Endpoint{}, err
	}

	now := r.now().UTC()
	e := Endpoint{
		ID:                  r.ids.NewID(),
		ServiceName:         reg.ServiceName,
		Path:                reg.Path,
		Method:              reg.Method,
		Description:         reg.Description,
		IsPublic:            reg.IsPublic,
		RequiredPermissions: reg.RequiredPermissions,
		RequiredRoles:       reg.RequiredRoles,
		Version:             reg.Version,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := r.store.Insert(ctx, e); err != nil {
		return Endpoint{}, err
	}
	r.logger.Info("endpoint registered",
		zap.String("event", "endpoints.register"),
		zap.String("endpoint_id", e.ID),
		zap.String("service", e.ServiceName),
		zap.String("method", e.Method),
		zap.String("path", e.Path))
	return e, nil
}

// Update applies a merge patch to an active endpoint.
func (r *Registry) Update(ctx context.Context, id string, patch Patch) (Endpoint, error) {
	e, err := r.store.Find(ctx, strings.TrimSpace(id))
	if err != nil {
		return Endpoint{}, err
	}
	if patch.Empty() {
		return e, nil
	}
	if patch.Description != nil {
		e.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.IsPublic != nil {
		e.IsPublic = *patch.IsPublic
	}
	if patch.RequiredPermissions != nil {
		e.RequiredPermissions = normalizeSet(*patch.RequiredPermissions)
	}
	if patch.RequiredRoles != nil {
		e.RequiredRoles = normalizeSet(*patch.RequiredRoles)
	}
	if patch.Version != nil {
		if *patch.Version <= 0 {
			return Endpoint{}, apperr.New(apperr.InvalidInput, "version must be positive")
		}
		e.Version = *patch.Version
	}
	e.UpdatedAt = r.now().UTC()
	if err := r.store.Update(ctx, e); err != nil {
		return Endpoint{}, err
	}
	r.logger.Info("endpoint updated", zap.String("event", "endpoints.update"), zap.String("endpoint_id", e.ID))
	return e, nil
}

// Delete soft-deletes an endpoint; its triple may be registered again afterwards.
func (r *Registry) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if _, err := r.store.Find(ctx, id); err != nil {
		return err
	}
	if err := r.store.SoftDelete(ctx, id, r.now().UTC()); err != nil {
		return err
	}
	r.logger.Info("endpoint deleted", zap.String("event", "endpoints.delete"), zap.String("endpoint_id", id))
	return nil
}

// FindMatch returns the most specific active endpoint of service and method
// whose pattern matches requestPath.
func (r *Registry) FindMatch(ctx context.Context, service, requestPath, method string) (Endpoint, bool, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	service = strings.TrimSpace(service)
	if service == "" || method == "" {
		return Endpoint{}, false, nil
	}
	candidates, err := r.store.ListActive(ctx, service, method)
	if err != nil {
		return Endpoint{}, false, fmt.Errorf("list endpoints: %w", err)
	}
	e, ok := Match(candidates, requestPath)
	return e, ok, nil
}

// ExportSpec returns every active specification ordered by service, path and method.
func (r *Registry) ExportSpec(ctx context.Context) ([]Spec, error) {
	all, err := r.store.ListActive(ctx, "", "")
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.ServiceName != b.ServiceName {
			return a.ServiceName < b.ServiceName
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Method < b.Method
	})
	out := make([]Spec, 0, len(all))
	for _, e := range all {
		out = append(out, e.Spec())
	}
	return out, nil
}

// SyncResult counts what Sync changed.
type SyncResult struct {
	Registered int
	Updated    int
}

// Sync upserts registrations keyed by (service, path, method).
func (r *Registry) Sync(ctx context.Context, regs []Registration) (SyncResult, error) {
	var res SyncResult
	for _, raw := range regs {
		reg, err := raw.normalize()
		if err != nil {
			return res, err
		}
		existing, err := r.store.FindActive(ctx, reg.ServiceName, reg.Path, reg.Method)
		if errors.Is(err, apperr.ErrNotFound) {
			if _, err := r.Register(ctx, reg); err != nil {
				return res, err
			}
			res.Registered++
			continue
		}
		if err != nil {
			return res, err
		}
		patch := Patch{
			Description:         &reg.Description,
			IsPublic:            &reg.IsPublic,
			RequiredPermissions: &reg.RequiredPermissions,
			RequiredRoles:       &reg.RequiredRoles,
			Version:             &reg.Version,
		}
		if _, err := r.Update(ctx, existing.ID, patch); err != nil {
			return res, err
		}
		res.Updated++
	}
	r.logger.Info("endpoints synced",
		zap.String("event", "endpoints.sync"),
		zap.Int("registered", res.Registered),
		zap.Int("updated", res.Updated))
	return res, nil
}
