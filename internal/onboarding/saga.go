package onboarding

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"authhub/internal/apperr"
	"authhub/internal/auth"
	"authhub/internal/ids"
	"authhub/internal/obs"
	"authhub/internal/rbac"
	"authhub/internal/tenancy"
)

const (
	defaultIdempotencyTTL = 24 * time.Hour
	defaultRunTimeout     = 30 * time.Second
	defaultAdminRole      = "TENANT_ADMIN"
	tempPasswordLength    = 16
	tempPasswordAlphabet  = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"
)

// Request asks for a new tenant with one organization and one admin user.
type Request struct {
	TenantName       string `json:"tenantName"`
	OrganizationName string `json:"organizationName"`
	MasterEmail      string `json:"masterEmail"`
	IdempotencyKey   string `json:"-"`
}

// Result identifies what an onboarding run created.
type Result struct {
	TenantID          string `json:"tenantId"`
	OrganizationID    string `json:"organizationId"`
	UserID            string `json:"userId"`
	TemporaryPassword string `json:"temporaryPassword"`
}

// Bundle is everything one run writes.
type Bundle struct {
	Tenant            tenancy.Tenant
	Organization      tenancy.Organization
	AdminUser         auth.User
	AdminGrant        rbac.UserRole
	TemporaryPassword string
}

// Saga creates a tenant, its organization, its admin user and the admin role
// grant as one unit, and replays cached results for repeated idempotency keys.
type Saga struct {
	store     Store
	roles     RoleLookup
	hasher    PasswordHasher
	cache     IdempotencyCache
	ids       ids.Generator
	now       func() time.Time
	ttl       time.Duration
	timeout   time.Duration
	adminRole string
	logger    *zap.Logger

	inflight singleflight.Group
}

// Option configures Saga behavior.
type Option func(*Saga) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Saga) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithIDGenerator overrides the identifier generator.
func WithIDGenerator(gen ids.Generator) Option {
	return func(s *Saga) error {
		if gen != nil {
			s.ids = gen
		}
		return nil
	}
}

// WithIdempotencyTTL sets how long results are replayed.
func WithIdempotencyTTL(ttl time.Duration) Option {
	return func(s *Saga) error {
		if ttl > 0 {
			s.ttl = ttl
		}
		return nil
	}
}

// WithRunTimeout bounds a run keyed by an idempotency key. Such a run is
// shared by every caller holding the key and does not stop when one of them
// gives up.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Saga) error {
		if d > 0 {
			s.timeout = d
		}
		return nil
	}
}

// WithAdminRole sets the name of the global role granted to the admin user.
func WithAdminRole(name string) Option {
	return func(s *Saga) error {
		if name = strings.TrimSpace(name); name != "" {
			s.adminRole = name
		}
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Saga) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// NewSaga constructs Saga with optional configuration.
func NewSaga(store Store, roles RoleLookup, hasher PasswordHasher, cache IdempotencyCache, opts ...Option) (*Saga, error) {
	if store == nil || roles == nil || hasher == nil || cache == nil {
		return nil, errors.New("onboarding: store, role lookup, hasher and cache are required")
	}
	_, transactional := store.(Transactor)
	_, compensable := store.(Compensator)
	if !transactional && !compensable {
		return nil, errors.New("onboarding: store must support transactions or compensation")
	}
	s := &Saga{
		store:     store,
		roles:     roles,
		hasher:    hasher,
		cache:     cache,
		ids:       ids.Default(),
		now:       time.Now,
		ttl:       defaultIdempotencyTTL,
		timeout:   defaultRunTimeout,
		adminRole: defaultAdminRole,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With(zap.String("module", "onboarding"))
	return s, nil
}

// Execute runs the saga. Calls sharing an idempotency key within the TTL
// return the first successful result without creating anything. Concurrent
// calls with one key join a single run bounded by WithRunTimeout; a caller
// whose ctx ends stops waiting but the run goes on for the others.
func (s *Saga) Execute(ctx context.Context, req Request) (Result, error) {
	req, err := normalize(req)
	if err != nil {
		obs.ObserveOnboarding(apperr.KindOf(err).String())
		return Result{}, err
	}
	if req.IdempotencyKey == "" {
		res, err := s.run(ctx, req)
		s.observe(req, res, err, false)
		return res, err
	}

	ch := s.inflight.DoChan(req.IdempotencyKey, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.runOnce(runCtx, req)
	})
	select {
	case r := <-ch:
		out, _ := r.Val.(keyedResult)
		s.observe(req, out.res, r.Err, out.replayed)
		return out.res, r.Err
	case <-ctx.Done():
		s.observe(req, Result{}, ctx.Err(), false)
		return Result{}, ctx.Err()
	}
}

type keyedResult struct {
	res      Result
	replayed bool
}

// runOnce replays the cached result for req's key or runs the saga and
// caches what it created.
func (s *Saga) runOnce(ctx context.Context, req Request) (keyedResult, error) {
	cached, err := s.cache.FindByKey(ctx, req.IdempotencyKey)
	if err == nil {
		return keyedResult{res: cached, replayed: true}, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return keyedResult{}, fmt.Errorf("idempotency lookup: %w", err)
	}
	res, err := s.run(ctx, req)
	if err != nil {
		return keyedResult{}, err
	}
	if err := s.cache.Save(ctx, req.IdempotencyKey, res, s.ttl); err != nil {
		s.logger.Error("onboarding result not cached",
			zap.String("event", "onboarding.idempotency.save_failed"),
			zap.String("tenant_id", res.TenantID),
			zap.Error(err))
	}
	return keyedResult{res: res}, nil
}

func (s *Saga) run(ctx context.Context, req Request) (Result, error) {
	exists, err := s.store.TenantNameExists(ctx, req.TenantName)
	if err != nil {
		return Result{}, fmt.Errorf("check tenant name: %w", err)
	}
	if exists {
		return Result{}, apperr.Errorf(apperr.DuplicateTenantName, "tenant name %q is already in use", req.TenantName)
	}
	role, err := s.roles.FindGlobalRoleByName(ctx, s.adminRole)
	if err != nil {
		return Result{}, fmt.Errorf("find admin role %s: %w", s.adminRole, err)
	}
	password, err := generatePassword(tempPasswordLength)
	if err != nil {
		return Result{}, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return Result{}, fmt.Errorf("hash temporary password: %w", err)
	}

	b := s.bundle(req, role, password, hash)
	if err := s.persist(ctx, b); err != nil {
		return Result{}, err
	}
	return Result{
		TenantID:          b.Tenant.ID,
		OrganizationID:    b.Organization.ID,
		UserID:            b.AdminUser.ID,
		TemporaryPassword: password,
	}, nil
}

func (s *Saga) bundle(req Request, role rbac.Role, password, hash string) Bundle {
	now := s.now().UTC()
	tenant := tenancy.Tenant{
		ID:        s.ids.NewID(),
		Name:      req.TenantName,
		Status:    tenancy.TenantStatusActive,
		CreatedAt: now,
	}
	org := tenancy.Organization{
		ID:        s.ids.NewID(),
		TenantID:  tenant.ID,
		Name:      req.OrganizationName,
		CreatedAt: now,
	}
	user := auth.User{
		ID:                 s.ids.NewID(),
		TenantID:           tenant.ID,
		TenantName:         tenant.Name,
		OrganizationID:     org.ID,
		OrganizationName:   org.Name,
		Email:              req.MasterEmail,
		PasswordHash:       hash,
		Status:             auth.UserStatusActive,
		MustChangePassword: true,
		CreatedAt:          now,
	}
	return Bundle{
		Tenant:            tenant,
		Organization:      org,
		AdminUser:         user,
		AdminGrant:        rbac.UserRole{UserID: user.ID, RoleID: role.ID, CreatedAt: now},
		TemporaryPassword: password,
	}
}

func (s *Saga) persist(ctx context.Context, b Bundle) error {
	if tx, ok := s.store.(Transactor); ok {
		return tx.WithinTx(ctx, func(ctx context.Context, w Writer) error {
			return writeBundle(ctx, w, b)
		})
	}
	return s.persistWithCompensation(ctx, b)
}

func writeBundle(ctx context.Context, w Writer, b Bundle) error {
	if err := w.CreateTenant(ctx, b.Tenant); err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	if err := w.CreateOrganization(ctx, b.Organization); err != nil {
		return fmt.Errorf("create organization: %w", err)
	}
	if err := w.CreateUser(ctx, b.AdminUser); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	if err := w.AssignRole(ctx, b.AdminGrant); err != nil {
		return fmt.Errorf("assign admin role: %w", err)
	}
	return nil
}

type step struct {
	name string
	do   func(context.Context) error
	undo func(context.Context) error
}

// persistWithCompensation writes step by step and, on failure, undoes the
// completed steps in reverse order.
func (s *Saga) persistWithCompensation(ctx context.Context, b Bundle) error {
	comp := s.store.(Compensator)
	steps := []step{
		{"create tenant",
			func(ctx context.Context) error { return s.store.CreateTenant(ctx, b.Tenant) },
			func(ctx context.Context) error { return comp.DeleteTenant(ctx, b.Tenant.ID) }},
		{"create organization",
			func(ctx context.Context) error { return s.store.CreateOrganization(ctx, b.Organization) },
			func(ctx context.Context) error { return comp.DeleteOrganization(ctx, b.Organization.ID) }},
		{"create user",
			func(ctx context.Context) error { return s.store.CreateUser(ctx, b.AdminUser) },
			func(ctx context.Context) error { return comp.DeleteUser(ctx, b.AdminUser.ID) }},
		{"assign admin role",
			func(ctx context.Context) error { return s.store.AssignRole(ctx, b.AdminGrant) },
			func(ctx context.Context) error {
				return comp.RevokeRole(ctx, b.AdminGrant.UserID, b.AdminGrant.RoleID)
			}},
	}

	for i, st := range steps {
		err := st.do(ctx)
		if err == nil {
			continue
		}
		stepErr := fmt.Errorf("%s: %w", st.name, err)
		undoCtx := context.WithoutCancel(ctx)
		var undoErrs []error
		for j := i - 1; j >= 0; j-- {
			if uerr := steps[j].undo(undoCtx); uerr != nil && !errors.Is(uerr, apperr.ErrNotFound) {
				s.logger.Error("onboarding compensation failed",
					zap.String("event", "onboarding.compensation_failed"),
					zap.String("step", steps[j].name),
					zap.String("tenant_id", b.Tenant.ID),
					zap.Error(uerr))
				undoErrs = append(undoErrs, fmt.Errorf("undo %s: %w", steps[j].name, uerr))
			}
		}
		if len(undoErrs) > 0 {
			return errors.Join(append([]error{stepErr}, undoErrs...)...)
		}
		s.logger.Warn("onboarding rolled back",
			zap.String("event", "onboarding.compensated"),
			zap.String("failed_step", st.name),
			zap.String("tenant_id", b.Tenant.ID))
		return stepErr
	}
	return nil
}

func (s *Saga) observe(req Request, res Result, err error, replayed bool) {
	switch {
	case err != nil:
		obs.ObserveOnboarding(apperr.KindOf(err).String())
		s.logger.Warn("onboarding failed",
			zap.String("event", "onboarding.failed"),
			zap.String("tenant_name", req.TenantName),
			zap.Error(err))
	case replayed:
		obs.ObserveOnboarding("replayed")
		s.logger.Info("onboarding replayed",
			zap.String("event", "onboarding.replayed"),
			zap.String("tenant_id", res.TenantID))
	default:
		obs.ObserveOnboarding("success")
		s.logger.Info("tenant onboarded",
			zap.String("event", "onboarding.completed"),
			zap.String("tenant_id", res.TenantID),
			zap.String("organization_id", res.OrganizationID),
			zap.String("user_id", res.UserID))
	}
}

func normalize(req Request) (Request, error) {
	req.TenantName = strings.TrimSpace(req.TenantName)
	req.OrganizationName = strings.TrimSpace(req.OrganizationName)
	req.MasterEmail = strings.ToLower(strings.TrimSpace(req.MasterEmail))
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.TenantName == "" {
		return Request{}, apperr.New(apperr.InvalidInput, "tenant name is required")
	}
	if req.OrganizationName == "" {
		return Request{}, apperr.New(apperr.InvalidInput, "organization name is required")
	}
	addr, err := mail.ParseAddress(req.MasterEmail)
	if err != nil || addr.Address != req.MasterEmail {
		return Request{}, apperr.Errorf(apperr.InvalidInput, "master email %q is not valid", req.MasterEmail)
	}
	return req, nil
}

func generatePassword(n int) (string, error) {
	max := big.NewInt(int64(len(tempPasswordAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate temporary password: %w", err)
		}
		out[i] = tempPasswordAlphabet[idx.Int64()]
	}
	return string(out), nil
}
