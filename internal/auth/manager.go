package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"authhub/internal/apperr"
	"authhub/internal/obs"
)

const defaultCallTimeout = 3 * time.Second

// Dependencies are the collaborators a Manager needs.
type Dependencies struct {
	Identity IdentityStore
	Verifier CredentialVerifier
	Grants   GrantResolver
	Signer   TokenSigner
	Durable  DurableTokenStore
	Cache    CacheTokenStore
}

// Manager drives the session lifecycle: login, refresh and logout.
//
// Refresh tokens are written to the cache first and the durable store second.
// When the durable write fails the cache entry is removed again so no session
// exists only in the cache.
type Manager struct {
	identity IdentityStore
	verifier CredentialVerifier
	grants   GrantResolver
	signer   TokenSigner
	durable  DurableTokenStore
	cache    CacheTokenStore

	now         func() time.Time
	callTimeout time.Duration
	logger      *zap.Logger
}

// Option configures Manager behavior.
type Option func(*Manager) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) error {
		if fn != nil {
			m.now = fn
		}
		return nil
	}
}

// WithCallTimeout bounds every store and signer call.
func WithCallTimeout(d time.Duration) Option {
	return func(m *Manager) error {
		if d > 0 {
			m.callTimeout = d
		}
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) error {
		if l != nil {
			m.logger = l
		}
		return nil
	}
}

// NewManager constructs Manager with optional configuration.
func NewManager(deps Dependencies, opts ...Option) (*Manager, error) {
	switch {
	case deps.Identity == nil:
		return nil, errors.New("auth: identity store is required")
	case deps.Verifier == nil:
		return nil, errors.New("auth: credential verifier is required")
	case deps.Grants == nil:
		return nil, errors.New("auth: grant resolver is required")
	case deps.Signer == nil:
		return nil, errors.New("auth: token signer is required")
	case deps.Durable == nil || deps.Cache == nil:
		return nil, errors.New("auth: durable and cache token stores are required")
	}
	m := &Manager{
		identity:    deps.Identity,
		verifier:    deps.Verifier,
		grants:      deps.Grants,
		signer:      deps.Signer,
		durable:     deps.Durable,
		cache:       deps.Cache,
		now:         time.Now,
		callTimeout: defaultCallTimeout,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	m.logger = m.logger.With(zap.String("module", "auth"))
	return m, nil
}

// Login authenticates credentials and issues a fresh token pair. An unknown
// identifier and a wrong password fail with the same InvalidCredentials error.
func (m *Manager) Login(ctx context.Context, identifier, password string) (TokenPair, error) {
	pair, userID, err := m.login(ctx, identifier, password)
	m.observe("login", userID, err)
	return pair, err
}

func (m *Manager) login(ctx context.Context, identifier, password string) (TokenPair, string, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" || password == "" {
		return TokenPair{}, "", apperr.ErrInvalidCredentials
	}

	var user User
	err := m.call(ctx, func(ctx context.Context) error {
		var err error
		user, err = m.identity.FindByIdentifier(ctx, identifier)
		return err
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return TokenPair{}, "", apperr.ErrInvalidCredentials
	}
	if err != nil {
		return TokenPair{}, "", fmt.Errorf("find user: %w", err)
	}
	if !m.verifier.Matches(password, user.PasswordHash) {
		return TokenPair{}, user.ID, apperr.ErrInvalidCredentials
	}
	if !user.Active() {
		return TokenPair{}, user.ID, apperr.ErrInvalidUserState
	}
	pair, err := m.issue(ctx, user, "")
	return pair, user.ID, err
}

// Refresh rotates a refresh token. Grants are resolved again so revocations
// take effect immediately. The durable store swaps the token only if it is
// still the one presented, so of two refreshes racing on one token exactly one
// succeeds and the other fails with InvalidRefreshToken.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	pair, userID, err := m.refresh(ctx, refreshToken)
	m.observe("refresh", userID, err)
	return pair, err
}

func (m *Manager) refresh(ctx context.Context, refreshToken string) (TokenPair, string, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return TokenPair{}, "", apperr.ErrInvalidRefreshToken
	}
	tokenHash := HashToken(refreshToken)
	userID, err := m.resolveRefreshOwner(ctx, tokenHash)
	if err != nil {
		return TokenPair{}, "", err
	}

	var user User
	err = m.call(ctx, func(ctx context.Context) error {
		var err error
		user, err = m.identity.FindByID(ctx, userID)
		return err
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return TokenPair{}, userID, apperr.ErrInvalidRefreshToken
	}
	if err != nil {
		return TokenPair{}, userID, fmt.Errorf("find user: %w", err)
	}
	if !user.Active() {
		return TokenPair{}, userID, apperr.ErrInvalidUserState
	}
	pair, err := m.issue(ctx, user, tokenHash)
	return pair, userID, err
}

// resolveRefreshOwner finds the user owning tokenHash, cache first.
func (m *Manager) resolveRefreshOwner(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := m.call(ctx, func(ctx context.Context) error {
		var err error
		userID, err = m.cache.FindUserIDByToken(ctx, tokenHash)
		return err
	})
	if err == nil {
		if m.cachedTokenIsCurrent(ctx, userID, tokenHash) {
			return userID, nil
		}
	} else if !errors.Is(err, apperr.ErrNotFound) {
		m.logger.Warn("refresh token cache lookup failed, using durable store",
			zap.String("event", "auth.refresh_token.cache_lookup_failed"), zap.Error(err))
	}

	err = m.call(ctx, func(ctx context.Context) error {
		var err error
		userID, err = m.durable.FindUserIDByToken(ctx, tokenHash)
		return err
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return "", apperr.ErrInvalidRefreshToken
	}
	if err != nil {
		return "", fmt.Errorf("find refresh token: %w", err)
	}

	var rec RefreshToken
	err = m.call(ctx, func(ctx context.Context) error {
		var err error
		rec, err = m.durable.FindByUserID(ctx, userID)
		return err
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return "", apperr.ErrInvalidRefreshToken
	}
	if err != nil {
		return "", fmt.Errorf("find refresh token: %w", err)
	}
	if rec.TokenHash != tokenHash {
		return "", apperr.ErrInvalidRefreshToken
	}
	if !m.now().Before(rec.ExpiresAt) {
		if err := m.call(ctx, func(ctx context.Context) error {
			return m.durable.DeleteByUserID(ctx, userID)
		}); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			m.logger.Warn("expired refresh token cleanup failed",
				zap.String("event", "auth.refresh_token.cleanup_failed"),
				zap.String("user_id", userID), zap.Error(err))
		}
		return "", apperr.ErrInvalidRefreshToken
	}
	return userID, nil
}

// cachedTokenIsCurrent confirms a reverse-key hit against the user's cached
// record. A stale reverse key is dropped and the durable store decides.
func (m *Manager) cachedTokenIsCurrent(ctx context.Context, userID, tokenHash string) bool {
	var rec RefreshToken
	err := m.call(ctx, func(ctx context.Context) error {
		var err error
		rec, err = m.cache.FindByUserID(ctx, userID)
		return err
	})
	if err == nil && rec.TokenHash == tokenHash {
		return true
	}
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		m.logger.Warn("refresh token cache lookup failed, using durable store",
			zap.String("event", "auth.refresh_token.cache_lookup_failed"), zap.Error(err))
		return false
	}
	m.logger.Warn("stale refresh token in cache",
		zap.String("event", "auth.refresh_token.cache_stale"), zap.String("user_id", userID))
	if err := m.call(ctx, func(ctx context.Context) error {
		return m.cache.DeleteByToken(ctx, tokenHash)
	}); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		m.logger.Warn("stale refresh token cleanup failed",
			zap.String("event", "auth.refresh_token.cleanup_failed"),
			zap.String("user_id", userID), zap.Error(err))
	}
	return false
}

// Logout removes the user's refresh token from both stores. A user without a
// session is not an error.
func (m *Manager) Logout(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return apperr.New(apperr.InvalidInput, "user_id is required")
	}
	var errs []error
	if err := m.call(ctx, func(ctx context.Context) error {
		return m.cache.DeleteByUserID(ctx, userID)
	}); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		errs = append(errs, fmt.Errorf("cache: %w", err))
	}
	if err := m.call(ctx, func(ctx context.Context) error {
		return m.durable.DeleteByUserID(ctx, userID)
	}); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		errs = append(errs, fmt.Errorf("durable: %w", err))
	}
	err := errors.Join(errs...)
	m.observe("logout", userID, err)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// JWKS returns the public keys used to verify access tokens. It never fails
// and returns an empty list when no keys are configured.
func (m *Manager) JWKS() []JWK {
	keys := m.signer.PublicKeys()
	if keys == nil {
		return []JWK{}
	}
	return keys
}

// issue signs a new token pair. previousHash is empty on login; on refresh it
// names the token being rotated out.
func (m *Manager) issue(ctx context.Context, user User, previousHash string) (TokenPair, error) {
	var claims Claims
	err := m.call(ctx, func(ctx context.Context) error {
		grants, err := m.grants.ResolvePermissionsForUser(ctx, user.ID)
		if err != nil {
			return err
		}
		claims = ClaimsFor(user, grants)
		return nil
	})
	if err != nil {
		return TokenPair{}, fmt.Errorf("resolve grants: %w", err)
	}

	now := m.now()
	var pair TokenPair
	err = m.call(ctx, func(ctx context.Context) error {
		var err error
		pair.AccessToken, pair.AccessExpiresAt, err = m.signer.SignAccess(ctx, claims, now)
		if err != nil {
			return err
		}
		pair.RefreshToken, pair.RefreshExpiresAt, err = m.signer.SignRefresh(ctx, now)
		return err
	})
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign tokens: %w", err)
	}
	pair.TokenType = "Bearer"

	rec := RefreshToken{
		UserID:    user.ID,
		TokenHash: HashToken(pair.RefreshToken),
		IssuedAt:  now.UTC(),
		ExpiresAt: pair.RefreshExpiresAt.UTC(),
	}
	if err := m.storeRefreshToken(ctx, rec, previousHash); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

func (m *Manager) storeRefreshToken(ctx context.Context, rec RefreshToken, previousHash string) error {
	ttl := rec.ExpiresAt.Sub(m.now())
	if ttl <= 0 {
		return fmt.Errorf("refresh token for %s already expired", rec.UserID)
	}
	if err := m.call(ctx, func(ctx context.Context) error {
		return m.cache.Save(ctx, rec, ttl)
	}); err != nil {
		return fmt.Errorf("cache refresh token: %w", err)
	}
	if err := m.call(ctx, func(ctx context.Context) error {
		if previousHash == "" {
			return m.durable.Persist(ctx, rec)
		}
		return m.durable.Rotate(ctx, previousHash, rec)
	}); err != nil {
		m.rollbackCache(ctx, rec)
		if errors.Is(err, apperr.ErrInvalidRefreshToken) {
			return apperr.ErrInvalidRefreshToken
		}
		return fmt.Errorf("persist refresh token: %w", err)
	}
	return nil
}

// rollbackCache runs on a context detached from the caller's cancellation,
// since the caller's deadline may be what failed the durable write.
func (m *Manager) rollbackCache(ctx context.Context, rec RefreshToken) {
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.callTimeout)
	defer cancel()
	if err := m.cache.DeleteByToken(rbCtx, rec.TokenHash); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		obs.IncRefreshCacheRollbackFailure()
		m.logger.Error("refresh token cache rollback failed",
			zap.String("event", "auth.refresh_token.cache_rollback_failed"),
			zap.String("user_id", rec.UserID),
			zap.Time("expires_at", rec.ExpiresAt),
			zap.Error(err))
		return
	}
	m.logger.Warn("refresh token cache entry rolled back",
		zap.String("event", "auth.refresh_token.cache_rollback"),
		zap.String("user_id", rec.UserID))
}

func (m *Manager) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()
	return fn(ctx)
}

func (m *Manager) observe(operation, userID string, err error) {
	result := "success"
	if err != nil {
		result = apperr.KindOf(err).String()
	}
	obs.ObserveTokenOperation(operation, result)
	if err == nil {
		m.logger.Info("token operation",
			zap.String("event", "auth."+operation), zap.String("user_id", userID))
		return
	}
	level := zap.InfoLevel
	if apperr.KindOf(err) == apperr.Unknown {
		level = zap.ErrorLevel
	}
	m.logger.Check(level, "token operation failed").Write(
		zap.String("event", "auth."+operation+".failed"),
		zap.String("user_id", userID),
		zap.Error(err))
}
