package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"authhub/internal/audit"
	"authhub/internal/auth"
	"authhub/internal/authz"
	"authhub/internal/config"
	"authhub/internal/endpoints"
	"authhub/internal/httpapi"
	"authhub/internal/migrate"
	"authhub/internal/onboarding"
	"authhub/internal/rbac"
	"authhub/internal/store/memory"
	"authhub/internal/store/pg"
	"authhub/internal/store/rediscache"
)

// operatorStore is the user store as seen by bootstrapOperator.
type operatorStore interface {
	auth.IdentityStore
	Create(ctx context.Context, user auth.User) error
}

// stores is the persistence backend selected by configuration.
type stores struct {
	roles      rbac.Store
	endpoints  endpoints.Store
	users      operatorStore
	tokens     auth.DurableTokenStore
	onboarding onboarding.Store
	db         *sql.DB
}

type caches struct {
	tokens      auth.CacheTokenStore
	idempotency onboarding.IdempotencyCache
	redis       *redis.Client
}

type application struct {
	deps   httpapi.Dependencies
	closer []func() error
}

// Close releases database and cache connections.
func (a *application) Close() {
	for i := len(a.closer) - 1; i >= 0; i-- {
		_ = a.closer[i]()
	}
}

func wire(ctx context.Context, cfg config.Config, logger *zap.Logger) (*application, error) {
	app := &application{}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if st.db != nil {
		app.closer = append(app.closer, st.db.Close)
	}

	cs, err := openCaches(ctx, cfg, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	if cs.redis != nil {
		app.closer = append(app.closer, cs.redis.Close)
	}

	signer, err := buildSigner(cfg, logger)
	if err != nil {
		app.Close()
		return nil, err
	}

	if err := app.build(ctx, cfg, logger, st, cs, signer); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *application) build(ctx context.Context, cfg config.Config, logger *zap.Logger, st stores, cs caches, signer *auth.RS256Signer) error {
	hasher := auth.NewArgon2Hasher()

	graph, err := rbac.NewGraph(st.roles, rbac.WithLogger(logger.Named("rbac")))
	if err != nil {
		return err
	}
	adminRole, err := graph.EnsureBuiltins(ctx, cfg.AdminRoleName)
	if err != nil {
		return err
	}
	if cfg.BootstrapEmail != "" {
		if err := bootstrapOperator(ctx, st.users, graph, hasher, adminRole, cfg.BootstrapEmail, cfg.BootstrapPassword, logger); err != nil {
			return err
		}
	}

	registry, err := endpoints.NewRegistry(st.endpoints, endpoints.WithLogger(logger.Named("endpoints")))
	if err != nil {
		return err
	}
	if cfg.EndpointSeedFile != "" {
		regs, err := endpoints.LoadSeedFile(cfg.EndpointSeedFile)
		if err != nil {
			return err
		}
		if _, err := registry.Sync(ctx, regs); err != nil {
			return fmt.Errorf("sync endpoint seed: %w", err)
		}
	}

	engine, err := authz.NewEngine(registry, graph, logger.Named("authz"))
	if err != nil {
		return err
	}

	sessions, err := auth.NewManager(auth.Dependencies{
		Identity: st.users,
		Verifier: hasher,
		Grants:   graph,
		Signer:   signer,
		Durable:  st.tokens,
		Cache:    cs.tokens,
	}, auth.WithCallTimeout(cfg.StoreTimeout), auth.WithLogger(logger.Named("auth")))
	if err != nil {
		return err
	}

	saga, err := onboarding.NewSaga(st.onboarding, st.roles, hasher, cs.idempotency,
		onboarding.WithAdminRole(cfg.AdminRoleName),
		onboarding.WithIdempotencyTTL(cfg.IdempotencyTTL),
		onboarding.WithLogger(logger.Named("onboarding")),
	)
	if err != nil {
		return err
	}

	probe := httpapi.ReadyProbe{DB: st.db}
	if cs.redis != nil {
		probe.Redis = cs.redis
	}
	a.deps = httpapi.Dependencies{
		Sessions:   sessions,
		Tokens:     signer,
		Authz:      engine,
		Endpoints:  registry,
		RBAC:       graph,
		Onboarding: saga,
		Ready:      probe,
		Audit:      audit.New(logger),
		Logger:     logger,
	}
	return nil
}

func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (stores, error) {
	if cfg.PostgresDSN == "" {
		logger.Warn("AUTHHUB_PG_DSN not set, using in-memory storage")
		mem := memory.New()
		return stores{
			roles:      mem.Roles(),
			endpoints:  mem.Endpoints(),
			users:      mem.Users(),
			tokens:     mem.RefreshTokens(),
			onboarding: mem.Onboarding(),
		}, nil
	}

	db, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		return stores{}, fmt.Errorf("open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	if err := db.Ping(pingCtx); err != nil {
		_ = db.Close()
		return stores{}, fmt.Errorf("ping postgres: %w", err)
	}
	if cfg.MigrateOnStart {
		applied, err := migrate.NewManager(db.DB(), nil).Up(ctx)
		if err != nil {
			_ = db.Close()
			return stores{}, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied", zap.Strings("files", applied))
	}
	return stores{
		roles:      db.Roles(),
		endpoints:  db.Endpoints(),
		users:      db.Users(),
		tokens:     db.RefreshTokens(),
		onboarding: db.Onboarding(),
		db:         db.DB(),
	}, nil
}

func openCaches(ctx context.Context, cfg config.Config, logger *zap.Logger) (caches, error) {
	if cfg.RedisAddr == "" {
		logger.Warn("AUTHHUB_REDIS_ADDR not set, using in-process caches")
		return caches{
			tokens:      memory.NewTokenCache(nil),
			idempotency: memory.NewIdempotencyCache(nil),
		}, nil
	}

	client := rediscache.NewClient(rediscache.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	if err := rediscache.Ping(pingCtx, client); err != nil {
		_ = client.Close()
		return caches{}, fmt.Errorf("ping redis: %w", err)
	}
	return caches{
		tokens:      rediscache.NewTokenCache(client, cfg.RedisPrefix, logger.Named("token_cache")),
		idempotency: rediscache.NewIdempotencyCache(client, cfg.RedisPrefix),
		redis:       client,
	}, nil
}

func buildSigner(cfg config.Config, logger *zap.Logger) (*auth.RS256Signer, error) {
	opts := []auth.SignerOption{
		auth.WithKeyID(cfg.JWTKeyID),
		auth.WithIssuer(cfg.JWTIssuer),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	}
	switch {
	case cfg.HasSigningKeys():
		opts = append(opts, auth.WithRS256Keys(cfg.JWTPrivateKey, cfg.JWTPublicKey))
	case cfg.JWTEphemeral:
		key, err := auth.GenerateRSAKey()
		if err != nil {
			return nil, err
		}
		logger.Warn("signing with an ephemeral key, tokens will not survive a restart")
		opts = append(opts, auth.WithRSAKey(key))
	default:
		return nil, errors.New("no signing keys: set AUTHHUB_JWT_PRIVATE_KEY and AUTHHUB_JWT_PUBLIC_KEY, or AUTHHUB_JWT_EPHEMERAL=true")
	}
	return auth.NewRS256Signer(opts...)
}
