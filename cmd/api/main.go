package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/authgate/internal/api/http"
	"github.com/spec-kit/authgate/internal/api/http/handlers"
	"github.com/spec-kit/authgate/internal/auth"
	"github.com/spec-kit/authgate/internal/cache"
	"github.com/spec-kit/authgate/internal/config"
	"github.com/spec-kit/authgate/internal/events"
	"github.com/spec-kit/authgate/internal/identity"
	"github.com/spec-kit/authgate/internal/observability"
	"github.com/spec-kit/authgate/internal/persistence"
	"github.com/spec-kit/authgate/internal/ratelimit"
	"github.com/spec-kit/authgate/internal/repository"
	"github.com/spec-kit/authgate/internal/resilience"
	"github.com/spec-kit/authgate/internal/service"
	"github.com/spec-kit/authgate/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(cfg.Postgres.DSN, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	identityCache, closeTiers, err := buildIdentityCache(cfg.Cache, redis, logger, metrics)
	if err != nil {
		logger.Fatal("failed to build identity cache", zap.Error(err))
	}
	defer closeTiers()

	keyer, err := cache.NewKeyer(cfg.Cache.KeySecret)
	if err != nil {
		logger.Fatal("failed to derive cache key", zap.Error(err))
	}
	if cfg.Cache.KeySecret == "" {
		logger.Warn("CACHE_KEY_SECRET not set; using built-in cache key")
	}

	breaker := resilience.NewBreaker("identity-provider", cfg.Breaker.Cooldown,
		resilience.WithTransitionHook(func(name string, from, to resilience.State) {
			metrics.RecordBreakerTransition(name, to.String())
			logger.Warn("circuit breaker transition",
				zap.String("dependency", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}),
	)

	identityClient := identity.NewClient(cfg.Auth.IssuerURL, cfg.Auth.UpstreamTimeout, identityCache, breaker, keyer,
		logger.Named("identity"), identity.WithMetrics(metrics))
	jwks := auth.NewJWKSProvider(cfg.Auth.IssuerURL, cfg.Auth.JWKSCacheTTL, cfg.Auth.JWKSTimeout,
		cfg.Auth.JWKSRefetchPerMin, logger.Named("jwks"))
	validator := auth.NewValidator(cfg.Auth.IssuerURL, cfg.Auth.Audience, jwks, identityClient)

	dispatcher := events.NewInMemoryDispatcher(logger)
	worker.StartAuditWorker(service.NewAuditService(dispatcher, logger))

	userRepo := repository.NewUserRepository(pg.PoolHandle())
	resolver := service.NewUserResolver(userRepo, dispatcher, logger.Named("resolver"))
	authMiddleware := auth.NewAuthMiddleware(validator, resolver, logger.Named("auth"), metrics)

	store, stopStore := buildBucketStore(cfg.RateLimit, redis)
	defer stopStore()
	limiter := ratelimit.New(store, logger.Named("ratelimit"),
		ratelimit.WithStoreTimeout(cfg.RateLimit.StoreTimeout),
		ratelimit.WithMetrics(metrics),
	)
	rateClasses, err := ratelimit.NewClasses(limiter, cfg.RateLimit)
	if err != nil {
		logger.Fatal("failed to build rate classes", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ErrorHandler: httptransport.ErrorHandler(logger, metrics),
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, breaker),
		Me:             handlers.NewMeHandler(),
		Gatherer:       registry,
		AuthMiddleware: authMiddleware,
		RateClasses:    rateClasses,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("graceful shutdown incomplete", zap.Error(err))
	}
}

// buildIdentityCache keeps the shortest tier in process memory and the rest
// in Redis.
func buildIdentityCache(cfg config.CacheConfig, redis *persistence.Redis, logger *zap.Logger, metrics *observability.Metrics) (*cache.ResilientCache, func(), error) {
	tiers := make([]cache.Tier, 0, len(cfg.TierTTLs))
	closers := []func(){}
	for i, ttl := range cfg.TierTTLs {
		name := fmt.Sprintf("t%d", i+1)
		if i == 0 {
			memory, err := cache.NewMemoryTier(name, ttl, cfg.MemoryMaxEntries)
			if err != nil {
				return nil, nil, err
			}
			closers = append(closers, memory.Close)
			tiers = append(tiers, memory)
			continue
		}
		tiers = append(tiers, cache.NewRedisTier(redis.Client, name, ttl))
	}

	identityCache, err := cache.New(logger.Named("cache"), tiers,
		cache.WithStaleRetention(cfg.StaleRetention),
		cache.WithMetrics(metrics),
	)
	if err != nil {
		return nil, nil, err
	}
	return identityCache, func() {
		for _, c := range closers {
			c()
		}
	}, nil
}

func buildBucketStore(cfg config.RateLimitConfig, redis *persistence.Redis) (ratelimit.Store, func()) {
	if cfg.Backend == "memory" {
		// Buckets untouched for their tier's full period are full again.
		idle := time.Minute
		for _, tier := range cfg.Tiers {
			idle = max(idle, tier.Period)
		}
		store := ratelimit.NewMemoryStore(idle)
		return store, store.Stop
	}
	return ratelimit.NewRedisStore(redis.Client), func() {}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
